package geospatial

import (
	"github.com/paulmach/orb"
	"github.com/peterstace/simplefeatures/geom"
)

// LineIntersectsPolygon reports whether a line and a polygon share any point.
// Boundaries count, so a line touching a polygon edge intersects it.
func LineIntersectsPolygon(ls orb.LineString, poly orb.Polygon) bool {
	if len(ls) == 0 || len(poly) == 0 {
		return false
	}
	if !ls.Bound().Intersects(poly.Bound()) {
		return false
	}
	line := toGeomLineString(ls).AsGeometry()
	if len(ls) == 1 {
		line = geom.XY{X: ls[0][0], Y: ls[0][1]}.AsPoint().AsGeometry()
	}
	return geom.Intersects(line, toGeomPolygon(poly).AsGeometry())
}
