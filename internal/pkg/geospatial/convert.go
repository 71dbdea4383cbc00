package geospatial

import (
	"github.com/paulmach/orb"
	"github.com/peterstace/simplefeatures/geom"
)

func toGeomSequence(pts []orb.Point) geom.Sequence {
	coords := make([]float64, 0, 2*len(pts))
	for _, p := range pts {
		coords = append(coords, p[0], p[1])
	}
	return geom.NewSequence(coords, geom.DimXY)
}

func toGeomLineString(ls orb.LineString) geom.LineString {
	return geom.NewLineString(toGeomSequence(ls))
}

func toGeomPolygon(p orb.Polygon) geom.Polygon {
	rings := make([]geom.LineString, 0, len(p))
	for _, r := range p {
		if len(r) > 0 && !r[0].Equal(r[len(r)-1]) {
			r = append(r[:len(r):len(r)], r[0])
		}
		rings = append(rings, geom.NewLineString(toGeomSequence(r)))
	}
	return geom.NewPolygon(rings)
}

func fromGeomRing(ls geom.LineString) orb.Ring {
	seq := ls.Coordinates()
	ring := make(orb.Ring, seq.Length())
	for i := range ring {
		xy := seq.GetXY(i)
		ring[i] = orb.Point{xy.X, xy.Y}
	}
	return ring
}

// fromGeomPolygon converts back to orb with a counter-clockwise shell and
// clockwise holes, as GeoJSON expects.
func fromGeomPolygon(p geom.Polygon) orb.Polygon {
	shell := fromGeomRing(p.ExteriorRing())
	if shell.Orientation() == orb.CW {
		shell.Reverse()
	}
	out := orb.Polygon{shell}
	for i := 0; i < p.NumInteriorRings(); i++ {
		hole := fromGeomRing(p.InteriorRingN(i))
		if hole.Orientation() == orb.CCW {
			hole.Reverse()
		}
		out = append(out, hole)
	}
	return out
}
