package geospatial

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/peterstace/simplefeatures/geom"
)

// DefaultQuadrantSegments matches the usual GEOS/shapely resolution.
const DefaultQuadrantSegments = 16

// BufferLine returns the polygon covering every point within distance of a
// planar line, with round end caps and round joins. The result is the union
// of one capsule per leg, so legs shorter than the distance and sharp bends
// are handled the same as long straight ones.
func BufferLine(ls orb.LineString, distance float64, quadSegs int) (orb.Polygon, error) {
	if quadSegs <= 0 {
		quadSegs = DefaultQuadrantSegments
	}
	pts := dedupe(ls)
	if len(pts) == 0 || distance <= 0 {
		return nil, nil
	}
	n := 4 * quadSegs
	if len(pts) == 1 {
		return orb.Polygon{circle(pts[0], distance, n)}, nil
	}

	capsules := make([]geom.Geometry, len(pts)-1)
	for i := range capsules {
		capsules[i] = toGeomPolygon(orb.Polygon{capsule(pts[i], pts[i+1], distance, n)}).AsGeometry()
	}
	u, err := unionAll(capsules)
	if err != nil {
		return nil, fmt.Errorf("buffer union: %w", err)
	}
	return largestPolygon(u)
}

// capsule is the convex hull of the circles around a and b. Vertices sit at
// the fixed angles 2πk/n, so capsules meeting at a line vertex share their
// arc points there exactly.
func capsule(a, b orb.Point, r float64, n int) orb.Ring {
	dx, dy := b[0]-a[0], b[1]-a[1]
	ring := make(orb.Ring, 0, n+1)
	for k := 0; k < n; k++ {
		c, s := gridAngle(k, n)
		center := a
		if c*dx+s*dy > 0 {
			center = b
		}
		ring = append(ring, orb.Point{center[0] + r*c, center[1] + r*s})
	}
	return append(ring, ring[0])
}

func circle(center orb.Point, r float64, n int) orb.Ring {
	ring := make(orb.Ring, 0, n+1)
	for k := 0; k < n; k++ {
		c, s := gridAngle(k, n)
		ring = append(ring, orb.Point{center[0] + r*c, center[1] + r*s})
	}
	return append(ring, ring[0])
}

func gridAngle(k, n int) (float64, float64) {
	a := 2 * math.Pi * float64(k) / float64(n)
	return math.Cos(a), math.Sin(a)
}

// unionAll merges pairwise in a balanced tree, which keeps the intermediate
// polygons small for long lines.
func unionAll(gs []geom.Geometry) (geom.Geometry, error) {
	if len(gs) == 1 {
		return gs[0], nil
	}
	mid := len(gs) / 2
	left, err := unionAll(gs[:mid])
	if err != nil {
		return geom.Geometry{}, err
	}
	right, err := unionAll(gs[mid:])
	if err != nil {
		return geom.Geometry{}, err
	}
	return geom.Union(left, right)
}

// largestPolygon unwraps the union result. A connected line gives a single
// polygon; any extra parts are slivers from floating point noise.
func largestPolygon(g geom.Geometry) (orb.Polygon, error) {
	switch {
	case g.IsPolygon():
		poly, _ := g.AsPolygon()
		return fromGeomPolygon(poly), nil
	case g.IsMultiPolygon():
		mp, _ := g.AsMultiPolygon()
		best, bestArea := -1, 0.0
		for i := 0; i < mp.NumPolygons(); i++ {
			if a := mp.PolygonN(i).Area(); a > bestArea {
				best, bestArea = i, a
			}
		}
		if best >= 0 {
			return fromGeomPolygon(mp.PolygonN(best)), nil
		}
	}
	return nil, errors.New("buffer union produced no polygon")
}

func dedupe(ls orb.LineString) []orb.Point {
	out := make([]orb.Point, 0, len(ls))
	for _, p := range ls {
		if len(out) > 0 && out[len(out)-1].Equal(p) {
			continue
		}
		out = append(out, p)
	}
	return out
}
