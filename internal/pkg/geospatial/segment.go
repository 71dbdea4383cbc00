package geospatial

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// SegmentLine cuts a planar line into consecutive pieces of segmentLength,
// walking it by arc length. The final point is always a cut, so the last piece
// is shorter when the length is not an exact multiple. A line shorter than
// segmentLength, or of zero length, comes back as a single piece.
func SegmentLine(ls orb.LineString, segmentLength float64) []orb.LineString {
	total := planar.Length(ls)
	if total == 0 || segmentLength <= 0 {
		return []orb.LineString{ls.Clone()}
	}

	var cuts []float64
	for i := 0; float64(i)*segmentLength < total; i++ {
		cuts = append(cuts, float64(i)*segmentLength)
	}
	cuts = append(cuts, total)

	segments := make([]orb.LineString, 0, len(cuts)-1)
	for i := 0; i < len(cuts)-1; i++ {
		segments = append(segments, LineSubstring(ls, cuts[i], cuts[i+1]))
	}
	return segments
}

// LineSubstring returns the part of ls between two distances measured along
// it, keeping any vertices that fall strictly inside the range.
func LineSubstring(ls orb.LineString, start, end float64) orb.LineString {
	if len(ls) == 0 {
		return nil
	}
	if start > end {
		start, end = end, start
	}

	out := orb.LineString{Interpolate(ls, start)}
	var walked float64
	for i := 1; i < len(ls); i++ {
		walked += planar.Distance(ls[i-1], ls[i])
		if walked <= start {
			continue
		}
		if walked >= end {
			break
		}
		out = append(out, ls[i])
	}
	return append(out, Interpolate(ls, end))
}

// Interpolate returns the point at distance d along ls, clamped to its ends.
func Interpolate(ls orb.LineString, d float64) orb.Point {
	if len(ls) == 0 {
		return orb.Point{}
	}
	if d <= 0 {
		return ls[0]
	}

	var walked float64
	for i := 1; i < len(ls); i++ {
		step := planar.Distance(ls[i-1], ls[i])
		if step > 0 && walked+step >= d {
			r := (d - walked) / step
			if r >= 1 {
				return ls[i]
			}
			return orb.Point{
				ls[i-1][0] + r*(ls[i][0]-ls[i-1][0]),
				ls[i-1][1] + r*(ls[i][1]-ls[i-1][1]),
			}
		}
		walked += step
	}
	return ls[len(ls)-1]
}

// LineCentroid returns the length-weighted centroid of a planar line.
func LineCentroid(ls orb.LineString) orb.Point {
	var cx, cy, total float64
	for i := 1; i < len(ls); i++ {
		step := planar.Distance(ls[i-1], ls[i])
		cx += step * (ls[i-1][0] + ls[i][0]) / 2
		cy += step * (ls[i-1][1] + ls[i][1]) / 2
		total += step
	}
	if total == 0 || math.IsNaN(total) {
		if len(ls) == 0 {
			return orb.Point{}
		}
		return ls[0]
	}
	return orb.Point{cx / total, cy / total}
}
