package geospatial

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
)

func TestLineIntersectsPolygon(t *testing.T) {
	box := orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{10, 10}}.ToPolygon()

	cases := []struct {
		name string
		line orb.LineString
		want bool
	}{
		{"inside", orb.LineString{{2, 2}, {8, 8}}, true},
		{"crossing", orb.LineString{{-5, 5}, {15, 5}}, true},
		{"one end inside", orb.LineString{{5, 5}, {20, 20}}, true},
		{"touching edge", orb.LineString{{10, -5}, {10, 15}}, true},
		{"starts on edge", orb.LineString{{10, 5}, {20, 6}}, true},
		{"along top edge", orb.LineString{{1, 10}, {9, 10}}, true},
		{"through corner", orb.LineString{{10, 10}, {20, 20}}, true},
		{"single point on edge", orb.LineString{{0, 5}}, true},
		{"single point outside", orb.LineString{{-1, 5}}, false},
		{"disjoint", orb.LineString{{11, 11}, {20, 20}}, false},
		{"bounds overlap only", orb.LineString{{-1, 9}, {1, 12}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, LineIntersectsPolygon(tc.line, box))
		})
	}
}

func TestLineIntersectsPolygon_RotatedFootprint(t *testing.T) {
	diamond := orb.Polygon{{{5, 0}, {10, 5}, {5, 10}, {0, 5}, {5, 0}}}

	assert.False(t, LineIntersectsPolygon(orb.LineString{{0, 0}, {1, 1}}, diamond))
	assert.True(t, LineIntersectsPolygon(orb.LineString{{0, 0}, {5, 5}}, diamond))
}
