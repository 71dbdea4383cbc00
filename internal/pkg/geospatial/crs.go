package geospatial

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
	"github.com/wroge/wgs84"
)

// ErrUnsupportedCRS is returned for coordinate systems that cannot be transformed.
var ErrUnsupportedCRS = errors.New("unsupported coordinate reference system")

type crsKind int

const (
	kindGeographic crsKind = iota
	kindUTM
	kindWebMercator
)

// CRS is a coordinate reference system the pipeline knows how to transform.
// Geographic systems use lon/lat axis order, matching GeoJSON.
type CRS struct {
	EPSG int

	kind  crsKind
	zone  int
	south bool
	sys   wgs84.CoordinateReferenceSystem
}

// WGS84 is EPSG:4326.
var WGS84 = CRS{EPSG: 4326, kind: kindGeographic, sys: wgs84.LonLat()}

// ParseCRS accepts "EPSG:n", "urn:ogc:def:crs:EPSG::n" and the CRS84 forms.
func ParseCRS(s string) (CRS, error) {
	id := strings.ToUpper(strings.TrimSpace(s))
	switch id {
	case "":
		return CRS{}, fmt.Errorf("%w: empty identifier", ErrUnsupportedCRS)
	case "CRS84", "OGC:CRS84", "URN:OGC:DEF:CRS:OGC:1.3:CRS84", "URN:OGC:DEF:CRS:OGC::CRS84":
		return WGS84, nil
	}

	var code string
	switch {
	case strings.HasPrefix(id, "EPSG:"):
		code = strings.TrimPrefix(id, "EPSG:")
	case strings.HasPrefix(id, "URN:OGC:DEF:CRS:EPSG:"):
		// urn:ogc:def:crs:EPSG:<version>:<code>, version may be empty
		code = id[strings.LastIndex(id, ":")+1:]
	default:
		return CRS{}, fmt.Errorf("%w: %q", ErrUnsupportedCRS, s)
	}

	n, err := strconv.Atoi(code)
	if err != nil {
		return CRS{}, fmt.Errorf("%w: %q", ErrUnsupportedCRS, s)
	}
	return FromEPSG(n)
}

// FromEPSG resolves an EPSG code to a supported CRS. SIRGAS 2000 realises
// WGS 84 to within centimetres, so its codes share the WGS 84 definitions.
func FromEPSG(code int) (CRS, error) {
	switch {
	case code == 4326:
		return WGS84, nil
	case code == 4674: // SIRGAS 2000 geographic
		return CRS{EPSG: code, kind: kindGeographic, sys: wgs84.LonLat()}, nil
	case code == 3857:
		return CRS{EPSG: code, kind: kindWebMercator, sys: wgs84.WebMercator()}, nil
	case code >= 32601 && code <= 32660:
		return utm(code, code-32600, false), nil
	case code >= 32701 && code <= 32760:
		return utm(code, code-32700, true), nil
	case code >= 31965 && code <= 31976: // SIRGAS 2000 / UTM zones 11N-22N
		return utm(code, code-31954, false), nil
	case code >= 31977 && code <= 31985: // SIRGAS 2000 / UTM zones 17S-25S
		return utm(code, code-31960, true), nil
	}
	return CRS{}, fmt.Errorf("%w: EPSG:%d", ErrUnsupportedCRS, code)
}

func utm(code, zone int, south bool) CRS {
	return CRS{EPSG: code, kind: kindUTM, zone: zone, south: south, sys: wgs84.UTM(float64(zone), !south)}
}

// String returns the "EPSG:n" identifier.
func (c CRS) String() string {
	return "EPSG:" + strconv.Itoa(c.EPSG)
}

// IsGeographic reports whether coordinates are lon/lat degrees.
func (c CRS) IsGeographic() bool {
	return c.kind == kindGeographic
}

// Planar reports whether coordinates are in linear units (meters).
func (c CRS) Planar() bool {
	return !c.IsGeographic()
}

// Equal compares by EPSG code.
func (c CRS) Equal(o CRS) bool {
	return c.EPSG == o.EPSG
}

// Transformer returns a point projection from one CRS to another.
func Transformer(from, to CRS) orb.Projection {
	if from.Equal(to) {
		return func(p orb.Point) orb.Point { return p }
	}
	f := wgs84.Transform(from.sys, to.sys)
	return func(p orb.Point) orb.Point {
		x, y, _ := f(p[0], p[1], 0)
		return orb.Point{x, y}
	}
}

// Reproject returns a transformed copy of g; g itself is left untouched.
func Reproject(g orb.Geometry, from, to CRS) orb.Geometry {
	if g == nil {
		return nil
	}
	return project.Geometry(orb.Clone(g), Transformer(from, to))
}

// ReprojectLineString is Reproject for the common line case.
func ReprojectLineString(ls orb.LineString, from, to CRS) orb.LineString {
	return Reproject(ls, from, to).(orb.LineString)
}

// ReprojectPolygon is Reproject for the common polygon case.
func ReprojectPolygon(p orb.Polygon, from, to CRS) orb.Polygon {
	return Reproject(p, from, to).(orb.Polygon)
}
