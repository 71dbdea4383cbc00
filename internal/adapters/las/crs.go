package las

import (
	"encoding/binary"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

var epsgAuthority = regexp.MustCompile(`(?i)(?:AUTHORITY|ID)[\[(]\s*"EPSG"\s*,\s*"?(\d+)"?\s*[\])]`)

// EPSGFromWKT returns the EPSG code of the outermost CRS in an OGC WKT string.
// The outermost authority is the last one, in both WKT1 and WKT2, since nested
// datum and unit authorities are written before it. For a compound CRS the
// code of its horizontal part is returned; the vertical part cannot be used to
// place a tile.
func EPSGFromWKT(wkt string) int {
	if horizontal, ok := compoundHorizontal(wkt); ok {
		return EPSGFromWKT(horizontal)
	}
	matches := epsgAuthority.FindAllStringSubmatch(wkt, -1)
	if len(matches) == 0 {
		return 0
	}
	code, err := strconv.Atoi(matches[len(matches)-1][1])
	if err != nil {
		return 0
	}
	return code
}

var (
	compoundKeywords   = map[string]bool{"COMPD_CS": true, "COMPOUNDCRS": true}
	horizontalKeywords = map[string]bool{
		"PROJCS": true, "GEOGCS": true, "GEOCCS": true,
		"PROJCRS": true, "PROJECTEDCRS": true,
		"GEOGCRS": true, "GEOGRAPHICCRS": true,
		"GEODCRS": true, "GEODETICCRS": true,
	}
)

// compoundHorizontal returns the first horizontal child element of a compound
// CRS, or false when wkt is not a compound CRS or has no such child.
func compoundHorizontal(wkt string) (string, bool) {
	root, body, ok := wktElement(wkt)
	if !ok || !compoundKeywords[root] {
		return "", false
	}
	for _, child := range wktChildren(body) {
		if kw, _, ok := wktElement(child); ok && horizontalKeywords[kw] {
			return child, true
		}
	}
	return "", false
}

// wktElement splits KEYWORD[...] (or KEYWORD(...)) into its upper-case keyword
// and the text between the outer brackets.
func wktElement(s string) (string, string, bool) {
	s = strings.TrimSpace(s)
	open := strings.IndexAny(s, "[(")
	if open <= 0 {
		return "", "", false
	}
	kw := strings.ToUpper(strings.TrimSpace(s[:open]))
	if strings.IndexFunc(kw, func(r rune) bool { return !unicode.IsLetter(r) && r != '_' }) >= 0 {
		return "", "", false
	}
	end := len(s) - 1
	if s[end] != ']' && s[end] != ')' {
		return "", "", false
	}
	return kw, s[open+1 : end], true
}

// wktChildren splits the body of an element on top-level commas. Quoted text
// is skipped, including WKT's doubled quotes.
func wktChildren(body string) []string {
	var out []string
	depth, start, quoted := 0, 0, false
	for i := 0; i < len(body); i++ {
		switch c := body[i]; {
		case c == '"':
			quoted = !quoted
		case quoted:
		case c == '[' || c == '(':
			depth++
		case c == ']' || c == ')':
			depth--
		case c == ',' && depth == 0:
			out = append(out, strings.TrimSpace(body[start:i]))
			start = i + 1
		}
	}
	return append(out, strings.TrimSpace(body[start:]))
}

// EPSGFromGeoKeys reads a GeoKeyDirectoryTag record and returns the projected
// CRS code, or the geographic one when no projected code is present.
// User-defined (32767) and indirect values are ignored.
func EPSGFromGeoKeys(data []byte) int {
	if len(data) < geoKeyHeaderUint16s*2 {
		return 0
	}
	u16 := func(i int) uint16 { return binary.LittleEndian.Uint16(data[i*2:]) }

	numKeys := int(u16(3))
	var projected, geographic int
	for k := 0; k < numKeys; k++ {
		base := geoKeyHeaderUint16s + k*geoKeyEntryUint16s
		if (base+geoKeyEntryUint16s)*2 > len(data) {
			break
		}
		keyID, location, value := u16(base), u16(base+1), u16(base+3)
		if location != 0 || value == 0 || value == geoKeyUserDefined {
			continue
		}
		switch keyID {
		case geoKeyProjectedCS:
			projected = int(value)
		case geoKeyGeographicCS:
			geographic = int(value)
		}
	}
	if projected != 0 {
		return projected
	}
	return geographic
}
