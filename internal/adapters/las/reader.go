// Package las reads the public header block of LAS 1.0-1.4 point-cloud files.
// LAZ files keep this header uncompressed, so both are handled the same way.
package las

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/paulmach/orb"

	"github.com/riverscan/riverscan/internal/core/domain"
)

// Public header block offsets.
const (
	offGlobalEncoding = 6
	offVersionMajor   = 24
	offVersionMinor   = 25
	offHeaderSize     = 94
	offPointDataStart = 96
	offNumVLRs        = 100
	offMaxX           = 179
	offMinX           = 187
	offMaxY           = 195
	offMinY           = 203
	offEVLRStart      = 235
	offNumEVLRs       = 243

	minHeaderSize  = 227 // LAS 1.0-1.2
	fullHeaderSize = 375 // LAS 1.4

	vlrHeaderSize  = 54
	evlrHeaderSize = 60

	// records larger than this are never CRS records and are skipped unread
	maxRecordSize = 1 << 20

	wktEncodingBit = 1 << 4
)

// Projection record identifiers.
const (
	projectionUserID    = "LASF_Projection"
	recordGeoKeys       = 34735
	recordOGCWKT        = 2112
	geoKeyProjectedCS   = 3072
	geoKeyGeographicCS  = 2048
	geoKeyUserDefined   = 32767
	geoKeyEntryUint16s  = 4
	geoKeyHeaderUint16s = 4
)

// CRS sources reported in domain.TileMetadata.
const (
	SourceWKT     = "wkt"
	SourceGeoKeys = "geokeys"
)

// Reader implements ports.TileMetadataReader for LAS and LAZ files.
type Reader struct{}

// NewReader creates a header reader.
func NewReader() *Reader {
	return &Reader{}
}

// ReadMetadata parses the header of the file at path.
func (r *Reader) ReadMetadata(path string) (domain.TileMetadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.TileMetadata{}, err
	}
	defer f.Close()

	md, err := ReadHeader(f)
	if err != nil {
		return domain.TileMetadata{}, fmt.Errorf("read header %s: %w", path, err)
	}
	return md, nil
}

// ReadHeader parses the public header block and the projection records from rs.
func ReadHeader(rs io.ReadSeeker) (domain.TileMetadata, error) {
	hdr := make([]byte, fullHeaderSize)
	n, err := io.ReadFull(rs, hdr)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return domain.TileMetadata{}, err
	}
	hdr = hdr[:n]

	if n < 4 || string(hdr[:4]) != "LASF" {
		sig := string(hdr[:min(n, 4)])
		return domain.TileMetadata{}, &ErrNotLAS{Signature: sig}
	}
	if n < minHeaderSize {
		return domain.TileMetadata{}, &ErrTruncatedHeader{Part: "public header", Want: minHeaderSize, Got: int64(n)}
	}

	headerSize := int(binary.LittleEndian.Uint16(hdr[offHeaderSize:]))
	if headerSize < minHeaderSize {
		return domain.TileMetadata{}, &ErrTruncatedHeader{Part: "public header", Want: minHeaderSize, Got: int64(headerSize)}
	}

	bound := orb.Bound{
		Min: orb.Point{readFloat64(hdr, offMinX), readFloat64(hdr, offMinY)},
		Max: orb.Point{readFloat64(hdr, offMaxX), readFloat64(hdr, offMaxY)},
	}
	if !validBound(bound) {
		return domain.TileMetadata{}, &ErrInvalidBounds{Min: bound.Min, Max: bound.Max}
	}

	records, err := readVLRs(rs, int64(headerSize), binary.LittleEndian.Uint32(hdr[offNumVLRs:]))
	if err != nil {
		return domain.TileMetadata{}, err
	}

	major, minor := hdr[offVersionMajor], hdr[offVersionMinor]
	if major == 1 && minor >= 4 && n >= fullHeaderSize && headerSize >= fullHeaderSize {
		start := binary.LittleEndian.Uint64(hdr[offEVLRStart:])
		count := binary.LittleEndian.Uint32(hdr[offNumEVLRs:])
		if start > 0 && count > 0 {
			extended, err := readEVLRs(rs, int64(start), count)
			if err != nil {
				return domain.TileMetadata{}, err
			}
			records = append(records, extended...)
		}
	}

	md := domain.TileMetadata{Bounds: bound}
	wktFlag := binary.LittleEndian.Uint16(hdr[offGlobalEncoding:])&wktEncodingBit != 0
	md.EPSG, md.CRSSource = resolveCRS(records, wktFlag)
	return md, nil
}

// record is one (extended) variable length record that may carry a CRS.
type record struct {
	userID   string
	recordID uint16
	data     []byte
}

func readVLRs(rs io.ReadSeeker, start int64, count uint32) ([]record, error) {
	if count == 0 {
		return nil, nil
	}
	if _, err := rs.Seek(start, io.SeekStart); err != nil {
		return nil, err
	}

	var out []record
	head := make([]byte, vlrHeaderSize)
	for i := uint32(0); i < count; i++ {
		if n, err := io.ReadFull(rs, head); err != nil {
			return nil, &ErrTruncatedHeader{Part: fmt.Sprintf("VLR %d header", i), Want: vlrHeaderSize, Got: int64(n)}
		}
		rec := record{
			userID:   cString(head[2:18]),
			recordID: binary.LittleEndian.Uint16(head[18:]),
		}
		length := int64(binary.LittleEndian.Uint16(head[20:]))
		data, err := readPayload(rs, rec, length, fmt.Sprintf("VLR %d", i))
		if err != nil {
			return nil, err
		}
		if data != nil {
			rec.data = data
			out = append(out, rec)
		}
	}
	return out, nil
}

func readEVLRs(rs io.ReadSeeker, start int64, count uint32) ([]record, error) {
	if _, err := rs.Seek(start, io.SeekStart); err != nil {
		return nil, err
	}

	var out []record
	head := make([]byte, evlrHeaderSize)
	for i := uint32(0); i < count; i++ {
		if n, err := io.ReadFull(rs, head); err != nil {
			return nil, &ErrTruncatedHeader{Part: fmt.Sprintf("EVLR %d header", i), Want: evlrHeaderSize, Got: int64(n)}
		}
		rec := record{
			userID:   cString(head[2:18]),
			recordID: binary.LittleEndian.Uint16(head[18:]),
		}
		length := binary.LittleEndian.Uint64(head[20:])
		if length > math.MaxInt64 {
			return nil, &ErrInvalidRecord{Part: fmt.Sprintf("EVLR %d", i), Reason: fmt.Sprintf("record length %d exceeds the int64 range", length)}
		}
		data, err := readPayload(rs, rec, int64(length), fmt.Sprintf("EVLR %d", i))
		if err != nil {
			return nil, err
		}
		if data != nil {
			rec.data = data
			out = append(out, rec)
		}
	}
	return out, nil
}

// readPayload returns the record body when it is a projection record worth
// keeping, or skips over it and returns nil.
func readPayload(rs io.ReadSeeker, rec record, length int64, part string) ([]byte, error) {
	if !isProjectionRecord(rec) || length > maxRecordSize {
		if _, err := rs.Seek(length, io.SeekCurrent); err != nil {
			return nil, err
		}
		return nil, nil
	}
	data := make([]byte, length)
	if n, err := io.ReadFull(rs, data); err != nil {
		return nil, &ErrTruncatedHeader{Part: part, Want: length, Got: int64(n)}
	}
	return data, nil
}

func isProjectionRecord(rec record) bool {
	if rec.userID != projectionUserID {
		return false
	}
	switch rec.recordID {
	case recordGeoKeys, recordOGCWKT:
		return true
	}
	return false
}

// resolveCRS picks the EPSG code from the WKT record when the header flags WKT
// as authoritative, and from the GeoTIFF keys otherwise. Either falls back to
// the other when the preferred record is missing or carries no EPSG code.
func resolveCRS(records []record, wktFlag bool) (int, string) {
	var fromWKT, fromKeys int
	for _, rec := range records {
		switch rec.recordID {
		case recordOGCWKT:
			if code := EPSGFromWKT(cString(rec.data)); code != 0 {
				fromWKT = code
			}
		case recordGeoKeys:
			if code := EPSGFromGeoKeys(rec.data); code != 0 {
				fromKeys = code
			}
		}
	}

	if wktFlag || fromKeys == 0 {
		if fromWKT != 0 {
			return fromWKT, SourceWKT
		}
	}
	if fromKeys != 0 {
		return fromKeys, SourceGeoKeys
	}
	return 0, ""
}

func readFloat64(b []byte, off int) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(b[off:]))
}

func validBound(b orb.Bound) bool {
	for _, v := range []float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return b.Min[0] <= b.Max[0] && b.Min[1] <= b.Max[1]
}

// cString trims a fixed-width NUL-padded field.
func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
