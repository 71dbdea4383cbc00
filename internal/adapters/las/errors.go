package las

import (
	"fmt"

	"github.com/paulmach/orb"
)

// ErrNotLAS indicates the file does not start with the LASF signature.
type ErrNotLAS struct {
	Signature string
}

func (e *ErrNotLAS) Error() string {
	return fmt.Sprintf("not a LAS/LAZ file: signature %q", e.Signature)
}

// ErrTruncatedHeader indicates the file ends before a header structure is complete.
type ErrTruncatedHeader struct {
	Part string
	Want int64
	Got  int64
}

func (e *ErrTruncatedHeader) Error() string {
	return fmt.Sprintf("truncated LAS %s: want %d bytes, got %d", e.Part, e.Want, e.Got)
}

// ErrInvalidRecord indicates a variable length record whose header cannot be
// valid, such as a length beyond what a file can hold.
type ErrInvalidRecord struct {
	Part   string
	Reason string
}

func (e *ErrInvalidRecord) Error() string {
	return fmt.Sprintf("invalid LAS %s: %s", e.Part, e.Reason)
}

// ErrInvalidBounds indicates the header extent is not a usable box.
type ErrInvalidBounds struct {
	Min, Max orb.Point
}

func (e *ErrInvalidBounds) Error() string {
	return fmt.Sprintf("invalid LAS header bounds: min=(%f, %f) max=(%f, %f)",
		e.Min[0], e.Min[1], e.Max[0], e.Max[1])
}
