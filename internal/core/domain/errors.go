package domain

import "errors"

var (
	// ErrMissingInput is returned when a required input file or directory does not exist.
	ErrMissingInput = errors.New("missing input")
	// ErrInvalidInput is returned for malformed configuration or input values.
	ErrInvalidInput = errors.New("invalid input")
	// ErrAuthentication is returned when the remote archive rejects the credentials.
	ErrAuthentication = errors.New("archive authentication failed")
	// ErrArchiveSearch is returned when the remote archive search fails.
	ErrArchiveSearch = errors.New("archive search failed")
	// ErrNoTiles is returned when no tile in the tile directory could be processed.
	ErrNoTiles = errors.New("no tile bounds could be processed")
)
