package http

import (
	"context"

	"github.com/riverscan/riverscan/internal/core/usecases"
)

// ReadinessCheck probes one backing service. A nil Check error means ready.
type ReadinessCheck struct {
	Name     string
	Check    func(ctx context.Context) error
	Optional bool // failure is reported but does not make the server unready
}

// Dependencies holds what the status handlers read.
type Dependencies struct {
	Status  *usecases.StatusBoard
	Checks  []ReadinessCheck
	Version string
}
