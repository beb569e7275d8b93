package model

import (
	"fmt"

	"github.com/rotisserie/eris"
)

// Batch-level failures. Callers match with errors.Is.
var (
	ErrUpstreamUnavailable  = eris.New("snapshot store unavailable")
	ErrInvalidConfiguration = eris.New("invalid configuration")
	ErrSummaryUnavailable   = eris.New("summary collaborator unavailable")
)

// Upstream marks err as a snapshot store failure. The result matches both
// ErrUpstreamUnavailable and err under errors.Is.
func Upstream(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
}

// DiagnosticKind classifies a per-entity data problem that was resolved
// without failing the batch.
type DiagnosticKind string

const (
	DiagMissingField         DiagnosticKind = "missing_field"
	DiagAmbiguousAttribution DiagnosticKind = "ambiguous_attribution"
	DiagDivisionByZero       DiagnosticKind = "division_by_zero"
)

// Diagnostic records how a per-entity data problem was resolved.
type Diagnostic struct {
	Kind    DiagnosticKind `json:"kind"`
	Field   string         `json:"field,omitempty"`
	Message string         `json:"message"`
}
