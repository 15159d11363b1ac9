package engine

import (
	"errors"

	"github.com/shadefetch/shadefetch/internal/transport"
)

// Error taxonomy for the engine. ProbeFailed, TransportUnavailable,
// SegmentFailed and AssemblyFailed are wrapped with extra context via
// fmt.Errorf's %w; the others are returned as-is or with a short prefix.
var (
	ErrProbeFailed        = errors.New("probe failed")
	ErrConflictUnresolved = errors.New("file conflict unresolved")
	// ErrTransportUnavailable is the same sentinel the Selector returns,
	// re-exported so callers can errors.Is against either package name.
	ErrTransportUnavailable = transport.ErrTransportUnavailable
	ErrSegmentFailed        = errors.New("segment failed")
	ErrAssemblyFailed       = errors.New("assembly failed")

	// ErrNotFound is returned by Registry/Scheduler operations referencing
	// an id that the Registry's map no longer (or never did) contain.
	ErrNotFound = errors.New("transfer not found")

	// ErrNotImplemented is available for non-core hooks without a body.
	// Nothing in this module returns it: the default hash/extract hooks
	// report success, and relay circuit rotation returns
	// privacy.ErrCircuitUnsupported.
	ErrNotImplemented = errors.New("not implemented")
)
