package core

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrNotReady indicates that a required subsystem has not been
// initialized yet.
type ErrNotReady struct {
	Subsystem string
}

func (e *ErrNotReady) Error() string {
	return fmt.Sprintf("%s not initialized", e.Subsystem)
}

// ErrAttributeMismatch is raised during join when a joining node's
// attributes are fatally inconsistent with the local node's
// (spec.md §4.1). Node start must abort when this is returned from
// start().
type ErrAttributeMismatch struct {
	NodeID    uuid.UUID
	Attribute string
	Local     any
	Remote    any
}

func (e *ErrAttributeMismatch) Error() string {
	return fmt.Sprintf("node %s: attribute %q mismatch: local=%v remote=%v", e.NodeID, e.Attribute, e.Local, e.Remote)
}

// ErrSegmentLost indicates the local node has determined it is no
// longer in a legitimate network segment.
var ErrSegmentLost = errors.New("core: local node segmented from cluster")

// ErrDeploymentConflict is returned when a deploy call targets an
// alias that is already bound to a different, still-alive
// classloader (spec.md §4.5 single-owner alias invariant).
type ErrDeploymentConflict struct {
	Alias string
}

func (e *ErrDeploymentConflict) Error() string {
	return fmt.Sprintf("deployment: alias %q already bound to a different classloader", e.Alias)
}

// ErrTopologyUnresolvable is returned when a topology-version query
// has no history to fall back to at all (spec.md §7 topology-resolve
// miss, unrecoverable case).
var ErrTopologyUnresolvable = errors.New("core: no discovery history available to resolve topology version")

// ErrFutureTimeout is returned by Future.Get when the deadline
// elapses before the future completes. The future remains pending
// and may be waited on again.
var ErrFutureTimeout = errors.New("core: future wait timed out")

// ErrFutureCancelled is returned by Future.Get when the context
// passed to GetContext is cancelled before the future completes.
var ErrFutureCancelled = errors.New("core: future wait cancelled")

// ErrClassNotFound indicates a class could not be resolved by the
// deployment SPI and no classloader was available to auto-deploy it.
type ErrClassNotFound struct {
	Alias string
}

func (e *ErrClassNotFound) Error() string {
	return fmt.Sprintf("deployment: class for alias %q not found and could not be auto-deployed", e.Alias)
}
