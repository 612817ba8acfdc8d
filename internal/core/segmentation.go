package core

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// checkPollInterval is how long the watchdog waits for an explicit
// check request before re-evaluating the periodic schedule
// (spec.md §4.3: "wait up to 2s for an explicit check request").
const checkPollInterval = 2 * time.Second

// Resolver decides whether the local node currently sits in a
// legitimate network segment (spec.md §6 segmentationResolvers).
type Resolver interface {
	IsValidSegment() bool
}

// ResolverFunc adapts a plain function to a Resolver.
type ResolverFunc func() bool

func (f ResolverFunc) IsValidSegment() bool { return f() }

// Watchdog periodically validates the local node's network segment
// via its configured Resolvers and notifies OnSegmented exactly once
// per segmentation event, until re-armed by Rearm (spec.md §4.3/§4.4).
type Watchdog struct {
	resolvers   []Resolver
	frequency   time.Duration
	onSegmented func()
	log         *slog.Logger

	requestCh chan struct{}

	lastValid atomic.Bool
	lastCheck time.Time
}

// NewWatchdog returns a Watchdog. With no resolvers or a
// non-positive frequency it is inert: Run returns immediately
// without starting a loop (spec.md §4.3 "runs only if...").
func NewWatchdog(resolvers []Resolver, frequency time.Duration, onSegmented func()) *Watchdog {
	w := &Watchdog{
		resolvers:   resolvers,
		frequency:   frequency,
		onSegmented: onSegmented,
		log:         slog.Default().With("component", "segmentation-watchdog"),
		requestCh:   make(chan struct{}, 1),
	}
	w.lastValid.Store(true)
	return w
}

// Segmented reports whether the watchdog currently believes the
// local node is segmented from the cluster. Safe for concurrent use
// by a metrics poller running outside the watchdog's own goroutine.
func (w *Watchdog) Segmented() bool {
	return !w.lastValid.Load()
}

// Enabled reports whether the watchdog would actually run a loop.
func (w *Watchdog) Enabled() bool {
	return len(w.resolvers) > 0 && w.frequency > 0
}

// CheckNow requests an out-of-band segment check. Concurrent requests
// made before the watchdog drains its queue are coalesced into one
// check.
func (w *Watchdog) CheckNow() {
	select {
	case w.requestCh <- struct{}{}:
	default:
	}
}

// WaitForValidSegment blocks, retrying every 2s, until the configured
// resolvers agree the segment is valid or ctx is done. Used at node
// startup when waitForSegmentOnStart is configured (spec.md §4.3).
func (w *Watchdog) WaitForValidSegment(ctx context.Context) error {
	if !w.Enabled() {
		return nil
	}
	for {
		if w.checkOnce() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(checkPollInterval):
		}
	}
}

// checkOnce queries every resolver and returns true iff all agree
// the segment is valid.
func (w *Watchdog) checkOnce() bool {
	for _, r := range w.resolvers {
		if !r.IsValidSegment() {
			return false
		}
	}
	return true
}

// Rearm restores lastValid to true after a NODE_RECONNECTED event, so
// a subsequent invalid check can fire NODE_SEGMENTED again
// (spec.md §4.4: "suppressed once fired, until re-armed").
func (w *Watchdog) Rearm() {
	w.lastValid.Store(true)
}

// Run drives the single-consumer watchdog loop described in
// spec.md §4.3. It blocks until ctx is cancelled.
func (w *Watchdog) Run(ctx context.Context) error {
	if !w.Enabled() {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.requestCh:
			w.drainRequests()
			w.maybeCheck()
		case <-time.After(checkPollInterval):
			if time.Since(w.lastCheck) >= w.frequency {
				w.maybeCheck()
			}
		}
	}
}

func (w *Watchdog) drainRequests() {
	for {
		select {
		case <-w.requestCh:
		default:
			return
		}
	}
}

func (w *Watchdog) maybeCheck() {
	w.lastCheck = time.Now()
	if !w.lastValid.Load() {
		// Already segmented; suppressed until Rearm (spec.md §4.4).
		return
	}
	if w.checkOnce() {
		return
	}
	w.lastValid.Store(false)
	w.log.Warn("local node segmented from cluster")
	if w.onSegmented != nil {
		w.onSegmented()
	}
}
