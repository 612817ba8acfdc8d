package core

import (
	"context"
	"log/slog"
)

// SegmentationPolicy selects the action taken when the local node is
// segmented (spec.md §4.4/§6).
type SegmentationPolicy int

const (
	PolicyNoop SegmentationPolicy = iota
	PolicyStop
	PolicyRestartJVM
	PolicyReconnect
)

// ParsePolicy maps a config string (NOOP, STOP, RESTART_JVM, RECONNECT)
// to a SegmentationPolicy, defaulting to NOOP for anything else so an
// unrecognized value never triggers a destructive action by accident.
func ParsePolicy(s string) SegmentationPolicy {
	switch s {
	case "STOP":
		return PolicyStop
	case "RESTART_JVM":
		return PolicyRestartJVM
	case "RECONNECT":
		return PolicyReconnect
	default:
		return PolicyNoop
	}
}

func (p SegmentationPolicy) String() string {
	switch p {
	case PolicyNoop:
		return "NOOP"
	case PolicyStop:
		return "STOP"
	case PolicyRestartJVM:
		return "RESTART_JVM"
	case PolicyReconnect:
		return "RECONNECT"
	default:
		return "UNKNOWN"
	}
}

// PolicyHooks are the side effects the PolicyEngine needs from its
// owning Discovery Manager. Keeping them as an interface rather than
// a direct dependency avoids a cyclic import between the manager and
// the policy engine (spec.md §9 Design Note on cyclic references,
// generalized to this collaborator pair).
type PolicyHooks interface {
	// DetachListener stops delivering further transport events
	// before teardown (spec.md §5: STOP/RESTART_JVM always detach
	// first).
	DetachListener()
	// StopNode shuts the node down. Must run on a fresh goroutine,
	// never on the discovery worker, to avoid deadlocking with
	// transport shutdown (spec.md §4.4).
	StopNode(ctx context.Context) error
	// RestartProcess requests the host process restart.
	RestartProcess() error
	// ResetTopologyVersion resets topVer to 0 ahead of a reconnect.
	ResetTopologyVersion()
	// RefreshLocalNode re-reads the local node from the transport
	// after a successful reconnect.
	RefreshLocalNode()
}

// PolicyEngine applies SegmentationPolicy on NODE_SEGMENTED
// (spec.md §4.4).
type PolicyEngine struct {
	policy    SegmentationPolicy
	transport DiscoveryTransport
	history   *History
	hooks     PolicyHooks
	reconnect *ReconnectWorker
	log       *slog.Logger
}

// NewPolicyEngine returns a PolicyEngine. reconnect may be nil when
// policy is not PolicyReconnect.
func NewPolicyEngine(policy SegmentationPolicy, transport DiscoveryTransport, history *History, hooks PolicyHooks, reconnect *ReconnectWorker) *PolicyEngine {
	return &PolicyEngine{
		policy:    policy,
		transport: transport,
		history:   history,
		hooks:     hooks,
		reconnect: reconnect,
		log:       slog.Default().With("component", "segmentation-policy"),
	}
}

// HandleSegmented runs the configured policy's reaction to a
// NODE_SEGMENTED event. It must be called off the discovery worker
// goroutine for the STOP/RESTART_JVM/RECONNECT branches
// (spec.md §5).
func (p *PolicyEngine) HandleSegmented(ctx context.Context) {
	switch p.policy {
	case PolicyNoop:
		p.log.Info("segmentation observed, policy is NOOP")

	case PolicyStop:
		p.log.Warn("segmentation observed, stopping node")
		p.hooks.DetachListener()
		_ = p.transport.Disconnect(ctx)
		go func() {
			if err := p.hooks.StopNode(context.Background()); err != nil {
				p.log.Error("stop node failed", "error", err)
			}
		}()

	case PolicyRestartJVM:
		p.log.Warn("segmentation observed, restarting process")
		p.hooks.DetachListener()
		_ = p.transport.Disconnect(ctx)
		go func() {
			if err := p.hooks.RestartProcess(); err != nil {
				p.log.Error("restart process failed", "error", err)
			}
		}()

	case PolicyReconnect:
		p.log.Warn("segmentation observed, scheduling reconnect")
		_ = p.transport.Disconnect(ctx)
		p.history.Clear()
		if p.reconnect != nil {
			p.reconnect.ScheduleReconnect()
		}
	}
}

// ReconnectWorker implements the "Reconnect Worker" in spec.md §4.4:
// a single-consumer queue that, on wake, re-checks segmentation,
// resets topVer, reconnects the transport, and refreshes the local
// node. On failure it falls through to STOP.
type ReconnectWorker struct {
	transport DiscoveryTransport
	watchdog  *Watchdog
	hooks     PolicyHooks
	onFailure func(ctx context.Context)
	log       *slog.Logger

	wakeCh chan struct{}
}

// NewReconnectWorker returns a ReconnectWorker. onFailure is invoked
// (typically PolicyEngine's STOP branch) when transport.Reconnect
// fails.
func NewReconnectWorker(transport DiscoveryTransport, watchdog *Watchdog, hooks PolicyHooks, onFailure func(ctx context.Context)) *ReconnectWorker {
	return &ReconnectWorker{
		transport: transport,
		watchdog:  watchdog,
		hooks:     hooks,
		onFailure: onFailure,
		log:       slog.Default().With("component", "reconnect-worker"),
		wakeCh:    make(chan struct{}, 1),
	}
}

// ScheduleReconnect wakes the worker. Redundant wakeups before the
// worker drains are coalesced.
func (r *ReconnectWorker) ScheduleReconnect() {
	select {
	case r.wakeCh <- struct{}{}:
	default:
	}
}

// Run blocks on the reconnect queue until ctx is cancelled.
func (r *ReconnectWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.wakeCh:
			r.reconnectOnce(ctx)
		}
	}
}

func (r *ReconnectWorker) reconnectOnce(ctx context.Context) {
	if r.watchdog != nil && r.watchdog.Enabled() && !r.watchdog.checkOnce() {
		r.log.Warn("segment check still reports an invalid segment, reconnecting anyway")
	}

	r.hooks.ResetTopologyVersion()

	if err := r.transport.Reconnect(ctx); err != nil {
		r.log.Error("reconnect failed, falling through to stop", "error", err)
		if r.onFailure != nil {
			r.onFailure(ctx)
		}
		return
	}

	r.hooks.RefreshLocalNode()
	if r.watchdog != nil {
		r.watchdog.Rearm()
	}
	r.log.Info("reconnected")
}
