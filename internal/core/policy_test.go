package core_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/otterscale/gridnode/internal/core"
	"github.com/otterscale/gridnode/internal/transport/memtransport"
)

// waitTrue polls got every 5ms until it reports true or the 2s
// deadline expires, then fails the test.
func waitTrue(t *testing.T, msg string, got func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

type fakeHooks struct {
	detached  atomic.Bool
	stopped   atomic.Bool
	restarted atomic.Bool
	resetVer  atomic.Bool
	refreshed atomic.Bool
	stopCh    chan struct{}
}

func newFakeHooks() *fakeHooks { return &fakeHooks{stopCh: make(chan struct{}, 1)} }

func (f *fakeHooks) DetachListener() { f.detached.Store(true) }
func (f *fakeHooks) StopNode(ctx context.Context) error {
	f.stopped.Store(true)
	select {
	case f.stopCh <- struct{}{}:
	default:
	}
	return nil
}
func (f *fakeHooks) RestartProcess() error {
	f.restarted.Store(true)
	return nil
}
func (f *fakeHooks) ResetTopologyVersion() { f.resetVer.Store(true) }
func (f *fakeHooks) RefreshLocalNode()     { f.refreshed.Store(true) }

func TestPolicyEngine_StopDetachesAndStopsNode(t *testing.T) {
	tr := memtransport.New(core.Node{ID: uuid.New()})
	hooks := newFakeHooks()
	p := core.NewPolicyEngine(core.PolicyStop, tr, core.NewHistory(4), hooks, nil)

	p.HandleSegmented(t.Context())

	select {
	case <-hooks.stopCh:
	case <-time.After(2 * time.Second):
		t.Fatal("StopNode was never invoked")
	}
	if !hooks.detached.Load() {
		t.Error("DetachListener was not called")
	}
	if !hooks.stopped.Load() {
		t.Error("StopNode was not called")
	}
	if hooks.restarted.Load() {
		t.Error("RestartProcess should not be called for PolicyStop")
	}
}

func TestPolicyEngine_RestartJVMDetachesAndRestarts(t *testing.T) {
	tr := memtransport.New(core.Node{ID: uuid.New()})
	hooks := newFakeHooks()
	p := core.NewPolicyEngine(core.PolicyRestartJVM, tr, core.NewHistory(4), hooks, nil)

	p.HandleSegmented(t.Context())

	waitTrue(t, "RestartProcess was never called", hooks.restarted.Load)
	if !hooks.detached.Load() {
		t.Error("DetachListener was not called")
	}
}

func TestPolicyEngine_NoopLogsAndDoesNothing(t *testing.T) {
	tr := memtransport.New(core.Node{ID: uuid.New()})
	hooks := newFakeHooks()
	p := core.NewPolicyEngine(core.PolicyNoop, tr, core.NewHistory(4), hooks, nil)

	p.HandleSegmented(t.Context())

	if hooks.detached.Load() || hooks.stopped.Load() || hooks.restarted.Load() {
		t.Error("PolicyNoop must not touch any hook")
	}
}

func TestPolicyEngine_ReconnectClearsHistoryAndSchedulesWorker(t *testing.T) {
	tr := memtransport.New(core.Node{ID: uuid.New()})
	hooks := newFakeHooks()
	h := core.NewHistory(4)
	h.Put(discoCacheAt(t, 1))
	worker := core.NewReconnectWorker(tr, core.NewWatchdog(nil, 0, nil), hooks, nil)
	p := core.NewPolicyEngine(core.PolicyReconnect, tr, h, hooks, worker)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go worker.Run(ctx)

	p.HandleSegmented(t.Context())

	if h.Len() != 0 {
		t.Errorf("History.Len() after HandleSegmented = %d, want 0", h.Len())
	}

	waitTrue(t, "RefreshLocalNode was never called", hooks.refreshed.Load)

	if !hooks.resetVer.Load() {
		t.Error("ResetTopologyVersion was not called by the reconnect worker")
	}
	if !hooks.refreshed.Load() {
		t.Error("RefreshLocalNode was not called after a successful reconnect")
	}
}

func TestReconnectWorker_FailureInvokesOnFailure(t *testing.T) {
	tr := memtransport.New(core.Node{ID: uuid.New()})
	tr.SetReconnectError(context.DeadlineExceeded)
	hooks := newFakeHooks()

	var failed atomic.Bool
	worker := core.NewReconnectWorker(tr, core.NewWatchdog(nil, 0, nil), hooks, func(ctx context.Context) {
		failed.Store(true)
	})

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go worker.Run(ctx)

	worker.ScheduleReconnect()

	waitTrue(t, "onFailure was never invoked after a failing reconnect", failed.Load)
	if hooks.refreshed.Load() {
		t.Error("RefreshLocalNode should not be called after a failed reconnect")
	}
}
