package core_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/otterscale/gridnode/internal/core"
)

func TestWatchdog_DisabledWithNoResolvers(t *testing.T) {
	w := core.NewWatchdog(nil, time.Second, nil)
	if w.Enabled() {
		t.Fatal("Enabled() = true with no resolvers, want false")
	}
	if err := w.Run(t.Context()); err != nil {
		t.Fatalf("Run on disabled watchdog: %v", err)
	}
	if err := w.WaitForValidSegment(t.Context()); err != nil {
		t.Fatalf("WaitForValidSegment on disabled watchdog: %v", err)
	}
}

func TestWatchdog_SegmentedOnceThenSuppressedUntilRearm(t *testing.T) {
	var valid atomic.Bool
	valid.Store(false)

	var fired atomic.Int32
	w := core.NewWatchdog(
		[]core.Resolver{core.ResolverFunc(valid.Load)},
		time.Millisecond,
		func() { fired.Add(1) },
	)

	if w.Segmented() {
		t.Fatal("Segmented() = true before any check")
	}

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go w.Run(ctx)

	w.CheckNow()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && !w.Segmented() {
		time.Sleep(5 * time.Millisecond)
	}
	if !w.Segmented() {
		t.Fatal("Segmented() never became true after an invalid resolver")
	}

	w.CheckNow()
	time.Sleep(50 * time.Millisecond)
	if got := fired.Load(); got != 1 {
		t.Fatalf("onSegmented fired %d times, want exactly 1 (suppressed until Rearm)", got)
	}

	valid.Store(true)
	w.Rearm()
	if w.Segmented() {
		t.Fatal("Segmented() = true immediately after Rearm")
	}
}

func TestWatchdog_WaitForValidSegmentReturnsOnceValid(t *testing.T) {
	var valid atomic.Bool
	w := core.NewWatchdog([]core.Resolver{core.ResolverFunc(valid.Load)}, time.Hour, nil)

	done := make(chan error, 1)
	go func() { done <- w.WaitForValidSegment(t.Context()) }()

	select {
	case <-done:
		t.Fatal("WaitForValidSegment returned before the resolver turned valid")
	case <-time.After(20 * time.Millisecond):
	}

	valid.Store(true)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("WaitForValidSegment: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("WaitForValidSegment never returned after the resolver turned valid")
	}
}
