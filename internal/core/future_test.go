package core_test

import (
	"context"
	"testing"
	"time"

	"github.com/otterscale/gridnode/internal/core"
)

func TestFuture_CompleteThenGet(t *testing.T) {
	f := core.NewFuture[int]()
	f.Complete(42, nil)

	got, err := f.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != 42 {
		t.Fatalf("Get() = %d, want 42", got)
	}
}

func TestFuture_CompleteIsOnceOnly(t *testing.T) {
	f := core.NewFuture[int]()
	f.Complete(1, nil)
	f.Complete(2, nil)

	got, _ := f.Get()
	if got != 1 {
		t.Fatalf("second Complete overwrote the first: Get() = %d, want 1", got)
	}
}

func TestFuture_ListenAfterCompletionRunsSynchronously(t *testing.T) {
	f := core.CompletedFuture("done", nil)

	var got string
	f.Listen(func(result string, err error) { got = result })
	if got != "done" {
		t.Fatalf("Listen after completion: got %q, want %q", got, "done")
	}
}

func TestFuture_GetTimeout(t *testing.T) {
	f := core.NewFuture[int]()
	_, err := f.GetTimeout(10 * time.Millisecond)
	if err != core.ErrFutureTimeout {
		t.Fatalf("GetTimeout on pending future: err = %v, want ErrFutureTimeout", err)
	}
}

func TestFuture_GetContextCancelled(t *testing.T) {
	f := core.NewFuture[int]()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.GetContext(ctx)
	if err != core.ErrFutureCancelled {
		t.Fatalf("GetContext with cancelled ctx: err = %v, want ErrFutureCancelled", err)
	}
}
