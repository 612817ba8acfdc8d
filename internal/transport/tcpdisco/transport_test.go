package tcpdisco

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/otterscale/gridnode/internal/core"
)

func waitForEvent(t *testing.T, ch <-chan core.RawEvent, want core.EventType) core.RawEvent {
	t.Helper()
	select {
	case e := <-ch:
		if e.Type != want {
			t.Fatalf("event type = %v, want %v", e.Type, want)
		}
		return e
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %v", want)
	}
	return core.RawEvent{}
}

func TestTransport_JoinHandshakeDeliversJoinedOnBothSides(t *testing.T) {
	seed := New(Config{ListenAddress: "127.0.0.1:0", Local: core.Node{ID: uuid.New()}})
	seedCh, err := seed.Start(context.Background())
	if err != nil {
		t.Fatalf("seed Start: %v", err)
	}
	t.Cleanup(func() { _ = seed.Stop(context.Background()) })

	joiner := New(Config{
		ListenAddress: "127.0.0.1:0",
		SeedAddresses: []string{seed.listener.Addr().String()},
		Local:         core.Node{ID: uuid.New()},
	})
	joinerCh, err := joiner.Start(context.Background())
	if err != nil {
		t.Fatalf("joiner Start: %v", err)
	}
	t.Cleanup(func() { _ = joiner.Stop(context.Background()) })

	waitForEvent(t, seedCh, core.EventNodeJoined)
	waitForEvent(t, joinerCh, core.EventNodeJoined)
}

func TestTransport_RejectsInvalidJoinToken(t *testing.T) {
	issuerA, err := core.NewJoinTokenIssuer([]byte("seed-a"))
	if err != nil {
		t.Fatalf("NewJoinTokenIssuer: %v", err)
	}
	issuerB, err := core.NewJoinTokenIssuer([]byte("seed-b"))
	if err != nil {
		t.Fatalf("NewJoinTokenIssuer: %v", err)
	}

	seed := New(Config{
		ListenAddress: "127.0.0.1:0",
		Local:         core.Node{ID: uuid.New()},
		Grid:          "prod",
		JoinIssuer:    issuerA,
	})
	seedCh, err := seed.Start(context.Background())
	if err != nil {
		t.Fatalf("seed Start: %v", err)
	}
	t.Cleanup(func() { _ = seed.Stop(context.Background()) })

	joiner := New(Config{
		ListenAddress: "127.0.0.1:0",
		SeedAddresses: []string{seed.listener.Addr().String()},
		Local:         core.Node{ID: uuid.New()},
		Grid:          "prod",
		JoinIssuer:    issuerB, // wrong key: token signature will not verify
	})
	joinerCh, err := joiner.Start(context.Background())
	if err != nil {
		t.Fatalf("joiner Start: %v", err)
	}
	t.Cleanup(func() { _ = joiner.Stop(context.Background()) })

	select {
	case e := <-seedCh:
		t.Fatalf("seed delivered event %v for a rejected join, want none", e.Type)
	case <-joinerCh:
		t.Fatal("joiner's channel should stay silent; handshake must be rejected before WELCOME")
	case <-time.After(300 * time.Millisecond):
		// No JOINED delivered on either side: the invalid token closed
		// the connection during HELLO.
	}
}
