package tcpdisco

import (
	"testing"

	"github.com/google/uuid"

	"github.com/otterscale/gridnode/internal/core"
)

func TestWireNodeRoundTrip(t *testing.T) {
	name := "cache-a"
	n := core.Node{
		ID:        uuid.New(),
		Order:     7,
		Addresses: []string{"10.0.0.1:47500"},
		Daemon:    true,
		Attributes: core.NewAttributes(
			core.WithDeploymentMode(core.DeploymentModeIsolated),
			core.WithPeerClassLoading(true),
			core.WithDataCenterID(3),
			core.WithProductVersion(core.ParseVersion("1.4.2")),
			core.WithCacheAttributes([]core.CacheAttributes{{Name: &name, AffinityNode: true}}),
		),
	}

	got, err := fromWireNode(toWireNode(n))
	if err != nil {
		t.Fatalf("fromWireNode: %v", err)
	}

	if got.ID != n.ID {
		t.Errorf("ID = %v, want %v", got.ID, n.ID)
	}
	if got.Order != n.Order {
		t.Errorf("Order = %v, want %v", got.Order, n.Order)
	}
	if got.Daemon != n.Daemon {
		t.Errorf("Daemon = %v, want %v", got.Daemon, n.Daemon)
	}
	if got.Attributes.DeploymentMode() != core.DeploymentModeIsolated {
		t.Errorf("DeploymentMode = %v, want ISOLATED", got.Attributes.DeploymentMode())
	}
	if !got.Attributes.PeerClassLoading() {
		t.Error("PeerClassLoading = false, want true")
	}
	dc, hasDC := got.Attributes.DataCenterID()
	if !hasDC || dc != 3 {
		t.Errorf("DataCenterID = (%v, %v), want (3, true)", dc, hasDC)
	}
	if got.Attributes.ProductVersion().Compare(core.ParseVersion("1.4.2")) != 0 {
		t.Errorf("ProductVersion = %v, want 1.4.2", got.Attributes.ProductVersion())
	}
	// CacheAttributes are not carried over the wire (wireNode only
	// projects the fields tcpdisco's handshake needs); that is
	// expected, not a round-trip bug.
}

func TestWireNode_UnsetProductVersionStaysZero(t *testing.T) {
	n := core.Node{ID: uuid.New()}
	got, err := fromWireNode(toWireNode(n))
	if err != nil {
		t.Fatalf("fromWireNode: %v", err)
	}
	if !got.Attributes.ProductVersion().IsZero() {
		t.Errorf("ProductVersion = %v, want zero value", got.Attributes.ProductVersion())
	}
}

func TestFromWireNode_InvalidUUID(t *testing.T) {
	_, err := fromWireNode(wireNode{ID: "not-a-uuid"})
	if err == nil {
		t.Fatal("fromWireNode with invalid UUID: want error, got nil")
	}
}
