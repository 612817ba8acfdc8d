package core

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RawEvent is what a DiscoveryTransport pushes for every membership
// or metrics change (spec.md §6 onDiscovery contract). Snapshot is
// the full current topology as seen by the transport; History is
// populated only when the transport declares history support.
type RawEvent struct {
	Type     EventType
	TopVer   TopologyVersion
	Node     Node
	Snapshot []Node
	History  []RawEvent
}

// DiscoveryTransport is the only cluster-wide boundary the Discovery
// Manager depends on (spec.md §6). A transport is expected to push
// RawEvents on its own goroutine(s) after Start; the channel it
// returns is closed when the transport stops delivering events.
type DiscoveryTransport interface {
	// Start begins delivering RawEvents and returns the channel they
	// arrive on. It must not block past initial setup.
	Start(ctx context.Context) (<-chan RawEvent, error)
	// Stop detaches the transport. Idempotent.
	Stop(ctx context.Context) error

	LocalNode() Node
	RemoteNodes() []Node
	GetNode(id uuid.UUID) (Node, bool)
	// PingNode asks the transport directly whether id is alive,
	// bypassing any cached topology view (spec.md §4.1 alive()).
	PingNode(ctx context.Context, id uuid.UUID) bool
	GridStartTime() time.Time

	// Reconnect re-establishes a dropped connection to the cluster.
	// Used by the Policy Engine's RECONNECT path (spec.md §4.4).
	Reconnect(ctx context.Context) error
	// Disconnect tears down the transport without releasing other
	// resources. Used by STOP/RESTART_JVM/RECONNECT before they act.
	Disconnect(ctx context.Context) error

	// Collect gathers per-component join payloads for a newly joining
	// node (spec.md §6 collect/onExchange piggybacking contract).
	Collect(id uuid.UUID) ([][]byte, error)
	OnExchange(payloads [][]byte) error

	// SupportsOrder reports whether the transport guarantees a unique
	// monotone Order per node and topVer == node.Order on join.
	SupportsOrder() bool
	// SupportsHistory reports whether RawEvent.History is populated.
	SupportsHistory() bool
}
