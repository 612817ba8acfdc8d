package core

import (
	"sync"

	"github.com/google/uuid"
)

// EventType identifies the kind of a discovery or deployment event
// (spec.md §6). Values are stable across the cluster since peers may
// exchange them over the wire.
type EventType int

const (
	EventNodeJoined EventType = iota + 1
	EventNodeLeft
	EventNodeFailed
	EventNodeMetricsUpdated
	EventNodeSegmented
	EventNodeReconnected
	EventTaskDeployed
	EventClassDeployed
	EventTaskUndeployed
	EventClassUndeployed
	EventTaskDeployFailed
	EventClassDeployFailed
)

func (t EventType) String() string {
	switch t {
	case EventNodeJoined:
		return "NODE_JOINED"
	case EventNodeLeft:
		return "NODE_LEFT"
	case EventNodeFailed:
		return "NODE_FAILED"
	case EventNodeMetricsUpdated:
		return "NODE_METRICS_UPDATED"
	case EventNodeSegmented:
		return "NODE_SEGMENTED"
	case EventNodeReconnected:
		return "NODE_RECONNECTED"
	case EventTaskDeployed:
		return "TASK_DEPLOYED"
	case EventClassDeployed:
		return "CLASS_DEPLOYED"
	case EventTaskUndeployed:
		return "TASK_UNDEPLOYED"
	case EventClassUndeployed:
		return "CLASS_UNDEPLOYED"
	case EventTaskDeployFailed:
		return "TASK_DEPLOY_FAILED"
	case EventClassDeployFailed:
		return "CLASS_DEPLOY_FAILED"
	default:
		return "UNKNOWN"
	}
}

// isMembershipEvent reports whether an event type advances the
// topology version (spec.md §3: metrics updates never do).
func (t EventType) isMembershipEvent() bool {
	switch t {
	case EventNodeJoined, EventNodeLeft, EventNodeFailed, EventNodeReconnected:
		return true
	default:
		return false
	}
}

// Event is a single discovery or deployment notification delivered
// to listeners in the order it was enqueued on the discovery worker
// (spec.md §5).
type Event struct {
	Type       EventType
	TopVer     TopologyVersion
	Node       Node
	Topology   *DiscoCache
	Alias      string
	ClassName  string
	DeployMode DeploymentMode
}

// NodeID is a convenience accessor for Event.Node.ID, used by
// listeners that only care about identity.
func (e Event) NodeID() uuid.UUID { return e.Node.ID }

// Listener receives typed Events. Interested restricts delivery to
// the given set of event types; a nil or empty set receives every
// event. Listeners must not block the discovery worker: long work
// should be handed off to another goroutine.
type Listener struct {
	Interested map[EventType]struct{}
	OnEvent    func(Event)
}

func (l Listener) wants(t EventType) bool {
	if len(l.Interested) == 0 {
		return true
	}
	_, ok := l.Interested[t]
	return ok
}

// ListenerBus is a copy-on-write registry of Listeners, matching the
// Design Note in spec.md §9 that replaces ad hoc listener closures
// with a typed subscription plus a copy-on-write slice for lock-free
// reads during dispatch.
type ListenerBus struct {
	mu        sync.Mutex
	nextID    int
	listeners []subscription
}

type subscription struct {
	id       int
	listener Listener
}

// Subscribe registers l and returns an unsubscribe function.
func (b *ListenerBus) Subscribe(l Listener) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	next := make([]subscription, len(b.listeners)+1)
	copy(next, b.listeners)
	next[len(b.listeners)] = subscription{id: id, listener: l}
	b.listeners = next
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		next := make([]subscription, 0, len(b.listeners))
		for _, existing := range b.listeners {
			if existing.id != id {
				next = append(next, existing)
			}
		}
		b.listeners = next
	}
}

// Dispatch delivers e to every interested listener, in registration
// order, on the calling goroutine. Panics inside a listener are
// recovered and swallowed per spec.md §7: a listener's own failure
// must not take down the discovery worker.
func (b *ListenerBus) Dispatch(e Event) {
	b.mu.Lock()
	snapshot := b.listeners
	b.mu.Unlock()

	for _, s := range snapshot {
		if s.listener.wants(e.Type) {
			dispatchOne(s.listener, e)
		}
	}
}

func dispatchOne(l Listener, e Event) {
	defer func() { _ = recover() }()
	l.OnEvent(e)
}
