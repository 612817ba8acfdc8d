// Package memtransport is a deterministic, in-process
// core.DiscoveryTransport for tests: every event is injected
// explicitly by the test rather than arriving over a network, so
// assertions never race against goroutine scheduling.
package memtransport

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/otterscale/gridnode/internal/core"
)

// Transport is a test double implementing core.DiscoveryTransport.
// Construct with New, then drive it with Inject* methods after
// Start returns.
type Transport struct {
	mu        sync.RWMutex
	local     core.Node
	remotes   map[uuid.UUID]core.Node
	alive     map[uuid.UUID]bool
	gridStart time.Time

	eventCh chan core.RawEvent

	reconnectErr  error
	reconnectFunc func(ctx context.Context) error
	started       bool

	joinPayloads    map[uuid.UUID][][]byte
	exchanged       [][]byte
	exchangeErr     error
	supportsHistory bool
	history         []core.RawEvent
}

// New returns a Transport whose local node is local.
func New(local core.Node) *Transport {
	return &Transport{
		local:        local,
		remotes:      make(map[uuid.UUID]core.Node),
		alive:        make(map[uuid.UUID]bool),
		joinPayloads: make(map[uuid.UUID][][]byte),
	}
}

// Start implements core.DiscoveryTransport.
func (t *Transport) Start(ctx context.Context) (<-chan core.RawEvent, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.started = true
	t.gridStart = time.Now()
	t.eventCh = make(chan core.RawEvent, 256)
	return t.eventCh, nil
}

// Stop implements core.DiscoveryTransport.
func (t *Transport) Stop(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started && t.eventCh != nil {
		close(t.eventCh)
		t.eventCh = nil
	}
	t.started = false
	return nil
}

// LocalNode implements core.DiscoveryTransport.
func (t *Transport) LocalNode() core.Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.local
}

// RemoteNodes implements core.DiscoveryTransport.
func (t *Transport) RemoteNodes() []core.Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]core.Node, 0, len(t.remotes))
	for _, n := range t.remotes {
		out = append(out, n)
	}
	return out
}

// GetNode implements core.DiscoveryTransport.
func (t *Transport) GetNode(id uuid.UUID) (core.Node, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.remotes[id]
	return n, ok
}

// PingNode implements core.DiscoveryTransport, answering from the
// alive map a test has configured via SetAlive.
func (t *Transport) PingNode(ctx context.Context, id uuid.UUID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.alive[id]
}

// GridStartTime implements core.DiscoveryTransport.
func (t *Transport) GridStartTime() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.gridStart
}

// Reconnect implements core.DiscoveryTransport. A test configures its
// outcome via SetReconnectFunc or SetReconnectError.
func (t *Transport) Reconnect(ctx context.Context) error {
	t.mu.RLock()
	fn := t.reconnectFunc
	err := t.reconnectErr
	t.mu.RUnlock()
	if fn != nil {
		return fn(ctx)
	}
	return err
}

// Disconnect implements core.DiscoveryTransport.
func (t *Transport) Disconnect(ctx context.Context) error { return nil }

// Collect implements core.DiscoveryTransport, returning whatever
// per-component payloads a test has registered for id via
// SetJoinPayload.
func (t *Transport) Collect(id uuid.UUID) ([][]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.joinPayloads[id], nil
}

// OnExchange implements core.DiscoveryTransport, recording the
// payloads so a test can assert on them via ExchangedPayloads, or
// failing with whatever error SetExchangeError configured.
func (t *Transport) OnExchange(payloads [][]byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.exchangeErr != nil {
		return t.exchangeErr
	}
	t.exchanged = append(t.exchanged, payloads...)
	return nil
}

// SupportsOrder implements core.DiscoveryTransport.
func (t *Transport) SupportsOrder() bool { return true }

// SupportsHistory implements core.DiscoveryTransport, answering
// whatever a test configured via SetSupportsHistory.
func (t *Transport) SupportsHistory() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.supportsHistory
}

// SetJoinPayload registers the per-component payloads Collect returns
// for id.
func (t *Transport) SetJoinPayload(id uuid.UUID, payload [][]byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.joinPayloads[id] = payload
}

// ExchangedPayloads returns every payload slice OnExchange has
// received so far, in call order.
func (t *Transport) ExchangedPayloads() [][]byte {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([][]byte, len(t.exchanged))
	copy(out, t.exchanged)
	return out
}

// SetExchangeError makes OnExchange fail with err.
func (t *Transport) SetExchangeError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.exchangeErr = err
}

// SetSupportsHistory toggles SupportsHistory's answer and, when
// enabled, the history.Put backfill performed against historySnapshots
// on the local node's own join.
func (t *Transport) SetSupportsHistory(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.supportsHistory = enabled
}

// SetHistorySnapshots configures the RawEvent.History populated on the
// local node's own join event once SetSupportsHistory(true) is set.
func (t *Transport) SetHistorySnapshots(history []core.RawEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.history = history
}

// SetAlive configures PingNode's answer for id.
func (t *Transport) SetAlive(id uuid.UUID, alive bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.alive[id] = alive
}

// SetReconnectError configures Reconnect to always fail with err.
func (t *Transport) SetReconnectError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reconnectErr = err
}

// SetReconnectFunc overrides Reconnect's behavior entirely.
func (t *Transport) SetReconnectFunc(fn func(ctx context.Context) error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reconnectFunc = fn
}

// InjectJoin records n as alive and remote (unless it is the local
// node) and pushes a JOINED RawEvent carrying the current remote
// snapshot.
func (t *Transport) InjectJoin(topVer core.TopologyVersion, n core.Node) {
	t.mu.Lock()
	if n.ID != t.local.ID {
		t.remotes[n.ID] = n
	}
	t.alive[n.ID] = true
	snapshot := t.snapshotLocked()
	ch := t.eventCh
	var history []core.RawEvent
	if n.ID == t.local.ID && t.supportsHistory {
		history = t.history
	}
	t.mu.Unlock()

	if ch != nil {
		ch <- core.RawEvent{Type: core.EventNodeJoined, TopVer: topVer, Node: n, Snapshot: snapshot, History: history}
	}
}

// InjectLeave removes id from the remote set and alive map and pushes
// a LEFT RawEvent.
func (t *Transport) InjectLeave(topVer core.TopologyVersion, id uuid.UUID) {
	t.injectDeparture(topVer, id, core.EventNodeLeft)
}

// InjectFail removes id from the remote set and alive map and pushes
// a FAILED RawEvent.
func (t *Transport) InjectFail(topVer core.TopologyVersion, id uuid.UUID) {
	t.injectDeparture(topVer, id, core.EventNodeFailed)
}

func (t *Transport) injectDeparture(topVer core.TopologyVersion, id uuid.UUID, evType core.EventType) {
	t.mu.Lock()
	n := t.remotes[id]
	delete(t.remotes, id)
	delete(t.alive, id)
	snapshot := t.snapshotLocked()
	ch := t.eventCh
	t.mu.Unlock()

	if ch != nil {
		ch <- core.RawEvent{Type: evType, TopVer: topVer, Node: n, Snapshot: snapshot}
	}
}

// InjectMetrics pushes a NODE_METRICS_UPDATED RawEvent for id without
// advancing topVer.
func (t *Transport) InjectMetrics(id uuid.UUID) {
	t.mu.Lock()
	n, ok := t.remotes[id]
	if !ok && id == t.local.ID {
		n = t.local
	}
	ch := t.eventCh
	t.mu.Unlock()

	if ch != nil {
		ch <- core.RawEvent{Type: core.EventNodeMetricsUpdated, Node: n}
	}
}

func (t *Transport) snapshotLocked() []core.Node {
	out := make([]core.Node, 0, len(t.remotes))
	for _, n := range t.remotes {
		out = append(out, n)
	}
	return out
}
