package core

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ManagerConfig configures a DiscoveryManager.
type ManagerConfig struct {
	Transport             DiscoveryTransport
	HistorySize           int
	Resolvers             []Resolver
	SegmentCheckFrequency time.Duration // 0 disables the watchdog loop
	WaitForSegmentOnStart bool
	Policy                SegmentationPolicy
	EventQueueSize        int
}

// DiscoveryManager is the orchestrator described in spec.md §4.1: it
// owns the transport, the discovery history, the segmentation
// watchdog, the segmentation policy engine, and the listener bus, and
// runs the single-consumer discovery worker that turns transport
// RawEvents into typed Events.
type DiscoveryManager struct {
	transport DiscoveryTransport
	history   *History
	listeners *ListenerBus
	watchdog  *Watchdog
	policy    *PolicyEngine
	reconnect *ReconnectWorker

	topVer   atomic.Int64
	current  atomic.Pointer[DiscoCache]
	local    atomic.Pointer[Node]

	localJoinMu sync.Mutex
	localJoin   *Event

	awaitMu  sync.Mutex
	awaiters []awaiter

	workCh     chan Event
	group      *errgroup.Group
	cancel     context.CancelFunc
	waitOnStart bool

	log *slog.Logger
}

type awaiter struct {
	version TopologyVersion
	future  *Future[TopologyVersion]
}

// NewDiscoveryManager constructs a DiscoveryManager. Call Start to
// begin delivering events.
func NewDiscoveryManager(cfg ManagerConfig) *DiscoveryManager {
	size := cfg.EventQueueSize
	if size <= 0 {
		size = 1024
	}

	m := &DiscoveryManager{
		transport:   cfg.Transport,
		history:     NewHistory(cfg.HistorySize),
		listeners:   &ListenerBus{},
		workCh:      make(chan Event, size),
		waitOnStart: cfg.WaitForSegmentOnStart,
		log:         slog.Default().With("component", "discovery-manager"),
	}

	m.watchdog = NewWatchdog(cfg.Resolvers, cfg.SegmentCheckFrequency, func() {
		m.listeners.Dispatch(Event{Type: EventNodeSegmented})
		if m.policy != nil {
			go m.policy.HandleSegmented(context.Background())
		}
	})

	m.reconnect = NewReconnectWorker(cfg.Transport, m.watchdog, m, func(ctx context.Context) {
		m.log.Error("reconnect failed permanently, stopping node")
		go func() {
			if err := m.StopNode(ctx); err != nil {
				m.log.Error("stop after failed reconnect", "error", err)
			}
		}()
	})

	m.policy = NewPolicyEngine(cfg.Policy, cfg.Transport, m.history, m, m.reconnect)

	return m
}

// Start begins receiving events from the transport and spins up the
// discovery worker, segmentation watchdog, and reconnect worker
// (spec.md §4.1/§4.3/§4.4). If waitForSegmentOnStart is configured,
// Start blocks (subject to ctx) until the segment is valid; otherwise
// a single immediate segment check gates startup. A fatal attribute
// mismatch against any node already present in the transport's
// initial view fails Start outright (spec.md §8 scenario: "start()
// fails with an attribute-mismatch error").
func (m *DiscoveryManager) Start(ctx context.Context) error {
	if m.watchdog.Enabled() {
		if m.waitForSegmentOnStart() {
			if err := m.watchdog.WaitForValidSegment(ctx); err != nil {
				return fmt.Errorf("waiting for valid segment: %w", err)
			}
		} else if !m.watchdog.checkOnce() {
			return ErrSegmentLost
		}
	}

	rawCh, err := m.transport.Start(ctx)
	if err != nil {
		return fmt.Errorf("starting transport: %w", err)
	}

	local := m.transport.LocalNode()
	m.local.Store(&local)

	for _, remote := range m.transport.RemoteNodes() {
		if err := checkAttributeConsistency(local, remote); err != nil {
			_ = m.transport.Stop(ctx)
			return err
		}
		m.logAttributeWarnings(local, remote)
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	group, runCtx := errgroup.WithContext(runCtx)
	m.group = group

	group.Go(func() error { return m.runRawLoop(runCtx, rawCh) })
	group.Go(func() error { return m.runWorker(runCtx) })
	if m.watchdog.Enabled() {
		group.Go(func() error { return m.watchdog.Run(runCtx) })
	}
	group.Go(func() error { return m.reconnect.Run(runCtx) })

	return nil
}

func (m *DiscoveryManager) waitForSegmentOnStart() bool { return m.waitOnStart }

// Stop detaches the transport listener, cancels all workers, and
// blocks until they exit. Idempotent.
func (m *DiscoveryManager) Stop(ctx context.Context) error {
	m.DetachListener()
	if err := m.transport.Stop(ctx); err != nil {
		m.log.Error("transport stop failed", "error", err)
	}
	if m.group != nil {
		return m.group.Wait()
	}
	return nil
}

// DetachListener cancels the manager's workers without stopping the
// transport itself; used by the STOP/RESTART_JVM policy branches
// before they tear the transport down themselves (spec.md §4.4).
func (m *DiscoveryManager) DetachListener() {
	if m.cancel != nil {
		m.cancel()
	}
}

// StopNode implements PolicyHooks for the STOP segmentation policy:
// a full manager shutdown.
func (m *DiscoveryManager) StopNode(ctx context.Context) error {
	return m.Stop(ctx)
}

// RestartProcess implements PolicyHooks for RESTART_JVM. This module
// has no process supervisor of its own to hand control to, so it
// reports the request as unimplemented rather than silently no-op;
// a host binary wiring RESTART_JVM must override this by embedding
// DiscoveryManager and shadowing the method, or by choosing a
// different policy.
func (m *DiscoveryManager) RestartProcess() error {
	return &ErrNotReady{Subsystem: "process restart"}
}

// ResetTopologyVersion implements PolicyHooks.
func (m *DiscoveryManager) ResetTopologyVersion() {
	m.topVer.Store(0)
	m.current.Store(nil)
}

// RefreshLocalNode implements PolicyHooks: re-reads LocalNode from
// the transport after a successful reconnect and fires
// NODE_RECONNECTED.
func (m *DiscoveryManager) RefreshLocalNode() {
	local := m.transport.LocalNode()
	m.local.Store(&local)
	m.listeners.Dispatch(Event{Type: EventNodeReconnected, Node: local})
}

// runRawLoop consumes the transport's RawEvent channel, updating
// history and the current DiscoCache and enqueueing derived Events
// for the discovery worker (spec.md §4.1 step 1).
func (m *DiscoveryManager) runRawLoop(ctx context.Context, rawCh <-chan RawEvent) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case raw, ok := <-rawCh:
			if !ok {
				return nil
			}
			m.handleRaw(raw)
		}
	}
}

func (m *DiscoveryManager) handleRaw(raw RawEvent) {
	local := m.localNode()

	if raw.Type == EventNodeLeft || raw.Type == EventNodeFailed {
		m.history.PruneDeparted(raw.Node.ID)
		if dc := m.current.Load(); dc != nil {
			dc.removeFromAlive(raw.Node.ID)
		}
	}

	if !raw.Type.isMembershipEvent() {
		m.enqueue(Event{Type: raw.Type, TopVer: TopologyVersion(m.topVer.Load()), Node: raw.Node, Topology: m.current.Load()})
		return
	}

	if raw.Type == EventNodeJoined {
		m.checkOrderInvariant(raw)
		m.exchangeJoinPayloads(raw.Node.ID)
	}

	dc := buildDiscoCache(raw.TopVer, local, raw.Snapshot, func(id uuid.UUID) bool {
		return m.transport.PingNode(context.Background(), id)
	})

	for {
		cur := m.current.Load()
		if cur != nil && cur.topVer >= dc.topVer {
			break
		}
		if m.current.CompareAndSwap(cur, dc) {
			break
		}
	}

	isLocalJoin := raw.Type == EventNodeJoined && raw.Node.ID == local.ID
	if isLocalJoin && m.transport.SupportsHistory() {
		m.backfillHistory(raw.History)
	}
	m.history.Put(dc)

	for prev := m.topVer.Load(); int64(raw.TopVer) > prev; prev = m.topVer.Load() {
		if m.topVer.CompareAndSwap(prev, int64(raw.TopVer)) {
			break
		}
	}

	if isLocalJoin {
		m.localJoinMu.Lock()
		m.localJoin = &Event{Type: raw.Type, TopVer: dc.topVer, Node: raw.Node, Topology: dc}
		m.localJoinMu.Unlock()
		m.checkAwaiters(dc.topVer)
		return
	}

	m.enqueue(Event{Type: raw.Type, TopVer: dc.topVer, Node: raw.Node, Topology: dc})
}

func (m *DiscoveryManager) enqueue(e Event) {
	select {
	case m.workCh <- e:
	default:
		m.log.Warn("discovery event queue full, dropping event", "type", e.Type.String())
	}
}

// runWorker is the single-consumer discovery worker described in
// spec.md §4.1 step 2 / §5: it verifies attributes on join, recomputes
// the segmentation check on leave/fail, and dispatches to listeners.
// Errors are logged and swallowed, never propagated past this
// goroutine (spec.md §7).
func (m *DiscoveryManager) runWorker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-m.workCh:
			m.processEvent(e)
		}
	}
}

func (m *DiscoveryManager) processEvent(e Event) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("discovery worker recovered from panic", "panic", r)
		}
	}()

	switch e.Type {
	case EventNodeJoined:
		if local := m.localNode(); e.Node.ID != local.ID {
			if err := checkAttributeConsistency(local, e.Node); err != nil {
				m.log.Error("joining node attribute mismatch", "error", err)
			}
			m.logAttributeWarnings(local, e.Node)
		}
	case EventNodeLeft, EventNodeFailed:
		m.watchdog.CheckNow()
	}

	m.checkAwaiters(e.TopVer)
	m.listeners.Dispatch(e)
}

// checkOrderInvariant verifies spec.md §3's "topVer == node.order when
// the transport declares order support" invariant on every join. A
// violation indicates the transport's order assignment disagrees with
// its own topVer sequencing, which would desynchronize cache-node
// resolution by order; it is logged rather than treated as fatal,
// consistent with the rest of the discovery worker's error handling.
func (m *DiscoveryManager) checkOrderInvariant(raw RawEvent) {
	if !m.transport.SupportsOrder() {
		return
	}
	if TopologyVersion(raw.Node.Order) != raw.TopVer {
		m.log.Error("order invariant violated: topVer != node.order",
			"node_id", raw.Node.ID,
			"top_ver", raw.TopVer,
			"node_order", raw.Node.Order,
		)
	}
}

// exchangeJoinPayloads implements the collect/onExchange piggybacking
// contract (spec.md §6): gathers id's per-component join data through
// the transport and feeds it back via OnExchange, once per join.
func (m *DiscoveryManager) exchangeJoinPayloads(id uuid.UUID) {
	payloads, err := m.transport.Collect(id)
	if err != nil {
		m.log.Warn("collect join payloads failed", "node_id", id, "error", err)
		return
	}
	if len(payloads) == 0 {
		return
	}
	if err := m.transport.OnExchange(payloads); err != nil {
		m.log.Warn("exchange join payloads failed", "node_id", id, "error", err)
	}
}

// backfillHistory replays the historySnapshots a history-supporting
// transport attaches to the local node's own join event, so the
// discovery history is not empty from the moment of join (spec.md §6
// "history support" capability).
func (m *DiscoveryManager) backfillHistory(history []RawEvent) {
	local := m.localNode()
	for _, h := range history {
		hdc := buildDiscoCache(h.TopVer, local, h.Snapshot, func(id uuid.UUID) bool {
			return m.transport.PingNode(context.Background(), id)
		})
		m.history.Put(hdc)
	}
}

func (m *DiscoveryManager) localNode() Node {
	if n := m.local.Load(); n != nil {
		return *n
	}
	return Node{}
}

// checkAttributeConsistency implements the fatal-mismatch checks from
// spec.md §4.1: deployment mode must match exactly, peer-class-loading
// must be enabled or disabled identically cluster-wide, and, unless
// either side is a daemon, the data-center ids must match when both
// sides set one.
func checkAttributeConsistency(local, remote Node) error {
	if local.Attributes.DeploymentMode() != remote.Attributes.DeploymentMode() {
		return &ErrAttributeMismatch{
			NodeID:    remote.ID,
			Attribute: "deploymentMode",
			Local:     local.Attributes.DeploymentMode(),
			Remote:    remote.Attributes.DeploymentMode(),
		}
	}
	if local.Attributes.PeerClassLoading() != remote.Attributes.PeerClassLoading() {
		return &ErrAttributeMismatch{
			NodeID:    remote.ID,
			Attribute: "peerClassLoadingEnabled",
			Local:     local.Attributes.PeerClassLoading(),
			Remote:    remote.Attributes.PeerClassLoading(),
		}
	}
	if local.Daemon || remote.Daemon {
		return nil
	}
	localDC, localHas := local.Attributes.DataCenterID()
	remoteDC, remoteHas := remote.Attributes.DataCenterID()
	if localHas && remoteHas && localDC != remoteDC {
		return &ErrAttributeMismatch{
			NodeID:    remote.ID,
			Attribute: "dataCenterId",
			Local:     localDC,
			Remote:    remoteDC,
		}
	}
	return nil
}

// logAttributeWarnings logs the non-fatal attribute mismatches called
// out by spec.md §4.1/§10: a differing prefer-IPv4 flag or library
// manifest does not abort the join, but is surfaced at Warn level so
// an operator can spot configuration drift across the cluster.
func (m *DiscoveryManager) logAttributeWarnings(local, remote Node) {
	if local.Attributes.PreferIPv4() != remote.Attributes.PreferIPv4() {
		m.log.Warn("node preferIPv4 flag differs from local",
			"node_id", remote.ID,
			"local", local.Attributes.PreferIPv4(),
			"remote", remote.Attributes.PreferIPv4(),
		)
	}
	if !slices.Equal(local.Attributes.Libraries(), remote.Attributes.Libraries()) {
		m.log.Warn("node library list differs from local",
			"node_id", remote.ID,
			"local", local.Attributes.Libraries(),
			"remote", remote.Attributes.Libraries(),
		)
	}
}

// TopologyVersion returns the current topology version.
func (m *DiscoveryManager) TopologyVersion() TopologyVersion {
	return TopologyVersion(m.topVer.Load())
}

// CurrentDiscoCache returns the DiscoCache for the current topology
// version, or nil before the first event has been processed.
func (m *DiscoveryManager) CurrentDiscoCache() *DiscoCache {
	return m.current.Load()
}

// Segmented reports whether the segmentation watchdog currently
// believes the local node is segmented from the cluster.
func (m *DiscoveryManager) Segmented() bool {
	return m.watchdog.Segmented()
}

// LocalNode returns the most recently observed local node.
func (m *DiscoveryManager) LocalNode() Node { return m.localNode() }

// LocalJoinEvent returns the captured local-join Event, if the local
// node has joined yet. This event is never delivered through the
// listener bus (spec.md §4.1 step 1: "observed but not forwarded").
func (m *DiscoveryManager) LocalJoinEvent() (Event, bool) {
	m.localJoinMu.Lock()
	defer m.localJoinMu.Unlock()
	if m.localJoin == nil {
		return Event{}, false
	}
	return *m.localJoin, true
}

// Node looks up id in the current DiscoCache.
func (m *DiscoveryManager) Node(id uuid.UUID) (Node, bool) {
	dc := m.current.Load()
	if dc == nil {
		return Node{}, false
	}
	return dc.Node(id)
}

// Alive asks the transport directly whether id is currently alive,
// bypassing the cached DiscoCache view (spec.md §4.1 alive()).
func (m *DiscoveryManager) Alive(ctx context.Context, id uuid.UUID) bool {
	return m.transport.PingNode(ctx, id)
}

// discoCacheAt resolves the DiscoCache appropriate for topVer: the
// current cache when topVer is unset or matches, otherwise a history
// lookup (spec.md §4.1/§7).
func (m *DiscoveryManager) discoCacheAt(topVer TopologyVersion) (*DiscoCache, error) {
	if topVer < 0 {
		if dc := m.current.Load(); dc != nil {
			return dc, nil
		}
		return nil, &ErrNotReady{Subsystem: "discovery"}
	}
	if dc := m.current.Load(); dc != nil && dc.topVer == topVer {
		return dc, nil
	}
	return m.history.Resolve(topVer)
}

// CacheNodes returns nodes advertising key's cache at topVer (-1 for
// "current").
func (m *DiscoveryManager) CacheNodes(key CacheKey, topVer TopologyVersion) ([]Node, error) {
	dc, err := m.discoCacheAt(topVer)
	if err != nil {
		return nil, err
	}
	return dc.CacheNodes(key, topVer), nil
}

// RemoteCacheNodes returns remote nodes advertising key's cache at topVer.
func (m *DiscoveryManager) RemoteCacheNodes(key CacheKey, topVer TopologyVersion) ([]Node, error) {
	dc, err := m.discoCacheAt(topVer)
	if err != nil {
		return nil, err
	}
	return dc.RemoteCacheNodes(key, topVer), nil
}

// AliveCacheNodes returns the currently alive nodes advertising key's cache.
func (m *DiscoveryManager) AliveCacheNodes(key CacheKey) []Node {
	dc := m.current.Load()
	if dc == nil {
		return nil
	}
	return dc.AliveCacheNodes(key)
}

// HasNearCache reports whether any node currently advertises a near
// cache for key.
func (m *DiscoveryManager) HasNearCache(key CacheKey) bool {
	dc := m.current.Load()
	return dc != nil && dc.HasNearCache(key)
}

// TopologyFuture returns a Future that completes once the topology
// version reaches at least awaitVer (spec.md §4.6). It closes the
// startup race by checking the current version before registering.
func (m *DiscoveryManager) TopologyFuture(awaitVer TopologyVersion) *Future[TopologyVersion] {
	f := NewFuture[TopologyVersion]()

	m.awaitMu.Lock()
	if cur := TopologyVersion(m.topVer.Load()); cur >= awaitVer {
		m.awaitMu.Unlock()
		f.Complete(cur, nil)
		return f
	}
	m.awaiters = append(m.awaiters, awaiter{version: awaitVer, future: f})
	m.awaitMu.Unlock()

	return f
}

func (m *DiscoveryManager) checkAwaiters(topVer TopologyVersion) {
	m.awaitMu.Lock()
	var remaining []awaiter
	var ready []awaiter
	for _, a := range m.awaiters {
		if topVer >= a.version {
			ready = append(ready, a)
		} else {
			remaining = append(remaining, a)
		}
	}
	m.awaiters = remaining
	m.awaitMu.Unlock()

	for _, a := range ready {
		a.future.Complete(topVer, nil)
	}
}

// Subscribe registers a listener for discovery and deployment events.
func (m *DiscoveryManager) Subscribe(l Listener) (unsubscribe func()) {
	return m.listeners.Subscribe(l)
}
