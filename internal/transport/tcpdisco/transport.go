// Package tcpdisco is a reference DiscoveryTransport implementation
// over plain TCP with newline-delimited JSON framing: every node
// listens for inbound peer connections and dials its configured seed
// addresses, exchanging HELLO/WELCOME handshakes and broadcasting
// JOINED/LEFT/FAILED notifications to every other connected peer.
package tcpdisco

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/otterscale/gridnode/internal/core"
)

// Config configures a Transport.
type Config struct {
	ListenAddress string
	SeedAddresses []string
	Local         core.Node
	DialTimeout   time.Duration
	BackoffMin    time.Duration
	BackoffMax    time.Duration

	// Grid is the cluster incarnation name this transport's node
	// joins. Required when JoinIssuer is set.
	Grid string
	// JoinIssuer, when set, gates every inbound HELLO on a valid
	// signed join token for Grid and issues one of its own on every
	// outbound HELLO (spec.md §6 external interface: an out-of-band
	// admission check ahead of the Discovery Manager handoff). Nil
	// disables admission control entirely.
	JoinIssuer *core.JoinTokenIssuer

	// JoinPayload is piggybacked on this node's outbound HELLO so the
	// accepting peer can retrieve it via Collect (spec.md §6
	// collect/onExchange contract).
	JoinPayload [][]byte
}

// Transport implements core.DiscoveryTransport over TCP.
type Transport struct {
	cfg Config
	log *slog.Logger

	listener net.Listener

	mu        sync.RWMutex
	local     core.Node
	peers     map[uuid.UUID]*peerConn
	nextOrder atomic.Int64

	// peerPayloads holds the JoinPayload each peer advertised on its
	// inbound HELLO, retrievable via Collect (spec.md §6).
	peerPayloads map[uuid.UUID][][]byte
	// exchanged accumulates payloads this node has received through
	// OnExchange, in call order.
	exchanged [][]byte

	gridStart time.Time
	eventCh   chan core.RawEvent

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

type peerConn struct {
	conn net.Conn
	enc  *json.Encoder
	node core.Node
}

// New returns a Transport. Call Start to begin accepting connections
// and dialing seeds.
func New(cfg Config) *Transport {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = time.Second
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 30 * time.Second
	}
	return &Transport{
		cfg:          cfg,
		local:        cfg.Local,
		peers:        make(map[uuid.UUID]*peerConn),
		peerPayloads: make(map[uuid.UUID][][]byte),
		log:          slog.Default().With("component", "tcpdisco"),
	}
}

// Start implements core.DiscoveryTransport.
func (t *Transport) Start(ctx context.Context) (<-chan core.RawEvent, error) {
	ln, err := net.Listen("tcp", t.cfg.ListenAddress)
	if err != nil {
		return nil, fmt.Errorf("tcpdisco: listen %s: %w", t.cfg.ListenAddress, err)
	}
	t.listener = ln
	t.gridStart = time.Now()
	t.eventCh = make(chan core.RawEvent, 256)

	if len(t.cfg.SeedAddresses) == 0 {
		t.local.Order = core.Order(t.nextOrder.Add(1))
	}

	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	t.wg.Add(1)
	go t.acceptLoop(runCtx)

	for _, addr := range t.cfg.SeedAddresses {
		t.wg.Add(1)
		go t.dialLoop(runCtx, addr)
	}

	return t.eventCh, nil
}

// Stop implements core.DiscoveryTransport.
func (t *Transport) Stop(ctx context.Context) error {
	if t.cancel != nil {
		t.cancel()
	}
	if t.listener != nil {
		_ = t.listener.Close()
	}
	t.mu.Lock()
	for _, p := range t.peers {
		_ = p.conn.Close()
	}
	t.peers = make(map[uuid.UUID]*peerConn)
	t.mu.Unlock()
	t.wg.Wait()
	return nil
}

func (t *Transport) acceptLoop(ctx context.Context) {
	defer t.wg.Done()
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			t.log.Error("accept failed", "error", err)
			continue
		}
		t.wg.Add(1)
		go t.serveConn(ctx, conn)
	}
}

func (t *Transport) dialLoop(ctx context.Context, addr string) {
	defer t.wg.Done()
	b := newBackoff(t.cfg.BackoffMin, t.cfg.BackoffMax)
	for {
		if ctx.Err() != nil {
			return
		}
		conn, err := net.DialTimeout("tcp", addr, t.cfg.DialTimeout)
		if err != nil {
			t.log.Warn("dial seed failed, retrying", "addr", addr, "error", err)
			if !sleepCtx(ctx, b.Next()) {
				return
			}
			continue
		}
		b.Reset()
		t.wg.Add(1)
		t.handshakeAsDialer(ctx, conn)
		return
	}
}

func (t *Transport) handshakeAsDialer(ctx context.Context, conn net.Conn) {
	defer t.wg.Done()
	enc := json.NewEncoder(conn)
	dec := json.NewDecoder(bufio.NewReader(conn))

	hello := wireMessage{Type: msgHello, Node: toWireNode(t.localSnapshot()), JoinPayload: t.cfg.JoinPayload}
	if t.cfg.JoinIssuer != nil {
		token, err := t.cfg.JoinIssuer.Issue(t.cfg.Grid, t.local.ID.String())
		if err != nil {
			t.log.Error("issue join token failed", "error", err)
			_ = conn.Close()
			return
		}
		hello.Token = token
	}
	if err := enc.Encode(hello); err != nil {
		t.log.Error("send hello failed", "error", err)
		_ = conn.Close()
		return
	}

	var welcome wireMessage
	if err := dec.Decode(&welcome); err != nil || welcome.Type != msgWelcome {
		t.log.Error("welcome handshake failed", "error", err)
		_ = conn.Close()
		return
	}

	local, err := fromWireNode(welcome.Node)
	if err == nil {
		t.mu.Lock()
		t.local = local
		t.mu.Unlock()
	}

	var snapshot []core.Node
	for _, wn := range welcome.Snapshot {
		if n, err := fromWireNode(wn); err == nil {
			snapshot = append(snapshot, n)
		}
	}
	t.emit(core.RawEvent{Type: core.EventNodeJoined, TopVer: core.TopologyVersion(welcome.TopVer), Node: t.localSnapshot(), Snapshot: snapshot})

	t.servePeer(ctx, conn, dec, local)
}

func (t *Transport) serveConn(ctx context.Context, conn net.Conn) {
	defer t.wg.Done()
	dec := json.NewDecoder(bufio.NewReader(conn))
	enc := json.NewEncoder(conn)

	var hello wireMessage
	if err := dec.Decode(&hello); err != nil || hello.Type != msgHello {
		_ = conn.Close()
		return
	}
	if t.cfg.JoinIssuer != nil {
		grid, _, err := t.cfg.JoinIssuer.Verify(hello.Token)
		if err != nil || grid != t.cfg.Grid {
			t.log.Warn("rejecting join: invalid join token")
			_ = conn.Close()
			return
		}
	}
	remote, err := fromWireNode(hello.Node)
	if err != nil {
		_ = conn.Close()
		return
	}
	remote.Order = core.Order(t.nextOrder.Add(1))

	t.mu.Lock()
	t.peerPayloads[remote.ID] = hello.JoinPayload
	t.mu.Unlock()

	topVer := int64(remote.Order)
	welcome := wireMessage{Type: msgWelcome, Node: toWireNode(remote), TopVer: topVer, Snapshot: t.wireSnapshot()}
	if err := enc.Encode(welcome); err != nil {
		_ = conn.Close()
		return
	}

	t.broadcast(wireMessage{Type: msgJoined, Node: toWireNode(remote), TopVer: topVer}, remote.ID)
	t.emit(core.RawEvent{Type: core.EventNodeJoined, TopVer: core.TopologyVersion(topVer), Node: remote, Snapshot: t.snapshot()})

	t.addPeer(remote, conn, enc)
	t.servePeer(ctx, conn, dec, remote)
}

func (t *Transport) servePeer(ctx context.Context, conn net.Conn, dec *json.Decoder, remote core.Node) {
	t.mu.Lock()
	if _, exists := t.peers[remote.ID]; !exists {
		t.peers[remote.ID] = &peerConn{conn: conn, enc: json.NewEncoder(conn), node: remote}
	}
	t.mu.Unlock()

	defer t.removePeer(ctx, remote, conn)

	for {
		var msg wireMessage
		if err := dec.Decode(&msg); err != nil {
			return
		}
		switch msg.Type {
		case msgPing:
			_ = json.NewEncoder(conn).Encode(wireMessage{Type: msgPong})
		case msgJoined:
			if n, err := fromWireNode(msg.Node); err == nil {
				t.emit(core.RawEvent{Type: core.EventNodeJoined, TopVer: core.TopologyVersion(msg.TopVer), Node: n, Snapshot: t.snapshot()})
			}
		case msgLeft:
			if n, err := fromWireNode(msg.Node); err == nil {
				t.emit(core.RawEvent{Type: core.EventNodeLeft, TopVer: core.TopologyVersion(msg.TopVer), Node: n, Snapshot: t.snapshot()})
			}
		case msgFailed:
			if n, err := fromWireNode(msg.Node); err == nil {
				t.emit(core.RawEvent{Type: core.EventNodeFailed, TopVer: core.TopologyVersion(msg.TopVer), Node: n, Snapshot: t.snapshot()})
			}
		}
	}
}

func (t *Transport) addPeer(n core.Node, conn net.Conn, enc *json.Encoder) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.peers[n.ID] = &peerConn{conn: conn, enc: enc, node: n}
}

func (t *Transport) removePeer(ctx context.Context, n core.Node, conn net.Conn) {
	_ = conn.Close()
	t.mu.Lock()
	delete(t.peers, n.ID)
	t.mu.Unlock()

	evType := core.EventNodeLeft
	if ctx.Err() == nil {
		// Connection dropped without a preceding LEFT message: treat
		// as a failure rather than a graceful departure.
		evType = core.EventNodeFailed
	}
	t.broadcast(wireMessage{Type: wireTypeFor(evType), Node: toWireNode(n)}, n.ID)
	t.emit(core.RawEvent{Type: evType, Node: n, Snapshot: t.snapshot()})
}

func wireTypeFor(t core.EventType) wireMessageType {
	if t == core.EventNodeLeft {
		return msgLeft
	}
	return msgFailed
}

func (t *Transport) broadcast(msg wireMessage, except uuid.UUID) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for id, p := range t.peers {
		if id == except {
			continue
		}
		_ = p.enc.Encode(msg)
	}
}

func (t *Transport) emit(e core.RawEvent) {
	select {
	case t.eventCh <- e:
	default:
		t.log.Warn("tcpdisco event channel full, dropping event")
	}
}

func (t *Transport) localSnapshot() core.Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.local
}

func (t *Transport) snapshot() []core.Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]core.Node, 0, len(t.peers))
	for _, p := range t.peers {
		out = append(out, p.node)
	}
	return out
}

func (t *Transport) wireSnapshot() []wireNode {
	nodes := t.snapshot()
	out := make([]wireNode, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, toWireNode(n))
	}
	return out
}

// LocalNode implements core.DiscoveryTransport.
func (t *Transport) LocalNode() core.Node { return t.localSnapshot() }

// RemoteNodes implements core.DiscoveryTransport.
func (t *Transport) RemoteNodes() []core.Node { return t.snapshot() }

// GetNode implements core.DiscoveryTransport.
func (t *Transport) GetNode(id uuid.UUID) (core.Node, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if p, ok := t.peers[id]; ok {
		return p.node, true
	}
	return core.Node{}, false
}

// PingNode implements core.DiscoveryTransport by writing a PING over
// the existing connection and reporting whether the write succeeded;
// the PONG reply is not awaited. A node with no direct connection,
// including the local node, reports false.
func (t *Transport) PingNode(ctx context.Context, id uuid.UUID) bool {
	t.mu.RLock()
	p, ok := t.peers[id]
	t.mu.RUnlock()
	if !ok {
		return false
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(5 * time.Second)
	}
	_ = p.conn.SetWriteDeadline(deadline)
	return p.enc.Encode(wireMessage{Type: msgPing}) == nil
}

// GridStartTime implements core.DiscoveryTransport.
func (t *Transport) GridStartTime() time.Time { return t.gridStart }

// Reconnect implements core.DiscoveryTransport by restarting Start
// against a fresh background context, used by the Policy Engine's
// RECONNECT path (spec.md §4.4).
func (t *Transport) Reconnect(ctx context.Context) error {
	_ = t.Stop(ctx)
	_, err := t.Start(context.Background())
	return err
}

// Disconnect implements core.DiscoveryTransport.
func (t *Transport) Disconnect(ctx context.Context) error { return t.Stop(ctx) }

// Collect implements core.DiscoveryTransport, returning the
// JoinPayload id advertised on its inbound HELLO. It only has data for
// peers that dialed this node directly; a peer reached indirectly
// through another connection's snapshot has nothing recorded here.
func (t *Transport) Collect(id uuid.UUID) ([][]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.peerPayloads[id], nil
}

// OnExchange implements core.DiscoveryTransport by recording the
// payloads a join collected, retrievable via ExchangedPayloads.
// tcpdisco has no components of its own to feed them to.
func (t *Transport) OnExchange(payloads [][]byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.exchanged = append(t.exchanged, payloads...)
	return nil
}

// ExchangedPayloads returns every payload OnExchange has received so
// far, in call order.
func (t *Transport) ExchangedPayloads() [][]byte {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([][]byte, len(t.exchanged))
	copy(out, t.exchanged)
	return out
}

// SupportsOrder implements core.DiscoveryTransport. tcpdisco assigns
// Order at whichever node accepts the inbound connection, which is
// not a cluster-wide coordinated sequence once more than one node can
// accept connections concurrently (spec.md §9 Open Question,
// resolved for this reference transport by reporting false so callers
// relying on a strict monotone Order fall back to topVer instead).
func (t *Transport) SupportsOrder() bool { return false }

// SupportsHistory implements core.DiscoveryTransport. tcpdisco never
// populates RawEvent.History.
func (t *Transport) SupportsHistory() bool { return false }
