package core_test

import (
	"testing"

	"github.com/google/uuid"

	"github.com/otterscale/gridnode/internal/core"
	"github.com/otterscale/gridnode/internal/transport/memtransport"
)

// newCacheFixture builds a DiscoCache with one local node and two
// remotes, one of which advertises a named cache, via a real
// DiscoveryManager (DiscoCache has no exported constructor).
func newCacheFixture(t *testing.T) (*core.DiscoCache, core.Node, core.Node, core.Node) {
	t.Helper()

	local := core.Node{ID: uuid.New(), Order: 1}
	tr := memtransport.New(local)
	m := core.NewDiscoveryManager(core.ManagerConfig{Transport: tr, HistorySize: 4})
	if err := m.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = m.Stop(t.Context()) })

	cacheName := "orders"
	withCache := core.Node{
		ID:    uuid.New(),
		Order: 2,
		Attributes: core.NewAttributes(core.WithCacheAttributes([]core.CacheAttributes{
			{Name: &cacheName, AffinityNode: true, NearEnabled: true},
		})),
	}
	plain := core.Node{ID: uuid.New(), Order: 3}

	tr.InjectJoin(1, withCache)
	if _, err := m.TopologyFuture(1).Get(); err != nil {
		t.Fatalf("await v1: %v", err)
	}
	tr.InjectJoin(2, plain)
	if _, err := m.TopologyFuture(2).Get(); err != nil {
		t.Fatalf("await v2: %v", err)
	}

	dc := m.CurrentDiscoCache()
	if dc == nil {
		t.Fatal("CurrentDiscoCache is nil")
	}
	return dc, local, withCache, plain
}

func TestDiscoCache_CacheNodesReturnsAdvertisers(t *testing.T) {
	dc, _, withCache, _ := newCacheFixture(t)

	key := core.NamedCacheKey("orders")
	nodes := dc.CacheNodes(key, -1)
	if len(nodes) != 1 || nodes[0].ID != withCache.ID {
		t.Fatalf("CacheNodes(orders) = %v, want only %v", nodes, withCache.ID)
	}

	if dc.CacheNodes(core.DefaultCacheKey(), -1) != nil {
		t.Fatal("CacheNodes(default) should be empty: no node advertises the default cache")
	}
}

func TestDiscoCache_AliveCacheNodesSeededFromAdvertisers(t *testing.T) {
	dc, _, withCache, _ := newCacheFixture(t)

	key := core.NamedCacheKey("orders")
	if alive := dc.AliveCacheNodes(key); len(alive) != 1 || alive[0].ID != withCache.ID {
		t.Fatalf("AliveCacheNodes before departure = %v, want only %v", alive, withCache.ID)
	}
	if alive := dc.AliveRemoteCacheNodes(key); len(alive) != 1 || alive[0].ID != withCache.ID {
		t.Fatalf("AliveRemoteCacheNodes before departure = %v, want only %v", alive, withCache.ID)
	}
}

func TestDiscoCache_HasNearCache(t *testing.T) {
	dc, _, _, _ := newCacheFixture(t)

	if !dc.HasNearCache(core.NamedCacheKey("orders")) {
		t.Error("HasNearCache(orders) = false, want true")
	}
	if dc.HasNearCache(core.NamedCacheKey("missing")) {
		t.Error("HasNearCache(missing) = true, want false")
	}
}

func TestDiscoCache_NodesAtLeastVersion(t *testing.T) {
	local := core.Node{ID: uuid.New(), Order: 1, Attributes: core.NewAttributes(core.WithProductVersion(core.ParseVersion("1.0.0")))}
	tr := memtransport.New(local)
	m := core.NewDiscoveryManager(core.ManagerConfig{Transport: tr, HistorySize: 4})
	if err := m.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = m.Stop(t.Context()) }()

	newer := core.Node{ID: uuid.New(), Order: 2, Attributes: core.NewAttributes(core.WithProductVersion(core.ParseVersion("2.0.0")))}
	older := core.Node{ID: uuid.New(), Order: 3, Attributes: core.NewAttributes(core.WithProductVersion(core.ParseVersion("0.5.0")))}

	tr.InjectJoin(1, newer)
	if _, err := m.TopologyFuture(1).Get(); err != nil {
		t.Fatalf("await v1: %v", err)
	}
	tr.InjectJoin(2, older)
	if _, err := m.TopologyFuture(2).Get(); err != nil {
		t.Fatalf("await v2: %v", err)
	}

	dc := m.CurrentDiscoCache()
	atLeast1 := dc.NodesAtLeastVersion(core.ParseVersion("1.0.0"))

	found := make(map[uuid.UUID]bool)
	for _, n := range atLeast1 {
		found[n.ID] = true
	}
	if !found[local.ID] || !found[newer.ID] {
		t.Fatalf("NodesAtLeastVersion(1.0.0) missing local or newer: %v", atLeast1)
	}
	if found[older.ID] {
		t.Fatalf("NodesAtLeastVersion(1.0.0) unexpectedly includes the older node: %v", atLeast1)
	}
}

func TestDiscoCache_AllRemoteAndDaemonPartitioning(t *testing.T) {
	local := core.Node{ID: uuid.New(), Order: 1}
	tr := memtransport.New(local)
	m := core.NewDiscoveryManager(core.ManagerConfig{Transport: tr, HistorySize: 4})
	if err := m.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = m.Stop(t.Context()) }()

	daemon := core.Node{ID: uuid.New(), Order: 2, Daemon: true}
	tr.InjectJoin(1, daemon)
	if _, err := m.TopologyFuture(1).Get(); err != nil {
		t.Fatalf("await v1: %v", err)
	}

	dc := m.CurrentDiscoCache()
	for _, n := range dc.AllNodes() {
		if n.ID == daemon.ID {
			t.Fatal("AllNodes() should exclude daemon nodes")
		}
	}
	daemons := dc.DaemonNodes()
	if len(daemons) != 1 || daemons[0].ID != daemon.ID {
		t.Fatalf("DaemonNodes() = %v, want only %v", daemons, daemon.ID)
	}
}
