package core

import (
	"sort"
	"sync/atomic"

	"github.com/google/uuid"
)

// TopologyVersion is the monotone non-decreasing version stamped on
// every non-metrics membership event (spec.md §3).
type TopologyVersion int64

// DiscoCache is an immutable snapshot of the topology at one
// TopologyVersion, plus the mutable alive subsets that are pruned in
// place as nodes leave or fail (spec.md §3/§4.2).
type DiscoCache struct {
	topVer TopologyVersion

	local Node

	allNodes    []Node
	rmtNodes    []Node
	daemonNodes []Node

	allCacheNodes map[CacheKey][]Node
	rmtCacheNodes map[CacheKey][]Node
	affCacheNodes map[CacheKey][]Node

	nearEnabledCaches map[CacheKey]struct{}

	verEntries []verEntry // sorted ascending by version, built two-pass

	aliveCacheNodes    map[CacheKey]*atomic.Pointer[[]Node]
	aliveRmtCacheNodes map[CacheKey]*atomic.Pointer[[]Node]

	nodeMap map[uuid.UUID]Node

	maxOrder Order
}

type verEntry struct {
	version Version
	key     versionKey
	nodes   []Node
}

// transportAlive reports whether a node should be considered alive at
// cache-construction time. DiscoCache construction needs this to seed
// aliveCacheNodes (spec.md §4.2 step 3); it is supplied by the
// Discovery Manager, which is the only component that can ask the
// transport directly.
type transportAlive func(id uuid.UUID) bool

// buildDiscoCache implements the construction algorithm in spec.md
// §4.2: two passes over (local, remotes) at the given topVer.
func buildDiscoCache(topVer TopologyVersion, local Node, remotes []Node, alive transportAlive) *DiscoCache {
	dc := &DiscoCache{
		topVer:             topVer,
		local:              local,
		allCacheNodes:      make(map[CacheKey][]Node),
		rmtCacheNodes:      make(map[CacheKey][]Node),
		affCacheNodes:      make(map[CacheKey][]Node),
		nearEnabledCaches:  make(map[CacheKey]struct{}),
		aliveCacheNodes:    make(map[CacheKey]*atomic.Pointer[[]Node]),
		aliveRmtCacheNodes: make(map[CacheKey]*atomic.Pointer[[]Node]),
		nodeMap:            make(map[uuid.UUID]Node),
	}

	for _, n := range remotes {
		if !n.Daemon {
			dc.rmtNodes = append(dc.rmtNodes, n)
		} else {
			dc.daemonNodes = append(dc.daemonNodes, n)
		}
	}

	if !local.Daemon {
		dc.allNodes = append(dc.allNodes, local)
	} else {
		dc.daemonNodes = append(dc.daemonNodes, local)
	}
	dc.allNodes = append(dc.allNodes, dc.rmtNodes...)

	byVer := make(map[versionKey]*verEntry)

	// Pass 1: accumulate per-cache sets, alive sets, node map, maxOrder.
	for _, n := range dc.allNodes {
		dc.nodeMap[n.ID] = n
		if n.Order > dc.maxOrder {
			dc.maxOrder = n.Order
		}

		isAlive := alive == nil || alive(n.ID)
		isLocal := n.ID == local.ID

		for _, ca := range n.Caches() {
			key := ca.Key()
			dc.allCacheNodes[key] = append(dc.allCacheNodes[key], n)
			if ca.AffinityNode {
				dc.affCacheNodes[key] = append(dc.affCacheNodes[key], n)
			}
			if ca.NearEnabled {
				dc.nearEnabledCaches[key] = struct{}{}
			}
			if isAlive {
				dc.appendAlive(dc.aliveCacheNodes, key, n)
			}
			if !isLocal {
				dc.rmtCacheNodes[key] = append(dc.rmtCacheNodes[key], n)
				if isAlive {
					dc.appendAlive(dc.aliveRmtCacheNodes, key, n)
				}
			}
		}

		v := n.ProductVersion()
		vk := v.key()
		entry, ok := byVer[vk]
		if !ok {
			entry = &verEntry{version: v, key: vk}
			byVer[vk] = entry
		}
		entry.nodes = append(entry.nodes, n)
	}

	for _, e := range byVer {
		dc.verEntries = append(dc.verEntries, *e)
	}
	sort.Slice(dc.verEntries, func(i, j int) bool {
		return dc.verEntries[i].version.Compare(dc.verEntries[j].version) < 0
	})

	// Pass 2: every node joins every version entry strictly below its
	// own, so a "nodes >= v" query returns the correct inclusive
	// superset (spec.md §3 DiscoCache invariant and §8 testable
	// property: nodesByVer[v] = {n : n.version >= v}).
	for i := range dc.verEntries {
		threshold := dc.verEntries[i].version
		for _, n := range dc.allNodes {
			if n.ProductVersion().Compare(threshold) > 0 {
				dc.verEntries[i].nodes = appendIfAbsent(dc.verEntries[i].nodes, n)
			}
		}
	}

	return dc
}

func appendIfAbsent(nodes []Node, n Node) []Node {
	for _, existing := range nodes {
		if existing.ID == n.ID {
			return nodes
		}
	}
	return append(nodes, n)
}

func (dc *DiscoCache) appendAlive(m map[CacheKey]*atomic.Pointer[[]Node], key CacheKey, n Node) {
	ptr, ok := m[key]
	if !ok {
		ptr = &atomic.Pointer[[]Node]{}
		m[key] = ptr
	}
	cur := ptr.Load()
	var next []Node
	if cur != nil {
		next = append(next, *cur...)
	}
	next = append(next, n)
	ptr.Store(&next)
}

// TopologyVersion returns the version this snapshot was built at.
func (dc *DiscoCache) TopologyVersion() TopologyVersion { return dc.topVer }

// AllNodes returns non-daemon local + non-daemon remotes, in
// insertion-stable order.
func (dc *DiscoCache) AllNodes() []Node { return dc.allNodes }

// RemoteNodes returns non-daemon remote nodes.
func (dc *DiscoCache) RemoteNodes() []Node { return dc.rmtNodes }

// DaemonNodes returns the daemon subset.
func (dc *DiscoCache) DaemonNodes() []Node { return dc.daemonNodes }

// Node looks up a node by id in this snapshot.
func (dc *DiscoCache) Node(id uuid.UUID) (Node, bool) {
	n, ok := dc.nodeMap[id]
	return n, ok
}

// MaxOrder returns the highest node order present in this snapshot.
func (dc *DiscoCache) MaxOrder() Order { return dc.maxOrder }

// CacheNodes returns every node (local + remote) advertising the
// given cache, filtered by topVer (spec.md §4.2 filtering rule).
func (dc *DiscoCache) CacheNodes(key CacheKey, topVer TopologyVersion) []Node {
	return filterByVersion(dc.allCacheNodes[key], topVer, dc.maxOrder)
}

// RemoteCacheNodes returns remote nodes advertising the given cache,
// filtered by topVer.
func (dc *DiscoCache) RemoteCacheNodes(key CacheKey, topVer TopologyVersion) []Node {
	return filterByVersion(dc.rmtCacheNodes[key], topVer, dc.maxOrder)
}

// AffinityCacheNodes returns nodes that participate in affinity for
// the given cache, filtered by topVer.
func (dc *DiscoCache) AffinityCacheNodes(key CacheKey, topVer TopologyVersion) []Node {
	return filterByVersion(dc.affCacheNodes[key], topVer, dc.maxOrder)
}

// AliveCacheNodes returns the currently alive nodes advertising the
// given cache. Unlike CacheNodes, this set is pruned as nodes leave
// or fail and does not accept topVer filtering beyond "now".
func (dc *DiscoCache) AliveCacheNodes(key CacheKey) []Node {
	ptr, ok := dc.aliveCacheNodes[key]
	if !ok {
		return nil
	}
	cur := ptr.Load()
	if cur == nil {
		return nil
	}
	return *cur
}

// AliveRemoteCacheNodes returns the currently alive remote nodes
// advertising the given cache.
func (dc *DiscoCache) AliveRemoteCacheNodes(key CacheKey) []Node {
	ptr, ok := dc.aliveRmtCacheNodes[key]
	if !ok {
		return nil
	}
	cur := ptr.Load()
	if cur == nil {
		return nil
	}
	return *cur
}

// HasNearCache reports whether at least one node advertises
// near-cache support for the given cache name.
func (dc *DiscoCache) HasNearCache(key CacheKey) bool {
	_, ok := dc.nearEnabledCaches[key]
	return ok
}

// NodesAtLeastVersion returns every node whose product version is
// greater than or equal to v (the nodesByVer view from spec.md §3).
func (dc *DiscoCache) NodesAtLeastVersion(v Version) []Node {
	vk := v.key()
	for _, e := range dc.verEntries {
		if e.key == vk {
			return e.nodes
		}
	}
	// No exact entry at this version: fall back to a linear scan,
	// which is correct but skips the precomputed fast path.
	var out []Node
	for _, n := range dc.allNodes {
		if n.ProductVersion().GreaterOrEqual(v) {
			out = append(out, n)
		}
	}
	return out
}

// removeFromAlive performs the CAS-replace loop described in
// spec.md §4.2 "Updating alive sets on leave/fail": it retries until
// the departing node is no longer present, tolerating concurrent
// writers touching the same pointer.
func (dc *DiscoCache) removeFromAlive(id uuid.UUID) {
	prune := func(m map[CacheKey]*atomic.Pointer[[]Node]) {
		for _, ptr := range m {
			for {
				cur := ptr.Load()
				if cur == nil {
					break
				}
				idx := -1
				for i, n := range *cur {
					if n.ID == id {
						idx = i
						break
					}
				}
				if idx == -1 {
					break
				}
				next := make([]Node, 0, len(*cur)-1)
				next = append(next, (*cur)[:idx]...)
				next = append(next, (*cur)[idx+1:]...)
				if ptr.CompareAndSwap(cur, &next) {
					break
				}
			}
		}
	}
	prune(dc.aliveCacheNodes)
	prune(dc.aliveRmtCacheNodes)
}

// filterByVersion implements the topVer filtering rule from
// spec.md §4.2: if topVer is unset (<0) or at/after maxOrder, the
// stored list is returned unchanged; otherwise a filtered copy with
// only nodes whose order is <= topVer is returned. Callers must not
// mutate the returned slice.
func filterByVersion(nodes []Node, topVer TopologyVersion, maxOrder Order) []Node {
	if topVer < 0 || Order(topVer) >= maxOrder {
		return nodes
	}
	out := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		if n.Order <= Order(topVer) {
			out = append(out, n)
		}
	}
	return out
}
