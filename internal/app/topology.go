// Package app is a thin orchestration layer over internal/core,
// mirroring the teacher's FleetUseCase shape: no logic of its own
// beyond delegating to the domain and adapting results for external
// callers. node.Node exposes the use cases as fields; the ops HTTP
// surface does not use them.
package app

import (
	"context"

	"github.com/google/uuid"

	"github.com/otterscale/gridnode/internal/core"
)

// NodeView is the external projection of core.Node returned by
// TopologyUseCase, decoupling external callers from core's internal
// Attributes representation.
type NodeView struct {
	ID               uuid.UUID
	Order            core.Order
	Addresses        []string
	Daemon           bool
	DeploymentMode   core.DeploymentMode
	PeerClassLoading bool
	ProductVersion   string
}

// TopologyUseCase exposes read-only views of cluster membership and
// topology for external callers.
type TopologyUseCase struct {
	manager *core.DiscoveryManager
}

// NewTopologyUseCase returns a TopologyUseCase backed by manager.
func NewTopologyUseCase(manager *core.DiscoveryManager) *TopologyUseCase {
	return &TopologyUseCase{manager: manager}
}

// CurrentVersion returns the node's current topology version.
func (u *TopologyUseCase) CurrentVersion() core.TopologyVersion {
	return u.manager.TopologyVersion()
}

// Nodes returns every node known at the current topology version.
func (u *TopologyUseCase) Nodes() []NodeView {
	dc := u.manager.CurrentDiscoCache()
	if dc == nil {
		return nil
	}
	return toNodeViews(dc.AllNodes())
}

// AliveNodes returns nodes currently alive for the default cache.
func (u *TopologyUseCase) AliveNodes() []NodeView {
	return toNodeViews(u.manager.AliveCacheNodes(core.DefaultCacheKey()))
}

// IsSegmented reports whether the local node currently believes it
// is segmented from the cluster.
func (u *TopologyUseCase) IsSegmented() bool {
	return u.manager.Segmented()
}

// AwaitVersion blocks until topology version ver is reached or ctx is
// done, delegating to the Futures primitive (spec.md §4.6).
func (u *TopologyUseCase) AwaitVersion(ctx context.Context, ver core.TopologyVersion) error {
	_, err := u.manager.TopologyFuture(ver).GetContext(ctx)
	return err
}

// LocalNode returns the external view of the local node.
func (u *TopologyUseCase) LocalNode() NodeView {
	return toNodeView(u.manager.LocalNode())
}

func toNodeViews(nodes []core.Node) []NodeView {
	out := make([]NodeView, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, toNodeView(n))
	}
	return out
}

func toNodeView(n core.Node) NodeView {
	return NodeView{
		ID:               n.ID,
		Order:            n.Order,
		Addresses:        n.Addresses,
		Daemon:           n.Daemon,
		DeploymentMode:   n.Attributes.DeploymentMode(),
		PeerClassLoading: n.Attributes.PeerClassLoading(),
		ProductVersion:   n.Attributes.ProductVersion().String(),
	}
}
