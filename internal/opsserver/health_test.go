package opsserver

import (
	"testing"

	"connectrpc.com/grpchealth"
	"github.com/google/uuid"

	"github.com/otterscale/gridnode/internal/core"
	"github.com/otterscale/gridnode/internal/transport/memtransport"
)

func newTestChecker(t *testing.T) (*healthChecker, *core.DiscoveryManager, *memtransport.Transport) {
	t.Helper()
	local := core.Node{ID: uuid.New()}
	tr := memtransport.New(local)
	m := core.NewDiscoveryManager(core.ManagerConfig{Transport: tr, HistorySize: 4})
	if err := m.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = m.Stop(t.Context()) })

	store := core.NewDeploymentStore("1.0", nil, nil, nil)
	checker := &healthChecker{
		manager:  m,
		store:    store,
		services: []string{discoveryServiceName, deploymentServiceName},
	}
	return checker, m, tr
}

func TestHealthChecker_EmptyServiceAlwaysServing(t *testing.T) {
	checker, _, _ := newTestChecker(t)
	resp, err := checker.Check(t.Context(), &grpchealth.CheckRequest{Service: ""})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.Status != grpchealth.StatusServing {
		t.Fatalf("Check(\"\").Status = %v, want StatusServing", resp.Status)
	}
}

func TestHealthChecker_UnknownServiceNotFound(t *testing.T) {
	checker, _, _ := newTestChecker(t)
	if _, err := checker.Check(t.Context(), &grpchealth.CheckRequest{Service: "unknown.Service"}); err == nil {
		t.Fatal("Check(unknown service): want error, got nil")
	}
}

func TestHealthChecker_DiscoveryNotServingWhenAliveCheckFails(t *testing.T) {
	checker, m, tr := newTestChecker(t)
	tr.InjectJoin(1, m.LocalNode())
	if _, err := m.TopologyFuture(1).Get(); err != nil {
		t.Fatalf("await join: %v", err)
	}
	// PingNode answers from the alive map, which InjectJoin sets true
	// for the local node; flip it off to simulate the transport losing
	// contact with itself.
	tr.SetAlive(m.LocalNode().ID, false)

	resp, err := checker.Check(t.Context(), &grpchealth.CheckRequest{Service: discoveryServiceName})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.Status != grpchealth.StatusNotServing {
		t.Fatalf("Check(discovery) with unreachable local node = %v, want StatusNotServing", resp.Status)
	}
}

func TestHealthChecker_DeploymentAlwaysServing(t *testing.T) {
	checker, _, _ := newTestChecker(t)
	resp, err := checker.Check(t.Context(), &grpchealth.CheckRequest{Service: deploymentServiceName})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.Status != grpchealth.StatusServing {
		t.Fatalf("Check(deployment).Status = %v, want StatusServing", resp.Status)
	}
}
