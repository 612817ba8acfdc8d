package opsserver

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/otterscale/gridnode/internal/core"
	gridnodemetrics "github.com/otterscale/gridnode/internal/metrics"
	"github.com/otterscale/gridnode/internal/transport/memtransport"
)

func TestHandler_MountExposesMetricsEndpoint(t *testing.T) {
	local := core.Node{ID: uuid.New()}
	tr := memtransport.New(local)
	m := core.NewDiscoveryManager(core.ManagerConfig{Transport: tr, HistorySize: 4})
	if err := m.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = m.Stop(t.Context()) })

	store := core.NewDeploymentStore("1.0", nil, nil, nil)
	provider := gridnodemetrics.NewProvider()

	h := NewHandler(m, store, provider)
	mux := http.NewServeMux()
	if err := h.Mount(mux); err != nil {
		t.Fatalf("Mount: %v", err)
	}

	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /metrics status = %d, want 200", resp.StatusCode)
	}

	tr.InjectJoin(1, local)
	if _, err := m.TopologyFuture(1).Get(); err != nil {
		t.Fatalf("await join: %v", err)
	}

	debugResp, err := http.Get(srv.URL + "/debug/topology")
	if err != nil {
		t.Fatalf("GET /debug/topology: %v", err)
	}
	defer debugResp.Body.Close()
	if debugResp.StatusCode != http.StatusOK {
		t.Fatalf("GET /debug/topology status = %d, want 200", debugResp.StatusCode)
	}
}
