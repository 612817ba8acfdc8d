package opsserver

import (
	"net/http"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/otterscale/gridnode/internal/core"
)

// handleDebugTopology reports the current topology snapshot as a
// protobuf Struct encoded as JSON, mirroring the teacher's
// resource-to-structpb conversion for reporting loosely-typed domain
// data over HTTP without a dedicated proto message for it.
func (h *Handler) handleDebugTopology(w http.ResponseWriter, r *http.Request) {
	dc := h.manager.CurrentDiscoCache()
	if dc == nil {
		http.Error(w, "topology not ready", http.StatusServiceUnavailable)
		return
	}

	nodes := make([]any, 0, len(dc.AllNodes()))
	for _, n := range dc.AllNodes() {
		nodes = append(nodes, nodeToMap(n))
	}

	payload, err := structpb.NewStruct(map[string]any{
		"topology_version": float64(dc.TopologyVersion()),
		"nodes":            nodes,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	body, err := protojson.Marshal(payload)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

func nodeToMap(n core.Node) map[string]any {
	osName, osArch, osVersion := n.Attributes.OS()
	dcID, hasDC := n.Attributes.DataCenterID()

	m := map[string]any{
		"id":              n.ID.String(),
		"order":           float64(n.Order),
		"daemon":          n.Daemon,
		"deployment_mode": n.Attributes.DeploymentMode().String(),
		"os_name":         osName,
		"os_arch":         osArch,
		"os_version":      osVersion,
	}
	if hasDC {
		m["data_center_id"] = float64(dcID)
	}
	return m
}
