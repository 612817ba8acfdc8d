package opsserver

import (
	"context"
	"fmt"
	"slices"
	"time"

	"connectrpc.com/connect"
	"connectrpc.com/grpchealth"

	"github.com/otterscale/gridnode/internal/core"
)

// watchInterval controls how often Watch re-evaluates status between
// transitions.
const watchInterval = 5 * time.Second

// healthChecker reports liveness for the discovery and deployment
// services. The discovery service consults the live DiscoveryManager
// on every call, so a segmented node, or one whose transport does not
// report the local node alive, is reported unhealthy. The deployment
// service is always reported serving; the store is not consulted.
type healthChecker struct {
	manager  *core.DiscoveryManager
	store    *core.DeploymentStore
	services []string
}

func (c *healthChecker) Check(_ context.Context, req *grpchealth.CheckRequest) (*grpchealth.CheckResponse, error) {
	if req.Service == "" {
		return &grpchealth.CheckResponse{Status: grpchealth.StatusServing}, nil
	}
	if !slices.Contains(c.services, req.Service) {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("unknown service %q", req.Service))
	}
	if !c.alive(req.Service) {
		return &grpchealth.CheckResponse{Status: grpchealth.StatusNotServing}, nil
	}
	return &grpchealth.CheckResponse{Status: grpchealth.StatusServing}, nil
}

func (c *healthChecker) Watch(ctx context.Context, req *grpchealth.CheckRequest, send func(*grpchealth.CheckResponse)) error {
	var last grpchealth.Status = -1
	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	for {
		resp, err := c.Check(ctx, req)
		if err != nil {
			return err
		}
		if resp.Status != last {
			send(resp)
			last = resp.Status
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (c *healthChecker) alive(service string) bool {
	switch service {
	case discoveryServiceName:
		if c.manager.Segmented() {
			return false
		}
		local := c.manager.LocalNode()
		return c.manager.Alive(context.Background(), local.ID)
	case deploymentServiceName:
		return true
	default:
		return false
	}
}
