// Package node wires the Discovery Manager, deployment store, and ops
// HTTP surface into a single runnable gridnode process, the way the
// teacher's internal/bootstrap wired its fleet agent components.
package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/otterscale/gridnode/internal/app"
	"github.com/otterscale/gridnode/internal/config"
	"github.com/otterscale/gridnode/internal/core"
	gridnodemetrics "github.com/otterscale/gridnode/internal/metrics"
	"github.com/otterscale/gridnode/internal/opsserver"
	httptransport "github.com/otterscale/gridnode/internal/transport/http"
	"github.com/otterscale/gridnode/internal/transport/tcpdisco"
)

// shutdownTimeout bounds graceful shutdown of the manager and the ops
// HTTP surface once Run's context is cancelled.
const shutdownTimeout = 15 * time.Second

// Node is a fully wired gridnode process: a Discovery Manager bound to
// a tcpdisco transport, a local deployment store, and the ops HTTP
// surface, run together by Run.
type Node struct {
	manager  *core.DiscoveryManager
	store    *core.DeploymentStore
	opsHTTP  *httptransport.Server
	Topology *app.TopologyUseCase
	Deploy   *app.DeployUseCase
	log      *slog.Logger
}

// New builds a Node from cfg. It opens the ops HTTP listener but does
// not serve on it or start the discovery transport; Run does that.
func New(cfg *config.Config) (*Node, error) {
	local, err := localNode(cfg)
	if err != nil {
		return nil, fmt.Errorf("build local node: %w", err)
	}

	issuer, err := core.NewJoinTokenIssuer([]byte(cfg.JoinTokenSeed()))
	if err != nil {
		return nil, fmt.Errorf("build join token issuer: %w", err)
	}

	tr := tcpdisco.New(tcpdisco.Config{
		ListenAddress: cfg.ListenAddress(),
		SeedAddresses: cfg.SeedAddresses(),
		Local:         local,
		BackoffMin:    cfg.ReconnectBackoffMin(),
		BackoffMax:    cfg.ReconnectBackoffMax(),
		Grid:          cfg.Grid(),
		JoinIssuer:    issuer,
	})

	manager := core.NewDiscoveryManager(core.ManagerConfig{
		Transport:             tr,
		HistorySize:           cfg.HistorySize(),
		SegmentCheckFrequency: cfg.SegmentCheckFrequency(),
		WaitForSegmentOnStart: cfg.WaitForSegmentOnStart(),
		Policy:                core.ParsePolicy(cfg.SegmentationPolicy()),
	})

	store := core.NewDeploymentStore(cfg.Grid(), nil, nil, nil)
	provider := gridnodemetrics.NewProvider()

	ops := opsserver.NewHandler(manager, store, provider)
	opsHTTP, err := httptransport.NewServer(
		httptransport.WithAddress(cfg.OpsAddress()),
		httptransport.WithAllowedOrigins(cfg.OpsAllowedOrigins()),
		httptransport.WithMount(ops.Mount),
		httptransport.WithHTTPLogger(slog.Default().With("component", "ops-http")),
	)
	if err != nil {
		return nil, fmt.Errorf("build ops http server: %w", err)
	}

	return &Node{
		manager:  manager,
		store:    store,
		opsHTTP:  opsHTTP,
		Topology: app.NewTopologyUseCase(manager),
		Deploy:   app.NewDeployUseCase(store),
		log:      slog.Default().With("component", "node"),
	}, nil
}

// Run starts the Discovery Manager and the ops HTTP surface and blocks
// until ctx is cancelled or either fails. Both are started concurrently
// under an errgroup so a failure in one brings the other down; a single
// goroutine waits for the derived context to close (parent cancel or a
// failure) and then stops both within shutdownTimeout.
//
// DiscoveryManager.Start spins up its workers and returns immediately
// rather than blocking, so its goroutine below waits out ctx itself.
func (n *Node) Run(ctx context.Context) error {
	n.log.Info("starting node", "local_id", n.Topology.LocalNode().ID)

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		if err := n.manager.Start(egCtx); err != nil {
			return err
		}
		<-egCtx.Done()
		return nil
	})
	eg.Go(func() error {
		return n.opsHTTP.Start(egCtx)
	})
	eg.Go(func() error {
		<-egCtx.Done()

		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := n.manager.Stop(stopCtx); err != nil {
			errs = append(errs, err)
		}
		if err := n.opsHTTP.Stop(stopCtx); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})

	return eg.Wait()
}

// localNode builds the core.Node this process advertises to the
// cluster, reading identity attributes from cfg and the host.
func localNode(cfg *config.Config) (core.Node, error) {
	opts := []core.AttributesOption{
		core.WithDeploymentMode(core.ParseDeploymentMode(cfg.DeploymentMode())),
	}

	dcID := cfg.DataCenterID()
	if dcID != 0 {
		opts = append(opts, core.WithDataCenterID(int8(dcID)))
	}

	if u, err := user.Current(); err == nil {
		opts = append(opts, core.WithUserName(u.Username))
	}
	opts = append(opts, core.WithOS(runtime.GOOS, runtime.GOARCH, ""))

	hostname, err := os.Hostname()
	if err != nil {
		hostname = ""
	}

	return core.Node{
		ID:         uuid.New(),
		Addresses:  []string{hostname},
		Daemon:     cfg.Daemon(),
		Attributes: core.NewAttributes(opts...),
	}, nil
}
