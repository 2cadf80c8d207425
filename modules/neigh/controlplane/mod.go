package neighbour

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/yanet-platform/neighd/modules/neigh/controlplane/neighpb"
	"github.com/yanet-platform/neighd/modules/neigh/internal/discovery"
	"github.com/yanet-platform/neighd/modules/neigh/internal/discovery/link"
	"github.com/yanet-platform/neighd/modules/neigh/internal/hwsync"
	"github.com/yanet-platform/neighd/modules/neigh/internal/metrics"
	"github.com/yanet-platform/neighd/modules/neigh/internal/neigh"
	"github.com/yanet-platform/neighd/modules/neigh/internal/switchstate"
)

// NeighbourModule is a controlplane module that resolves neighbours of
// routed VLAN interfaces and programs them into the host table.
type NeighbourModule struct {
	cfg              *Config
	applier          *switchstate.Applier
	manager          *Manager
	linkDiscovery    *link.LinkMonitor
	neighbourService *NeighbourService
	registry         *prometheus.Registry
	metrics          *metrics.Metrics
	log              *zap.SugaredLogger
}

// NewNeighbourModule creates a new NeighbourModule.
func NewNeighbourModule(cfg *Config, log *zap.SugaredLogger) (*NeighbourModule, error) {
	log = log.With(zap.String("module", neighpb.ServiceName))

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	neighMetrics := metrics.New(registry)

	applier := switchstate.NewApplier(switchstate.WithLog(log))

	var manager *Manager
	var hw hwsync.Programmer
	switch cfg.Hardware.Backend {
	case BackendSim:
		hw = hwsync.NewSimProgrammer()
	case BackendKernel:
		hw = hwsync.NewKernelProgrammer(nil, func(vlan neigh.DomainID) (int, bool) {
			return manager.LinkResolver(vlan)
		}, log)
	default:
		return nil, fmt.Errorf("unknown hardware backend %q", cfg.Hardware.Backend)
	}
	log.Infow("selected hardware backend", zap.String("backend", string(cfg.Hardware.Backend)))

	manager = NewManager(cfg, applier, hw, WithLog(log), WithMetrics(neighMetrics))

	linksCache := discovery.NewEmptyCache[int, link.Link]()
	linkDiscovery, err := link.NewLinkMonitor(linksCache,
		link.WithLog(log),
		link.WithOnUpdate(manager.Update),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to discover links: %w", err)
	}

	return &NeighbourModule{
		cfg:              cfg,
		applier:          applier,
		manager:          manager,
		linkDiscovery:    linkDiscovery,
		neighbourService: NewNeighbourService(applier, manager, log),
		registry:         registry,
		metrics:          neighMetrics,
		log:              log,
	}, nil
}

func (m *NeighbourModule) Name() string {
	return "neigh"
}

func (m *NeighbourModule) Endpoint() string {
	return m.cfg.Endpoint
}

func (m *NeighbourModule) ServicesNames() []string {
	return []string{neighpb.ServiceName}
}

func (m *NeighbourModule) RegisterService(server *grpc.Server) {
	neighpb.RegisterNeighbourServer(server, m.neighbourService)
}

// Close closes the module.
//
// Every active domain is deactivated and its neighbours are removed from
// the host table.
func (m *NeighbourModule) Close() error {
	return m.manager.Close()
}

// Run runs the module until the specified context is canceled.
func (m *NeighbourModule) Run(ctx context.Context) error {
	wg, ctx := errgroup.WithContext(ctx)
	wg.Go(func() error {
		return m.linkDiscovery.Run(ctx)
	})
	wg.Go(func() error {
		return m.manager.Run(ctx)
	})
	wg.Go(func() error {
		m.countDomains(ctx)
		return nil
	})
	if m.cfg.MetricsEndpoint != "" {
		wg.Go(func() error {
			return m.runMetricsServer(ctx)
		})
	}

	return wg.Wait()
}

// countDomains tracks the number of active domains from the lifecycle
// feed of the switch state.
func (m *NeighbourModule) countDomains(ctx context.Context) {
	for ev := range m.applier.Subscribe(ctx) {
		switch ev.Kind {
		case switchstate.InterfaceAdded:
			m.metrics.Domains.Inc()
		case switchstate.InterfaceRemoved:
			m.metrics.Domains.Dec()
		}
	}
}

func (m *NeighbourModule) runMetricsServer(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:    m.cfg.MetricsEndpoint,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		m.log.Infow("shutting down metrics server", zap.String("addr", m.cfg.MetricsEndpoint))
		if err := server.Shutdown(shutdownCtx); err != nil {
			m.log.Warnw("failed to shut down metrics server", zap.Error(err))
		}
	}()

	m.log.Infow("exposing metrics", zap.String("addr", m.cfg.MetricsEndpoint))
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve metrics: %w", err)
	}

	return nil
}
