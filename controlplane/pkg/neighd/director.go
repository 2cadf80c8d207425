package neighd

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/yanet-platform/neighd/controlplane/internal/server"
	neighbour "github.com/yanet-platform/neighd/modules/neigh/controlplane"
)

type options struct {
	Log *zap.SugaredLogger
}

func newOptions() *options {
	return &options{
		Log: zap.NewNop().Sugar(),
	}
}

// DirectorOption is a function that configures the director.
type DirectorOption func(*options)

// WithLog sets the logger for the director.
func WithLog(log *zap.SugaredLogger) DirectorOption {
	return func(o *options) {
		o.Log = log
	}
}

// Director is the neighd entry point.
//
// It builds the neighbour module from the configuration and serves it
// until stopped.
type Director struct {
	cfg    *Config
	runner *server.ModuleRunner
	log    *zap.SugaredLogger
}

// NewDirector creates a new Director using specified config.
func NewDirector(cfg *Config, options ...DirectorOption) (*Director, error) {
	opts := newOptions()
	for _, o := range options {
		o(opts)
	}

	log := opts.Log
	log.Infow("initializing neighd", zap.String("version", Version()))
	log.Debugw("parsed config", zap.Any("config", cfg))

	module, err := neighbour.NewNeighbourModule(cfg.Neigh, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize neigh module: %w", err)
	}

	return &Director{
		cfg:    cfg,
		runner: server.NewModuleRunner(module, log),
		log:    log,
	}, nil
}

// Close deactivates every domain and releases the host table.
func (m *Director) Close() error {
	return m.runner.Close()
}

// Run runs the director until the specified context is canceled.
func (m *Director) Run(ctx context.Context) error {
	return m.runner.Run(ctx)
}
