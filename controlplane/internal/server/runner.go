package server

import (
	"context"
	"fmt"
	"net"
	"os"
	"path"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/yanet-platform/neighd/common/go/xgrpc"
)

// Module is a controlplane module exposing gRPC services.
type Module interface {
	Name() string
	Endpoint() string
	ServicesNames() []string
	RegisterService(server *grpc.Server)
	Close() error
}

// BackgroundModule is a module with background jobs.
type BackgroundModule interface {
	Run(ctx context.Context) error
}

// ModuleRunner serves the gRPC API of a module and runs its background
// jobs.
type ModuleRunner struct {
	module Module
	server *grpc.Server
	log    *zap.SugaredLogger
}

// NewModuleRunner creates a new ModuleRunner.
func NewModuleRunner(module Module, log *zap.SugaredLogger) *ModuleRunner {
	log = log.Named(module.Name())

	return &ModuleRunner{
		module: module,
		server: grpc.NewServer(
			grpc.ChainUnaryInterceptor(xgrpc.AccessLogInterceptor(log)),
		),
		log: log,
	}
}

// Close closes the underlying module.
func (m *ModuleRunner) Close() error {
	return m.module.Close()
}

// Run serves the module until the specified context is canceled or any of
// its jobs fails.
//
// In-flight calls are completed before Run returns.
func (m *ModuleRunner) Run(ctx context.Context) error {
	listener, err := Listen(m.module.Endpoint())
	if err != nil {
		return fmt.Errorf("failed to initialize gRPC listener on %q: %w", m.module.Endpoint(), err)
	}
	addr := zap.Stringer("addr", listener.Addr())

	m.module.RegisterService(m.server)

	wg, ctx := errgroup.WithContext(ctx)
	if job, ok := m.module.(BackgroundModule); ok {
		wg.Go(func() error {
			m.log.Infow("running background jobs")
			return job.Run(ctx)
		})
	}
	wg.Go(func() error {
		m.log.Infow("exposing gRPC API", addr, zap.Strings("services", m.module.ServicesNames()))
		if err := m.server.Serve(listener); err != nil {
			return fmt.Errorf("failed to serve gRPC API: %w", err)
		}
		return nil
	})
	wg.Go(func() error {
		<-ctx.Done()

		m.log.Infow("stopping gRPC API", addr)
		m.server.GracefulStop()
		m.log.Infow("stopped gRPC API", addr)
		return nil
	})

	return wg.Wait()
}

// Listen listens on a unix socket when the endpoint is an absolute path
// and on TCP otherwise.
func Listen(endpoint string) (net.Listener, error) {
	if strings.HasPrefix(endpoint, "/") {
		dir := path.Dir(endpoint)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
		if err := os.Remove(endpoint); err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
		}

		return net.Listen("unix", endpoint)
	}

	return net.Listen("tcp", endpoint)
}
