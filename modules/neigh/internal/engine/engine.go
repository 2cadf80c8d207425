package engine

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/yanet-platform/neighd/modules/neigh/internal/hwsync"
	"github.com/yanet-platform/neighd/modules/neigh/internal/metrics"
	"github.com/yanet-platform/neighd/modules/neigh/internal/neigh"
	"github.com/yanet-platform/neighd/modules/neigh/internal/proto"
	"github.com/yanet-platform/neighd/modules/neigh/internal/switchstate"
)

// ErrClosed is returned by operations submitted to a stopped engine.
var ErrClosed = errors.New("neighbour engine is closed")

// Option is a function that configures the engine.
type Option func(*options)

// WithLog configures the engine with a logger.
func WithLog(log *zap.SugaredLogger) Option {
	return func(o *options) {
		o.Log = log
	}
}

// WithClock configures the source of the current time.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.Now = now
	}
}

// WithMetrics configures the engine with shared metrics.
func WithMetrics(metrics *metrics.Metrics) Option {
	return func(o *options) {
		o.Metrics = metrics
	}
}

// WithOpTimeout configures the deadline of a single hardware operation.
func WithOpTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.OpTimeout = timeout
	}
}

type options struct {
	Log       *zap.SugaredLogger
	Now       func() time.Time
	Metrics   *metrics.Metrics
	OpTimeout time.Duration
}

func newOptions() *options {
	return &options{
		Log:       zap.NewNop().Sugar(),
		Now:       time.Now,
		OpTimeout: 5 * time.Second,
	}
}

// Engine resolves neighbours of a single domain and address family.
//
// All state transitions happen on the goroutine running Run. Other methods
// are safe for concurrent use and hand their work over to it.
type Engine[A proto.Adapter] struct {
	domain  neigh.DomainID
	family  neigh.Family
	core    *cache[A]
	queue   *hwsync.Queue
	applier *switchstate.Applier
	now     func() time.Time
	metrics *metrics.Metrics
	log     *zap.SugaredLogger

	inbox     chan func(now time.Time)
	quit      chan struct{}
	done      chan struct{}
	halted    chan struct{}
	started   atomic.Bool
	closeOnce sync.Once
	haltOnce  sync.Once
}

// New creates a neighbour engine for the given domain.
//
// Resolved entries are published through the applier and programmed into
// hardware through the given programmer.
func New[A proto.Adapter](
	domain neigh.DomainID,
	adapter A,
	applier *switchstate.Applier,
	tx Transmitter,
	hw hwsync.Programmer,
	cfg Config,
	options ...Option,
) *Engine[A] {
	opts := newOptions()
	for _, o := range options {
		o(opts)
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}

	log := opts.Log.With("vlan", domain, "family", adapter.Family().String())

	m := &Engine[A]{
		domain:  domain,
		family:  adapter.Family(),
		applier: applier,
		now:     opts.Now,
		metrics: opts.Metrics,
		log:     log,
		inbox:   make(chan func(now time.Time), cfg.InboxSize),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		halted:  make(chan struct{}),
	}

	m.queue = hwsync.NewQueue(hw,
		hwsync.WithLog(log),
		hwsync.WithOpTimeout(opts.OpTimeout),
		hwsync.WithCompletion(m.onComplete),
	)
	m.core = newCache(domain, adapter, cfg, applier, tx, m.queue, opts.Metrics, log)

	return m
}

// Domain returns the domain this engine serves.
func (m *Engine[A]) Domain() neigh.DomainID {
	return m.domain
}

// Family returns the address family this engine serves.
func (m *Engine[A]) Family() neigh.Family {
	return m.family
}

// Run processes events and timers until the context is canceled or the
// engine is closed.
func (m *Engine[A]) Run(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		select {
		case <-m.quit:
			return ErrClosed
		default:
			return errors.New("neighbour engine is already running")
		}
	}
	defer close(m.done)
	defer m.halt()

	m.log.Infow("started neighbour engine")
	defer m.log.Infow("stopped neighbour engine")

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		m.rearm(timer)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.quit:
			return nil
		case fn := <-m.inbox:
			fn(m.now())
		case <-timer.C:
		}

		m.core.fire(m.now())
	}
}

func (m *Engine[A]) rearm(timer *time.Timer) {
	timer.Stop()

	due, ok := m.core.nextDue()
	if !ok {
		return
	}
	timer.Reset(max(due.Sub(m.now()), 0))
}

// Resolve starts resolution of the given address.
//
// It returns once resolution is initiated, not when it completes.
func (m *Engine[A]) Resolve(ctx context.Context, addr netip.Addr) error {
	return m.do(ctx, func(now time.Time) error {
		return m.core.resolve(addr, now)
	})
}

// ReplyObserved feeds a verified binding into the engine.
func (m *Engine[A]) ReplyObserved(ctx context.Context, addr netip.Addr, mac neigh.MAC, port neigh.PortID, unicastToUs bool) error {
	return m.do(ctx, func(now time.Time) error {
		m.core.replyObserved(addr, mac, port, unicastToUs, now)
		return nil
	})
}

// LinkDown expires every entry reachable through the given port.
func (m *Engine[A]) LinkDown(ctx context.Context, port neigh.PortID) error {
	return m.do(ctx, func(now time.Time) error {
		m.core.linkDown(port, now)
		return nil
	})
}

// Flush expires the entry of the given address, if any.
func (m *Engine[A]) Flush(ctx context.Context, addr netip.Addr) error {
	return m.do(ctx, func(now time.Time) error {
		m.core.flush(addr, now)
		return nil
	})
}

// AddStatic installs a configured entry which never ages.
func (m *Engine[A]) AddStatic(ctx context.Context, addr netip.Addr, mac neigh.MAC, port neigh.PortID) error {
	return m.do(ctx, func(now time.Time) error {
		return m.core.addStatic(addr, mac, port, now)
	})
}

// HandleFrame enqueues a received frame.
//
// It never blocks and reports false when the frame was dropped because the
// engine is overloaded or closed. The frame must not be modified after the
// call.
func (m *Engine[A]) HandleFrame(frame []byte, port neigh.PortID) bool {
	select {
	case <-m.halted:
	default:
		select {
		case m.inbox <- func(now time.Time) { m.core.handleFrame(frame, port, now) }:
			return true
		default:
		}
	}

	m.metrics.FramesTotal.WithLabelValues(m.family.String(), metrics.OutcomeDropped).Inc()
	return false
}

// Snapshot returns the latest published table of this engine.
func (m *Engine[A]) Snapshot() *neigh.Table {
	domain, ok := m.applier.Current().Domain(m.domain)
	if !ok {
		return neigh.NewTable(m.domain, m.family)
	}
	return domain.Table(m.family)
}

// Close stops the engine and removes its entries from hardware.
//
// It waits for Run to return and for every pending hardware operation to
// complete.
func (m *Engine[A]) Close() error {
	m.closeOnce.Do(func() {
		close(m.quit)
		if !m.started.CompareAndSwap(false, true) {
			<-m.done
		}
		m.halt()

		m.core.close()
		m.queue.Close()
	})

	return nil
}

func (m *Engine[A]) halt() {
	m.haltOnce.Do(func() {
		close(m.halted)
	})
}

// do runs fn on the engine goroutine and waits for its result.
func (m *Engine[A]) do(ctx context.Context, fn func(now time.Time) error) error {
	result := make(chan error, 1)
	task := func(now time.Time) {
		result <- fn(now)
	}

	select {
	case m.inbox <- task:
	case <-m.halted:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-result:
		return err
	case <-m.halted:
		// The task may have run just before the engine stopped.
		select {
		case err := <-result:
			return err
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// onComplete is called from the hardware queue goroutine.
func (m *Engine[A]) onComplete(c hwsync.Completion) {
	select {
	case <-m.halted:
		recordCompletion(m.metrics, m.log, c)
		return
	default:
	}

	select {
	case m.inbox <- func(time.Time) { m.core.complete(c) }:
	case <-m.halted:
		recordCompletion(m.metrics, m.log, c)
	}
}
