package hwsync

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Option is a function that configures the queue.
type Option func(*options)

// WithLog configures the queue with a logger.
func WithLog(log *zap.SugaredLogger) Option {
	return func(o *options) {
		o.Log = log
	}
}

// WithOpTimeout configures the deadline of a single hardware operation.
func WithOpTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.OpTimeout = timeout
	}
}

// WithCompletion configures a callback invoked from the queue goroutine
// after each operation.
func WithCompletion(fn func(Completion)) Option {
	return func(o *options) {
		o.OnComplete = fn
	}
}

type options struct {
	Log        *zap.SugaredLogger
	OpTimeout  time.Duration
	OnComplete func(Completion)
}

func newOptions() *options {
	return &options{
		Log:        zap.NewNop().Sugar(),
		OpTimeout:  5 * time.Second,
		OnComplete: func(Completion) {},
	}
}

// Queue serializes hardware operations of a single owner on a dedicated
// goroutine.
//
// Submissions never block and are executed in order.
type Queue struct {
	programmer Programmer
	opTimeout  time.Duration
	onComplete func(Completion)
	log        *zap.SugaredLogger

	mu      sync.Mutex
	pending []Request
	closed  bool
	signal  chan struct{}
	done    chan struct{}
}

// NewQueue creates a queue and starts its worker.
func NewQueue(programmer Programmer, options ...Option) *Queue {
	opts := newOptions()
	for _, o := range options {
		o(opts)
	}

	m := &Queue{
		programmer: programmer,
		opTimeout:  opts.OpTimeout,
		onComplete: opts.OnComplete,
		log:        opts.Log,
		signal:     make(chan struct{}, 1),
		done:       make(chan struct{}),
	}

	go m.run()
	return m
}

// Submit enqueues the given request.
//
// Requests submitted after Close are dropped.
func (m *Queue) Submit(req Request) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.log.Warnw("dropping hardware request on closed queue",
			zap.Stringer("op", req.Op),
			zap.Stringer("entry", req.Entry),
		)
		return
	}
	m.pending = append(m.pending, req)
	select {
	case m.signal <- struct{}{}:
	default:
	}
	m.mu.Unlock()
}

// Len returns the number of requests not yet started.
func (m *Queue) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.pending)
}

// Close stops accepting requests and waits until all already submitted
// ones are executed.
func (m *Queue) Close() {
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		close(m.signal)
	}
	m.mu.Unlock()

	<-m.done
}

func (m *Queue) run() {
	defer close(m.done)

	for range m.signal {
		m.drain()
	}
	// The signal channel is closed, but requests queued before that are
	// still owed.
	m.drain()
}

func (m *Queue) drain() {
	for {
		m.mu.Lock()
		batch := m.pending
		m.pending = nil
		m.mu.Unlock()

		if len(batch) == 0 {
			return
		}

		for _, req := range batch {
			m.onComplete(Completion{
				Request: req,
				Err:     m.execute(req),
			})
		}
	}
}

func (m *Queue) execute(req Request) error {
	ctx, cancel := context.WithTimeout(context.Background(), m.opTimeout)
	defer cancel()

	switch req.Op {
	case OpProgram:
		return m.programmer.ProgramHostEntry(ctx, req.Entry)
	case OpUnprogram:
		return m.programmer.UnprogramHostEntry(ctx, req.Entry)
	default:
		panic("hwsync: unknown operation")
	}
}
