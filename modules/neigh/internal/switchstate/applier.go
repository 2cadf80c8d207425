package switchstate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

var (
	// ErrConflict is returned when a state update was computed against a
	// version that is no longer current.
	ErrConflict = errors.New("switch state conflict")
	// ErrNoDomain is returned when an update addresses a domain that is not
	// present in the switch state.
	ErrNoDomain = errors.New("no such domain")
)

// Mutator computes a successor switch state from the current one.
//
// It must not modify its argument.
type Mutator func(state *State) (*State, error)

// EventKind is a kind of lifecycle event.
type EventKind int

const (
	// InterfaceAdded is emitted when a domain appears in the switch state.
	InterfaceAdded EventKind = iota
	// InterfaceRemoved is emitted when a domain disappears from the switch
	// state.
	InterfaceRemoved
)

func (m EventKind) String() string {
	switch m {
	case InterfaceAdded:
		return "added"
	case InterfaceRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Event is a domain lifecycle event.
type Event struct {
	Kind      EventKind
	Interface Interface
}

// Option is a function that configures the applier.
type Option func(*options)

// WithLog configures the applier with a logger.
func WithLog(log *zap.SugaredLogger) Option {
	return func(o *options) {
		o.Log = log
	}
}

type options struct {
	Log *zap.SugaredLogger
}

func newOptions() *options {
	return &options{
		Log: zap.NewNop().Sugar(),
	}
}

// Applier owns the current switch state and publishes its successors.
type Applier struct {
	state atomic.Pointer[State]

	mu          sync.Mutex
	lastEmitted *State
	subscribers map[*subscriber]struct{}

	log *zap.SugaredLogger
}

// NewApplier creates an applier publishing an empty switch state.
func NewApplier(options ...Option) *Applier {
	opts := newOptions()
	for _, o := range options {
		o(opts)
	}

	m := &Applier{
		lastEmitted: Empty(),
		subscribers: map[*subscriber]struct{}{},
		log:         opts.Log,
	}
	m.state.Store(m.lastEmitted)
	return m
}

// Current returns the currently published switch state.
func (m *Applier) Current() *State {
	return m.state.Load()
}

// ApplyStateUpdate applies the mutator to the current state and publishes
// the result.
//
// The update is rejected with ErrConflict if the base version is not the
// current one, or if another update was published while the mutator was
// running. Errors of the mutator are returned as is.
func (m *Applier) ApplyStateUpdate(base uint64, fn Mutator) (*State, error) {
	curr := m.state.Load()
	if curr.version != base {
		return nil, ErrConflict
	}

	next, err := fn(curr)
	if err != nil {
		return nil, err
	}
	if next == curr {
		return curr, nil
	}

	next = next.withVersion(curr.version + 1)
	if !m.state.CompareAndSwap(curr, next) {
		return nil, ErrConflict
	}

	if next.epoch != curr.epoch {
		m.emit()
	}

	return next, nil
}

// Update applies the mutator, rebasing it on the newly current state until
// it is published or fails.
func (m *Applier) Update(fn Mutator) (*State, error) {
	for {
		state, err := m.ApplyStateUpdate(m.Current().Version(), fn)
		if errors.Is(err, ErrConflict) {
			continue
		}
		return state, err
	}
}

// Subscribe returns a channel of domain lifecycle events.
//
// The feed starts with an InterfaceAdded event for every domain already
// present. Events are delivered in publication order and never dropped. The
// channel is closed after the given context is canceled.
func (m *Applier) Subscribe(ctx context.Context) <-chan Event {
	sub := newSubscriber()

	m.mu.Lock()
	sub.push(diffDomains(Empty(), m.lastEmitted)...)
	m.subscribers[sub] = struct{}{}
	m.mu.Unlock()

	out := make(chan Event)
	go func() {
		defer close(out)
		defer func() {
			m.mu.Lock()
			delete(m.subscribers, sub)
			m.mu.Unlock()
		}()

		sub.pump(ctx, out)
	}()

	return out
}

// emit diffs the current state against the last one events were emitted
// for. Running under the lock keeps events ordered even if publications
// race to notify.
func (m *Applier) emit() {
	m.mu.Lock()
	defer m.mu.Unlock()

	curr := m.state.Load()
	prev := m.lastEmitted
	if curr.epoch == prev.epoch {
		return
	}
	m.lastEmitted = curr

	events := diffDomains(prev, curr)
	for _, ev := range events {
		m.log.Infow("domain lifecycle",
			zap.Stringer("kind", ev.Kind),
			zap.Stringer("interface", ev.Interface),
		)
	}

	for sub := range m.subscribers {
		sub.push(events...)
	}
}

func diffDomains(prev *State, curr *State) []Event {
	events := []Event{}
	for domain := range prev.Domains() {
		if _, ok := curr.Domain(domain.ID()); !ok {
			events = append(events, Event{Kind: InterfaceRemoved, Interface: domain.Interface})
		}
	}
	for domain := range curr.Domains() {
		if _, ok := prev.Domain(domain.ID()); !ok {
			events = append(events, Event{Kind: InterfaceAdded, Interface: domain.Interface})
		}
	}
	return events
}

// subscriber is an unbounded event queue.
type subscriber struct {
	mu     sync.Mutex
	queue  []Event
	signal chan struct{}
}

func newSubscriber() *subscriber {
	return &subscriber{
		signal: make(chan struct{}, 1),
	}
}

func (m *subscriber) push(events ...Event) {
	if len(events) == 0 {
		return
	}

	m.mu.Lock()
	m.queue = append(m.queue, events...)
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *subscriber) pop() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	events := m.queue
	m.queue = nil
	return events
}

func (m *subscriber) pump(ctx context.Context, out chan<- Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.signal:
		}

		for _, ev := range m.pop() {
			select {
			case <-ctx.Done():
				return
			case out <- ev:
			}
		}
	}
}
