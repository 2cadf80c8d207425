package pktio

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gopacket/gopacket/afpacket"
	"go.uber.org/zap"

	"github.com/yanet-platform/neighd/modules/neigh/internal/neigh"
)

// ErrUnknownPort is returned when transmitting through a port that is not
// attached.
var ErrUnknownPort = errors.New("unknown port")

const maxReadBackoff = 5 * time.Second

// Handler receives frames read from attached ports.
//
// It is called from per-port reader goroutines and must not block.
type Handler func(port neigh.PortID, frame []byte)

// Mode tells what a port is attached for.
type Mode int

const (
	// ModeReceive ports deliver neighbour frames and can transmit.
	ModeReceive Mode = iota
	// ModeTransmit ports only transmit.
	ModeTransmit
)

func (m Mode) String() string {
	switch m {
	case ModeReceive:
		return "receive"
	case ModeTransmit:
		return "transmit"
	default:
		return "unknown"
	}
}

// Option is a function that configures the port set.
type Option func(*options)

// WithLog configures the port set with a logger.
func WithLog(log *zap.SugaredLogger) Option {
	return func(o *options) {
		o.Log = log
	}
}

// WithOpener overrides how sockets are opened.
func WithOpener(opener Opener) Option {
	return func(o *options) {
		o.Opener = opener
	}
}

type options struct {
	Log    *zap.SugaredLogger
	Opener Opener
}

func newOptions() *options {
	return &options{
		Log: zap.NewNop().Sugar(),
	}
}

type port struct {
	id     neigh.PortID
	name   string
	mode   Mode
	socket Socket
	quit   chan struct{}
	done   chan struct{}
}

// Ports is a set of raw sockets, one per attached switch port.
type Ports struct {
	opener      Opener
	handler     Handler
	pollTimeout time.Duration
	log         *zap.SugaredLogger

	mu    sync.RWMutex
	ports map[neigh.PortID]*port
}

// NewPorts creates an empty port set delivering received frames to the
// given handler.
func NewPorts(cfg Config, handler Handler, options ...Option) *Ports {
	opts := newOptions()
	for _, o := range options {
		o(opts)
	}
	if opts.Opener == nil {
		opts.Opener = AFPacketOpener(cfg, opts.Log)
	}

	return &Ports{
		opener:      opts.Opener,
		handler:     handler,
		pollTimeout: cfg.PollTimeout,
		log:         opts.Log,
		ports:       map[neigh.PortID]*port{},
	}
}

// Attach opens a socket on the named port.
//
// Attaching an already attached port with the same name and mode is a
// no-op, otherwise the previous socket is replaced.
func (m *Ports) Attach(id neigh.PortID, name string, mode Mode) error {
	m.mu.RLock()
	prev, ok := m.ports[id]
	m.mu.RUnlock()
	if ok && prev.name == name && prev.mode == mode {
		return nil
	}
	if ok {
		m.Detach(id)
	}

	filter := NeighbourFilter()
	if mode == ModeTransmit {
		filter = DropFilter()
	}

	socket, err := m.opener(name, filter)
	if err != nil {
		return fmt.Errorf("failed to attach port %d: %w", id, err)
	}

	p := &port{
		id:     id,
		name:   name,
		mode:   mode,
		socket: socket,
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	m.mu.Lock()
	m.ports[id] = p
	m.mu.Unlock()

	if mode == ModeReceive {
		go m.read(p)
	} else {
		close(p.done)
	}

	m.log.Infow("attached port",
		zap.Uint32("port", uint32(id)),
		zap.String("name", name),
		zap.Stringer("mode", mode),
	)
	return nil
}

// Detach closes the socket of the given port.
//
// It reports whether the port was attached.
func (m *Ports) Detach(id neigh.PortID) bool {
	m.mu.Lock()
	p, ok := m.ports[id]
	delete(m.ports, id)
	m.mu.Unlock()

	if !ok {
		return false
	}

	close(p.quit)
	<-p.done
	p.socket.Close()

	m.log.Infow("detached port", zap.Uint32("port", uint32(id)), zap.String("name", p.name))
	return true
}

// Attached returns identifiers of attached ports in ascending order.
func (m *Ports) Attached() []neigh.PortID {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return slices.Sorted(maps.Keys(m.ports))
}

// Transmit sends a frame through the given port.
func (m *Ports) Transmit(id neigh.PortID, frame []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.ports[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownPort, id)
	}
	if err := p.socket.WritePacketData(frame); err != nil {
		return fmt.Errorf("failed to transmit through %s: %w", p.name, err)
	}
	return nil
}

// Close detaches every port.
func (m *Ports) Close() error {
	for _, id := range m.Attached() {
		m.Detach(id)
	}
	return nil
}

func (m *Ports) read(p *port) {
	defer close(p.done)

	// A broken socket fails every read at once, so failures are spaced out.
	retry := backoff.ExponentialBackOff{
		InitialInterval:     m.pollTimeout,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         maxReadBackoff,
	}
	retry.Reset()

	for {
		select {
		case <-p.quit:
			return
		default:
		}

		frame, _, err := p.socket.ReadPacketData()
		switch {
		case err == nil:
			retry.Reset()
			m.handler(p.id, frame)
		case errors.Is(err, afpacket.ErrTimeout):
			retry.Reset()
		default:
			delay := retry.NextBackOff()
			m.log.Warnw("failed to read frame",
				zap.String("port", p.name),
				zap.Duration("delay", delay),
				zap.Error(err),
			)

			timer := time.NewTimer(delay)
			select {
			case <-p.quit:
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}
}
