package neighbour

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"net/netip"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yanet-platform/neighd/modules/neigh/internal/discovery/link"
	"github.com/yanet-platform/neighd/modules/neigh/internal/engine"
	"github.com/yanet-platform/neighd/modules/neigh/internal/hwsync"
	"github.com/yanet-platform/neighd/modules/neigh/internal/metrics"
	"github.com/yanet-platform/neighd/modules/neigh/internal/neigh"
	"github.com/yanet-platform/neighd/modules/neigh/internal/pktio"
	"github.com/yanet-platform/neighd/modules/neigh/internal/proto/arp"
	"github.com/yanet-platform/neighd/modules/neigh/internal/proto/ndp"
	"github.com/yanet-platform/neighd/modules/neigh/internal/switchstate"
)

// resolver is the family independent API of a neighbour engine.
type resolver interface {
	Family() neigh.Family
	Run(ctx context.Context) error
	Close() error
	Resolve(ctx context.Context, addr netip.Addr) error
	Flush(ctx context.Context, addr netip.Addr) error
	LinkDown(ctx context.Context, port neigh.PortID) error
	AddStatic(ctx context.Context, addr netip.Addr, mac neigh.MAC, port neigh.PortID) error
	HandleFrame(frame []byte, port neigh.PortID) bool
}

var (
	_ resolver = (*engine.Engine[arp.Adapter])(nil)
	_ resolver = (*engine.Engine[ndp.Adapter])(nil)
)

// domain is an active broadcast domain with its engines.
type domain struct {
	vlan neigh.DomainID
	cfg  *DomainConfig
	arp  resolver
	ndp  resolver
	wg   errgroup.Group

	// Fields below are owned by the reconciling goroutine.
	intf  switchstate.Interface
	up    bool
	ports map[neigh.PortID]string
}

func (m *domain) engine(family neigh.Family) (resolver, bool) {
	switch family {
	case neigh.FamilyIPv4:
		return m.arp, true
	case neigh.FamilyIPv6:
		return m.ndp, true
	default:
		return nil, false
	}
}

func (m *domain) engines() []resolver {
	return []resolver{m.arp, m.ndp}
}

// target is the desired shape of a configured domain.
type target struct {
	cfg   *DomainConfig
	intf  switchstate.Interface
	up    bool
	ports map[neigh.PortID]string
}

// ManagerOption is a function that configures the domain manager.
type ManagerOption func(*managerOptions)

// WithLog configures the domain manager with a logger.
func WithLog(log *zap.SugaredLogger) ManagerOption {
	return func(o *managerOptions) {
		o.Log = log
	}
}

// WithMetrics configures the domain manager with shared metrics.
func WithMetrics(metrics *metrics.Metrics) ManagerOption {
	return func(o *managerOptions) {
		o.Metrics = metrics
	}
}

// WithOpener overrides how port sockets are opened.
func WithOpener(opener pktio.Opener) ManagerOption {
	return func(o *managerOptions) {
		o.Opener = opener
	}
}

type managerOptions struct {
	Log     *zap.SugaredLogger
	Metrics *metrics.Metrics
	Opener  pktio.Opener
}

func newManagerOptions() *managerOptions {
	return &managerOptions{
		Log: zap.NewNop().Sugar(),
	}
}

// Manager drives the lifecycle of configured domains from the links view.
//
// A domain becomes active when its L3 netdev appears and is removed when
// the netdev disappears. Member ports going down expire the neighbours
// learned through them.
type Manager struct {
	cfg     *Config
	applier *switchstate.Applier
	hw      hwsync.Programmer
	ports   *pktio.Ports
	metrics *metrics.Metrics
	log     *zap.SugaredLogger

	updates chan link.LinksCacheView
	// routes maps receiving ports to domains for frame dispatch.
	routes atomic.Pointer[map[neigh.PortID][]*domain]

	mu      sync.Mutex
	domains map[neigh.DomainID]*domain
	links   link.LinksCacheView
	closed  bool
}

// NewManager creates a domain manager without active domains.
func NewManager(cfg *Config, applier *switchstate.Applier, hw hwsync.Programmer, options ...ManagerOption) *Manager {
	opts := newManagerOptions()
	for _, o := range options {
		o(opts)
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}

	m := &Manager{
		cfg:     cfg,
		applier: applier,
		hw:      hw,
		metrics: opts.Metrics,
		log:     opts.Log,
		updates: make(chan link.LinksCacheView, 1),
		domains: map[neigh.DomainID]*domain{},
	}

	portOpts := []pktio.Option{pktio.WithLog(opts.Log)}
	if opts.Opener != nil {
		portOpts = append(portOpts, pktio.WithOpener(opts.Opener))
	}
	m.ports = pktio.NewPorts(cfg.PacketIO, m.handleFrame, portOpts...)
	m.routes.Store(&map[neigh.PortID][]*domain{})

	return m
}

// Update schedules reconciliation against the given links view.
//
// It never blocks: a view not yet picked up is replaced by a newer one.
func (m *Manager) Update(view link.LinksCacheView) {
	for {
		select {
		case m.updates <- view:
			return
		default:
		}

		select {
		case <-m.updates:
		default:
		}
	}
}

// Run reconciles domains until the specified context is canceled.
//
// Engines of active domains run under the same context.
func (m *Manager) Run(ctx context.Context) error {
	m.log.Debugw("starting domain manager")
	defer m.log.Debugw("stopped domain manager")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case view := <-m.updates:
			m.reconcile(ctx, view)
		}
	}
}

// Close deactivates every domain and closes port sockets.
//
// Engines are closed before their domains are removed from the switch
// state, so that their hardware entries are released.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	m.routes.Store(&map[neigh.PortID][]*domain{})
	for _, vlan := range slices.Sorted(maps.Keys(m.domains)) {
		m.removeDomain(m.domains[vlan])
	}

	return m.ports.Close()
}

// engineOf returns the engine serving the given domain and family.
func (m *Manager) engineOf(vlan neigh.DomainID, family neigh.Family) (resolver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.domains[vlan]
	if !ok {
		return nil, fmt.Errorf("vlan%d: %w", vlan, switchstate.ErrNoDomain)
	}
	e, ok := d.engine(family)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported family %s", engine.ErrInvalidAddress, family)
	}
	return e, nil
}

// PortName returns the netdev name of the given port.
func (m *Manager) PortName(port neigh.PortID) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.links.Lookup(int(port))
	if !ok {
		return ""
	}
	return l.Name
}

// LinkResolver returns the ifindex of the L3 netdev of the given domain.
func (m *Manager) LinkResolver(vlan neigh.DomainID) (int, bool) {
	d, ok := m.applier.Current().Domain(vlan)
	if !ok {
		return 0, false
	}
	return int(d.Interface.Port), true
}

func (m *Manager) reconcile(ctx context.Context, view link.LinksCacheView) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.links = view

	targets := m.targets(view)
	for _, vlan := range slices.Sorted(maps.Keys(m.domains)) {
		if _, ok := targets[vlan]; !ok {
			m.removeDomain(m.domains[vlan])
		}
	}

	for _, vlan := range slices.Sorted(maps.Keys(targets)) {
		t := targets[vlan]

		d, ok := m.domains[vlan]
		if ok {
			m.updateDomain(ctx, d, t)
		} else {
			var err error
			if d, err = m.addDomain(ctx, t); err != nil {
				m.log.Warnw("failed to activate domain", zap.Stringer("interface", t.intf), zap.Error(err))
				continue
			}
		}
		m.installStatic(ctx, d)
	}

	m.syncPorts()
	m.syncRoutes()
}

// targets computes the desired domains from the links view.
func (m *Manager) targets(view link.LinksCacheView) map[neigh.DomainID]target {
	out := map[neigh.DomainID]target{}

	for idx := range m.cfg.Domains {
		cfg := &m.cfg.Domains[idx]

		l3, ok := view.Find(func(l link.Link) bool { return l.Name == cfg.Interface })
		if !ok {
			continue
		}

		intf := switchstate.Interface{
			VLAN:     cfg.VLAN,
			ID:       cfg.InterfaceID,
			Name:     l3.Name,
			MAC:      cfg.MAC,
			Prefixes: cfg.Addresses,
			Port:     neigh.PortID(l3.Index),
		}
		if intf.ID == 0 {
			intf.ID = neigh.InterfaceID(l3.Index)
		}
		if intf.MAC.IsZero() {
			intf.MAC = l3.MAC
		}
		if len(intf.Prefixes) == 0 {
			intf.Prefixes = l3.Prefixes
		}
		if intf.MAC.IsZero() {
			m.log.Warnw("skipping domain without router MAC", zap.Stringer("interface", intf))
			continue
		}

		ports := map[neigh.PortID]string{}
		links, _ := view.Entries()
		for l := range links {
			if l.Index != l3.Index && l.Up && cfg.HasPort(l.Name) {
				ports[neigh.PortID(l.Index)] = l.Name
			}
		}
		intf.Ports = slices.Sorted(maps.Keys(ports))

		out[cfg.VLAN] = target{
			cfg:   cfg,
			intf:  intf,
			up:    l3.Up,
			ports: ports,
		}
	}

	return out
}

func (m *Manager) addDomain(ctx context.Context, t target) (*domain, error) {
	intf := t.intf
	_, err := m.applier.Update(func(state *switchstate.State) (*switchstate.State, error) {
		if prev, ok := state.Domain(intf.VLAN); ok {
			return state.WithDomain(prev.WithInterface(intf)), nil
		}
		return state.WithDomain(switchstate.NewDomain(intf)), nil
	})
	if err != nil {
		return nil, err
	}

	opts := []engine.Option{
		engine.WithLog(m.log),
		engine.WithMetrics(m.metrics),
		engine.WithOpTimeout(m.cfg.Hardware.OpTimeout),
	}
	d := &domain{
		vlan:  intf.VLAN,
		cfg:   t.cfg,
		arp:   engine.New(intf.VLAN, arp.New(), m.applier, m.ports, m.hw, t.cfg.Engine(), opts...),
		ndp:   engine.New(intf.VLAN, ndp.New(), m.applier, m.ports, m.hw, t.cfg.Engine(), opts...),
		intf:  intf,
		up:    t.up,
		ports: t.ports,
	}
	for _, e := range d.engines() {
		d.wg.Go(func() error {
			return e.Run(ctx)
		})
	}
	m.domains[d.vlan] = d

	m.log.Infow("activated domain",
		zap.Stringer("interface", intf),
		zap.Int("ports", len(intf.Ports)),
	)
	return d, nil
}

func (m *Manager) updateDomain(ctx context.Context, d *domain, t target) {
	if !d.intf.Equal(t.intf) {
		intf := t.intf
		_, err := m.applier.Update(func(state *switchstate.State) (*switchstate.State, error) {
			prev, ok := state.Domain(intf.VLAN)
			if !ok {
				return nil, fmt.Errorf("vlan%d: %w", intf.VLAN, switchstate.ErrNoDomain)
			}
			return state.WithDomain(prev.WithInterface(intf)), nil
		})
		if err != nil {
			m.log.Warnw("failed to update domain", zap.Stringer("interface", intf), zap.Error(err))
			return
		}
		m.log.Infow("updated domain", zap.Stringer("interface", intf))
	}

	for _, port := range slices.Sorted(maps.Keys(d.ports)) {
		if _, ok := t.ports[port]; !ok {
			m.linkDown(ctx, d, port, d.ports[port])
		}
	}
	if d.up && !t.up {
		m.linkDown(ctx, d, d.intf.Port, d.intf.Name)
	}

	d.intf, d.up, d.ports = t.intf, t.up, t.ports
}

func (m *Manager) linkDown(ctx context.Context, d *domain, port neigh.PortID, name string) {
	m.log.Infow("port went down",
		zap.Uint16("vlan", uint16(d.vlan)),
		zap.Uint32("port", uint32(port)),
		zap.String("name", name),
	)

	for _, e := range d.engines() {
		if err := e.LinkDown(ctx, port); err != nil {
			m.log.Warnw("failed to expire neighbours of port",
				zap.Uint16("vlan", uint16(d.vlan)),
				zap.Stringer("family", e.Family()),
				zap.Error(err),
			)
		}
	}
}

// installStatic installs configured entries whose port is up. Entries
// already installed are left untouched.
func (m *Manager) installStatic(ctx context.Context, d *domain) {
	for _, entry := range d.cfg.Static {
		port, ok := portByName(d.ports, entry.Port)
		if !ok {
			continue
		}
		e, ok := d.engine(neigh.FamilyOf(entry.Addr))
		if !ok {
			continue
		}

		if err := e.AddStatic(ctx, entry.Addr, entry.MAC, port); err != nil {
			m.log.Warnw("failed to install static neighbour",
				zap.Uint16("vlan", uint16(d.vlan)),
				zap.Stringer("addr", entry.Addr),
				zap.Error(err),
			)
		}
	}
}

func (m *Manager) removeDomain(d *domain) {
	for _, e := range d.engines() {
		if err := e.Close(); err != nil {
			m.log.Warnw("failed to close engine", zap.Uint16("vlan", uint16(d.vlan)), zap.Error(err))
		}
	}
	if err := d.wg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		m.log.Warnw("engine failed", zap.Uint16("vlan", uint16(d.vlan)), zap.Error(err))
	}

	_, err := m.applier.Update(func(state *switchstate.State) (*switchstate.State, error) {
		return state.WithoutDomain(d.vlan), nil
	})
	if err != nil {
		m.log.Warnw("failed to remove domain", zap.Uint16("vlan", uint16(d.vlan)), zap.Error(err))
	}
	delete(m.domains, d.vlan)

	m.log.Infow("deactivated domain", zap.Stringer("interface", d.intf))
}

// syncPorts attaches sockets to member ports for receiving and to L3
// ports for flooding requests.
func (m *Manager) syncPorts() {
	type attachment struct {
		name string
		mode pktio.Mode
	}

	want := map[neigh.PortID]attachment{}
	for _, d := range m.domains {
		if _, ok := want[d.intf.Port]; !ok {
			want[d.intf.Port] = attachment{name: d.intf.Name, mode: pktio.ModeTransmit}
		}
	}
	for _, d := range m.domains {
		for id, name := range d.ports {
			want[id] = attachment{name: name, mode: pktio.ModeReceive}
		}
	}

	for _, id := range m.ports.Attached() {
		if _, ok := want[id]; !ok {
			m.ports.Detach(id)
		}
	}
	for _, id := range slices.Sorted(maps.Keys(want)) {
		s := want[id]
		if err := m.ports.Attach(id, s.name, s.mode); err != nil {
			m.log.Warnw("failed to attach port",
				zap.Uint32("port", uint32(id)),
				zap.String("name", s.name),
				zap.Error(err),
			)
		}
	}
}

func (m *Manager) syncRoutes() {
	routes := map[neigh.PortID][]*domain{}
	for _, d := range m.domains {
		for id := range d.ports {
			routes[id] = append(routes[id], d)
		}
	}
	for _, domains := range routes {
		slices.SortFunc(domains, func(a, b *domain) int {
			return cmp.Compare(a.vlan, b.vlan)
		})
	}

	m.routes.Store(&routes)
}

// handleFrame dispatches a received frame to the engine of its domain and
// family. It runs on port reader goroutines.
func (m *Manager) handleFrame(port neigh.PortID, frame []byte) {
	domains := (*m.routes.Load())[port]
	if len(domains) == 0 {
		return
	}

	vlan, etherType, ok := classify(frame)
	if !ok {
		return
	}

	var d *domain
	switch {
	case vlan != 0:
		for _, candidate := range domains {
			if candidate.vlan == neigh.DomainID(vlan) {
				d = candidate
				break
			}
		}
	case len(domains) == 1:
		d = domains[0]
	}
	if d == nil {
		m.log.Debugw("dropping frame of unknown domain",
			zap.Uint32("port", uint32(port)),
			zap.Uint16("vlan", vlan),
		)
		return
	}

	switch etherType {
	case layers.EthernetTypeARP:
		d.arp.HandleFrame(frame, port)
	case layers.EthernetTypeIPv6:
		d.ndp.HandleFrame(frame, port)
	}
}

// classify returns the 802.1Q VLAN identifier of a frame, zero when
// untagged, and its effective EtherType.
func classify(frame []byte) (uint16, layers.EthernetType, bool) {
	eth := layers.Ethernet{}
	if err := eth.DecodeFromBytes(frame, gopacket.NilDecodeFeedback); err != nil {
		return 0, 0, false
	}
	if eth.EthernetType != layers.EthernetTypeDot1Q {
		return 0, eth.EthernetType, true
	}

	tag := layers.Dot1Q{}
	if err := tag.DecodeFromBytes(eth.Payload, gopacket.NilDecodeFeedback); err != nil {
		return 0, 0, false
	}
	return tag.VLANIdentifier, tag.Type, true
}

func portByName(ports map[neigh.PortID]string, name string) (neigh.PortID, bool) {
	for id, n := range ports {
		if n == name {
			return id, true
		}
	}
	return 0, false
}
