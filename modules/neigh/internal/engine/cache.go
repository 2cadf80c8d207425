package engine

import (
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/yanet-platform/neighd/modules/neigh/internal/hwsync"
	"github.com/yanet-platform/neighd/modules/neigh/internal/metrics"
	"github.com/yanet-platform/neighd/modules/neigh/internal/neigh"
	"github.com/yanet-platform/neighd/modules/neigh/internal/proto"
	"github.com/yanet-platform/neighd/modules/neigh/internal/switchstate"
)

// ErrInvalidAddress is returned when an address cannot be resolved by the
// engine it was submitted to.
var ErrInvalidAddress = errors.New("invalid neighbour address")

// Transmitter sends frames out of switch ports.
type Transmitter interface {
	Transmit(port neigh.PortID, frame []byte) error
}

type hardware interface {
	Submit(req hwsync.Request)
}

// cache is the neighbour state machine of a single domain and family.
//
// It is not safe for concurrent use: the engine actor is its only caller.
// Every method takes the current time explicitly.
type cache[A proto.Adapter] struct {
	domain  neigh.DomainID
	family  neigh.Family
	adapter A
	cfg     Config
	applier *switchstate.Applier
	tx      Transmitter
	hw      hardware
	metrics *metrics.Metrics
	log     *zap.SugaredLogger

	timers *schedule
	// unsynced holds generations of entries whose programming failed.
	unsynced map[netip.Addr]uint64
	// orphans holds host entries whose removal from hardware failed.
	orphans map[netip.Addr]hwsync.HostEntry
}

func newCache[A proto.Adapter](
	domain neigh.DomainID,
	adapter A,
	cfg Config,
	applier *switchstate.Applier,
	tx Transmitter,
	hw hardware,
	metrics *metrics.Metrics,
	log *zap.SugaredLogger,
) *cache[A] {
	return &cache[A]{
		domain:   domain,
		family:   adapter.Family(),
		adapter:  adapter,
		cfg:      cfg,
		applier:  applier,
		tx:       tx,
		hw:       hw,
		metrics:  metrics,
		log:      log,
		timers:   newSchedule(),
		unsynced: map[netip.Addr]uint64{},
		orphans:  map[netip.Addr]hwsync.HostEntry{},
	}
}

// current returns the published domain this cache belongs to.
func (m *cache[A]) current() (*switchstate.Domain, bool) {
	return m.applier.Current().Domain(m.domain)
}

func (m *cache[A]) table() *neigh.Table {
	domain, ok := m.current()
	if !ok {
		return neigh.NewTable(m.domain, m.family)
	}
	return domain.Table(m.family)
}

func (m *cache[A]) get(addr netip.Addr) (neigh.Entry, bool) {
	return m.table().Get(addr)
}

// publish applies fn to the table of this cache and publishes the result,
// rebasing on conflicts.
func (m *cache[A]) publish(fn func(table *neigh.Table) *neigh.Table) error {
	for {
		state := m.applier.Current()
		_, err := m.applier.ApplyStateUpdate(state.Version(), func(state *switchstate.State) (*switchstate.State, error) {
			domain, ok := state.Domain(m.domain)
			if !ok {
				return nil, fmt.Errorf("vlan%d: %w", m.domain, switchstate.ErrNoDomain)
			}

			table := domain.Table(m.family)
			next := fn(table)
			if next == table {
				return state, nil
			}
			return state.WithTable(next)
		})
		if errors.Is(err, switchstate.ErrConflict) {
			m.metrics.PublishConflictsTotal.WithLabelValues(m.family.String()).Inc()
			continue
		}
		return err
	}
}

// store publishes the given entry and returns it as stored.
func (m *cache[A]) store(entry neigh.Entry) (neigh.Entry, error) {
	stored := entry
	err := m.publish(func(table *neigh.Table) *neigh.Table {
		next, e := table.Put(entry)
		stored = e
		return next
	})
	return stored, err
}

func (m *cache[A]) remove(addr netip.Addr) error {
	return m.publish(func(table *neigh.Table) *neigh.Table {
		return table.Delete(addr)
	})
}

// commit publishes a transition of a single entry and issues the hardware
// operations it implies.
func (m *cache[A]) commit(prev neigh.Entry, existed bool, next neigh.Entry) (neigh.Entry, bool) {
	stored, err := m.store(next)
	if err != nil {
		m.log.Warnw("failed to publish neighbour entry", zap.Stringer("entry", next), zap.Error(err))
		return neigh.Entry{}, false
	}

	m.account(prev, existed, stored)

	if stored.Programmable() {
		wasProgrammed := existed && prev.Programmable()
		gen, unsynced := m.unsynced[stored.Addr]
		switch {
		case !wasProgrammed:
			m.program(stored)
		case prev.Moved(stored.MAC, stored.Port):
			m.log.Infow("neighbour moved",
				zap.Stringer("addr", stored.Addr),
				zap.Stringer("from_mac", prev.MAC),
				zap.Uint32("from_port", uint32(prev.Port)),
				zap.Stringer("to_mac", stored.MAC),
				zap.Uint32("to_port", uint32(stored.Port)),
			)
			m.program(stored)
		case unsynced && gen == stored.Generation:
			m.program(stored)
		}
		// A fresh program supersedes a pending removal.
		delete(m.orphans, stored.Addr)
	}

	return stored, true
}

func (m *cache[A]) account(prev neigh.Entry, existed bool, next neigh.Entry) {
	vlan := strconv.Itoa(int(m.domain))
	family := m.family.String()

	from := "NONE"
	if existed {
		from = prev.State.String()
		if prev.State == next.State {
			return
		}
		m.metrics.Entries.WithLabelValues(vlan, family, from).Dec()
	}

	m.metrics.TransitionsTotal.WithLabelValues(family, from, next.State.String()).Inc()
	if next.State != neigh.StateExpired {
		m.metrics.Entries.WithLabelValues(vlan, family, next.State.String()).Inc()
	}

	m.log.Debugw("neighbour transition",
		zap.Stringer("addr", next.Addr),
		zap.String("from", from),
		zap.Stringer("to", next.State),
		zap.Stringer("mac", next.MAC),
		zap.Uint32("port", uint32(next.Port)),
	)
}

func (m *cache[A]) program(entry neigh.Entry) {
	m.hw.Submit(hwsync.Request{
		Op:         hwsync.OpProgram,
		Entry:      hwsync.HostEntryOf(entry),
		Generation: entry.Generation,
	})
}

func (m *cache[A]) unprogram(entry hwsync.HostEntry, generation uint64) {
	m.hw.Submit(hwsync.Request{
		Op:         hwsync.OpUnprogram,
		Entry:      entry,
		Generation: generation,
	})
}

// touch retries a failed hardware operation on the given address.
func (m *cache[A]) touch(addr netip.Addr) {
	entry, exists := m.get(addr)

	if gen, ok := m.unsynced[addr]; ok {
		delete(m.unsynced, addr)
		if exists && entry.Generation == gen && entry.Programmable() {
			m.program(entry)
		}
	}

	orphan, ok := m.orphans[addr]
	if !ok || exists && entry.Programmable() {
		return
	}
	delete(m.orphans, addr)
	m.unprogram(orphan, 0)
}

// validTarget checks that the given address may have an entry in this
// cache.
func (m *cache[A]) validTarget(intf switchstate.Interface, addr netip.Addr) error {
	switch {
	case !addr.IsValid() || neigh.FamilyOf(addr) != m.family:
		return fmt.Errorf("%w: %s is not an %s address", ErrInvalidAddress, addr, m.family)
	case addr.IsUnspecified() || addr.IsMulticast():
		return fmt.Errorf("%w: %s is not a unicast address", ErrInvalidAddress, addr)
	case intf.Owns(addr):
		return fmt.Errorf("%w: %s is owned by %s", ErrInvalidAddress, addr, intf)
	case !intf.OnLink(addr):
		return fmt.Errorf("%w: %s is not on-link on %s", ErrInvalidAddress, addr, intf)
	case intf.IsBroadcast(addr):
		return fmt.Errorf("%w: %s is a broadcast address", ErrInvalidAddress, addr)
	}
	return nil
}

func (m *cache[A]) resolve(addr netip.Addr, now time.Time) error {
	domain, ok := m.current()
	if !ok {
		return fmt.Errorf("vlan%d: %w", m.domain, switchstate.ErrNoDomain)
	}
	if err := m.validTarget(domain.Interface, addr); err != nil {
		return err
	}

	m.touch(addr)
	if _, ok := m.get(addr); ok {
		return nil
	}

	entry, ok := m.commit(neigh.Entry{}, false, neigh.NewPending(m.domain, domain.Interface.ID, addr, now))
	if !ok {
		return nil
	}

	m.sendRequest(domain.Interface, entry, false)
	m.timers.Arm(addr, now.Add(m.cfg.RetryInterval))
	return nil
}

func (m *cache[A]) replyObserved(addr netip.Addr, mac neigh.MAC, port neigh.PortID, unicastToUs bool, now time.Time) {
	domain, ok := m.current()
	if !ok {
		return
	}
	if mac.IsZero() || !proto.IsUnicast(mac[:]) || m.validTarget(domain.Interface, addr) != nil {
		m.log.Debugw("ignoring neighbour sender",
			zap.Stringer("addr", addr),
			zap.Stringer("mac", mac),
		)
		return
	}

	m.touch(addr)

	prev, existed := m.get(addr)
	if !existed {
		if !unicastToUs && !m.cfg.PassiveLearning {
			return
		}
		prev = neigh.NewPending(m.domain, domain.Interface.ID, addr, now)
	}
	if prev.Origin == neigh.OriginStatic {
		return
	}

	// A pending entry confirmed by a reply to our request counts as resolved,
	// by any other traffic as learned.
	origin := neigh.OriginLearned
	if existed && unicastToUs {
		origin = neigh.OriginResolved
	}

	if _, ok := m.commit(prev, existed, prev.Confirm(mac, port, origin, now)); ok {
		m.timers.Arm(addr, now.Add(m.cfg.ReachableTime))
	}
}

func (m *cache[A]) addStatic(addr netip.Addr, mac neigh.MAC, port neigh.PortID, now time.Time) error {
	domain, ok := m.current()
	if !ok {
		return fmt.Errorf("vlan%d: %w", m.domain, switchstate.ErrNoDomain)
	}
	if err := m.validTarget(domain.Interface, addr); err != nil {
		return err
	}
	if mac.IsZero() {
		return fmt.Errorf("%w: static entry %s without MAC", ErrInvalidAddress, addr)
	}

	m.touch(addr)

	prev, existed := m.get(addr)
	if existed && prev.Origin == neigh.OriginStatic && !prev.Moved(mac, port) {
		return nil
	}

	m.timers.Disarm(addr)
	m.commit(prev, existed, neigh.NewStatic(m.domain, domain.Interface.ID, addr, mac, port, now))
	return nil
}

func (m *cache[A]) flush(addr netip.Addr, now time.Time) {
	if entry, ok := m.get(addr); ok {
		m.expire(entry, now)
	}
	m.touch(addr)
}

func (m *cache[A]) linkDown(port neigh.PortID, now time.Time) {
	domain, ok := m.current()
	if !ok {
		return
	}

	// Losing the L3 port also cancels pending resolutions. Pending entries
	// are bound to no member port.
	all := port == domain.Interface.Port
	bound := []neigh.Entry{}
	for entry := range domain.Table(m.family).All() {
		if all || entry.State != neigh.StatePending && entry.Port == port {
			bound = append(bound, entry)
		}
	}

	if len(bound) > 0 {
		m.log.Infow("expiring neighbours on link down",
			zap.Uint32("port", uint32(port)),
			zap.Int("count", len(bound)),
		)
	}
	for _, entry := range bound {
		m.expire(entry, now)
	}
}

// expire publishes the terminal state of the entry and removes it in the
// next table version.
func (m *cache[A]) expire(entry neigh.Entry, now time.Time) {
	m.timers.Disarm(entry.Addr)
	delete(m.unsynced, entry.Addr)

	if _, ok := m.commit(entry, true, entry.Expire(now)); !ok {
		return
	}
	if entry.Programmable() {
		m.unprogram(hwsync.HostEntryOf(entry), entry.Generation)
	}

	if err := m.remove(entry.Addr); err != nil {
		m.log.Warnw("failed to remove expired neighbour", zap.Stringer("entry", entry), zap.Error(err))
	}
}

// fire runs every timer due at or before now.
//
// Transitions caused by a timer are stamped with its due time, so firing
// late does not stretch the retry schedule.
func (m *cache[A]) fire(now time.Time) {
	for {
		t, ok := m.timers.PopDue(now)
		if !ok {
			return
		}
		m.onTimer(t.addr, t.due)
	}
}

func (m *cache[A]) nextDue() (time.Time, bool) {
	return m.timers.Next()
}

func (m *cache[A]) onTimer(addr netip.Addr, now time.Time) {
	domain, ok := m.current()
	if !ok {
		return
	}
	entry, ok := domain.Table(m.family).Get(addr)
	if !ok || entry.Origin == neigh.OriginStatic {
		return
	}

	switch entry.State {
	case neigh.StatePending:
		if entry.Exhausted(m.cfg.MaxRetries) {
			m.log.Infow("neighbour resolution failed",
				zap.Stringer("addr", addr),
				zap.Int("retries", entry.Retries),
			)
			m.expire(entry, now)
			return
		}
		if next, ok := m.commit(entry, true, entry.Retry(now)); ok {
			m.sendRequest(domain.Interface, next, false)
			m.timers.Arm(addr, now.Add(m.cfg.RetryInterval))
		}
	case neigh.StateReachable:
		if _, ok := m.commit(entry, true, entry.Stale(now)); ok {
			m.timers.Arm(addr, now.Add(m.cfg.ProbeDelay))
		}
	case neigh.StateStale:
		if next, ok := m.commit(entry, true, entry.Probe(now)); ok {
			m.sendRequest(domain.Interface, next, true)
			m.timers.Arm(addr, now.Add(m.cfg.RetryInterval))
		}
	case neigh.StateProbe:
		if entry.Exhausted(m.cfg.MaxRetries) {
			m.log.Infow("neighbour became unreachable",
				zap.Stringer("addr", addr),
				zap.Stringer("mac", entry.MAC),
				zap.Uint32("port", uint32(entry.Port)),
			)
			m.expire(entry, now)
			return
		}
		if next, ok := m.commit(entry, true, entry.Retry(now)); ok {
			m.sendRequest(domain.Interface, next, true)
			m.timers.Arm(addr, now.Add(m.cfg.RetryInterval))
		}
	}
}

// sendRequest transmits a request for the given entry.
//
// Broadcast requests go out of the L3 port, unicast probes are sent
// directly to the known binding.
func (m *cache[A]) sendRequest(intf switchstate.Interface, entry neigh.Entry, unicast bool) {
	src, ok := intf.SourceAddr(entry.Addr)
	if !ok {
		m.log.Warnw("no source address to resolve neighbour", zap.Stringer("addr", entry.Addr))
		return
	}

	dst, port, kind := neigh.MAC{}, intf.Port, metrics.KindBroadcast
	if unicast {
		dst, port, kind = entry.MAC, entry.Port, metrics.KindUnicast
	}

	frame, err := m.adapter.EncodeRequest(entry.Addr, intf.MAC, src, dst)
	if err != nil {
		m.log.Warnw("failed to encode request", zap.Stringer("addr", entry.Addr), zap.Error(err))
		return
	}

	m.transmit(port, frame, kind)
}

func (m *cache[A]) transmit(port neigh.PortID, frame []byte, kind string) {
	if err := m.tx.Transmit(port, frame); err != nil {
		m.metrics.TransmitErrorsTotal.WithLabelValues(m.family.String()).Inc()
		m.log.Warnw("failed to transmit frame",
			zap.Uint32("port", uint32(port)),
			zap.String("kind", kind),
			zap.Error(err),
		)
		return
	}

	m.metrics.RequestsTotal.WithLabelValues(m.family.String(), kind).Inc()
}

// handleFrame decodes a received frame and dispatches it.
func (m *cache[A]) handleFrame(frame []byte, port neigh.PortID, now time.Time) {
	family := m.family.String()

	msg, err := m.adapter.Decode(frame)
	if err != nil {
		outcome := metrics.OutcomeMalformed
		if errors.Is(err, proto.ErrUnsupported) {
			outcome = metrics.OutcomeUnsupported
		}
		m.metrics.FramesTotal.WithLabelValues(family, outcome).Inc()
		m.log.Debugw("dropping frame", zap.Uint32("port", uint32(port)), zap.Error(err))
		return
	}
	m.metrics.FramesTotal.WithLabelValues(family, metrics.OutcomeAccepted).Inc()

	domain, ok := m.current()
	if !ok {
		return
	}
	intf := domain.Interface
	toUs := intf.Owns(msg.TargetAddr)

	if msg.Op == proto.OpRequest && toUs && msg.SenderAddr.IsValid() && !msg.SenderAddr.IsUnspecified() {
		reply, err := m.adapter.EncodeReply(intf.MAC, msg.TargetAddr, msg.SenderMAC, msg.SenderAddr)
		if err != nil {
			m.log.Warnw("failed to encode reply", zap.Stringer("addr", msg.SenderAddr), zap.Error(err))
		} else {
			m.transmit(port, reply, metrics.KindReply)
		}
	}

	m.replyObserved(msg.SenderAddr, msg.SenderMAC, port, toUs, now)
}

// complete accounts the outcome of a hardware operation.
func (m *cache[A]) complete(c hwsync.Completion) {
	recordCompletion(m.metrics, m.log, c)

	addr := c.Entry.Addr
	entry, exists := m.get(addr)

	switch c.Op {
	case hwsync.OpProgram:
		if c.Err == nil {
			if gen, ok := m.unsynced[addr]; ok && gen == c.Generation {
				delete(m.unsynced, addr)
			}
			return
		}
		if exists && entry.Generation == c.Generation && entry.Programmable() {
			m.unsynced[addr] = c.Generation
		}
	case hwsync.OpUnprogram:
		if c.Err == nil {
			return
		}
		if !exists || !entry.Programmable() {
			m.orphans[addr] = c.Entry
		}
	}
}

// close removes every programmed entry from hardware.
func (m *cache[A]) close() {
	for entry := range m.table().All() {
		if entry.Programmable() {
			m.unprogram(hwsync.HostEntryOf(entry), entry.Generation)
			delete(m.orphans, entry.Addr)
		}
	}
	for addr, orphan := range m.orphans {
		m.unprogram(orphan, 0)
		delete(m.orphans, addr)
	}
}

func recordCompletion(collectors *metrics.Metrics, log *zap.SugaredLogger, c hwsync.Completion) {
	result := metrics.ResultOK
	if c.Err != nil {
		result = metrics.ResultError
		log.Warnw("hardware operation failed",
			zap.Stringer("op", c.Op),
			zap.Stringer("entry", c.Entry),
			zap.Error(c.Err),
		)
	}
	collectors.HardwareOpsTotal.WithLabelValues(c.Op.String(), result).Inc()
}
