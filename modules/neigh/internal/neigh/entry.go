package neigh

import (
	"fmt"
	"net/netip"
	"time"
)

// Key identifies a neighbour entry.
type Key struct {
	Domain DomainID
	Addr   netip.Addr
}

func (m Key) String() string {
	return fmt.Sprintf("vlan%d/%s", m.Domain, m.Addr)
}

// Entry is a resolution record for a single directly attached address.
//
// Entries are values: every transition returns a modified copy, so a
// published table never observes a change.
type Entry struct {
	// Domain is the broadcast domain this entry lives in.
	Domain DomainID
	// Addr is the protocol address of the neighbour.
	Addr netip.Addr
	// MAC is the verified link-layer address. Zero while PENDING.
	MAC MAC
	// Port is the switch port the neighbour is reachable through. Zero
	// while PENDING.
	Port PortID
	// Interface is the routed interface owning this entry.
	Interface InterfaceID
	// State is the lifecycle state.
	State State
	// Origin tells whether the entry was resolved, learned or configured.
	Origin Origin
	// Generation is stamped by the table each time an entry for this key
	// is created, and grows monotonically within a table.
	Generation uint64
	// Retries is the number of requests sent in the current PENDING or
	// PROBE cycle.
	Retries int
	// UpdatedAt is the time of the last activity on this entry.
	UpdatedAt time.Time
}

// NewPending returns a fresh entry for which resolution has just started.
func NewPending(domain DomainID, intf InterfaceID, addr netip.Addr, now time.Time) Entry {
	return Entry{
		Domain:    domain,
		Addr:      addr,
		Interface: intf,
		State:     StatePending,
		Origin:    OriginResolved,
		Retries:   1,
		UpdatedAt: now,
	}
}

// NewStatic returns a configured entry, which is reachable from the start.
func NewStatic(domain DomainID, intf InterfaceID, addr netip.Addr, mac MAC, port PortID, now time.Time) Entry {
	return NewPending(domain, intf, addr, now).Confirm(mac, port, OriginStatic, now)
}

// Key returns the key of this entry.
func (m Entry) Key() Key {
	return Key{Domain: m.Domain, Addr: m.Addr}
}

// Family returns the address family of this entry.
func (m Entry) Family() Family {
	return FamilyOf(m.Addr)
}

// Programmable reports whether this entry must be present in hardware.
func (m Entry) Programmable() bool {
	return m.State.Programmable()
}

// Exhausted reports whether the current PENDING or PROBE cycle ran out of
// retries.
func (m Entry) Exhausted(maxRetries int) bool {
	return m.State.Retrying() && m.Retries >= maxRetries
}

// Moved reports whether the given binding differs from the one recorded.
func (m Entry) Moved(mac MAC, port PortID) bool {
	return m.MAC != mac || m.Port != port
}

// Confirm records a verified binding and makes the entry REACHABLE.
//
// The origin is only taken into account when the entry leaves PENDING; an
// already resolved entry keeps the origin it was resolved with.
func (m Entry) Confirm(mac MAC, port PortID, origin Origin, now time.Time) Entry {
	if m.State == StatePending {
		m.Origin = origin
	}

	m = m.moveTo(StateReachable)
	m.MAC = mac
	m.Port = port
	m.Retries = 0
	m.UpdatedAt = now
	return m
}

// Stale marks a REACHABLE entry as unconfirmed.
func (m Entry) Stale(now time.Time) Entry {
	if m.State != StateReachable {
		panic(fmt.Sprintf("neigh: %s: cannot go stale from %s", m.Key(), m.State))
	}

	m = m.moveTo(StateStale)
	m.UpdatedAt = now
	return m
}

// Probe starts unicast re-verification of a STALE entry.
func (m Entry) Probe(now time.Time) Entry {
	m = m.moveTo(StateProbe)
	m.Retries = 1
	m.UpdatedAt = now
	return m
}

// Retry accounts one more request of the current PENDING or PROBE cycle.
func (m Entry) Retry(now time.Time) Entry {
	if !m.State.Retrying() {
		panic(fmt.Sprintf("neigh: %s: cannot retry in %s", m.Key(), m.State))
	}

	m.Retries++
	m.UpdatedAt = now
	return m
}

// Expire moves the entry to the terminal state.
func (m Entry) Expire(now time.Time) Entry {
	m = m.moveTo(StateExpired)
	m.UpdatedAt = now
	return m
}

func (m Entry) moveTo(to State) Entry {
	if !m.State.CanTransition(to) {
		panic(fmt.Sprintf("neigh: %s: illegal transition %s -> %s", m.Key(), m.State, to))
	}

	m.State = to
	return m
}

func (m Entry) String() string {
	return fmt.Sprintf("%s %s %s port %d (%s, gen %d)", m.Key(), m.MAC, m.State, m.Port, m.Origin, m.Generation)
}
