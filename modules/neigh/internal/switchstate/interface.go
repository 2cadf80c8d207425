package switchstate

import (
	"fmt"
	"net/netip"
	"slices"

	"github.com/yanet-platform/neighd/common/go/xnetip"
	"github.com/yanet-platform/neighd/modules/neigh/internal/neigh"
)

// Interface describes the routed interface of a broadcast domain.
type Interface struct {
	// VLAN is the broadcast domain identifier.
	VLAN neigh.DomainID
	// ID is the routed interface identifier.
	ID neigh.InterfaceID
	// Name is the L3 netdev name, for example "vlan10".
	Name string
	// MAC is the router MAC used as a sender address.
	MAC neigh.MAC
	// Prefixes are the addresses owned by this interface together with
	// their on-link prefix lengths.
	Prefixes []netip.Prefix
	// Port is the L3 port. Flooded requests are transmitted through it.
	Port neigh.PortID
	// Ports are the member ports of the domain.
	Ports []neigh.PortID
}

func (m Interface) String() string {
	return fmt.Sprintf("%s(vlan%d)", m.Name, m.VLAN)
}

// Owns reports whether the given address is one of the interface addresses.
func (m Interface) Owns(addr netip.Addr) bool {
	for _, prefix := range m.Prefixes {
		if prefix.Addr() == addr {
			return true
		}
	}
	return false
}

// OnLink reports whether the given address belongs to one of the on-link
// prefixes.
func (m Interface) OnLink(addr netip.Addr) bool {
	for _, prefix := range m.Prefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// IsBroadcast reports whether the given address is the directed broadcast
// address of one of the IPv4 prefixes.
func (m Interface) IsBroadcast(addr netip.Addr) bool {
	if !addr.Is4() {
		return false
	}

	for _, prefix := range m.Prefixes {
		if !prefix.Addr().Is4() || prefix.Bits() >= 31 {
			continue
		}
		if xnetip.LastAddr(prefix.Masked()) == addr {
			return true
		}
	}
	return false
}

// HasPort reports whether the given port is either the L3 port or a member
// port of this domain.
func (m Interface) HasPort(port neigh.PortID) bool {
	return port == m.Port || slices.Contains(m.Ports, port)
}

// SourceAddr returns the interface address to use as a sender when
// resolving the given target.
//
// The address of the prefix containing the target is preferred, then any
// address of the same family.
func (m Interface) SourceAddr(target netip.Addr) (netip.Addr, bool) {
	fallback := netip.Addr{}
	for _, prefix := range m.Prefixes {
		if prefix.Contains(target) {
			return prefix.Addr(), true
		}
		if !fallback.IsValid() && prefix.Addr().BitLen() == target.BitLen() {
			fallback = prefix.Addr()
		}
	}

	return fallback, fallback.IsValid()
}

// Equal reports whether both interfaces are described identically.
func (m Interface) Equal(other Interface) bool {
	return m.VLAN == other.VLAN &&
		m.ID == other.ID &&
		m.Name == other.Name &&
		m.MAC == other.MAC &&
		m.Port == other.Port &&
		slices.Equal(m.Prefixes, other.Prefixes) &&
		slices.Equal(m.Ports, other.Ports)
}
