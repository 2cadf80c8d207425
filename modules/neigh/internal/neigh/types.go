package neigh

import (
	"fmt"
	"net"
	"net/netip"
)

// DomainID identifies a broadcast domain, which is a VLAN on this switch.
type DomainID uint16

// InterfaceID identifies a routed interface.
type InterfaceID uint32

// PortID identifies a switch port.
//
// On Linux-backed platforms this is the port netdev ifindex.
type PortID uint32

// Family is an address family of a neighbour table.
type Family uint8

const (
	FamilyIPv4 Family = iota + 1
	FamilyIPv6
)

// FamilyOf returns the family of the given address.
//
// IPv4-mapped IPv6 addresses are treated as IPv6.
func FamilyOf(addr netip.Addr) Family {
	if addr.Is4() {
		return FamilyIPv4
	}
	if addr.Is6() {
		return FamilyIPv6
	}
	return 0
}

// String returns string representation of this family.
func (m Family) String() string {
	switch m {
	case FamilyIPv4:
		return "ipv4"
	case FamilyIPv6:
		return "ipv6"
	default:
		return "unknown"
	}
}

// MAC is an EUI-48 hardware address.
//
// Unlike net.HardwareAddr it is a comparable value type, so entries holding
// it can be shared between table versions without copying.
type MAC [6]byte

// BroadcastMAC is the all-ones link-layer address.
var BroadcastMAC = MAC{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// ParseMAC parses an EUI-48 address in any format accepted by net.ParseMAC.
func ParseMAC(s string) (MAC, error) {
	hw, err := net.ParseMAC(s)
	if err != nil {
		return MAC{}, err
	}

	mac, ok := MACFromSlice(hw)
	if !ok {
		return MAC{}, fmt.Errorf("unsupported MAC address %q: must be EUI-48", s)
	}

	return mac, nil
}

// MACFromSlice converts the given slice into a MAC if it is exactly 6
// bytes long.
func MACFromSlice(b []byte) (MAC, bool) {
	if len(b) != 6 {
		return MAC{}, false
	}

	return MAC(b), true
}

// IsZero reports whether this is the all-zeros address.
func (m MAC) IsZero() bool {
	return m == MAC{}
}

// HardwareAddr returns a freshly allocated net.HardwareAddr copy.
func (m MAC) HardwareAddr() net.HardwareAddr {
	hw := make(net.HardwareAddr, len(m))
	copy(hw, m[:])
	return hw
}

func (m MAC) String() string {
	return net.HardwareAddr(m[:]).String()
}

// MarshalText implements encoding.TextMarshaler.
func (m MAC) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *MAC) UnmarshalText(text []byte) error {
	mac, err := ParseMAC(string(text))
	if err != nil {
		return err
	}

	*m = mac
	return nil
}
