package xnetip

import (
	"encoding/binary"
	"net/netip"
)

// LastAddr returns the last address of the given prefix, which is the
// directed broadcast address for IPv4 subnets.
//
// The prefix is expected to be masked.
func LastAddr(prefix netip.Prefix) netip.Addr {
	bits := prefix.Bits()

	if prefix.Addr().Is4() {
		b := prefix.Addr().As4()
		host := uint32(1<<(32-bits) - 1)
		binary.BigEndian.PutUint32(b[:], binary.BigEndian.Uint32(b[:])|host)
		return netip.AddrFrom4(b)
	}

	b := prefix.Addr().As16()
	hi := binary.BigEndian.Uint64(b[:8])
	lo := binary.BigEndian.Uint64(b[8:])
	if bits < 64 {
		hi |= 1<<(64-bits) - 1
		lo = ^uint64(0)
	} else {
		lo |= 1<<(128-bits) - 1
	}
	binary.BigEndian.PutUint64(b[:8], hi)
	binary.BigEndian.PutUint64(b[8:], lo)
	return netip.AddrFrom16(b)
}

// SolicitedNodeAddr returns the solicited-node multicast address of the
// given IPv6 address, ff02::1:ffXX:XXXX.
func SolicitedNodeAddr(addr netip.Addr) netip.Addr {
	b := addr.As16()
	return netip.AddrFrom16([16]byte{
		0xff, 0x02, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0x01, 0xff, b[13], b[14], b[15],
	})
}

// MulticastMAC returns the Ethernet group address an IPv6 multicast address
// maps to, 33:33 followed by the low 32 bits of the address.
func MulticastMAC(addr netip.Addr) [6]byte {
	b := addr.As16()
	return [6]byte{0x33, 0x33, b[12], b[13], b[14], b[15]}
}
