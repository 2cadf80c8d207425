// Package ndp implements the IPv6 neighbour adapter on top of Neighbor
// Discovery.
package ndp

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"

	"github.com/yanet-platform/neighd/common/go/xnetip"
	"github.com/yanet-platform/neighd/modules/neigh/internal/neigh"
	"github.com/yanet-platform/neighd/modules/neigh/internal/proto"
)

const (
	// hopLimit is the only hop limit valid for Neighbor Discovery messages.
	hopLimit = 255

	flagRouter    = 0x80
	flagSolicited = 0x40
	flagOverride  = 0x20
)

var allNodes = netip.MustParseAddr("ff02::1")

var _ proto.Adapter = Adapter{}

// Adapter is a stateless Neighbor Solicitation and Advertisement codec.
type Adapter struct{}

// New creates a new NDP adapter.
func New() Adapter {
	return Adapter{}
}

func (Adapter) Family() neigh.Family {
	return neigh.FamilyIPv6
}

func (Adapter) EtherType() layers.EthernetType {
	return layers.EthernetTypeIPv6
}

// EncodeRequest builds a Neighbor Solicitation for target.
//
// With a zero dst the solicitation is sent to the solicited-node multicast
// group of the target, otherwise it is a unicast probe.
func (m Adapter) EncodeRequest(target netip.Addr, senderMAC neigh.MAC, senderAddr netip.Addr, dst neigh.MAC) ([]byte, error) {
	if !target.Is6() || !senderAddr.Is6() {
		return nil, fmt.Errorf("neighbor solicitation for %s from %s: both addresses must be IPv6", target, senderAddr)
	}

	ipDst := target
	if dst.IsZero() {
		ipDst = xnetip.SolicitedNodeAddr(target)
		dst = xnetip.MulticastMAC(ipDst)
	}

	ns := &layers.ICMPv6NeighborSolicitation{
		TargetAddress: net.IP(target.AsSlice()),
		Options: layers.ICMPv6Options{
			{Type: layers.ICMPv6OptSourceAddress, Data: senderMAC.HardwareAddr()},
		},
	}

	return m.encode(layers.ICMPv6TypeNeighborSolicitation, senderMAC, dst, senderAddr, ipDst, ns)
}

// EncodeReply builds a solicited Neighbor Advertisement of senderAddr.
//
// A reply to an unspecified target, which is duplicate address detection,
// is sent unsolicited to all nodes.
func (m Adapter) EncodeReply(senderMAC neigh.MAC, senderAddr netip.Addr, targetMAC neigh.MAC, targetAddr netip.Addr) ([]byte, error) {
	if !senderAddr.Is6() {
		return nil, fmt.Errorf("neighbor advertisement of %s: address must be IPv6", senderAddr)
	}

	flags := uint8(flagRouter | flagSolicited | flagOverride)
	if !targetAddr.IsValid() || targetAddr.IsUnspecified() {
		flags = flagRouter | flagOverride
		targetAddr = allNodes
		targetMAC = xnetip.MulticastMAC(allNodes)
	}
	if !targetAddr.Is6() {
		return nil, fmt.Errorf("neighbor advertisement to %s: address must be IPv6", targetAddr)
	}

	na := &layers.ICMPv6NeighborAdvertisement{
		Flags:         flags,
		TargetAddress: net.IP(senderAddr.AsSlice()),
		Options: layers.ICMPv6Options{
			{Type: layers.ICMPv6OptTargetAddress, Data: senderMAC.HardwareAddr()},
		},
	}

	return m.encode(layers.ICMPv6TypeNeighborAdvertisement, senderMAC, targetMAC, senderAddr, targetAddr, na)
}

func (Adapter) encode(
	icmpType uint8,
	ethSrc neigh.MAC,
	ethDst neigh.MAC,
	ipSrc netip.Addr,
	ipDst netip.Addr,
	body gopacket.SerializableLayer,
) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       ethSrc.HardwareAddr(),
		DstMAC:       ethDst.HardwareAddr(),
		EthernetType: layers.EthernetTypeIPv6,
	}
	ip6 := &layers.IPv6{
		Version:    6,
		NextHeader: layers.IPProtocolICMPv6,
		HopLimit:   hopLimit,
		SrcIP:      net.IP(ipSrc.AsSlice()),
		DstIP:      net.IP(ipDst.AsSlice()),
	}
	icmp := &layers.ICMPv6{
		TypeCode: layers.CreateICMPv6TypeCode(icmpType, 0),
	}
	if err := icmp.SetNetworkLayerForChecksum(ip6); err != nil {
		return nil, fmt.Errorf("failed to set checksum network layer: %w", err)
	}

	return proto.Serialize(eth, ip6, icmp, body)
}

// Decode parses an Ethernet frame carrying a Neighbor Solicitation or
// Advertisement.
//
// Other IPv6 traffic is reported as unsupported.
func (Adapter) Decode(frame []byte) (proto.Message, error) {
	eth, etherType, payload, err := proto.DecodeEthernet(frame)
	if err != nil {
		return proto.Message{}, err
	}
	if etherType != layers.EthernetTypeIPv6 {
		return proto.Message{}, fmt.Errorf("%w: ethertype %s", proto.ErrUnsupported, etherType)
	}

	ip6 := layers.IPv6{}
	if err := ip6.DecodeFromBytes(payload, gopacket.NilDecodeFeedback); err != nil {
		return proto.Message{}, fmt.Errorf("%w: ipv6: %v", proto.ErrMalformed, err)
	}
	if ip6.NextHeader != layers.IPProtocolICMPv6 {
		return proto.Message{}, fmt.Errorf("%w: next header %s", proto.ErrUnsupported, ip6.NextHeader)
	}

	icmp := layers.ICMPv6{}
	if err := icmp.DecodeFromBytes(ip6.Payload, gopacket.NilDecodeFeedback); err != nil {
		return proto.Message{}, fmt.Errorf("%w: icmpv6: %v", proto.ErrMalformed, err)
	}

	icmpType := icmp.TypeCode.Type()
	if icmpType != layers.ICMPv6TypeNeighborSolicitation && icmpType != layers.ICMPv6TypeNeighborAdvertisement {
		return proto.Message{}, fmt.Errorf("%w: icmpv6 type %d", proto.ErrUnsupported, icmpType)
	}
	if ip6.HopLimit != hopLimit {
		return proto.Message{}, fmt.Errorf("%w: hop limit %d", proto.ErrMalformed, ip6.HopLimit)
	}
	if icmp.TypeCode.Code() != 0 {
		return proto.Message{}, fmt.Errorf("%w: icmpv6 code %d", proto.ErrMalformed, icmp.TypeCode.Code())
	}
	if err := verifyChecksum(&icmp, &ip6); err != nil {
		return proto.Message{}, err
	}

	ipSrc, ok := netip.AddrFromSlice(ip6.SrcIP)
	if !ok {
		return proto.Message{}, fmt.Errorf("%w: source address %v", proto.ErrMalformed, ip6.SrcIP)
	}
	ipDst, ok := netip.AddrFromSlice(ip6.DstIP)
	if !ok {
		return proto.Message{}, fmt.Errorf("%w: destination address %v", proto.ErrMalformed, ip6.DstIP)
	}

	msg := proto.Message{
		Unicast: proto.IsUnicast(eth.DstMAC),
	}

	switch icmpType {
	case layers.ICMPv6TypeNeighborSolicitation:
		ns := layers.ICMPv6NeighborSolicitation{}
		if err := ns.DecodeFromBytes(icmp.Payload, gopacket.NilDecodeFeedback); err != nil {
			return proto.Message{}, fmt.Errorf("%w: neighbor solicitation: %v", proto.ErrMalformed, err)
		}
		target, err := unicastTarget(ns.TargetAddress)
		if err != nil {
			return proto.Message{}, err
		}
		mac, err := linkLayerOption(ns.Options, layers.ICMPv6OptSourceAddress)
		if err != nil {
			return proto.Message{}, err
		}
		if ipSrc.IsUnspecified() && !mac.IsZero() {
			return proto.Message{}, fmt.Errorf("%w: source link-layer option in duplicate address detection", proto.ErrMalformed)
		}
		if !ipSrc.IsUnspecified() && mac.IsZero() {
			// Unicast solicitations may omit the option.
			mac, _ = neigh.MACFromSlice(eth.SrcMAC)
		}

		msg.Op = proto.OpRequest
		msg.SenderAddr = ipSrc
		msg.SenderMAC = mac
		msg.TargetAddr = target
	case layers.ICMPv6TypeNeighborAdvertisement:
		na := layers.ICMPv6NeighborAdvertisement{}
		if err := na.DecodeFromBytes(icmp.Payload, gopacket.NilDecodeFeedback); err != nil {
			return proto.Message{}, fmt.Errorf("%w: neighbor advertisement: %v", proto.ErrMalformed, err)
		}
		target, err := unicastTarget(na.TargetAddress)
		if err != nil {
			return proto.Message{}, err
		}
		mac, err := linkLayerOption(na.Options, layers.ICMPv6OptTargetAddress)
		if err != nil {
			return proto.Message{}, err
		}
		if mac.IsZero() {
			// Without the option the advertisement comes from the owner.
			mac, _ = neigh.MACFromSlice(eth.SrcMAC)
		}

		msg.Op = proto.OpReply
		msg.SenderAddr = target
		msg.SenderMAC = mac
		msg.TargetAddr = ipDst
	}

	return msg, nil
}

// verifyChecksum checks the ICMPv6 checksum over the IPv6 pseudo-header.
func verifyChecksum(icmp *layers.ICMPv6, ip6 *layers.IPv6) error {
	if err := icmp.SetNetworkLayerForChecksum(ip6); err != nil {
		return fmt.Errorf("%w: icmpv6 checksum: %v", proto.ErrMalformed, err)
	}
	err, result := icmp.VerifyChecksum()
	if err != nil {
		return fmt.Errorf("%w: icmpv6 checksum: %v", proto.ErrMalformed, err)
	}
	if !result.Valid {
		return fmt.Errorf("%w: icmpv6 checksum %#04x, expected %#04x", proto.ErrMalformed, result.Actual, result.Correct)
	}
	return nil
}

func unicastTarget(ip net.IP) (netip.Addr, error) {
	target, ok := netip.AddrFromSlice(ip)
	if !ok || target.IsMulticast() || target.IsUnspecified() {
		return netip.Addr{}, fmt.Errorf("%w: target address %v", proto.ErrMalformed, ip)
	}
	return target, nil
}

// linkLayerOption returns the link-layer address carried by the option of
// the given type, or a zero MAC when the option is absent.
func linkLayerOption(options layers.ICMPv6Options, optType layers.ICMPv6Opt) (neigh.MAC, error) {
	for _, opt := range options {
		if opt.Type != optType {
			continue
		}

		mac, ok := neigh.MACFromSlice(opt.Data)
		if !ok {
			return neigh.MAC{}, fmt.Errorf("%w: link-layer option of %d bytes", proto.ErrMalformed, len(opt.Data))
		}
		return mac, nil
	}

	return neigh.MAC{}, nil
}
