// Package arp implements the IPv4 neighbour adapter on top of ARP.
package arp

import (
	"fmt"
	"net/netip"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"

	"github.com/yanet-platform/neighd/modules/neigh/internal/neigh"
	"github.com/yanet-platform/neighd/modules/neigh/internal/proto"
)

var _ proto.Adapter = Adapter{}

// Adapter is a stateless ARP codec for Ethernet and IPv4.
type Adapter struct{}

// New creates a new ARP adapter.
func New() Adapter {
	return Adapter{}
}

func (Adapter) Family() neigh.Family {
	return neigh.FamilyIPv4
}

func (Adapter) EtherType() layers.EthernetType {
	return layers.EthernetTypeARP
}

// EncodeRequest builds an ARP request for target.
//
// The target hardware address is left zero, the Ethernet destination is
// either dst for unicast probes or broadcast.
func (m Adapter) EncodeRequest(target netip.Addr, senderMAC neigh.MAC, senderAddr netip.Addr, dst neigh.MAC) ([]byte, error) {
	if !target.Is4() || !senderAddr.Is4() {
		return nil, fmt.Errorf("ARP request for %s from %s: both addresses must be IPv4", target, senderAddr)
	}

	if dst.IsZero() {
		dst = neigh.BroadcastMAC
	}

	return m.encode(layers.ARPRequest, senderMAC, senderAddr, dst, neigh.MAC{}, target)
}

// EncodeReply builds an ARP reply telling targetMAC that senderAddr is at
// senderMAC.
func (m Adapter) EncodeReply(senderMAC neigh.MAC, senderAddr netip.Addr, targetMAC neigh.MAC, targetAddr netip.Addr) ([]byte, error) {
	if !senderAddr.Is4() || !targetAddr.Is4() {
		return nil, fmt.Errorf("ARP reply to %s from %s: both addresses must be IPv4", targetAddr, senderAddr)
	}

	return m.encode(layers.ARPReply, senderMAC, senderAddr, targetMAC, targetMAC, targetAddr)
}

func (Adapter) encode(
	op uint16,
	senderMAC neigh.MAC,
	senderAddr netip.Addr,
	ethDst neigh.MAC,
	targetMAC neigh.MAC,
	targetAddr netip.Addr,
) ([]byte, error) {
	senderIP := senderAddr.As4()
	targetIP := targetAddr.As4()

	eth := &layers.Ethernet{
		SrcMAC:       senderMAC.HardwareAddr(),
		DstMAC:       ethDst.HardwareAddr(),
		EthernetType: layers.EthernetTypeARP,
	}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         op,
		SourceHwAddress:   senderMAC[:],
		SourceProtAddress: senderIP[:],
		DstHwAddress:      targetMAC[:],
		DstProtAddress:    targetIP[:],
	}

	return proto.Serialize(eth, arp)
}

// Decode parses an Ethernet frame carrying an ARP request or reply.
func (Adapter) Decode(frame []byte) (proto.Message, error) {
	eth, etherType, payload, err := proto.DecodeEthernet(frame)
	if err != nil {
		return proto.Message{}, err
	}
	if etherType != layers.EthernetTypeARP {
		return proto.Message{}, fmt.Errorf("%w: ethertype %s", proto.ErrUnsupported, etherType)
	}

	if len(payload) < 8 || len(payload) < 8+2*int(payload[4])+2*int(payload[5]) {
		return proto.Message{}, fmt.Errorf("%w: arp: truncated to %d bytes", proto.ErrMalformed, len(payload))
	}

	arp := layers.ARP{}
	if err := arp.DecodeFromBytes(payload, gopacket.NilDecodeFeedback); err != nil {
		return proto.Message{}, fmt.Errorf("%w: arp: %v", proto.ErrMalformed, err)
	}

	if arp.AddrType != layers.LinkTypeEthernet {
		return proto.Message{}, fmt.Errorf("%w: arp: hardware type %d", proto.ErrMalformed, arp.AddrType)
	}
	if arp.Protocol != layers.EthernetTypeIPv4 {
		return proto.Message{}, fmt.Errorf("%w: arp: protocol type %s", proto.ErrMalformed, arp.Protocol)
	}
	if arp.HwAddressSize != 6 || arp.ProtAddressSize != 4 {
		return proto.Message{}, fmt.Errorf("%w: arp: address sizes %d/%d", proto.ErrMalformed, arp.HwAddressSize, arp.ProtAddressSize)
	}

	msg := proto.Message{
		Unicast: proto.IsUnicast(eth.DstMAC),
	}
	switch arp.Operation {
	case layers.ARPRequest:
		msg.Op = proto.OpRequest
	case layers.ARPReply:
		msg.Op = proto.OpReply
	default:
		return proto.Message{}, fmt.Errorf("%w: arp: opcode %d", proto.ErrMalformed, arp.Operation)
	}

	msg.SenderMAC = neigh.MAC(arp.SourceHwAddress)
	msg.SenderAddr = netip.AddrFrom4([4]byte(arp.SourceProtAddress))
	msg.TargetAddr = netip.AddrFrom4([4]byte(arp.DstProtAddress))

	return msg, nil
}
