// Package proto defines the wire adapter contract shared by the ARP and NDP
// codecs.
package proto

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"

	"github.com/yanet-platform/neighd/modules/neigh/internal/neigh"
)

var (
	// ErrMalformed is returned when a frame cannot be decoded as a
	// neighbour message.
	ErrMalformed = errors.New("malformed frame")
	// ErrUnsupported is returned for well-formed frames which carry no
	// neighbour message, for example other ICMPv6 types.
	ErrUnsupported = errors.New("unsupported message")
)

// Op is a neighbour message operation.
type Op uint8

const (
	OpRequest Op = iota + 1
	OpReply
)

func (m Op) String() string {
	switch m {
	case OpRequest:
		return "request"
	case OpReply:
		return "reply"
	default:
		return "unknown"
	}
}

// Message is a decoded neighbour message.
type Message struct {
	Op Op
	// SenderAddr is the protocol address of the sender. It may be
	// unspecified for ARP probes and duplicate address detection.
	SenderAddr netip.Addr
	// SenderMAC is the link-layer address the sender advertises for
	// SenderAddr.
	SenderMAC neigh.MAC
	// TargetAddr is the protocol address being resolved or advertised.
	TargetAddr netip.Addr
	// Unicast is set when the frame was addressed to a unicast MAC.
	Unicast bool
}

// Adapter translates neighbour messages of a single family to and from
// Ethernet frames.
type Adapter interface {
	// Family returns the address family served.
	Family() neigh.Family
	// EtherType returns the EtherType of frames carrying this protocol.
	EtherType() layers.EthernetType
	// EncodeRequest builds a request resolving target. A zero dst means the
	// family broadcast address.
	EncodeRequest(target netip.Addr, senderMAC neigh.MAC, senderAddr netip.Addr, dst neigh.MAC) ([]byte, error)
	// EncodeReply builds a reply advertising senderAddr at senderMAC.
	EncodeReply(senderMAC neigh.MAC, senderAddr netip.Addr, targetMAC neigh.MAC, targetAddr netip.Addr) ([]byte, error)
	// Decode parses a frame. Errors wrap ErrMalformed or ErrUnsupported.
	Decode(frame []byte) (Message, error)
}

// Serialize serializes the given layers into a frame, fixing lengths and
// computing checksums.
func Serialize(lyrs ...gopacket.SerializableLayer) ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{
		FixLengths:       true,
		ComputeChecksums: true,
	}

	if err := gopacket.SerializeLayers(buf, opts, lyrs...); err != nil {
		return nil, fmt.Errorf("failed to serialize layers: %w", err)
	}

	return buf.Bytes(), nil
}

// DecodeEthernet decodes the Ethernet header of the given frame, skipping a
// single 802.1Q tag if present.
//
// It returns the header, the effective EtherType and the payload.
func DecodeEthernet(frame []byte) (*layers.Ethernet, layers.EthernetType, []byte, error) {
	eth := &layers.Ethernet{}
	if err := eth.DecodeFromBytes(frame, gopacket.NilDecodeFeedback); err != nil {
		return nil, 0, nil, fmt.Errorf("%w: ethernet: %v", ErrMalformed, err)
	}

	etherType, payload := eth.EthernetType, eth.Payload
	if etherType == layers.EthernetTypeDot1Q {
		tag := layers.Dot1Q{}
		if err := tag.DecodeFromBytes(payload, gopacket.NilDecodeFeedback); err != nil {
			return nil, 0, nil, fmt.Errorf("%w: 802.1q: %v", ErrMalformed, err)
		}
		etherType, payload = tag.Type, tag.Payload
	}

	return eth, etherType, payload, nil
}

// IsUnicast reports whether the given link-layer address is an individual
// address.
func IsUnicast(mac []byte) bool {
	return len(mac) > 0 && mac[0]&0x01 == 0
}
