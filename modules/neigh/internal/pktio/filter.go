package pktio

import (
	"github.com/gopacket/gopacket/layers"
	"golang.org/x/net/bpf"
)

const (
	ethTypeOffset  = 12
	dot1QLen       = 4
	ipv6NextHeader = 14 + 6
	icmpv6Type     = 14 + 40

	acceptLen = 0x40000
)

// NeighbourFilter accepts ARP frames and IPv6 Neighbor Solicitations and
// Advertisements, either untagged or with a single 802.1Q tag.
//
// Extension headers are not walked: Neighbor Discovery messages never
// carry them.
func NeighbourFilter() []bpf.Instruction {
	return []bpf.Instruction{
		/* 0 */ bpf.LoadAbsolute{Off: ethTypeOffset, Size: 2},
		/* 1 */ bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(layers.EthernetTypeDot1Q), SkipTrue: 7},
		/* 2 */ bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(layers.EthernetTypeARP), SkipTrue: 15},
		/* 3 */ bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(layers.EthernetTypeIPv6), SkipFalse: 13},
		/* 4 */ bpf.LoadAbsolute{Off: ipv6NextHeader, Size: 1},
		/* 5 */ bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(layers.IPProtocolICMPv6), SkipFalse: 11},
		/* 6 */ bpf.LoadAbsolute{Off: icmpv6Type, Size: 1},
		/* 7 */ bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(layers.ICMPv6TypeNeighborSolicitation), SkipTrue: 10},
		/* 8 */ bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(layers.ICMPv6TypeNeighborAdvertisement), SkipTrue: 9, SkipFalse: 8},
		/* 9 */ bpf.LoadAbsolute{Off: ethTypeOffset + dot1QLen, Size: 2},
		/* 10 */ bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(layers.EthernetTypeARP), SkipTrue: 7},
		/* 11 */ bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(layers.EthernetTypeIPv6), SkipFalse: 5},
		/* 12 */ bpf.LoadAbsolute{Off: ipv6NextHeader + dot1QLen, Size: 1},
		/* 13 */ bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(layers.IPProtocolICMPv6), SkipFalse: 3},
		/* 14 */ bpf.LoadAbsolute{Off: icmpv6Type + dot1QLen, Size: 1},
		/* 15 */ bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(layers.ICMPv6TypeNeighborSolicitation), SkipTrue: 2},
		/* 16 */ bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(layers.ICMPv6TypeNeighborAdvertisement), SkipTrue: 1},
		/* 17 */ bpf.RetConstant{Val: 0},
		/* 18 */ bpf.RetConstant{Val: acceptLen},
	}
}

// DropFilter rejects every frame. It is attached to transmit-only ports so
// their receive ring never fills up.
func DropFilter() []bpf.Instruction {
	return []bpf.Instruction{
		bpf.RetConstant{Val: 0},
	}
}
