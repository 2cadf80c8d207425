package arp

import (
	"net"
	"net/netip"
	"testing"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yanet-platform/neighd/common/go/xpacket"
	"github.com/yanet-platform/neighd/modules/neigh/internal/neigh"
	"github.com/yanet-platform/neighd/modules/neigh/internal/proto"
)

var (
	routerMAC  = neigh.MAC{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	routerAddr = netip.MustParseAddr("10.0.0.1")
	hostMAC    = neigh.MAC{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}
	hostAddr   = netip.MustParseAddr("10.0.0.5")
)

func TestEncodeRequest_Broadcast(t *testing.T) {
	frame, err := New().EncodeRequest(hostAddr, routerMAC, routerAddr, neigh.MAC{})
	require.NoError(t, err)

	pkt := xpacket.ParseEtherPacket(frame)
	eth := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	assert.Equal(t, net.HardwareAddr(neigh.BroadcastMAC[:]), eth.DstMAC)
	assert.Equal(t, routerMAC.HardwareAddr(), eth.SrcMAC)

	arp := pkt.Layer(layers.LayerTypeARP).(*layers.ARP)
	assert.Equal(t, layers.LinkTypeEthernet, arp.AddrType)
	assert.Equal(t, layers.EthernetTypeIPv4, arp.Protocol)
	assert.Equal(t, uint8(6), arp.HwAddressSize)
	assert.Equal(t, uint8(4), arp.ProtAddressSize)
	assert.Equal(t, uint16(layers.ARPRequest), arp.Operation)
	assert.Equal(t, routerAddr.AsSlice(), arp.SourceProtAddress)
	assert.Equal(t, hostAddr.AsSlice(), arp.DstProtAddress)

	msg, err := New().Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, proto.Message{
		Op:         proto.OpRequest,
		SenderAddr: routerAddr,
		SenderMAC:  routerMAC,
		TargetAddr: hostAddr,
		Unicast:    false,
	}, msg)
}

func TestEncodeRequest_UnicastProbe(t *testing.T) {
	frame, err := New().EncodeRequest(hostAddr, routerMAC, routerAddr, hostMAC)
	require.NoError(t, err)

	msg, err := New().Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, proto.OpRequest, msg.Op)
	assert.True(t, msg.Unicast)

	eth := xpacket.ParseEtherPacket(frame).Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	assert.Equal(t, hostMAC.HardwareAddr(), eth.DstMAC)
}

func TestEncodeReply(t *testing.T) {
	frame, err := New().EncodeReply(routerMAC, routerAddr, hostMAC, hostAddr)
	require.NoError(t, err)

	msg, err := New().Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, proto.Message{
		Op:         proto.OpReply,
		SenderAddr: routerAddr,
		SenderMAC:  routerMAC,
		TargetAddr: hostAddr,
		Unicast:    true,
	}, msg)
}

func TestEncode_WrongFamily(t *testing.T) {
	_, err := New().EncodeRequest(netip.MustParseAddr("fd00::5"), routerMAC, routerAddr, neigh.MAC{})
	require.Error(t, err)

	_, err = New().EncodeReply(routerMAC, netip.MustParseAddr("fd00::1"), hostMAC, hostAddr)
	require.Error(t, err)
}

func TestDecode_Tagged(t *testing.T) {
	pkt := xpacket.LayersToPacket(t,
		&layers.Ethernet{
			SrcMAC:       hostMAC.HardwareAddr(),
			DstMAC:       routerMAC.HardwareAddr(),
			EthernetType: layers.EthernetTypeDot1Q,
		},
		&layers.Dot1Q{
			VLANIdentifier: 10,
			Type:           layers.EthernetTypeARP,
		},
		hostARP(layers.ARPReply),
	)

	msg, err := New().Decode(pkt.Data())
	require.NoError(t, err)
	assert.Equal(t, proto.OpReply, msg.Op)
	assert.Equal(t, hostAddr, msg.SenderAddr)
	assert.Equal(t, hostMAC, msg.SenderMAC)
	assert.Equal(t, routerAddr, msg.TargetAddr)
}

func TestDecode_Malformed(t *testing.T) {
	valid, err := New().EncodeReply(hostMAC, hostAddr, routerMAC, routerAddr)
	require.NoError(t, err)

	tests := []struct {
		name  string
		frame func() []byte
	}{
		{
			name:  "truncated ethernet",
			frame: func() []byte { return valid[:10] },
		},
		{
			name:  "truncated arp",
			frame: func() []byte { return valid[:14+12] },
		},
		{
			name: "hardware type",
			frame: func() []byte {
				arp := hostARP(layers.ARPRequest)
				arp.AddrType = layers.LinkTypeIEEE802_11
				return serialize(t, arp)
			},
		},
		{
			name: "protocol type",
			frame: func() []byte {
				arp := hostARP(layers.ARPRequest)
				arp.Protocol = layers.EthernetTypeIPv6
				return serialize(t, arp)
			},
		},
		{
			name: "hardware address size",
			frame: func() []byte {
				arp := hostARP(layers.ARPRequest)
				arp.HwAddressSize = 8
				arp.SourceHwAddress = append(arp.SourceHwAddress, 0, 0)
				arp.DstHwAddress = append(arp.DstHwAddress, 0, 0)
				return serialize(t, arp)
			},
		},
		{
			name: "opcode",
			frame: func() []byte {
				return serialize(t, hostARP(3))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New().Decode(tt.frame())
			require.ErrorIs(t, err, proto.ErrMalformed)
		})
	}
}

func TestDecode_Unsupported(t *testing.T) {
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    hostAddr.AsSlice(),
		DstIP:    routerAddr.AsSlice(),
	}
	udp := &layers.UDP{SrcPort: 1, DstPort: 2}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

	pkt := xpacket.LayersToPacket(t,
		&layers.Ethernet{
			SrcMAC:       hostMAC.HardwareAddr(),
			DstMAC:       routerMAC.HardwareAddr(),
			EthernetType: layers.EthernetTypeIPv4,
		},
		ip,
		udp,
		gopacket.Payload([]byte("ping")),
	)

	_, err := New().Decode(pkt.Data())
	require.ErrorIs(t, err, proto.ErrUnsupported)
}

func hostARP(op uint16) *layers.ARP {
	return &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         op,
		SourceHwAddress:   hostMAC.HardwareAddr(),
		SourceProtAddress: hostAddr.AsSlice(),
		DstHwAddress:      routerMAC.HardwareAddr(),
		DstProtAddress:    routerAddr.AsSlice(),
	}
}

// serialize builds a frame without decoding it back, since gopacket itself
// refuses some of the frames under test.
func serialize(t *testing.T, arp *layers.ARP) []byte {
	t.Helper()

	buf := gopacket.NewSerializeBuffer()
	eth := &layers.Ethernet{
		SrcMAC:       hostMAC.HardwareAddr(),
		DstMAC:       routerMAC.HardwareAddr(),
		EthernetType: layers.EthernetTypeARP,
	}
	require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, eth, arp))
	return buf.Bytes()
}
