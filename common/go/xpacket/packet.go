// Package xpacket contains helpers for crafting and parsing frames in
// tests.
package xpacket

import (
	"testing"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/stretchr/testify/require"
)

// minFrameLen is the minimum Ethernet frame length without FCS.
const minFrameLen = 60

// LayersToPacket serializes the given layers, fixing lengths and
// checksums, and parses the result back as an Ethernet frame.
//
// The test fails if the frame does not decode cleanly.
func LayersToPacket(t *testing.T, lyrs ...gopacket.SerializableLayer) gopacket.Packet {
	t.Helper()

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{
		FixLengths:       true,
		ComputeChecksums: true,
	}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, lyrs...))

	pkt := gopacket.NewPacket(buf.Bytes(), layers.LayerTypeEthernet, gopacket.Default)
	require.Nil(t, pkt.ErrorLayer(), "%#+v", lyrs)
	return pkt
}

// ParseEtherPacket parses an Ethernet frame as received from a port.
//
// Short frames are zero padded up to the minimum frame size first, as a
// NIC would do on transmit.
func ParseEtherPacket(data []byte) gopacket.Packet {
	// See github.com/gopacket/gopacket@v1.3.1/layers/ethernet.go#L95.
	if len(data) < minFrameLen {
		padded := make([]byte, minFrameLen)
		copy(padded, data)
		data = padded
	}

	return gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.Default)
}
