package neighbour

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/yanet-platform/neighd/modules/neigh/internal/engine"
	"github.com/yanet-platform/neighd/modules/neigh/internal/neigh"
)

const testConfigYAML = `
endpoint: "[::1]:50061"
hardware:
  backend: kernel
packet_io:
  frame_size: 2KB
  block_size: 64KB
defaults:
  max_retries: 5
  retry_interval: 500ms
domains:
  - vlan: 10
    interface: vlan10
    addresses: ["10.0.0.1/24", "fd00::1/64"]
    ports: ["swp1", "swp2*"]
    static:
      - {addr: 10.0.0.100, mac: "aa:bb:cc:00:00:01", port: swp1}
  - vlan: 20
    interface: vlan20
    interface_id: 200
    mac: "02:00:00:00:00:14"
    ports: ["swp3"]
    neigh:
      passive_learning: true
      reachable_time: 1m
`

func TestConfig_Load(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, yaml.Unmarshal([]byte(testConfigYAML), cfg))

	assert.Equal(t, BackendKernel, cfg.Hardware.Backend)
	assert.Equal(t, 5*time.Second, cfg.Hardware.OpTimeout)
	assert.Equal(t, "2KB", cfg.PacketIO.FrameSize.String())
	assert.Equal(t, 8, cfg.PacketIO.NumBlocks)
	require.Len(t, cfg.Domains, 2)

	vlan10 := &cfg.Domains[0]
	assert.Equal(t, neigh.DomainID(10), vlan10.VLAN)
	assert.Equal(t, []netip.Prefix{
		netip.MustParsePrefix("10.0.0.1/24"),
		netip.MustParsePrefix("fd00::1/64"),
	}, vlan10.Addresses)
	assert.True(t, vlan10.HasPort("swp1"))
	assert.True(t, vlan10.HasPort("swp21"))
	assert.False(t, vlan10.HasPort("swp3"))
	assert.Equal(t, []StaticEntry{{
		Addr: netip.MustParseAddr("10.0.0.100"),
		MAC:  neigh.MAC{0xaa, 0xbb, 0xcc, 0, 0, 0x01},
		Port: "swp1",
	}}, vlan10.Static)

	// Domains without overrides inherit the defaults.
	expected := engine.DefaultConfig()
	expected.MaxRetries = 5
	expected.RetryInterval = 500 * time.Millisecond
	assert.Equal(t, expected, vlan10.Engine())

	vlan20 := &cfg.Domains[1]
	assert.Equal(t, neigh.InterfaceID(200), vlan20.InterfaceID)
	assert.Equal(t, neigh.MAC{0x02, 0, 0, 0, 0, 0x14}, vlan20.MAC)

	expected.PassiveLearning = true
	expected.ReachableTime = time.Minute
	assert.Equal(t, expected, vlan20.Engine())
}

func TestConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "duplicate vlan",
			yaml: `
domains:
  - {vlan: 10, interface: vlan10}
  - {vlan: 10, interface: vlan11}
`,
		},
		{
			name: "shared interface",
			yaml: `
domains:
  - {vlan: 10, interface: vlan10}
  - {vlan: 11, interface: vlan10}
`,
		},
		{
			name: "vlan out of range",
			yaml: `
domains:
  - {vlan: 4095, interface: vlan4095}
`,
		},
		{
			name: "malformed address",
			yaml: `
domains:
  - {vlan: 10, interface: vlan10, addresses: ["10.0.0.1"]}
`,
		},
		{
			name: "malformed mac",
			yaml: `
domains:
  - {vlan: 10, interface: vlan10, mac: "02:00:00"}
`,
		},
		{
			name: "malformed glob",
			yaml: `
domains:
  - {vlan: 10, interface: vlan10, ports: ["swp[1"]}
`,
		},
		{
			name: "static on foreign port",
			yaml: `
domains:
  - vlan: 10
    interface: vlan10
    ports: [swp1]
    static:
      - {addr: 10.0.0.100, mac: "aa:bb:cc:00:00:01", port: swp9}
`,
		},
		{
			name: "zero retries override",
			yaml: `
domains:
  - {vlan: 10, interface: vlan10, neigh: {max_retries: 0}}
`,
		},
		{
			name: "non-positive interval",
			yaml: `
defaults:
  retry_interval: 0s
`,
		},
		{
			name: "unknown backend",
			yaml: `
hardware:
  backend: asic
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			require.Error(t, yaml.Unmarshal([]byte(tt.yaml), cfg))
		})
	}
}

func TestPortPattern(t *testing.T) {
	pattern := MustPortPattern("swp{1,2}*")

	assert.True(t, pattern.Match("swp1"))
	assert.True(t, pattern.Match("swp20"))
	assert.False(t, pattern.Match("swp3"))
	assert.Equal(t, "swp{1,2}*", pattern.String())

	text, err := pattern.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "swp{1,2}*", string(text))

	assert.Panics(t, func() { MustPortPattern("swp[") })
}
