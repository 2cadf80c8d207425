package neighd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/yanet-platform/neighd/common/go/logging"
	neighbour "github.com/yanet-platform/neighd/modules/neigh/controlplane"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "neighd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
neigh:
  endpoint: /run/neighd/neighd.sock
  domains:
    - vlan: 10
      interface: vlan10
      ports: ["swp*"]
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, zapcore.DebugLevel, cfg.Logging.Level)
	assert.Equal(t, logging.EncodingConsole, cfg.Logging.Encoding)
	assert.Equal(t, "/run/neighd/neighd.sock", cfg.Neigh.Endpoint)
	// Unset keys keep their defaults.
	assert.Equal(t, neighbour.DefaultConfig().MetricsEndpoint, cfg.Neigh.MetricsEndpoint)
	assert.Equal(t, neighbour.BackendSim, cfg.Neigh.Hardware.Backend)
	require.Len(t, cfg.Neigh.Domains, 1)
	assert.EqualValues(t, 10, cfg.Neigh.Domains[0].VLAN)
	assert.True(t, cfg.Neigh.Domains[0].HasPort("swp7"))
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "unknown log encoding",
			content: "logging: {encoding: xml}\n",
		},
		{
			name:    "missing module",
			content: "neigh: null\n",
		},
		{
			name:    "invalid module",
			content: "neigh: {domains: [{vlan: 0, interface: vlan0}]}\n",
		},
		{
			name:    "malformed yaml",
			content: "neigh: [\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			require.Error(t, err)
		})
	}
}

func TestLoadConfig_NoFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestVersion(t *testing.T) {
	assert.Equal(t, "dev", Version())
}
