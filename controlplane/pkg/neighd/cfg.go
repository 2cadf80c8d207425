package neighd

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/yanet-platform/neighd/common/go/logging"
	neighbour "github.com/yanet-platform/neighd/modules/neigh/controlplane"
)

type Config config
type config struct {
	// Logging configuration.
	Logging logging.Config `yaml:"logging"`
	// Neigh is the configuration of the neighbour resolution module.
	Neigh *neighbour.Config `yaml:"neigh"`
}

// DefaultConfig returns the default daemon configuration.
func DefaultConfig() *Config {
	return &Config{
		Logging: logging.DefaultConfig(),
		Neigh:   neighbour.DefaultConfig(),
	}
}

// LoadConfig loads the configuration from the given path.
func LoadConfig(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(buf, cfg); err != nil {
		return nil, fmt.Errorf("failed to deserialize config: %w", err)
	}

	return cfg, nil
}

// UnmarshalYAML serves as a proxy for validation.
//
// To avoid infinite recursion, the validating wrapper casts itself to the
// private config struct. This allows the decoder to operate on it using the
// default behavior for handling Go structs without an unmarshal method.
func (m *Config) UnmarshalYAML(value *yaml.Node) error {
	err := value.Decode((*config)(m))
	if err != nil {
		return err
	}
	return m.Validate()
}

// Validate validates the daemon configuration.
func (m *Config) Validate() error {
	if err := m.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if m.Neigh == nil {
		return errors.New("neigh module is not configured")
	}
	return nil
}
