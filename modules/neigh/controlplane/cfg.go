package neighbour

import (
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"

	"github.com/yanet-platform/neighd/modules/neigh/internal/engine"
	"github.com/yanet-platform/neighd/modules/neigh/internal/neigh"
	"github.com/yanet-platform/neighd/modules/neigh/internal/pktio"
)

// Backend selects where resolved neighbours are programmed.
type Backend string

const (
	// BackendSim keeps host entries in memory.
	BackendSim Backend = "sim"
	// BackendKernel installs host entries as externally learned kernel
	// neighbours, which switchdev drivers offload.
	BackendKernel Backend = "kernel"
)

type HardwareConfig struct {
	Backend Backend `yaml:"backend"`
	// OpTimeout bounds a single host table operation.
	OpTimeout time.Duration `yaml:"op_timeout"`
}

type Config struct {
	// Endpoint is the gRPC ops service address. Paths starting with "/"
	// are unix sockets.
	Endpoint string `yaml:"endpoint"`
	// MetricsEndpoint is the prometheus scrape address. Empty disables
	// the exporter.
	MetricsEndpoint string         `yaml:"metrics_endpoint"`
	Hardware        HardwareConfig `yaml:"hardware"`
	PacketIO        pktio.Config   `yaml:"packet_io"`
	// Defaults is the engine configuration of domains without overrides.
	Defaults engine.Config  `yaml:"defaults"`
	Domains  []DomainConfig `yaml:"domains"`
}

func DefaultConfig() *Config {
	return &Config{
		Endpoint:        "[::1]:50061",
		MetricsEndpoint: "[::1]:9661",
		Hardware: HardwareConfig{
			Backend:   BackendSim,
			OpTimeout: 5 * time.Second,
		},
		PacketIO: pktio.DefaultConfig(),
		Defaults: engine.DefaultConfig(),
	}
}

// DomainConfig describes a broadcast domain served by the daemon.
type DomainConfig struct {
	VLAN neigh.DomainID `yaml:"vlan"`
	// Interface is the name of the L3 netdev of this domain. The domain is
	// active while this netdev exists.
	Interface string `yaml:"interface"`
	// InterfaceID is the routed interface identifier. Defaults to the
	// netdev ifindex.
	InterfaceID neigh.InterfaceID `yaml:"interface_id"`
	// MAC overrides the router MAC learned from the netdev.
	MAC neigh.MAC `yaml:"mac"`
	// Addresses override the addresses learned from the netdev.
	Addresses []netip.Prefix `yaml:"addresses"`
	// Ports are name patterns of the member ports.
	Ports []PortPattern `yaml:"ports"`
	// Neigh overrides fields of the default engine configuration.
	Neigh  yaml.Node     `yaml:"neigh"`
	Static []StaticEntry `yaml:"static"`

	engine engine.Config
}

// Engine returns the effective engine configuration of this domain.
func (m *DomainConfig) Engine() engine.Config {
	return m.engine
}

// HasPort reports whether the named netdev is a member port.
func (m *DomainConfig) HasPort(name string) bool {
	for _, pattern := range m.Ports {
		if pattern.Match(name) {
			return true
		}
	}
	return false
}

// resolve overlays the per-domain overrides onto the given defaults.
func (m *DomainConfig) resolve(defaults engine.Config) error {
	m.engine = defaults
	if m.Neigh.Kind == 0 {
		return nil
	}
	if err := m.Neigh.Decode(&m.engine); err != nil {
		return fmt.Errorf("vlan%d: failed to decode engine overrides: %w", m.VLAN, err)
	}
	return nil
}

func (m *DomainConfig) Validate() error {
	errs := []error{}
	if m.VLAN == 0 || m.VLAN > 4094 {
		errs = append(errs, fmt.Errorf("vlan must be in range [1, 4094], got %d", m.VLAN))
	}
	if m.Interface == "" {
		errs = append(errs, errors.New("interface must be set"))
	}
	for _, prefix := range m.Addresses {
		if !prefix.IsValid() {
			errs = append(errs, fmt.Errorf("invalid address %q", prefix))
		}
	}
	for idx, entry := range m.Static {
		if !entry.Addr.IsValid() {
			errs = append(errs, fmt.Errorf("static[%d]: address must be set", idx))
		}
		if entry.MAC.IsZero() {
			errs = append(errs, fmt.Errorf("static[%d]: mac must be set", idx))
		}
		if !m.HasPort(entry.Port) {
			errs = append(errs, fmt.Errorf("static[%d]: port %q is not a member port", idx, entry.Port))
		}
	}
	if err := m.engine.Validate(); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("vlan%d: %w", m.VLAN, err)
	}
	return nil
}

// StaticEntry is a configured neighbour which never ages.
type StaticEntry struct {
	Addr netip.Addr `yaml:"addr"`
	MAC  neigh.MAC  `yaml:"mac"`
	// Port is the name of the member port the neighbour is reachable
	// through.
	Port string `yaml:"port"`
}

// PortPattern is a shell-like port name pattern, for example "swp1*".
type PortPattern struct {
	glob.Glob
	pattern string
}

// MustPortPattern compiles a pattern, panicking on error.
func MustPortPattern(pattern string) PortPattern {
	p := PortPattern{}
	if err := p.UnmarshalText([]byte(pattern)); err != nil {
		panic(err)
	}
	return p
}

func (m PortPattern) String() string {
	return m.pattern
}

func (m PortPattern) MarshalText() ([]byte, error) {
	return []byte(m.pattern), nil
}

func (m *PortPattern) UnmarshalText(text []byte) error {
	g, err := glob.Compile(string(text))
	if err != nil {
		return fmt.Errorf("invalid port pattern %q: %w", text, err)
	}

	m.Glob = g
	m.pattern = string(text)
	return nil
}

type config Config

// UnmarshalYAML resolves per-domain overrides and validates the result.
func (m *Config) UnmarshalYAML(value *yaml.Node) error {
	if err := value.Decode((*config)(m)); err != nil {
		return err
	}
	for idx := range m.Domains {
		if err := m.Domains[idx].resolve(m.Defaults); err != nil {
			return err
		}
	}
	return m.Validate()
}

// Validate validates the neighbour module configuration.
func (m *Config) Validate() error {
	errs := []error{}
	if m.Endpoint == "" {
		errs = append(errs, errors.New("endpoint must be set"))
	}
	switch m.Hardware.Backend {
	case BackendSim, BackendKernel:
	default:
		errs = append(errs, fmt.Errorf("unknown hardware backend %q", m.Hardware.Backend))
	}
	if m.Hardware.OpTimeout <= 0 {
		errs = append(errs, fmt.Errorf("hardware op_timeout must be positive, got %s", m.Hardware.OpTimeout))
	}
	if err := m.PacketIO.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("packet_io: %w", err))
	}
	if err := m.Defaults.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("defaults: %w", err))
	}

	vlans := map[neigh.DomainID]struct{}{}
	interfaces := map[string]struct{}{}
	for idx := range m.Domains {
		domain := &m.Domains[idx]
		if _, ok := vlans[domain.VLAN]; ok {
			errs = append(errs, fmt.Errorf("duplicate vlan%d", domain.VLAN))
		}
		vlans[domain.VLAN] = struct{}{}
		if _, ok := interfaces[domain.Interface]; ok {
			errs = append(errs, fmt.Errorf("interface %q serves more than one domain", domain.Interface))
		}
		interfaces[domain.Interface] = struct{}{}

		if err := domain.Validate(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
