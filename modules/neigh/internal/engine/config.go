package engine

import (
	"errors"
	"fmt"
	"time"
)

// Config is the neighbour engine configuration of a single domain.
type Config struct {
	// MaxRetries is the number of requests sent in a PENDING or PROBE
	// cycle before the entry expires.
	MaxRetries int `yaml:"max_retries"`
	// RetryInterval is the delay between consecutive requests.
	RetryInterval time.Duration `yaml:"retry_interval"`
	// ReachableTime is how long a confirmed entry stays REACHABLE.
	ReachableTime time.Duration `yaml:"reachable_time"`
	// ProbeDelay is how long an entry stays STALE before it is probed.
	ProbeDelay time.Duration `yaml:"probe_delay"`
	// PassiveLearning enables creating entries from traffic that was not
	// addressed to this switch.
	PassiveLearning bool `yaml:"passive_learning"`
	// InboxSize is the capacity of the engine event queue.
	InboxSize int `yaml:"inbox_size"`
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		MaxRetries:      3,
		RetryInterval:   time.Second,
		ReachableTime:   30 * time.Second,
		ProbeDelay:      5 * time.Second,
		PassiveLearning: false,
		InboxSize:       1024,
	}
}

// Validate checks the configuration.
func (m Config) Validate() error {
	errs := []error{}
	if m.MaxRetries <= 0 {
		errs = append(errs, fmt.Errorf("max_retries must be positive, got %d", m.MaxRetries))
	}
	if m.RetryInterval <= 0 {
		errs = append(errs, fmt.Errorf("retry_interval must be positive, got %s", m.RetryInterval))
	}
	if m.ReachableTime <= 0 {
		errs = append(errs, fmt.Errorf("reachable_time must be positive, got %s", m.ReachableTime))
	}
	if m.ProbeDelay <= 0 {
		errs = append(errs, fmt.Errorf("probe_delay must be positive, got %s", m.ProbeDelay))
	}
	if m.InboxSize <= 0 {
		errs = append(errs, fmt.Errorf("inbox_size must be positive, got %d", m.InboxSize))
	}

	return errors.Join(errs...)
}
