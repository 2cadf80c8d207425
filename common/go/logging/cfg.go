package logging

import (
	"fmt"

	"go.uber.org/zap/zapcore"
)

// Encoding is the log line encoding.
type Encoding string

const (
	// EncodingConsole writes human readable lines.
	EncodingConsole Encoding = "console"
	// EncodingJSON writes one JSON object per line.
	EncodingJSON Encoding = "json"
)

// Config is the configuration for the logging subsystem.
type Config struct {
	// Level is the logging level.
	Level zapcore.Level `yaml:"level"`
	// Encoding is the log line encoding, "console" by default.
	Encoding Encoding `yaml:"encoding"`
}

// DefaultConfig returns the default logging configuration.
func DefaultConfig() Config {
	return Config{
		Level:    zapcore.InfoLevel,
		Encoding: EncodingConsole,
	}
}

// Validate validates the logging configuration.
func (m *Config) Validate() error {
	switch m.Encoding {
	case EncodingConsole, EncodingJSON:
		return nil
	default:
		return fmt.Errorf("unknown log encoding %q", m.Encoding)
	}
}
