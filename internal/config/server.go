// Package config loads the server's configuration from an optional YAML
// file, filling in defaults the way the teacher's LoadServerConfig does,
// so that CLI flags alone are always sufficient to run (spec.md §6).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig is the full validated server configuration.
type ServerConfig struct {
	Listen      string            `yaml:"listen"`
	ReplicaOf   *ReplicaOfConfig  `yaml:"replicaof"`
	Logging     LoggingConfig     `yaml:"logging"`
	Replication ReplicationConfig `yaml:"replication"`
	StatsInterval time.Duration   `yaml:"stats_interval"`
}

// ReplicaOfConfig names the master this process should attach to as a
// replica. Accepted for CLI-completeness; the replica-client state machine
// itself is out of scope.
type ReplicaOfConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ReplicationConfig tunes the master-side replica manager.
type ReplicationConfig struct {
	GetAckInterval     time.Duration `yaml:"getack_interval"`
	HighWaterMarkBytes int64         `yaml:"high_water_mark_bytes"`
}

// Default returns a ServerConfig with every field set to its default, as
// if loaded from an empty file.
func Default() *ServerConfig {
	cfg := &ServerConfig{}
	cfg.applyDefaults()
	return cfg
}

// LoadServerConfig reads and validates the YAML config file at path. A
// missing or unreadable file is an error: callers that want
// defaults-plus-flags only should call Default instead of LoadServerConfig.
func LoadServerConfig(path string) (*ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading server config: %w", err)
	}

	var cfg ServerConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing server config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating server config: %w", err)
	}

	return &cfg, nil
}

func (c *ServerConfig) applyDefaults() {
	if c.Listen == "" {
		c.Listen = ":6379"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Replication.GetAckInterval <= 0 {
		c.Replication.GetAckInterval = time.Second
	}
	if c.Replication.HighWaterMarkBytes <= 0 {
		c.Replication.HighWaterMarkBytes = 8 * 1024 * 1024
	}
	if c.StatsInterval <= 0 {
		c.StatsInterval = 15 * time.Second
	}
}

func (c *ServerConfig) validate() error {
	c.applyDefaults()

	if c.ReplicaOf != nil {
		if c.ReplicaOf.Host == "" {
			return fmt.Errorf("replicaof.host is required when replicaof is set")
		}
		if c.ReplicaOf.Port <= 0 || c.ReplicaOf.Port > 65535 {
			return fmt.Errorf("replicaof.port must be between 1 and 65535, got %d", c.ReplicaOf.Port)
		}
	}

	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format)
	}

	return nil
}
