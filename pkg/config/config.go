// Package config loads the supervisor's YAML configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Configuration is the complete supervisor configuration.
type Configuration struct {
	Broker      BrokerConfig      `yaml:"broker"`
	Discovery   DiscoveryConfig   `yaml:"discovery"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	DiskCheck   DiskCheckConfig   `yaml:"disk_check"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// BrokerConfig describes the local broker subprocess and its properties file.
type BrokerConfig struct {
	KafkaDir       string        `yaml:"kafka_dir"`
	PropertiesFile string        `yaml:"properties_file"`
	WaitTimeout    time.Duration `yaml:"wait_timeout"`
	StopTimeout    time.Duration `yaml:"stop_timeout"`
}

// DiscoveryConfig configures EnsembleDiscovery.
type DiscoveryConfig struct {
	Hosts        []string      `yaml:"hosts"`
	Port         int           `yaml:"port"`
	URIPath      string        `yaml:"uri_path"`
	Timeout      time.Duration `yaml:"timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// CoordinatorConfig configures the coordination client namespace.
type CoordinatorConfig struct {
	KeyPrefix string `yaml:"key_prefix"`
}

// DiskCheckConfig configures DiskImbalanceCheck.
type DiskCheckConfig struct {
	Interval     time.Duration `yaml:"interval"`
	ThresholdKB  int64         `yaml:"threshold_kb"`
}

// LoggingConfig configures the package-level logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// MetricsConfig configures the ambient health/metrics HTTP server.
type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// Default returns the literal defaults named in the external-interfaces
// section: discovery port 8181, path /exhibitor/v1/cluster/list, timeout
// 3.1s, poll interval 300s, disk-check interval 900s, wait_timeout 300s.
func Default() *Configuration {
	return &Configuration{
		Broker: BrokerConfig{
			KafkaDir:       "/opt/kafka",
			PropertiesFile: "/opt/kafka/config/server.properties",
			WaitTimeout:    300 * time.Second,
			StopTimeout:    60 * time.Second,
		},
		Discovery: DiscoveryConfig{
			Hosts:        []string{"localhost"},
			Port:         8181,
			URIPath:      "/exhibitor/v1/cluster/list",
			Timeout:      3100 * time.Millisecond,
			PollInterval: 300 * time.Second,
		},
		Coordinator: CoordinatorConfig{
			KeyPrefix: "bubuku",
		},
		DiskCheck: DiskCheckConfig{
			Interval:    900 * time.Second,
			ThresholdKB: 1024 * 1024,
		},
		Logging: LoggingConfig{
			Level: "info",
			JSON:  false,
		},
		Metrics: MetricsConfig{
			ListenAddr: "127.0.0.1:9090",
		},
	}
}

// Load reads and parses a YAML configuration file, applying it on top of
// Default so a partial file only overrides what it sets.
func Load(path string) (*Configuration, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	return cfg, nil
}
