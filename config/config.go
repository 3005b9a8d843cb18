// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"time"

	mqttbridge "github.com/absmach/fluxpub/bridge/mqtt"
	"github.com/absmach/fluxpub/codec"
	"github.com/absmach/fluxpub/core"
	"github.com/absmach/fluxpub/keyexpr"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for a fluxpub node.
type Config struct {
	Node         NodeConfig         `yaml:"node"`
	Log          LogConfig          `yaml:"log"`
	Publication  PublicationConfig  `yaml:"publication"`
	Timestamping TimestampingConfig `yaml:"timestamping"`
	Routing      RoutingConfig      `yaml:"routing"`
	Transport    TransportConfig    `yaml:"transport"`
	Bridge       BridgeConfig       `yaml:"bridge"`
	Storage      StorageConfig      `yaml:"storage"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
	Health       HealthConfig       `yaml:"health"`
}

// NodeConfig identifies the node.
type NodeConfig struct {
	// ID is a UUID; a random one is generated when empty.
	ID string `yaml:"id"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// PublicationConfig holds publisher defaults.
type PublicationConfig struct {
	LocalRouting      bool   `yaml:"local_routing"`
	CongestionControl string `yaml:"congestion_control"` // drop, block
	Priority          string `yaml:"priority"`
	// BestEffort lists key expressions published on best-effort channels.
	BestEffort []string `yaml:"best_effort"`
}

// TimestampingConfig controls sample timestamping.
type TimestampingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// RoutingConfig holds egress queue settings, applied per face.
type RoutingConfig struct {
	QueueSize       int           `yaml:"queue_size"`
	RateLimit       float64       `yaml:"rate_limit"` // frames per second, 0 = unlimited
	RateBurst       int           `yaml:"rate_burst"`
	BreakerFailures uint32        `yaml:"breaker_failures"`
	BreakerTimeout  time.Duration `yaml:"breaker_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
}

// TransportConfig holds the WebSocket listener and outbound peers.
type TransportConfig struct {
	WebSocket WebSocketConfig `yaml:"websocket"`
	Peers     []string        `yaml:"peers"` // ws:// URLs to connect to
	// Compression applies to frames sent to peers: none, s2, zstd.
	Compression string `yaml:"compression"`
}

// WebSocketConfig holds the WebSocket listener configuration.
type WebSocketConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Addr            string        `yaml:"addr"`
	Path            string        `yaml:"path"`
	MaxMessageSize  int64         `yaml:"max_message_size"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// ConnectionRate is accepted connections per second per remote host,
	// 0 = unlimited.
	ConnectionRate  float64 `yaml:"connection_rate"`
	ConnectionBurst int     `yaml:"connection_burst"`
}

// BridgeConfig holds the MQTT bridge configuration.
type BridgeConfig struct {
	MQTT MQTTBridgeConfig `yaml:"mqtt"`
}

// MQTTBridgeConfig configures forwarding to and from an MQTT broker.
type MQTTBridgeConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Broker         string        `yaml:"broker"`
	ClientID       string        `yaml:"client_id"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	TopicPrefix    string        `yaml:"topic_prefix"`
	Retain         bool          `yaml:"retain"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
	// Forward lists key expressions sent to the broker; empty forwards all.
	Forward []string `yaml:"forward"`
	// Subscriptions lists MQTT topic filters relayed into the node.
	Subscriptions []string `yaml:"subscriptions"`
}

// StorageConfig holds last-value storage configuration.
type StorageConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Type        string `yaml:"type"` // memory, badger
	KeyExpr     string `yaml:"key_expr"`
	BadgerDir   string `yaml:"badger_dir"`
	Compression string `yaml:"compression"`
}

// TelemetryConfig holds OpenTelemetry configuration.
type TelemetryConfig struct {
	Endpoint        string  `yaml:"endpoint"` // OTLP gRPC endpoint
	Insecure        bool    `yaml:"insecure"` // plaintext gRPC to the collector
	ServiceName     string  `yaml:"service_name"`
	ServiceVersion  string  `yaml:"service_version"`
	MetricsEnabled  bool    `yaml:"metrics_enabled"`
	TracesEnabled   bool    `yaml:"traces_enabled"`
	TraceSampleRate float64 `yaml:"trace_sample_rate"` // 0.0 to 1.0
}

// HealthConfig holds the health check endpoint configuration.
type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Publication: PublicationConfig{
			LocalRouting:      true,
			CongestionControl: core.DefaultCongestionControl.String(),
			Priority:          core.DefaultPriority.String(),
		},
		Timestamping: TimestampingConfig{
			Enabled: true,
		},
		Routing: RoutingConfig{
			QueueSize:       256,
			RateBurst:       100,
			BreakerFailures: 5,
			BreakerTimeout:  10 * time.Second,
			WriteTimeout:    5 * time.Second,
		},
		Transport: TransportConfig{
			WebSocket: WebSocketConfig{
				Enabled:         false,
				Addr:            ":7447",
				Path:            "/fluxpub",
				MaxMessageSize:  1024 * 1024, // 1MB
				ShutdownTimeout: 30 * time.Second,
				ConnectionRate:  10,
				ConnectionBurst: 20,
			},
			Compression: codec.CompressionNone.String(),
		},
		Bridge: BridgeConfig{
			MQTT: MQTTBridgeConfig{
				Broker:         "tcp://localhost:1883",
				ClientID:       "fluxpub-bridge",
				ConnectTimeout: 5 * time.Second,
				PublishTimeout: 5 * time.Second,
			},
		},
		Storage: StorageConfig{
			Type:        "memory",
			KeyExpr:     "**",
			BadgerDir:   "/tmp/fluxpub/data",
			Compression: codec.CompressionS2.String(),
		},
		Telemetry: TelemetryConfig{
			Endpoint:        "localhost:4317",
			Insecure:        true,
			ServiceName:     "fluxpub",
			ServiceVersion:  "1.0.0",
			MetricsEnabled:  false,
			TracesEnabled:   false,
			TraceSampleRate: 0.1,
		},
		Health: HealthConfig{
			Addr: ":8081",
		},
	}
}

// Load loads configuration from a YAML file.
// If the file doesn't exist, returns default configuration.
func Load(filename string) (*Config, error) {
	if filename == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("log.format must be one of: text, json")
	}

	if _, err := core.ParseCongestionControl(c.Publication.CongestionControl); err != nil {
		return fmt.Errorf("publication.congestion_control: %w", err)
	}
	if _, err := core.ParsePriority(c.Publication.Priority); err != nil {
		return fmt.Errorf("publication.priority: %w", err)
	}
	for i, k := range c.Publication.BestEffort {
		if err := keyexpr.Validate(k); err != nil {
			return fmt.Errorf("publication.best_effort[%d]: %w", i, err)
		}
	}

	if c.Routing.QueueSize < 1 {
		return fmt.Errorf("routing.queue_size must be at least 1")
	}
	if c.Routing.RateLimit < 0 {
		return fmt.Errorf("routing.rate_limit cannot be negative")
	}
	if c.Routing.BreakerFailures < 1 {
		return fmt.Errorf("routing.breaker_failures must be at least 1")
	}
	if c.Routing.WriteTimeout <= 0 {
		return fmt.Errorf("routing.write_timeout must be positive")
	}

	if _, err := codec.ParseCompression(c.Transport.Compression); err != nil {
		return fmt.Errorf("transport.compression: %w", err)
	}
	if c.Transport.WebSocket.Enabled && c.Transport.WebSocket.Addr == "" {
		return fmt.Errorf("transport.websocket.addr required when websocket is enabled")
	}
	if c.Transport.WebSocket.ConnectionRate < 0 {
		return fmt.Errorf("transport.websocket.connection_rate cannot be negative")
	}

	if c.Bridge.MQTT.Enabled {
		if c.Bridge.MQTT.Broker == "" {
			return fmt.Errorf("bridge.mqtt.broker required when the mqtt bridge is enabled")
		}
		for i, k := range c.Bridge.MQTT.Forward {
			if err := keyexpr.Validate(k); err != nil {
				return fmt.Errorf("bridge.mqtt.forward[%d]: %w", i, err)
			}
		}
		for i, f := range c.Bridge.MQTT.Subscriptions {
			if err := mqttbridge.ValidateFilter(c.Bridge.MQTT.TopicPrefix + f); err != nil {
				return fmt.Errorf("bridge.mqtt.subscriptions[%d]: %w", i, err)
			}
		}
	}

	if c.Storage.Enabled {
		validStorage := map[string]bool{"memory": true, "badger": true}
		if !validStorage[c.Storage.Type] {
			return fmt.Errorf("storage.type must be one of: memory, badger")
		}
		if c.Storage.Type == "badger" && c.Storage.BadgerDir == "" {
			return fmt.Errorf("storage.badger_dir required when type is badger")
		}
		if err := keyexpr.Validate(c.Storage.KeyExpr); err != nil {
			return fmt.Errorf("storage.key_expr: %w", err)
		}
		if _, err := codec.ParseCompression(c.Storage.Compression); err != nil {
			return fmt.Errorf("storage.compression: %w", err)
		}
	}

	if c.Health.Enabled && c.Health.Addr == "" {
		return fmt.Errorf("health.addr required when health is enabled")
	}

	if c.Telemetry.MetricsEnabled || c.Telemetry.TracesEnabled {
		if c.Telemetry.ServiceName == "" {
			return fmt.Errorf("telemetry.service_name cannot be empty when telemetry is enabled")
		}
		if c.Telemetry.Endpoint == "" {
			return fmt.Errorf("telemetry.endpoint cannot be empty when telemetry is enabled")
		}
		if c.Telemetry.TraceSampleRate < 0.0 || c.Telemetry.TraceSampleRate > 1.0 {
			return fmt.Errorf("telemetry.trace_sample_rate must be between 0.0 and 1.0")
		}
	}

	return nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
