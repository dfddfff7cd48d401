// Copyright (c) 2026 The hubconn Authors.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

// Package config loads the YAML configuration for a hub connection: the
// server URL, protocol and transport timeouts, the retry policy schedule,
// the stateful-reconnect buffer budget, and logging.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ClientConfig is the full configuration for a HubConnection.
type ClientConfig struct {
	Server  ServerInfo  `yaml:"server"`
	Retry   RetryInfo   `yaml:"retry"`
	Buffer  BufferInfo  `yaml:"buffer"`
	Logging LoggingInfo `yaml:"logging"`
}

// ServerInfo addresses the hub endpoint and its handshake/keepalive timing.
type ServerInfo struct {
	URL               string        `yaml:"url"`
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`
	KeepAliveInterval time.Duration `yaml:"keep_alive_interval"`
	ServerTimeout     time.Duration `yaml:"server_timeout"`
}

// RetryInfo configures the reconnect backoff schedule.
type RetryInfo struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	MaxAttempts  int           `yaml:"max_attempts"` // 0 = unlimited
}

// BufferInfo configures the stateful-reconnect message buffer.
type BufferInfo struct {
	Size              string `yaml:"size"`               // e.g. "100kb", "2mb"
	SizeRaw           int64  `yaml:"-"`
	CompressThreshold string `yaml:"compress_threshold"` // e.g. "4kb"; empty disables
	CompressThresholdRaw int64 `yaml:"-"`
	ResendRate        string `yaml:"resend_rate"`        // e.g. "512kb"; empty disables pacing
	ResendRateRaw      int64 `yaml:"-"`
}

// LoggingInfo controls the root slog handler.
type LoggingInfo struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
	File   string `yaml:"file"`   // empty means stdout only
}

// Load reads and validates the YAML configuration at path.
func Load(path string) (*ClientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var cfg ClientConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validating %s: %w", path, err)
	}

	return &cfg, nil
}

func (c *ClientConfig) validate() error {
	if c.Server.URL == "" {
		return fmt.Errorf("server.url is required")
	}
	if !strings.HasPrefix(c.Server.URL, "ws://") && !strings.HasPrefix(c.Server.URL, "wss://") {
		return fmt.Errorf("server.url must be a ws:// or wss:// URL, got %q", c.Server.URL)
	}

	if c.Server.HandshakeTimeout <= 0 {
		c.Server.HandshakeTimeout = 15 * time.Second
	}
	if c.Server.KeepAliveInterval <= 0 {
		c.Server.KeepAliveInterval = 15 * time.Second
	}
	if c.Server.ServerTimeout <= 0 {
		c.Server.ServerTimeout = 30 * time.Second
	}
	if c.Server.ServerTimeout <= c.Server.KeepAliveInterval {
		return fmt.Errorf("server.server_timeout must exceed server.keep_alive_interval")
	}

	if c.Retry.MaxAttempts < 0 {
		return fmt.Errorf("retry.max_attempts must not be negative, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.InitialDelay <= 0 {
		c.Retry.InitialDelay = 1 * time.Second
	}
	if c.Retry.MaxDelay <= 0 {
		c.Retry.MaxDelay = 30 * time.Second
	}
	if c.Retry.MaxDelay < c.Retry.InitialDelay {
		return fmt.Errorf("retry.max_delay must be at least retry.initial_delay")
	}

	if c.Buffer.Size == "" {
		c.Buffer.Size = "100kb"
	}
	sizeRaw, err := ParseByteSize(c.Buffer.Size)
	if err != nil {
		return fmt.Errorf("buffer.size: %w", err)
	}
	c.Buffer.SizeRaw = sizeRaw

	if c.Buffer.CompressThreshold != "" {
		threshold, err := ParseByteSize(c.Buffer.CompressThreshold)
		if err != nil {
			return fmt.Errorf("buffer.compress_threshold: %w", err)
		}
		c.Buffer.CompressThresholdRaw = threshold
	}

	if c.Buffer.ResendRate != "" {
		rate, err := ParseByteSize(c.Buffer.ResendRate)
		if err != nil {
			return fmt.Errorf("buffer.resend_rate: %w", err)
		}
		c.Buffer.ResendRateRaw = rate
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("logging.format must be \"json\" or \"text\", got %q", c.Logging.Format)
	}

	return nil
}

// ParseByteSize converts human-readable sizes like "256kb", "4mb" to bytes.
func ParseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	type suffix struct {
		s string
		m int64
	}
	// Ordered longest suffix first so "mb" is never matched as "b".
	suffixes := []suffix{
		{"gb", 1024 * 1024 * 1024},
		{"mb", 1024 * 1024},
		{"kb", 1024},
		{"b", 1},
	}

	for _, sfx := range suffixes {
		if strings.HasSuffix(s, sfx.s) {
			numStr := strings.TrimSuffix(s, sfx.s)
			num, err := strconv.ParseInt(numStr, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid number %q: %w", numStr, err)
			}
			return num * sfx.m, nil
		}
	}

	return 0, fmt.Errorf("size %q has no recognized unit (b, kb, mb, gb)", s)
}
