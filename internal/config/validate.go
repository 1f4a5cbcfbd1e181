package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if err := c.Milestone.Validate(); err != nil {
		return err
	}
	if err := c.Export.Validate(); err != nil {
		return err
	}
	if err := c.Redis.Validate(); err != nil {
		return err
	}
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	if err := c.Metrics.Validate(); err != nil {
		return err
	}
	return nil
}

// Validate checks the server configuration.
func (s *ServerConfig) Validate() error {
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", s.HTTPPort)
	}
	if s.ExportRateLimit <= 0 {
		return fmt.Errorf("export rate limit must be positive, got %f", s.ExportRateLimit)
	}
	if s.ExportRateBurst <= 0 {
		return fmt.Errorf("export rate burst must be positive, got %d", s.ExportRateBurst)
	}
	return nil
}

// Validate checks the Milestone configuration.
func (m *MilestoneConfig) Validate() error {
	if m.ServerURL == "" {
		return fmt.Errorf("milestone server URL is required")
	}
	u, err := url.Parse(m.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid milestone server URL: %s", m.ServerURL)
	}
	if m.Username == "" {
		return fmt.Errorf("milestone username is required")
	}
	if m.ImageServer.Port <= 0 || m.ImageServer.Port > 65535 {
		return fmt.Errorf("invalid image server port: %d", m.ImageServer.Port)
	}
	if m.ImageServer.ConnectTimeout <= 0 {
		return fmt.Errorf("image server connect timeout must be positive")
	}
	if m.ImageServer.PipelineDepth <= 0 {
		return fmt.Errorf("image server pipeline depth must be positive, got %d", m.ImageServer.PipelineDepth)
	}
	return nil
}

// Validate checks the export configuration.
func (e *ExportConfig) Validate() error {
	if e.Dir == "" {
		return fmt.Errorf("export directory is required")
	}
	if e.MaxDuration <= 0 {
		return fmt.Errorf("export max duration must be positive")
	}
	if e.Framerate <= 0 || e.Framerate > 120 {
		return fmt.Errorf("invalid export framerate: %d", e.Framerate)
	}
	return nil
}

// Validate checks the Redis configuration.
func (r *RedisConfig) Validate() error {
	if r.Addr == "" {
		return fmt.Errorf("redis address is required")
	}
	if r.DB < 0 {
		return fmt.Errorf("invalid redis DB: %d", r.DB)
	}
	return nil
}

// Validate checks the logging configuration.
func (l *LoggingConfig) Validate() error {
	switch strings.ToLower(l.Level) {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic":
	default:
		return fmt.Errorf("invalid log level: %s", l.Level)
	}
	if l.Format != "json" && l.Format != "text" {
		return fmt.Errorf("invalid log format: %s", l.Format)
	}
	return nil
}

// Validate checks the metrics configuration.
func (m *MetricsConfig) Validate() error {
	if !m.Enabled {
		return nil
	}
	if m.Port <= 0 || m.Port > 65535 {
		return fmt.Errorf("invalid metrics port: %d", m.Port)
	}
	if !strings.HasPrefix(m.Path, "/") {
		return fmt.Errorf("metrics path must start with /: %s", m.Path)
	}
	return nil
}
