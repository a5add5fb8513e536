package config

import (
	"fmt"
	"net"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Package-level constants for performance optimization
var (
	validLogLevels = []string{"debug", "info", "warn", "error", "fatal", "panic"}
)

// minSecretKeyLength is the shortest accepted secret key.
const minSecretKeyLength = 16

// validateConfig validates the configuration and returns an error if invalid.
func validateConfig(c *Config) error {
	for _, validate := range []func() error{
		func() error { return validateServerConfig(c.Server) },
		func() error { return validateStorageConfig(c.Storage) },
		func() error { return validateSchedulerConfig(c.Scheduler) },
		func() error { return validateChecksConfig(c.Checks) },
		func() error { return validateNotifyConfig(c.Notify) },
		func() error { return validateSecretConfig(c.Secret) },
		func() error { return validateLogConfig(c.Log) },
	} {
		if err := validate(); err != nil {
			return err
		}
	}
	return nil
}

// validateServerConfig validates server configuration.
func validateServerConfig(s ServerConfig) error {
	if s.Addr == "" {
		return fmt.Errorf("server.addr cannot be empty")
	}

	// Validate address format
	_, portStr, err := net.SplitHostPort(s.Addr)
	if err != nil {
		return fmt.Errorf("server.addr invalid format: %w", err)
	}

	// Validate port range
	if portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return fmt.Errorf("server.addr invalid port: %w", err)
		}
		if port < 1 || port > 65535 {
			return fmt.Errorf("server.addr port out of range (1-65535)")
		}
	}

	// Validate timeouts
	if s.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be greater than 0")
	}
	if s.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be greater than 0")
	}
	if s.IdleTimeout <= 0 {
		return fmt.Errorf("server.idle_timeout must be greater than 0")
	}

	// Validate timeout ranges (reasonable limits)
	if s.ReadTimeout > 5*time.Minute {
		return fmt.Errorf("server.read_timeout too large (max 5m)")
	}
	if s.WriteTimeout > 5*time.Minute {
		return fmt.Errorf("server.write_timeout too large (max 5m)")
	}
	if s.IdleTimeout > 30*time.Minute {
		return fmt.Errorf("server.idle_timeout too large (max 30m)")
	}

	return nil
}

// validateStorageConfig validates storage configuration.
func validateStorageConfig(s StorageConfig) error {
	if s.Path == "" {
		return fmt.Errorf("storage.path cannot be empty")
	}

	// Validate path format (basic check)
	if strings.Contains(s.Path, "..") {
		return fmt.Errorf("storage.path cannot contain '..' for security")
	}

	// Validate connection pool settings
	if s.MaxOpenConns <= 0 {
		return fmt.Errorf("storage.max_open_conns must be greater than 0")
	}
	if s.MaxIdleConns < 0 {
		return fmt.Errorf("storage.max_idle_conns cannot be negative")
	}
	if s.MaxIdleConns > s.MaxOpenConns {
		return fmt.Errorf("storage.max_idle_conns cannot be greater than max_open_conns")
	}
	if s.ConnMaxLifetime < time.Minute {
		return fmt.Errorf("storage.conn_max_lifetime too small (min 1m)")
	}
	if s.ConnMaxLifetime > 24*time.Hour {
		return fmt.Errorf("storage.conn_max_lifetime too large (max 24h)")
	}

	if s.Retention < 0 {
		return fmt.Errorf("storage.retention cannot be negative")
	}
	if s.Retention > 0 && s.Retention < 24*time.Hour {
		return fmt.Errorf("storage.retention too small (min 24h, or 0 to disable)")
	}

	return nil
}

// validateSchedulerConfig validates scheduler configuration.
func validateSchedulerConfig(s SchedulerConfig) error {
	if s.WorkerCount <= 0 {
		return fmt.Errorf("scheduler.worker_count must be greater than 0")
	}
	if s.WorkerCount > 1000 {
		return fmt.Errorf("scheduler.worker_count too large (max 1000)")
	}

	if s.Heartbeat < 5*time.Second {
		return fmt.Errorf("scheduler.heartbeat too small (min 5s)")
	}
	if s.Heartbeat > time.Hour {
		return fmt.Errorf("scheduler.heartbeat too large (max 1h)")
	}

	if s.QueueSize <= 0 {
		return fmt.Errorf("scheduler.queue_size must be greater than 0")
	}

	if s.MaxRetries < 0 {
		return fmt.Errorf("scheduler.max_retries cannot be negative")
	}
	if s.MaxRetries > 10 {
		return fmt.Errorf("scheduler.max_retries too large (max 10)")
	}

	return nil
}

// validateChecksConfig validates per-protocol check timeouts.
func validateChecksConfig(c ChecksConfig) error {
	timeouts := []struct {
		name  string
		value time.Duration
		max   time.Duration
	}{
		{"checks.http.timeout", c.HTTP.Timeout, time.Minute},
		{"checks.tcp_timeout", c.TCPTimeout, time.Minute},
		{"checks.ssh_timeout", c.SSHTimeout, 10 * time.Minute},
		{"checks.sql_timeout", c.SQLTimeout, 10 * time.Minute},
	}
	for _, t := range timeouts {
		if t.value < 100*time.Millisecond {
			return fmt.Errorf("%s too small (min 100ms)", t.name)
		}
		if t.value > t.max {
			return fmt.Errorf("%s too large (max %s)", t.name, t.max)
		}
	}

	if c.HTTP.MaxRedirects < 0 || c.HTTP.MaxRedirects > 50 {
		return fmt.Errorf("checks.http.max_redirects must be between 0-50")
	}
	if c.GrowthWindow < 24*time.Hour {
		return fmt.Errorf("checks.growth_window too small (min 24h)")
	}
	if c.CertWarningDays < 0 || c.CertWarningDays > 365 {
		return fmt.Errorf("checks.cert_warning_days must be between 0-365")
	}

	return nil
}

// validateNotifyConfig validates dispatcher configuration.
func validateNotifyConfig(n NotifyConfig) error {
	if n.SMTP.Timeout < time.Second || n.SMTP.Timeout > 2*time.Minute {
		return fmt.Errorf("notify.smtp.timeout must be between 1s-2m")
	}
	if n.Telegram.Timeout < time.Second || n.Telegram.Timeout > 2*time.Minute {
		return fmt.Errorf("notify.telegram.timeout must be between 1s-2m")
	}

	u, err := url.Parse(n.Telegram.APIURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("notify.telegram.api_url must be an absolute http(s) URL")
	}

	return nil
}

// validateSecretConfig validates the process-wide credential key.
func validateSecretConfig(s SecretConfig) error {
	if s.Key == "" {
		return fmt.Errorf("secret.key cannot be empty (set ATLAS_SECRET_KEY)")
	}
	if len(s.Key) < minSecretKeyLength {
		return fmt.Errorf("secret.key too short (minimum %d characters)", minSecretKeyLength)
	}
	return nil
}

// validateLogConfig validates log configuration.
func validateLogConfig(l LogConfig) error {
	if !slices.Contains(validLogLevels, strings.ToLower(l.Level)) {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error, fatal, panic")
	}
	return nil
}
