package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"path/filepath"

	"github.com/spf13/viper"
)

// Config represents the complete configuration schema for the Atlas System monitor.
//
// Configuration sources (in order of precedence):
//  1. Defaults
//  2. Configuration file (optional)
//  3. Environment variables
type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Storage   StorageConfig   `mapstructure:"storage" yaml:"storage"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`
	Checks    ChecksConfig    `mapstructure:"checks" yaml:"checks"`
	Notify    NotifyConfig    `mapstructure:"notify" yaml:"notify"`
	Secret    SecretConfig    `mapstructure:"secret" yaml:"secret"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

type ServerConfig struct {
	Addr         string        `mapstructure:"addr" yaml:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
}

type StorageConfig struct {
	Path            string        `mapstructure:"path" yaml:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	// Retention is how long usage samples, feeds and logs are kept. Zero keeps everything.
	Retention time.Duration `mapstructure:"retention" yaml:"retention"`
}

type SchedulerConfig struct {
	WorkerCount int           `mapstructure:"worker_count" yaml:"worker_count"`
	Heartbeat   time.Duration `mapstructure:"heartbeat" yaml:"heartbeat"`
	QueueSize   int           `mapstructure:"queue_size" yaml:"queue_size"`
	MaxRetries  int           `mapstructure:"max_retries" yaml:"max_retries"`
}

type ChecksConfig struct {
	HTTP         HTTPDefaultsConfig `mapstructure:"http" yaml:"http"`
	TCPTimeout   time.Duration      `mapstructure:"tcp_timeout" yaml:"tcp_timeout"`
	SSHTimeout   time.Duration      `mapstructure:"ssh_timeout" yaml:"ssh_timeout"`
	SQLTimeout   time.Duration      `mapstructure:"sql_timeout" yaml:"sql_timeout"`
	GrowthWindow time.Duration      `mapstructure:"growth_window" yaml:"growth_window"`
	// CertWarningDays is the remaining certificate lifetime at or below which the cert rule alerts.
	CertWarningDays int `mapstructure:"cert_warning_days" yaml:"cert_warning_days"`
}

type HTTPDefaultsConfig struct {
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxRedirects int           `mapstructure:"max_redirects" yaml:"max_redirects"`
	UserAgent    string        `mapstructure:"user_agent" yaml:"user_agent"`
}

type NotifyConfig struct {
	SMTP     SMTPConfig     `mapstructure:"smtp" yaml:"smtp"`
	Telegram TelegramConfig `mapstructure:"telegram" yaml:"telegram"`
}

type SMTPConfig struct {
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type TelegramConfig struct {
	APIURL  string        `mapstructure:"api_url" yaml:"api_url"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type SecretConfig struct {
	Key string `mapstructure:"key" yaml:"key"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`   // debug, info, warn, error, fatal, panic
	Pretty bool   `mapstructure:"pretty" yaml:"pretty"` // human-readable console output
}

// Load loads configuration from defaults, configuration file,
// and environment variables, then validates the result.
//
// The function fails fast on:
//   - Invalid configuration file
//   - Invalid or missing required configuration values
func Load() (*Config, error) {
	v := viper.New()

	// Register default values
	setDefaults(v)

	// Environment variable support
	v.SetEnvPrefix("ATLAS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AllowEmptyEnv(false)
	v.AutomaticEnv()

	// Optional configuration file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Cross-platform config directory
	if configDir := getConfigDir(); configDir != "" {
		v.AddConfigPath(configDir)
	}

	// Read configuration file if present
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config file error: %w", err)
		}
	}

	// Keys without a default are invisible to AutomaticEnv during Unmarshal.
	if _, exists := os.LookupEnv("ATLAS_SECRET_KEY"); exists {
		_ = v.BindEnv("secret.key", "ATLAS_SECRET_KEY")
	}

	// Unmarshal configuration into struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Normalize configuration
	normalizeConfig(&cfg)

	// Validate final configuration
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// getConfigDir returns the appropriate config directory for the current OS
func getConfigDir() string {
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "atlas-system")
		}
		return ""
	}

	if home := os.Getenv("HOME"); home != "" {
		return filepath.Join(home, ".atlas-system")
	}
	return ""
}
