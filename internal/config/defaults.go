package config

import "github.com/spf13/viper"

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.idle_timeout", "60s")

	// Storage defaults
	v.SetDefault("storage.path", "atlas.db")
	v.SetDefault("storage.max_open_conns", 16)
	v.SetDefault("storage.max_idle_conns", 4)
	v.SetDefault("storage.conn_max_lifetime", "1h")
	v.SetDefault("storage.retention", "2160h")

	// Scheduler defaults
	v.SetDefault("scheduler.worker_count", 8)
	v.SetDefault("scheduler.heartbeat", "1m")
	v.SetDefault("scheduler.queue_size", 1024)
	v.SetDefault("scheduler.max_retries", 2)

	// Check defaults
	v.SetDefault("checks.http.timeout", "3s")
	v.SetDefault("checks.http.max_redirects", 10)
	v.SetDefault("checks.http.user_agent", "Atlas-System-Monitor/1.0")
	v.SetDefault("checks.tcp_timeout", "3s")
	v.SetDefault("checks.ssh_timeout", "60s")
	v.SetDefault("checks.sql_timeout", "60s")
	v.SetDefault("checks.growth_window", "720h")
	v.SetDefault("checks.cert_warning_days", 21)

	// Notification defaults
	v.SetDefault("notify.smtp.timeout", "30s")
	v.SetDefault("notify.telegram.api_url", "https://api.telegram.org")
	v.SetDefault("notify.telegram.timeout", "15s")

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}
