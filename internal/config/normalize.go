package config

import "strings"

// normalizeConfig normalizes configuration values.
func normalizeConfig(c *Config) {
	// Normalize log level to lowercase
	c.Log.Level = strings.ToLower(c.Log.Level)

	c.Notify.Telegram.APIURL = strings.TrimRight(c.Notify.Telegram.APIURL, "/")
	c.Secret.Key = strings.TrimSpace(c.Secret.Key)
}
