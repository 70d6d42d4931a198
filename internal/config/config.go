package config

import "time"

// Config holds client SDK configuration values.
type Config struct {
	APIURL         string        `mapstructure:"api_url" yaml:"api_url"`
	WSURL          string        `mapstructure:"ws_url" yaml:"ws_url"`
	Token          string        `mapstructure:"token" yaml:"token"`
	LogLevel       string        `mapstructure:"log_level" yaml:"log_level"`
	CachePath      string        `mapstructure:"cache_path" yaml:"cache_path"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		APIURL:         "https://api.waveline.example/v1",
		WSURL:          "wss://ws.waveline.example/v1",
		LogLevel:       "info",
		RequestTimeout: 15 * time.Second,
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.APIURL != "" {
		c.APIURL = other.APIURL
	}
	if other.WSURL != "" {
		c.WSURL = other.WSURL
	}
	if other.Token != "" {
		c.Token = other.Token
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.CachePath != "" {
		c.CachePath = other.CachePath
	}
	if other.RequestTimeout != 0 {
		c.RequestTimeout = other.RequestTimeout
	}
}
