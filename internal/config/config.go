package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the system-wide settings tree. Precedence: file > environment
// > defaults.
type Config struct {
	Store *StoreConfig `json:"store"`
	HTTP  *HTTPConfig  `json:"http"`
	Room  *RoomConfig  `json:"room"`
	Quota *QuotaConfig `json:"quota"`
}

type StoreConfig struct {
	Path            string        `json:"path"`
	MaxConnections  int           `json:"max_connections"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
}

type HTTPConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

type RoomConfig struct {
	// HistoryLimit caps the number of messages replayed to late joiners.
	HistoryLimit int `json:"history_limit"`
	// BroadcastSelfJoin includes a member in the audience of its own
	// joined notice.
	BroadcastSelfJoin bool `json:"broadcast_self_join"`
}

type QuotaConfig struct {
	Penalty time.Duration `json:"penalty"`
	Grace   time.Duration `json:"grace"`
	// Endpoint points the limiter proxies at a remote quota service.
	// Empty means the quota service runs in-process.
	Endpoint string `json:"endpoint"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() *Config {
	return &Config{
		Store: &StoreConfig{
			Path:            "./roomcast.db",
			MaxConnections:  10,
			ConnMaxLifetime: time.Hour,
		},
		HTTP: &HTTPConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Room: &RoomConfig{
			HistoryLimit:      100,
			BroadcastSelfJoin: false,
		},
		Quota: &QuotaConfig{
			Penalty: 5 * time.Second,
			Grace:   20 * time.Second,
		},
	}
}

// Validate rejects configurations that would fail at runtime.
func (c *Config) Validate() error {
	if c.Store == nil {
		return fmt.Errorf("store configuration is required")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store path cannot be empty")
	}
	if c.Store.MaxConnections <= 0 {
		return fmt.Errorf("store max connections must be positive")
	}

	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}

	if c.Room == nil {
		return fmt.Errorf("room configuration is required")
	}
	if c.Room.HistoryLimit <= 0 {
		return fmt.Errorf("room history limit must be positive")
	}

	if c.Quota == nil {
		return fmt.Errorf("quota configuration is required")
	}
	if c.Quota.Penalty <= 0 {
		return fmt.Errorf("quota penalty must be positive")
	}
	if c.Quota.Grace < 0 {
		return fmt.Errorf("quota grace cannot be negative")
	}

	return nil
}

// LoadFromEnv overlays ROOMCAST_* environment variables on the defaults.
func LoadFromEnv() *Config {
	config := DefaultConfig()

	if host := os.Getenv("ROOMCAST_HTTP_HOST"); host != "" {
		config.HTTP.Host = host
	}
	if port := os.Getenv("ROOMCAST_HTTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.HTTP.Port = p
		}
	}
	if readTimeout := os.Getenv("ROOMCAST_HTTP_READ_TIMEOUT"); readTimeout != "" {
		if timeout, err := time.ParseDuration(readTimeout); err == nil {
			config.HTTP.ReadTimeout = timeout
		}
	}
	if writeTimeout := os.Getenv("ROOMCAST_HTTP_WRITE_TIMEOUT"); writeTimeout != "" {
		if timeout, err := time.ParseDuration(writeTimeout); err == nil {
			config.HTTP.WriteTimeout = timeout
		}
	}

	if path := os.Getenv("ROOMCAST_STORE_PATH"); path != "" {
		config.Store.Path = path
	}

	if limit := os.Getenv("ROOMCAST_ROOM_HISTORY_LIMIT"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			config.Room.HistoryLimit = n
		}
	}
	if selfJoin := os.Getenv("ROOMCAST_ROOM_BROADCAST_SELF_JOIN"); selfJoin != "" {
		if b, err := strconv.ParseBool(selfJoin); err == nil {
			config.Room.BroadcastSelfJoin = b
		}
	}

	if penalty := os.Getenv("ROOMCAST_QUOTA_PENALTY"); penalty != "" {
		if d, err := time.ParseDuration(penalty); err == nil {
			config.Quota.Penalty = d
		}
	}
	if grace := os.Getenv("ROOMCAST_QUOTA_GRACE"); grace != "" {
		if d, err := time.ParseDuration(grace); err == nil {
			config.Quota.Grace = d
		}
	}
	if endpoint := os.Getenv("ROOMCAST_QUOTA_ENDPOINT"); endpoint != "" {
		config.Quota.Endpoint = endpoint
	}

	return config
}

// configFile mirrors Config with string durations for JSON parsing.
type configFile struct {
	Store *storeConfigFile `json:"store"`
	HTTP  *httpConfigFile  `json:"http"`
	Room  *RoomConfig      `json:"room"`
	Quota *quotaConfigFile `json:"quota"`
}

type storeConfigFile struct {
	Path            string `json:"path"`
	MaxConnections  int    `json:"max_connections"`
	ConnMaxLifetime string `json:"conn_max_lifetime"`
}

type httpConfigFile struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
}

type quotaConfigFile struct {
	Penalty  string `json:"penalty"`
	Grace    string `json:"grace"`
	Endpoint string `json:"endpoint"`
}

// LoadFromFile reads a JSON configuration file over the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file configFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config := DefaultConfig()

	if file.Store != nil {
		if file.Store.Path != "" {
			config.Store.Path = file.Store.Path
		}
		if file.Store.MaxConnections > 0 {
			config.Store.MaxConnections = file.Store.MaxConnections
		}
		if file.Store.ConnMaxLifetime != "" {
			if d, err := time.ParseDuration(file.Store.ConnMaxLifetime); err == nil {
				config.Store.ConnMaxLifetime = d
			}
		}
	}

	if file.HTTP != nil {
		if file.HTTP.Host != "" {
			config.HTTP.Host = file.HTTP.Host
		}
		if file.HTTP.Port > 0 {
			config.HTTP.Port = file.HTTP.Port
		}
		if file.HTTP.ReadTimeout != "" {
			if d, err := time.ParseDuration(file.HTTP.ReadTimeout); err == nil {
				config.HTTP.ReadTimeout = d
			}
		}
		if file.HTTP.WriteTimeout != "" {
			if d, err := time.ParseDuration(file.HTTP.WriteTimeout); err == nil {
				config.HTTP.WriteTimeout = d
			}
		}
	}

	if file.Room != nil {
		if file.Room.HistoryLimit > 0 {
			config.Room.HistoryLimit = file.Room.HistoryLimit
		}
		config.Room.BroadcastSelfJoin = file.Room.BroadcastSelfJoin
	}

	if file.Quota != nil {
		if file.Quota.Penalty != "" {
			if d, err := time.ParseDuration(file.Quota.Penalty); err == nil {
				config.Quota.Penalty = d
			}
		}
		if file.Quota.Grace != "" {
			if d, err := time.ParseDuration(file.Quota.Grace); err == nil {
				config.Quota.Grace = d
			}
		}
		if file.Quota.Endpoint != "" {
			config.Quota.Endpoint = file.Quota.Endpoint
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}

	return config, nil
}

// LoadConfigWithPrecedence resolves the effective configuration: file beats
// environment beats defaults. Missing or unreadable files are ignored so
// environment-only deployments still work.
func LoadConfigWithPrecedence(path string) *Config {
	config := LoadFromEnv()

	if path != "" {
		if fileConfig, err := LoadFromFile(path); err == nil {
			config = fileConfig
		}
	}

	return config
}
