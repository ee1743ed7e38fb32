package config

import (
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Database DatabaseConfig `toml:"database"`
	Server   ServerConfig   `toml:"server"`
	Session  SessionConfig  `toml:"session"`
	Context  ContextConfig  `toml:"context"`
	Provider ProviderConfig `toml:"provider"`
	Observer ObserverConfig `toml:"observer"`
	Log      LogConfig      `toml:"log"`
}

type DatabaseConfig struct {
	Driver string `toml:"driver"` // postgres | sqlite
	URL    string `toml:"url"`
	Path   string `toml:"path"`
}

type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

type SessionConfig struct {
	MaxSessions int `toml:"max_sessions"`
	MaxTurns    int `toml:"max_turns"`
}

type ContextConfig struct {
	MaxContentRunes  int `toml:"max_content_runes"`
	MemoriesReturned int `toml:"memories_returned"`
}

type ProviderConfig struct {
	TimeoutSeconds     int   `toml:"timeout_seconds"`
	MaxTokens          int   `toml:"max_tokens"`
	EmbeddingCacheSize int64 `toml:"embedding_cache_size"`
}

type ObserverConfig struct {
	Enabled bool                       `toml:"enabled"`
	Pricing map[string]ObserverPricing `toml:"pricing"`
}

type ObserverPricing struct {
	Input  float64 `toml:"input"`
	Output float64 `toml:"output"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Database: DatabaseConfig{Driver: "postgres", URL: "postgresql://localhost:5432/postgres", Path: "pgagent.db"},
		Server:   ServerConfig{Host: "127.0.0.1", Port: 8000},
		Session:  SessionConfig{MaxSessions: 1000, MaxTurns: 20},
		Context:  ContextConfig{MaxContentRunes: 1000, MemoriesReturned: 3},
		Provider: ProviderConfig{TimeoutSeconds: 120, MaxTokens: 1024, EmbeddingCacheSize: 10000},
		Log:      LogConfig{Level: "info"},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
// An empty path falls back to $PGAGENT_CONFIG, then pgagent.toml. A missing
// or malformed file leaves the defaults in place.
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = os.Getenv("PGAGENT_CONFIG")
	}
	if path == "" {
		path = "pgagent.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	// Env overrides
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("PGAGENT_DB_DRIVER"); v != "" {
		cfg.Database.Driver = strings.ToLower(v)
	}
	if v := os.Getenv("PGAGENT_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("PGAGENT_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("PGAGENT_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Server.Port = n
		}
	}
	if v := os.Getenv("PGAGENT_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if os.Getenv("PGAGENT_OBSERVER_ENABLED") == "true" || os.Getenv("PGAGENT_OBSERVER_ENABLED") == "1" {
		cfg.Observer.Enabled = true
	}

	// Fallbacks for zeroed or nonsensical file values
	def := Default()
	if cfg.Session.MaxSessions <= 0 {
		cfg.Session.MaxSessions = def.Session.MaxSessions
	}
	if cfg.Session.MaxTurns <= 0 {
		cfg.Session.MaxTurns = def.Session.MaxTurns
	}
	if cfg.Context.MaxContentRunes < 0 {
		cfg.Context.MaxContentRunes = def.Context.MaxContentRunes
	}
	if cfg.Context.MemoriesReturned < 0 {
		cfg.Context.MemoriesReturned = def.Context.MemoriesReturned
	}
	if cfg.Provider.TimeoutSeconds <= 0 {
		cfg.Provider.TimeoutSeconds = def.Provider.TimeoutSeconds
	}
	if cfg.Provider.MaxTokens <= 0 {
		cfg.Provider.MaxTokens = def.Provider.MaxTokens
	}

	return cfg
}

// Addr is the HTTP listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// ProviderTimeout bounds each provider HTTP call.
func (c Config) ProviderTimeout() time.Duration {
	return time.Duration(c.Provider.TimeoutSeconds) * time.Second
}

// LogLevel parses log.level, defaulting to info.
func (c Config) LogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
