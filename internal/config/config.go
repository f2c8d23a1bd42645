// Package config loads goop settings from defaults, a TOML file, .env and
// GOOP_ environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/aretw0/goop/internal/runtime"
	"github.com/aretw0/goop/pkg/adapters/langchain"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of configuration environment variables.
// GOOP_MODEL_API_KEY sets model.api_key.
const EnvPrefix = "GOOP_"

// Store drivers.
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

// Config is the complete goop configuration.
type Config struct {
	Model   langchain.Config `koanf:"model"`
	Agent   AgentConfig      `koanf:"agent"`
	Catalog CatalogConfig    `koanf:"catalog"`
	Store   StoreConfig      `koanf:"store"`
	Log     LogConfig        `koanf:"log"`
	Server  ServerConfig     `koanf:"server"`
}

type AgentConfig struct {
	Persona          string   `koanf:"persona"`
	StepLimit        int      `koanf:"step_limit"`
	ProtectedActions []string `koanf:"protected_actions"`
	AutoApprove      bool     `koanf:"auto_approve"`
}

type CatalogConfig struct {
	// Manifest is the path of the MCP server manifest.
	Manifest string `koanf:"manifest"`
	// Tools is the path of a tools.yaml of local commands.
	Tools       string        `koanf:"tools"`
	ToolTimeout time.Duration `koanf:"tool_timeout"`
}

type StoreConfig struct {
	Driver   string        `koanf:"driver"`
	Path     string        `koanf:"path"`
	RedisURL string        `koanf:"redis_url"`
	Prefix   string        `koanf:"prefix"`
	TTL      time.Duration `koanf:"ttl"`
	LockTTL  time.Duration `koanf:"lock_ttl"`
	// EncryptionKey is a base64 AES-256 key. Old keys stay readable through FallbackKeys.
	EncryptionKey string   `koanf:"encryption_key"`
	FallbackKeys  []string `koanf:"fallback_keys"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // auto, text or json
}

type ServerConfig struct {
	Addr string `koanf:"addr"`
}

// Defaults returns the built-in configuration values.
func Defaults() map[string]any {
	return map[string]any{
		"model.provider":       langchain.ProviderOpenAI,
		"model.name":           "gpt-4o-mini",
		"agent.persona":        runtime.DefaultPersona,
		"agent.step_limit":     runtime.DefaultStepLimit,
		"catalog.tool_timeout": "30s",
		"store.driver":         StoreFile,
		"store.path":           ".goop/sessions",
		"store.prefix":         "goop:session:",
		"store.lock_ttl":       "5m",
		"log.level":            "info",
		"log.format":           "auto",
		"server.addr":          ":8080",
	}
}

// DefaultPaths are searched, in order, when no config file is named.
var DefaultPaths = []string{"./goop.toml", "$HOME/.config/goop/goop.toml"}

// listKeys are split on commas when they come from the environment.
var listKeys = []string{"agent.protected_actions", "store.fallback_keys"}

// Load reads the configuration. An explicit path must exist; otherwise the
// first existing DefaultPaths entry is used, if any.
func Load(path string) (*Config, error) {
	if err := LoadDotEnv(".env"); err != nil {
		return nil, err
	}

	k := koanf.New(".")
	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("error loading defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	} else {
		for _, p := range DefaultPaths {
			p = os.ExpandEnv(p)
			if _, err := os.Stat(p); err == nil {
				if err := k.Load(file.Provider(p), toml.Parser()); err != nil {
					return nil, fmt.Errorf("error loading config %s: %w", p, err)
				}
				break
			}
		}
	}

	err := k.Load(env.ProviderWithValue(EnvPrefix, ".", func(key, value string) (string, any) {
		name := EnvKey(key)
		if slices.Contains(listKeys, name) {
			return name, splitList(value)
		}
		return name, value
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("error loading environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDotEnv loads the named .env files that exist. Variables already set
// in the process win.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("error loading %s: %w", p, err)
		}
	}
	return nil
}

// EnvKey maps GOOP_SECTION_SOME_KEY to section.some_key.
func EnvKey(name string) string {
	name = strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	section, key, ok := strings.Cut(name, "_")
	if !ok {
		return section
	}
	return section + "." + key
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate checks values that cannot be caught by decoding.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case StoreMemory, StoreFile, StoreSQLite:
	case StoreRedis:
		if c.Store.RedisURL == "" {
			errs = append(errs, errors.New("store.redis_url is required for the redis driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}
	if c.Agent.StepLimit <= 0 {
		errs = append(errs, fmt.Errorf("agent.step_limit must be positive, got %d", c.Agent.StepLimit))
	}
	switch c.Log.Format {
	case "auto", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log.format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}
