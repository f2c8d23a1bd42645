// Package mcp connects the engine to Model Context Protocol servers, both as
// a client (remote tools become actions) and as a server (sessions become tools).
package mcp

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Transports accepted in a manifest.
const (
	TransportStdio          = "stdio"
	TransportSSE            = "sse"
	TransportStreamableHTTP = "streamable_http"
)

// ErrUnsetEnv is returned when a server declares an environment variable
// that is not set.
var ErrUnsetEnv = errors.New("environment variable is not set")

// Manifest lists the MCP servers whose tools are offered as actions.
type Manifest struct {
	Servers map[string]ServerConfig `mapstructure:"mcpServers"`
}

// ServerConfig describes how to reach one server.
type ServerConfig struct {
	Command   string            `mapstructure:"command"`
	Args      []string          `mapstructure:"args"`
	Env       map[string]string `mapstructure:"env"`
	URL       string            `mapstructure:"url"`
	Transport string            `mapstructure:"transport"`
}

// Names returns the server names in a stable order.
func (m Manifest) Names() []string {
	names := make([]string, 0, len(m.Servers))
	for name := range m.Servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TransportKind returns the declared transport, or the one implied by the
// presence of a command or a URL.
func (c ServerConfig) TransportKind() string {
	t := strings.ToLower(strings.ReplaceAll(c.Transport, "-", "_"))
	switch t {
	case "http", "streamable_http", "streamablehttp":
		return TransportStreamableHTTP
	case "":
		if c.Command != "" {
			return TransportStdio
		}
		return TransportStreamableHTTP
	}
	return t
}

// EnvList renders the environment in KEY=VALUE form, sorted by key.
func (c ServerConfig) EnvList() []string {
	keys := make([]string, 0, len(c.Env))
	for k := range c.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+c.Env[k])
	}
	return out
}

// LoadManifest reads a JSON or YAML manifest and resolves its environment
// from the process.
func LoadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("failed to read manifest: %w", err)
	}
	m, err := ParseManifest(data)
	if err != nil {
		return Manifest{}, fmt.Errorf("%s: %w", path, err)
	}
	if err := m.ResolveEnv(os.LookupEnv); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// ParseManifest decodes a manifest. JSON is accepted as a subset of YAML.
func ParseManifest(data []byte) (Manifest, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Manifest{}, fmt.Errorf("invalid manifest: %w", err)
	}

	var m Manifest
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &m,
		WeaklyTypedInput: true,
		ErrorUnused:      false,
	})
	if err != nil {
		return Manifest{}, err
	}
	if err := dec.Decode(raw); err != nil {
		return Manifest{}, fmt.Errorf("invalid manifest: %w", err)
	}

	for _, name := range m.Names() {
		cfg := m.Servers[name]
		switch cfg.TransportKind() {
		case TransportStdio:
			if cfg.Command == "" {
				return Manifest{}, fmt.Errorf("server %q: stdio transport requires a command", name)
			}
		case TransportSSE, TransportStreamableHTTP:
			if cfg.URL == "" {
				return Manifest{}, fmt.Errorf("server %q: %s transport requires a url", name, cfg.TransportKind())
			}
		default:
			return Manifest{}, fmt.Errorf("server %q: unknown transport %q", name, cfg.Transport)
		}
	}
	return m, nil
}

// ResolveEnv replaces every declared environment entry with the value of the
// variable of the same name.
func (m Manifest) ResolveEnv(lookup func(string) (string, bool)) error {
	for _, name := range m.Names() {
		cfg := m.Servers[name]
		for key := range cfg.Env {
			v, ok := lookup(key)
			if !ok || v == "" {
				return fmt.Errorf("server %q: %w: %s", name, ErrUnsetEnv, key)
			}
			cfg.Env[key] = v
		}
	}
	return nil
}
