package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// RuntimeConfig holds the key sets other packages query at runtime
// (populated during startup after merging file+env).
type RuntimeConfig struct {
	SigningKeys map[string]struct{}
	BackendKeys map[string]struct{}
}

var (
	runtimeMu  sync.RWMutex
	runtimeCfg *RuntimeConfig
)

// SetRuntime sets the canonical runtime config used by the running server.
func SetRuntime(rc *RuntimeConfig) {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()
	runtimeCfg = rc
}

// GetSigningKeys returns a copy of configured token signing keys.
func GetSigningKeys() map[string]struct{} {
	runtimeMu.RLock()
	defer runtimeMu.RUnlock()
	out := map[string]struct{}{}
	if runtimeCfg == nil || runtimeCfg.SigningKeys == nil {
		return out
	}
	for k := range runtimeCfg.SigningKeys {
		out[k] = struct{}{}
	}
	return out
}

// GetBackendKeys returns a copy of configured backend API keys.
func GetBackendKeys() map[string]struct{} {
	runtimeMu.RLock()
	defer runtimeMu.RUnlock()
	out := map[string]struct{}{}
	if runtimeCfg == nil || runtimeCfg.BackendKeys == nil {
		return out
	}
	for k := range runtimeCfg.BackendKeys {
		out[k] = struct{}{}
	}
	return out
}

// Default returns a config with workable local-dev values.
func Default() *Config {
	c := &Config{}
	c.Server.Address = "127.0.0.1"
	c.Server.Port = 8181
	c.Server.DBPath = "./data"
	c.Security.RateLimit.RPS = 5
	c.Security.RateLimit.Burst = 10
	c.Session.OutboundBuffer = 64
	c.Session.SendRPS = 10
	c.Session.SendBurst = 20
	c.Session.PingSeconds = 30
	c.Session.ReadLimitBytes = 1 << 20
	c.Media.TimeoutMs = 5000
	c.Retention.Cron = "0 3 * * *"
	c.Retention.BatchSize = 500
	return c
}

// Load reads the config file at path (YAML or TOML by extension) over
// defaults and then applies CHATRELAY_* environment overrides. An empty
// path skips the file step.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".toml":
			if err := toml.Unmarshal(b, cfg); err != nil {
				return nil, fmt.Errorf("parse toml config %s: %w", path, err)
			}
		default:
			if err := yaml.Unmarshal(b, cfg); err != nil {
				return nil, fmt.Errorf("parse yaml config %s: %w", path, err)
			}
		}
	}
	applyEnv(cfg)
	return cfg, nil
}

// applyEnv maps a small set of env vars over file values. Keys are the
// ones deployments most often override without editing the file.
func applyEnv(c *Config) {
	if v := os.Getenv("CHATRELAY_ADDRESS"); v != "" {
		c.Server.Address = v
	}
	if v := os.Getenv("CHATRELAY_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}
	if v := os.Getenv("CHATRELAY_DB_PATH"); v != "" {
		c.Server.DBPath = v
	}
	if v := os.Getenv("CHATRELAY_SIGNING_KEYS"); v != "" {
		c.Security.SigningKeys = splitList(v)
	}
	if v := os.Getenv("CHATRELAY_BACKEND_KEYS"); v != "" {
		c.Security.BackendKeys = splitList(v)
	}
	if v := os.Getenv("CHATRELAY_MEDIA_BASE_URL"); v != "" {
		c.Media.BaseURL = v
	}
	if v := os.Getenv("CHATRELAY_MEDIA_API_KEY"); v != "" {
		c.Media.APIKey = v
	}
	if v := os.Getenv("CHATRELAY_EVENTS_URL"); v != "" {
		c.Events.URL = v
	}
	if v := os.Getenv("CHATRELAY_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// Addr returns the host:port listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Address, strconv.Itoa(c.Server.Port))
}

// Runtime builds the runtime key sets from the config.
func (c *Config) Runtime() *RuntimeConfig {
	rc := &RuntimeConfig{
		SigningKeys: map[string]struct{}{},
		BackendKeys: map[string]struct{}{},
	}
	for _, k := range c.Security.SigningKeys {
		rc.SigningKeys[k] = struct{}{}
	}
	for _, k := range c.Security.BackendKeys {
		rc.BackendKeys[k] = struct{}{}
	}
	return rc
}
