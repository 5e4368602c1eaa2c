package config

// Config is the main configuration struct. Files may be YAML or TOML;
// the loader picks the parser from the file extension.
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Security  SecurityConfig  `yaml:"security" toml:"security"`
	Session   SessionConfig   `yaml:"session" toml:"session"`
	Media     MediaConfig     `yaml:"media" toml:"media"`
	Events    EventsConfig    `yaml:"events" toml:"events"`
	Retention RetentionConfig `yaml:"retention" toml:"retention"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// ServerConfig holds listen address and storage settings.
type ServerConfig struct {
	Address string    `yaml:"address" toml:"address"`
	Port    int       `yaml:"port" toml:"port"`
	DBPath  string    `yaml:"db_path" toml:"db_path"`
	TLS     TLSConfig `yaml:"tls" toml:"tls"`
}

// TLSConfig holds TLS certificate configuration.
type TLSConfig struct {
	CertFile string `yaml:"cert_file" toml:"cert_file"`
	KeyFile  string `yaml:"key_file" toml:"key_file"`
}

// SecurityConfig holds credential verification and rate limit settings.
// SigningKeys verify bearer tokens minted by the identity authority;
// BackendKeys authenticate trusted backend services (actor sync).
type SecurityConfig struct {
	SigningKeys []string        `yaml:"signing_keys" toml:"signing_keys"`
	BackendKeys []string        `yaml:"backend_keys" toml:"backend_keys"`
	RateLimit   RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
}

// RateLimitConfig applies to REST callers (per credential) and to
// per-connection send events.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps" toml:"rps"`
	Burst int     `yaml:"burst" toml:"burst"`
}

// SessionConfig tunes per-connection behavior.
type SessionConfig struct {
	OutboundBuffer int     `yaml:"outbound_buffer" toml:"outbound_buffer"`
	SendRPS        float64 `yaml:"send_rps" toml:"send_rps"`
	SendBurst      int     `yaml:"send_burst" toml:"send_burst"`
	PingSeconds    int     `yaml:"ping_seconds" toml:"ping_seconds"`
	ReadLimitBytes int64   `yaml:"read_limit_bytes" toml:"read_limit_bytes"`
}

// MediaConfig points at the external object store.
type MediaConfig struct {
	BaseURL   string `yaml:"base_url" toml:"base_url"`
	APIKey    string `yaml:"api_key" toml:"api_key"`
	TimeoutMs int    `yaml:"timeout_ms" toml:"timeout_ms"`
}

// EventsConfig enables the optional AMQP mirror of message lifecycle
// events. Disabled when URL is empty.
type EventsConfig struct {
	URL      string `yaml:"url" toml:"url"`
	Exchange string `yaml:"exchange" toml:"exchange"`
}

// RetentionConfig controls the purge runner for fully-deleted messages.
type RetentionConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Cron      string `yaml:"cron" toml:"cron"`
	BatchSize int    `yaml:"batch_size" toml:"batch_size"`
	DryRun    bool   `yaml:"dry_run" toml:"dry_run"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level" toml:"level"`
}
