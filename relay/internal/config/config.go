// Package config handles relay configuration loading and validation.
//
// A config file is optional: the relay runs on defaults plus environment
// overrides. When a file is given its format is chosen by extension: .yaml
// and .yml are YAML, .toml is TOML, anything else is JSON.
package config

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"go.yaml.in/yaml/v3"

	"github.com/token-beam/token-beam/pkg/protocol"
)

// knownWeakSecrets must never be accepted as an admin JWT secret.
var knownWeakSecrets = map[string]bool{
	"changeme": true,
	"secret":   true,
	"token-beam-local-dev-secret-32-chars!": true,
}

// GenerateRandomSecret returns a 64-character hex string suitable for the
// admin JWT secret.
func GenerateRandomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Config is the top-level relay configuration.
type Config struct {
	Server    ServerConfig          `json:"server" yaml:"server" toml:"server"`
	Session   SessionConfig         `json:"session" yaml:"session" toml:"session"`
	Security  SecurityConfig        `json:"security,omitempty" yaml:"security,omitempty" toml:"security"`
	RateLimit RateLimitConfig       `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty" toml:"rate_limit"`
	Storage   StorageConfig         `json:"storage" yaml:"storage" toml:"storage"`
	Admin     AdminConfig           `json:"admin,omitempty" yaml:"admin,omitempty" toml:"admin"`
	Metrics   MetricsConfig         `json:"metrics,omitempty" yaml:"metrics,omitempty" toml:"metrics"`
	Logging   LoggingConfig         `json:"logging" yaml:"logging" toml:"logging"`
	Plugins   []protocol.PluginLink `json:"plugins,omitempty" yaml:"plugins,omitempty" toml:"plugins"`
}

// ServerConfig defines the listener.
type ServerConfig struct {
	Addr           string   `json:"addr" yaml:"addr" toml:"addr"` // e.g. ":8080"
	TLSCert        string   `json:"tls_cert,omitempty" yaml:"tls_cert,omitempty" toml:"tls_cert"`
	TLSKey         string   `json:"tls_key,omitempty" yaml:"tls_key,omitempty" toml:"tls_key"`
	AllowedOrigins []string `json:"allowed_origins,omitempty" yaml:"allowed_origins,omitempty" toml:"allowed_origins"` // CORS; default ["*"]
	ShutdownGrace  Duration `json:"shutdown_grace,omitempty" yaml:"shutdown_grace,omitempty" toml:"shutdown_grace"`
}

// SessionConfig defines pairing session behavior.
type SessionConfig struct {
	IdleTimeout     Duration `json:"idle_timeout,omitempty" yaml:"idle_timeout,omitempty" toml:"idle_timeout"`
	SweepInterval   Duration `json:"sweep_interval,omitempty" yaml:"sweep_interval,omitempty" toml:"sweep_interval"`
	TokenBytes      int      `json:"token_bytes,omitempty" yaml:"token_bytes,omitempty" toml:"token_bytes"`
	MaxMessageBytes int64    `json:"max_message_bytes,omitempty" yaml:"max_message_bytes,omitempty" toml:"max_message_bytes"` // default 10MB
}

// SecurityConfig lists origins refused by the relay. An entry blocks the
// hostname itself and every subdomain of it.
type SecurityConfig struct {
	BlockedOrigins []string `json:"blocked_origins,omitempty" yaml:"blocked_origins,omitempty" toml:"blocked_origins"`
}

// RateLimitConfig defines per-IP HTTP limits and per-connection message limits.
type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requests_per_second,omitempty" yaml:"requests_per_second,omitempty" toml:"requests_per_second"` // default 10
	Burst             int     `json:"burst,omitempty" yaml:"burst,omitempty" toml:"burst"`                                           // default 20
	MessagesPerSecond float64 `json:"messages_per_second,omitempty" yaml:"messages_per_second,omitempty" toml:"messages_per_second"` // default 50
	MessageBurst      int     `json:"message_burst,omitempty" yaml:"message_burst,omitempty" toml:"message_burst"`                   // default 100
}

// StorageConfig defines the audit log database.
type StorageConfig struct {
	Driver         string   `json:"driver" yaml:"driver" toml:"driver"` // "sqlite" (default), "postgres" or "none"
	DSN            string   `json:"dsn" yaml:"dsn" toml:"dsn"`          // e.g. "relay.db" or ":memory:"
	AuditRetention Duration `json:"audit_retention,omitempty" yaml:"audit_retention,omitempty" toml:"audit_retention"`
}

// AdminConfig enables the admin API. It stays off while Provider is empty.
type AdminConfig struct {
	Provider   string `json:"provider,omitempty" yaml:"provider,omitempty" toml:"provider"` // "jwt", "jwks" or "apikey"
	JWTSecret  string `json:"jwt_secret,omitempty" yaml:"jwt_secret,omitempty" toml:"jwt_secret"`
	JWKSIssuer string `json:"jwks_issuer,omitempty" yaml:"jwks_issuer,omitempty" toml:"jwks_issuer"`
	APIKeyHash string `json:"api_key_hash,omitempty" yaml:"api_key_hash,omitempty" toml:"api_key_hash"` // bcrypt hash
}

// Enabled reports whether the admin API is mounted.
func (a AdminConfig) Enabled() bool { return a.Provider != "" }

// MetricsConfig exposes Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `json:"enabled,omitempty" yaml:"enabled,omitempty" toml:"enabled"`
	Path    string `json:"path,omitempty" yaml:"path,omitempty" toml:"path"` // default "/metrics"
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `json:"level,omitempty" yaml:"level,omitempty" toml:"level"`
	Format string `json:"format,omitempty" yaml:"format,omitempty" toml:"format"` // "json" or "text"
}

// Duration is a time.Duration that decodes from a Go duration string ("30m")
// or a number of seconds in every supported file format.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	return d.set(v)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Tag == "!!int" || node.Tag == "!!float" {
		f, err := strconv.ParseFloat(node.Value, 64)
		if err != nil {
			return fmt.Errorf("invalid duration: %q", node.Value)
		}
		return d.set(f)
	}
	return d.set(node.Value)
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// UnmarshalTOML implements toml.Unmarshaler.
func (d *Duration) UnmarshalTOML(v any) error {
	return d.set(v)
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) set(v any) error {
	switch val := v.(type) {
	case string:
		dur, err := time.ParseDuration(val)
		if err != nil {
			return err
		}
		d.Duration = dur
	case float64:
		d.Duration = time.Duration(val * float64(time.Second))
	case int64:
		d.Duration = time.Duration(val) * time.Second
	default:
		return fmt.Errorf("invalid duration: %v", v)
	}
	return nil
}

// Load reads a config file, applies environment overrides and defaults, and
// validates the result. An empty path yields the default configuration.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := decode(path, data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given, without
// environment overrides.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func decode(path string, data []byte, cfg *Config) error {
	switch format(path) {
	case "yaml":
		return yaml.Unmarshal(data, cfg)
	case "toml":
		_, err := toml.Decode(string(data), cfg)
		return err
	default:
		return json.Unmarshal(data, cfg)
	}
}

// Save writes cfg to path in the format implied by its extension.
func (c *Config) Save(path string) error {
	var (
		data []byte
		err  error
	)
	switch format(path) {
	case "yaml":
		data, err = yaml.Marshal(c)
	case "toml":
		var buf bytes.Buffer
		err = toml.NewEncoder(&buf).Encode(c)
		data = buf.Bytes()
	default:
		data, err = json.MarshalIndent(c, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	// The file may carry the admin secret.
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func format(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".toml":
		return "toml"
	default:
		return "json"
	}
}

// applyEnv layers the environment over the file. PORT is honoured for
// platforms that assign the listen port that way.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("PORT"); ok && v != "" {
		if _, err := strconv.Atoi(v); err != nil {
			return fmt.Errorf("PORT: %q is not a number", v)
		}
		c.Server.Addr = ":" + v
	}
	if v, ok := lookup("TOKEN_BEAM_ADDR"); ok && v != "" {
		c.Server.Addr = v
	}
	if v, ok := lookup("TOKEN_BEAM_BLOCKED_ORIGINS"); ok && v != "" {
		c.Security.BlockedOrigins = splitList(v)
	}
	if v, ok := lookup("TOKEN_BEAM_LOG_LEVEL"); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := lookup("TOKEN_BEAM_MAX_MESSAGE_BYTES"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return fmt.Errorf("TOKEN_BEAM_MAX_MESSAGE_BYTES: %q is not a positive number", v)
		}
		c.Session.MaxMessageBytes = n
	}
	if v, ok := lookup("TOKEN_BEAM_STORAGE_DSN"); ok && v != "" {
		c.Storage.DSN = v
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate reports the first invalid setting in c.
func (c *Config) Validate() error { return c.validate() }

func (c *Config) validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		return fmt.Errorf("server.tls_cert and server.tls_key must be set together")
	}
	if c.Session.TokenBytes < 4 || c.Session.TokenBytes > 32 {
		return fmt.Errorf("session.token_bytes must be between 4 and 32")
	}
	if c.Session.IdleTimeout.Duration < 0 || c.Session.SweepInterval.Duration < 0 {
		return fmt.Errorf("session durations must not be negative")
	}

	switch c.Storage.Driver {
	case "sqlite", "postgres", "none":
	default:
		return fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver)
	}

	switch c.Admin.Provider {
	case "":
	case "jwt":
		if len(c.Admin.JWTSecret) < 32 {
			return fmt.Errorf("admin.jwt_secret must be at least 32 characters")
		}
		if knownWeakSecrets[c.Admin.JWTSecret] {
			return fmt.Errorf("admin.jwt_secret is a well-known weak secret, generate a new one")
		}
	case "jwks":
		if c.Admin.JWKSIssuer == "" {
			return fmt.Errorf("admin.jwks_issuer is required when provider is jwks")
		}
	case "apikey":
		if c.Admin.APIKeyHash == "" {
			return fmt.Errorf("admin.api_key_hash is required when provider is apikey")
		}
	default:
		return fmt.Errorf("admin.provider %q is not supported", c.Admin.Provider)
	}

	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text")
	}

	for _, p := range c.Plugins {
		if p.ID == "" || p.URL == "" {
			return fmt.Errorf("plugins: id and url are required")
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}
	if c.Server.ShutdownGrace.Duration == 0 {
		c.Server.ShutdownGrace.Duration = 30 * time.Second
	}
	if c.Session.IdleTimeout.Duration == 0 {
		c.Session.IdleTimeout.Duration = 30 * time.Minute
	}
	if c.Session.SweepInterval.Duration == 0 {
		c.Session.SweepInterval.Duration = time.Minute
	}
	if c.Session.TokenBytes == 0 {
		c.Session.TokenBytes = protocol.DefaultTokenBytes
	}
	if c.Session.MaxMessageBytes == 0 {
		c.Session.MaxMessageBytes = 10 * 1024 * 1024 // 10MB
	}
	for i, o := range c.Security.BlockedOrigins {
		c.Security.BlockedOrigins[i] = strings.ToLower(strings.TrimSpace(o))
	}
	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = 10
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 20
	}
	if c.RateLimit.MessagesPerSecond == 0 {
		c.RateLimit.MessagesPerSecond = 50
	}
	if c.RateLimit.MessageBurst == 0 {
		c.RateLimit.MessageBurst = 100
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.DSN == "" && c.Storage.Driver == "sqlite" {
		c.Storage.DSN = ":memory:"
	}
	if c.Storage.AuditRetention.Duration == 0 {
		c.Storage.AuditRetention.Duration = 7 * 24 * time.Hour
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if len(c.Plugins) == 0 {
		c.Plugins = append([]protocol.PluginLink(nil), protocol.DefaultPlugins...)
	}
}
