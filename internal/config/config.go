package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigPath       = "config.toml"
	DefaultHTTPAddr         = ":8080"
	DefaultTimeoutSeconds   = 60
	DefaultHeartbeatSeconds = 30
	DefaultRateLimitRPS     = 5
	DefaultRateLimitBurst   = 10
	DefaultShutdownSeconds  = 10
	DefaultSenderName       = "Agente"
	DefaultFailureMessage   = "Não foi possível conectar com o assistente. Tente novamente."
)

// EnvFiles are loaded, when present, before environment overrides are read.
// Earlier files win because godotenv never overrides a variable already set.
var EnvFiles = []string{".env.local", ".env"}

type Config struct {
	Log        LogConfig        `toml:"log" yaml:"log"`
	Server     ServerConfig     `toml:"server" yaml:"server"`
	Automation AutomationConfig `toml:"automation" yaml:"automation"`
	Live       LiveConfig       `toml:"live" yaml:"live"`
	Normalizer NormalizerConfig `toml:"normalizer" yaml:"normalizer"`
	Chatwoot   ChatwootConfig   `toml:"chatwoot" yaml:"chatwoot"`
}

type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

type ServerConfig struct {
	Addr                   string          `toml:"addr" yaml:"addr"`
	AllowedOrigins         []string        `toml:"allowed_origins" yaml:"allowed_origins"`
	RateLimit              RateLimitConfig `toml:"rate_limit" yaml:"rate_limit"`
	TrustedProxies         []string        `toml:"trusted_proxies" yaml:"trusted_proxies"`
	ShutdownTimeoutSeconds int             `toml:"shutdown_timeout_seconds" yaml:"shutdown_timeout_seconds"`
}

func (c ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

// RateLimitConfig limits chat and persistence calls per client address.
// A zero RPS disables limiting.
type RateLimitConfig struct {
	RPS   float64 `toml:"rps" yaml:"rps"`
	Burst int     `toml:"burst" yaml:"burst"`
}

type AutomationConfig struct {
	BaseURL        string `toml:"base_url" yaml:"base_url"`
	Token          string `toml:"token" yaml:"token"`
	TimeoutSeconds int    `toml:"timeout_seconds" yaml:"timeout_seconds"`
	PersistURL     string `toml:"persist_url" yaml:"persist_url"`
	SyncURL        string `toml:"sync_url" yaml:"sync_url"`
	FailureMessage string `toml:"failure_message" yaml:"failure_message"`
}

func (c AutomationConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type LiveConfig struct {
	HeartbeatSeconds int `toml:"heartbeat_seconds" yaml:"heartbeat_seconds"`
}

func (c LiveConfig) Heartbeat() time.Duration {
	return time.Duration(c.HeartbeatSeconds) * time.Second
}

type NormalizerConfig struct {
	AnswerKeys []string `toml:"answer_keys" yaml:"answer_keys"`
	LabelKeys  []string `toml:"label_keys" yaml:"label_keys"`
}

type ChatwootConfig struct {
	DefaultSenderName string `toml:"default_sender_name" yaml:"default_sender_name"`
}

type envOverrides struct {
	APIURL         string   `env:"BEKA_API_URL"`
	APIToken       string   `env:"BEKA_API_TOKEN"`
	PersistURL     string   `env:"PERSIST_MESSAGE_URL"`
	SyncURL        string   `env:"SHOPIFY_SYNC_URL"`
	HTTPAddr       string   `env:"HTTP_ADDR"`
	LogLevel       string   `env:"LOG_LEVEL"`
	LogFormat      string   `env:"LOG_FORMAT"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
			RateLimit: RateLimitConfig{
				RPS:   DefaultRateLimitRPS,
				Burst: DefaultRateLimitBurst,
			},
			ShutdownTimeoutSeconds: DefaultShutdownSeconds,
		},
		Automation: AutomationConfig{
			TimeoutSeconds: DefaultTimeoutSeconds,
			FailureMessage: DefaultFailureMessage,
		},
		Live: LiveConfig{
			HeartbeatSeconds: DefaultHeartbeatSeconds,
		},
		Normalizer: NormalizerConfig{
			AnswerKeys: []string{"Beka", "answer"},
			LabelKeys:  []string{"ButtonLabel", "options"},
		},
		Chatwoot: ChatwootConfig{
			DefaultSenderName: DefaultSenderName,
		},
	}
}

// Load reads the config file at path (TOML, or YAML by extension), then the
// .env files, then environment overrides. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg, err := LoadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := LoadEnvFiles(EnvFiles...); err != nil {
		return cfg, fmt.Errorf("load env files: %w", err)
	}
	if err := ApplyEnv(&cfg, env.Options{}); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// LoadFile applies the config file at path on top of Default.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultConfigPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("decode %s: %w", path, err)
		}
	default:
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return cfg, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	return cfg, nil
}

// LoadEnvFiles loads the files that exist into the process environment.
func LoadEnvFiles(files ...string) error {
	existing := make([]string, 0, len(files))
	for _, file := range files {
		if _, err := os.Stat(file); err == nil {
			existing = append(existing, file)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// ApplyEnv overrides cfg with the variables that are set.
func ApplyEnv(cfg *Config, opts env.Options) error {
	var o envOverrides
	if err := env.ParseWithOptions(&o, opts); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	setIfNotEmpty(&cfg.Automation.BaseURL, o.APIURL)
	setIfNotEmpty(&cfg.Automation.Token, o.APIToken)
	setIfNotEmpty(&cfg.Automation.PersistURL, o.PersistURL)
	setIfNotEmpty(&cfg.Automation.SyncURL, o.SyncURL)
	setIfNotEmpty(&cfg.Server.Addr, o.HTTPAddr)
	setIfNotEmpty(&cfg.Log.Level, o.LogLevel)
	setIfNotEmpty(&cfg.Log.Format, o.LogFormat)
	if origins := trimAll(o.AllowedOrigins); len(origins) > 0 {
		cfg.Server.AllowedOrigins = origins
	}
	return nil
}

// Validate rejects values no component can run with. Missing automation
// credentials are allowed; requests that need them fail individually.
func (c Config) Validate() error {
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	if strings.TrimSpace(c.Server.Addr) == "" {
		return errors.New("server.addr is required")
	}
	if c.Server.RateLimit.RPS < 0 || c.Server.RateLimit.Burst < 0 {
		return errors.New("server.rate_limit values must be non-negative")
	}
	for _, cidr := range c.Server.TrustedProxies {
		if _, _, err := net.ParseCIDR(strings.TrimSpace(cidr)); err != nil {
			return fmt.Errorf("server.trusted_proxies: %w", err)
		}
	}
	if c.Live.HeartbeatSeconds <= 0 {
		return fmt.Errorf("live.heartbeat_seconds must be positive, got %d", c.Live.HeartbeatSeconds)
	}
	if c.Automation.TimeoutSeconds <= 0 {
		return fmt.Errorf("automation.timeout_seconds must be positive, got %d", c.Automation.TimeoutSeconds)
	}
	return nil
}

func setIfNotEmpty(dst *string, value string) {
	if value = strings.TrimSpace(value); value != "" {
		*dst = value
	}
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
