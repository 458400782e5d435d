package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	EnvHTTPAddr      = "RELAY_HTTP_ADDR"
	EnvHTTPToken     = "RELAY_HTTP_TOKEN"
	EnvRecvURL       = "RELAY_RECV_URL"
	EnvBridgeAddress = "RELAY_BRIDGE_ADDRESS"
)

var ErrInvalidConfig = errors.New("config: invalid")

type HTTPConfig struct {
	Addr        string
	Token       string
	CorsOrigins []string
}

type RelayConfig struct {
	URL     string
	Timeout time.Duration
}

type BridgeConfig struct {
	Address           string
	ConnectTimeout    time.Duration
	WriteTimeout      time.Duration
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

type LifecycleConfig struct {
	ChallengeBaseURL  string
	LogoutTimeout     time.Duration
	ExtraLossPatterns []string
}

// Config is the resolved runtime configuration.
type Config struct {
	Name      string
	Heartbeat time.Duration
	HTTP      HTTPConfig
	Relay     RelayConfig
	Bridge    BridgeConfig
	Lifecycle LifecycleConfig
}

func DefaultConfig() Config {
	return Config{
		Name:      "sessionrelay",
		Heartbeat: 30 * time.Second,
		HTTP: HTTPConfig{
			Addr: ":3001",
		},
		Relay: RelayConfig{
			Timeout: 10 * time.Second,
		},
		Bridge: BridgeConfig{
			Address:           "ws://127.0.0.1:3002/bridge",
			ConnectTimeout:    5 * time.Second,
			WriteTimeout:      5 * time.Second,
			InitialBackoff:    250 * time.Millisecond,
			MaxBackoff:        10 * time.Second,
			BackoffMultiplier: 2.0,
		},
		Lifecycle: LifecycleConfig{
			ChallengeBaseURL: "https://wechaty.js.org/qrcode/",
			LogoutTimeout:    10 * time.Second,
		},
	}
}

// fileConfig is the on-disk shape. Durations are strings like "5s".
type fileConfig struct {
	Name      string        `toml:"name"`
	Heartbeat string        `toml:"heartbeat"`
	HTTP      httpFile      `toml:"http"`
	Relay     relayFile     `toml:"relay"`
	Bridge    bridgeFile    `toml:"bridge"`
	Lifecycle lifecycleFile `toml:"lifecycle"`
}

type httpFile struct {
	Addr        string   `toml:"addr"`
	Token       string   `toml:"token"`
	CorsOrigins []string `toml:"cors_origins"`
}

type relayFile struct {
	URL     string `toml:"url"`
	Timeout string `toml:"timeout"`
}

type bridgeFile struct {
	Address           string  `toml:"address"`
	ConnectTimeout    string  `toml:"connect_timeout"`
	WriteTimeout      string  `toml:"write_timeout"`
	InitialBackoff    string  `toml:"initial_backoff"`
	MaxBackoff        string  `toml:"max_backoff"`
	BackoffMultiplier float64 `toml:"backoff_multiplier"`
}

type lifecycleFile struct {
	ChallengeBaseURL  string   `toml:"challenge_base_url"`
	LogoutTimeout     string   `toml:"logout_timeout"`
	ExtraLossPatterns []string `toml:"extra_loss_patterns"`
}

// Load decodes path over DefaultConfig, applies env overrides, and validates.
// Keys absent from the file keep their defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := apply(&cfg, raw, meta); err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	ApplyEnv(&cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func apply(cfg *Config, raw fileConfig, meta toml.MetaData) error {
	if meta.IsDefined("name") {
		cfg.Name = strings.TrimSpace(raw.Name)
	}
	durations := []struct {
		key []string
		raw string
		dst *time.Duration
	}{
		{[]string{"heartbeat"}, raw.Heartbeat, &cfg.Heartbeat},
		{[]string{"relay", "timeout"}, raw.Relay.Timeout, &cfg.Relay.Timeout},
		{[]string{"bridge", "connect_timeout"}, raw.Bridge.ConnectTimeout, &cfg.Bridge.ConnectTimeout},
		{[]string{"bridge", "write_timeout"}, raw.Bridge.WriteTimeout, &cfg.Bridge.WriteTimeout},
		{[]string{"bridge", "initial_backoff"}, raw.Bridge.InitialBackoff, &cfg.Bridge.InitialBackoff},
		{[]string{"bridge", "max_backoff"}, raw.Bridge.MaxBackoff, &cfg.Bridge.MaxBackoff},
		{[]string{"lifecycle", "logout_timeout"}, raw.Lifecycle.LogoutTimeout, &cfg.Lifecycle.LogoutTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key...) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return fmt.Errorf("parse %s: %w", strings.Join(d.key, "."), err)
		}
		*d.dst = v
	}

	if meta.IsDefined("http", "addr") {
		cfg.HTTP.Addr = strings.TrimSpace(raw.HTTP.Addr)
	}
	if meta.IsDefined("http", "token") {
		cfg.HTTP.Token = strings.TrimSpace(raw.HTTP.Token)
	}
	if meta.IsDefined("http", "cors_origins") {
		cfg.HTTP.CorsOrigins = normalizeList(raw.HTTP.CorsOrigins)
	}
	if meta.IsDefined("relay", "url") {
		cfg.Relay.URL = strings.TrimSpace(raw.Relay.URL)
	}
	if meta.IsDefined("bridge", "address") {
		cfg.Bridge.Address = strings.TrimSpace(raw.Bridge.Address)
	}
	if meta.IsDefined("bridge", "backoff_multiplier") {
		cfg.Bridge.BackoffMultiplier = raw.Bridge.BackoffMultiplier
	}
	if meta.IsDefined("lifecycle", "challenge_base_url") {
		cfg.Lifecycle.ChallengeBaseURL = strings.TrimSpace(raw.Lifecycle.ChallengeBaseURL)
	}
	if meta.IsDefined("lifecycle", "extra_loss_patterns") {
		cfg.Lifecycle.ExtraLossPatterns = normalizeList(raw.Lifecycle.ExtraLossPatterns)
	}
	return nil
}

// ApplyEnv overlays deployment environment variables.
func ApplyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvHTTPAddr)); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvHTTPToken)); v != "" {
		cfg.HTTP.Token = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvRecvURL)); v != "" {
		cfg.Relay.URL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvBridgeAddress)); v != "" {
		cfg.Bridge.Address = v
	}
}

func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("%w: name required", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.HTTP.Addr) == "" {
		return fmt.Errorf("%w: http.addr required", ErrInvalidConfig)
	}
	positive := map[string]time.Duration{
		"heartbeat":                cfg.Heartbeat,
		"relay.timeout":            cfg.Relay.Timeout,
		"bridge.connect_timeout":   cfg.Bridge.ConnectTimeout,
		"bridge.write_timeout":     cfg.Bridge.WriteTimeout,
		"bridge.initial_backoff":   cfg.Bridge.InitialBackoff,
		"bridge.max_backoff":       cfg.Bridge.MaxBackoff,
		"lifecycle.logout_timeout": cfg.Lifecycle.LogoutTimeout,
	}
	for key, d := range positive {
		if d <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalidConfig, key)
		}
	}
	if cfg.Bridge.BackoffMultiplier < 1 {
		return fmt.Errorf("%w: bridge.backoff_multiplier must be >= 1", ErrInvalidConfig)
	}
	if err := validateURL("relay.url", cfg.Relay.URL, true, "http", "https"); err != nil {
		return err
	}
	if err := validateURL("bridge.address", cfg.Bridge.Address, false, "ws", "wss"); err != nil {
		return err
	}
	if err := validateURL("lifecycle.challenge_base_url", cfg.Lifecycle.ChallengeBaseURL, false, "http", "https"); err != nil {
		return err
	}
	return nil
}

func validateURL(key, raw string, optional bool, schemes ...string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		if optional {
			return nil
		}
		return fmt.Errorf("%w: %s required", ErrInvalidConfig, key)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%w: %s must be a %s url", ErrInvalidConfig, key, strings.Join(schemes, "/"))
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
