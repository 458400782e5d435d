package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Template renders DefaultConfig as a TOML file body.
func Template() (string, error) {
	out, err := toml.Marshal(toFile(DefaultConfig()))
	if err != nil {
		return "", fmt.Errorf("config template encode failed: %w", err)
	}
	return string(out), nil
}

// Encode renders cfg in the on-disk shape Load accepts.
func Encode(cfg Config) ([]byte, error) {
	return toml.Marshal(toFile(cfg))
}

func WriteTemplate(path string, overwrite bool) error {
	template, err := Template()
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

func toFile(cfg Config) fileConfig {
	return fileConfig{
		Name:      cfg.Name,
		Heartbeat: cfg.Heartbeat.String(),
		HTTP: httpFile{
			Addr:        cfg.HTTP.Addr,
			Token:       cfg.HTTP.Token,
			CorsOrigins: nonNil(cfg.HTTP.CorsOrigins),
		},
		Relay: relayFile{
			URL:     cfg.Relay.URL,
			Timeout: cfg.Relay.Timeout.String(),
		},
		Bridge: bridgeFile{
			Address:           cfg.Bridge.Address,
			ConnectTimeout:    cfg.Bridge.ConnectTimeout.String(),
			WriteTimeout:      cfg.Bridge.WriteTimeout.String(),
			InitialBackoff:    cfg.Bridge.InitialBackoff.String(),
			MaxBackoff:        cfg.Bridge.MaxBackoff.String(),
			BackoffMultiplier: cfg.Bridge.BackoffMultiplier,
		},
		Lifecycle: lifecycleFile{
			ChallengeBaseURL:  cfg.Lifecycle.ChallengeBaseURL,
			LogoutTimeout:     cfg.Lifecycle.LogoutTimeout.String(),
			ExtraLossPatterns: nonNil(cfg.Lifecycle.ExtraLossPatterns),
		},
	}
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
