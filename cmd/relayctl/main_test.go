package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danmuck/sessionrelay/internal/config"
	"github.com/danmuck/sessionrelay/internal/testutil/testlog"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	cmd.PersistentPreRun = nil
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{config.EnvHTTPAddr, config.EnvHTTPToken, config.EnvRecvURL, config.EnvBridgeAddress} {
		t.Setenv(key, "")
	}
}

func TestExampleConfigLoads(t *testing.T) {
	testlog.Start(t)
	clearEnv(t)

	cfg, err := config.Load("ex.config.toml")
	if err != nil {
		t.Fatalf("load example: %v", err)
	}
	if cfg.HTTP.Addr != ":3001" || cfg.HTTP.Token != "change-me" {
		t.Fatalf("unexpected http section: %+v", cfg.HTTP)
	}
	if cfg.Relay.URL != "http://127.0.0.1:8080/api/v1/recv" {
		t.Fatalf("unexpected relay url: %q", cfg.Relay.URL)
	}
}

func TestConfigInitThenValidate(t *testing.T) {
	testlog.Start(t)
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "relay.toml")
	out, err := execute(t, "config", "init", "--output", path)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	if !strings.Contains(out, "wrote "+path) {
		t.Fatalf("unexpected init output: %q", out)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("template not written: %v", err)
	}
	if _, err := execute(t, "config", "init", "--output", path); err == nil {
		t.Fatalf("expected init to refuse overwrite")
	}
	if _, err := execute(t, "config", "init", "--output", path, "--force"); err != nil {
		t.Fatalf("forced init: %v", err)
	}

	out, err = execute(t, "config", "validate", "--config", path)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(out, path+": ok") {
		t.Fatalf("unexpected validate output: %q", out)
	}
}

func TestConfigValidateRedactsToken(t *testing.T) {
	testlog.Start(t)
	clearEnv(t)

	out, err := execute(t, "config", "validate", "-c", "ex.config.toml")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if strings.Contains(out, "change-me") {
		t.Fatalf("token leaked in validate output")
	}
}

func TestConfigValidateRejectsBadFile(t *testing.T) {
	testlog.Start(t)
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("[bridge]\naddress = \"http://nope\"\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := execute(t, "config", "validate", "-c", path); err == nil {
		t.Fatalf("expected validation failure")
	}
}
