package app_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"wabridge/internal/app"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := app.LoadConfig(&cobra.Command{}, "")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.ScanTimeout != 60*time.Second || cfg.Keepalive != 20*time.Second {
		t.Fatalf("timeouts %s %s", cfg.ScanTimeout, cfg.Keepalive)
	}
	if cfg.Backoff.Retries != 8 || cfg.Backoff.Max != 30*time.Second {
		t.Fatalf("backoff %+v", cfg.Backoff)
	}
	if cfg.Dispatch.DedupWindow != 512 || cfg.Dispatch.ReorderWindow != 32 {
		t.Fatalf("dispatch %+v", cfg.Dispatch)
	}
	if cfg.Home == "" || cfg.Home[0] == '~' {
		t.Fatalf("home not expanded: %q", cfg.Home)
	}
}

func TestLoadConfig_FileEnvAndFlags(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "custom.yaml")
	if err := app.WriteConfigFile(path, false); err != nil {
		t.Fatalf("WriteConfigFile: %v", err)
	}
	if err := app.WriteConfigFile(path, false); err == nil {
		t.Fatal("overwrote an existing config without force")
	}
	yaml := "relay: ws://file.example/ws\nbackoff:\n  retries: 3\ndispatch:\n  gap-timeout: 2s\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("WABRIDGE_BROWSER", "Firefox")
	t.Setenv("WABRIDGE_DISPATCH_ACK_TIMEOUT", "7s")

	cmd := &cobra.Command{}
	cmd.Flags().String("home", "", "")
	if err := cmd.Flags().Set("home", filepath.Join(dir, "h")); err != nil {
		t.Fatalf("set flag: %v", err)
	}

	cfg, err := app.LoadConfig(cmd, path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Relay != "ws://file.example/ws" || cfg.Backoff.Retries != 3 || cfg.Dispatch.GapTimeout != 2*time.Second {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Browser != "Firefox" || cfg.Dispatch.AckTimeout != 7*time.Second {
		t.Fatalf("env values not applied: %+v", cfg)
	}
	if cfg.Home != filepath.Join(dir, "h") {
		t.Fatalf("flag not applied: %q", cfg.Home)
	}
	if cfg.Backoff.Max != 30*time.Second {
		t.Fatalf("default lost: %s", cfg.Backoff.Max)
	}
}

func TestLoadConfig_RejectsBadJitter(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "bad.yaml")
	os.WriteFile(path, []byte("backoff:\n  jitter: 1.5\n"), 0o600)
	if _, err := app.LoadConfig(&cobra.Command{}, path); err == nil {
		t.Fatal("accepted jitter 1.5")
	}
}
