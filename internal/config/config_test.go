package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate, got %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty relay url", func(c *Config) { c.Relay.URL = " " }, "relay.url"},
		{"http relay url", func(c *Config) { c.Relay.URL = "http://x.example.org/ws" }, "ws or wss"},
		{"relay url bad port", func(c *Config) { c.Relay.URL = "ws://x.example.org:99999/ws" }, "port"},
		{"zero ping interval", func(c *Config) { c.Relay.PingIntervalSec = 0 }, "ping_interval_seconds"},
		{"huge ping interval", func(c *Config) { c.Relay.PingIntervalSec = 301 }, "ping_interval_seconds"},
		{"ws history url", func(c *Config) { c.History.BaseURL = "ws://x.example.org" }, "http or https"},
		{"empty stun entry", func(c *Config) { c.Media.StunURLs = []string{""} }, "stun_urls"},
		{"bad stun scheme", func(c *Config) { c.Media.StunURLs = []string{"udp:1.2.3.4"} }, "stun_urls"},
		{"history limit", func(c *Config) { c.Client.HistoryLimit = 0 }, "history_limit"},
		{"max items", func(c *Config) { c.Client.MaxItems = 10 }, "max_items"},
		{"log level", func(c *Config) { c.Log.Level = "verbose" }, "log.level"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	raw := `{"relay":{"url":"wss://relay.example.org/ws"},"log":{"level":"debug"}}`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Relay.URL != "wss://relay.example.org/ws" {
		t.Fatalf("expected override to apply, got %q", cfg.Relay.URL)
	}
	if cfg.Relay.PingIntervalSec != 25 {
		t.Fatalf("expected default ping interval to survive, got %d", cfg.Relay.PingIntervalSec)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("expected log level override, got %q", cfg.Log.Level)
	}
	if len(cfg.Media.StunURLs) != 1 {
		t.Fatalf("expected default stun list to survive, got %v", cfg.Media.StunURLs)
	}
}

func TestLoadStripsBOM(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	raw := append([]byte{0xEF, 0xBB, 0xBF}, []byte(`{"log":{"level":"warn"}}`)...)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Log.Level != "warn" {
		t.Fatalf("expected warn, got %q", cfg.Log.Level)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"relay":{"ping_interval_seconds":-1}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error")
	}
	// LoadPartial still reads it.
	cfg, err := LoadPartial(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Relay.PingIntervalSec != -1 {
		t.Fatalf("expected raw value, got %d", cfg.Relay.PingIntervalSec)
	}
}

func TestEnsureCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")

	cfg, created, err := Ensure(path)
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Fatal("expected first Ensure to create the file")
	}
	if cfg.Relay.PingIntervalSec != 25 {
		t.Fatalf("expected defaults, got %+v", cfg.Relay)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config file on disk: %v", err)
	}

	_, created, err = Ensure(path)
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Fatal("expected second Ensure to load, not create")
	}
}

func TestHistoryURL(t *testing.T) {
	cfg := Default()

	cfg.Relay.URL = "wss://relay.example.org/ws"
	if got := cfg.HistoryURL(); got != "https://relay.example.org" {
		t.Fatalf("expected https derivation, got %q", got)
	}

	cfg.Relay.URL = "ws://127.0.0.1:8000/ws"
	if got := cfg.HistoryURL(); got != "http://127.0.0.1:8000" {
		t.Fatalf("expected http derivation, got %q", got)
	}

	cfg.History.BaseURL = "https://files.example.org/"
	if got := cfg.HistoryURL(); got != "https://files.example.org" {
		t.Fatalf("expected explicit base to win, got %q", got)
	}
}
