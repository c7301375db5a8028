package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Snooze.MinMinutes != SnoozeFloorMinutes || cfg.Snooze.MaxMinutes != SnoozeCeilingMinutes {
		t.Fatalf("unexpected default snooze bounds: %+v", cfg.Snooze)
	}
	if cfg.Server.BasePath != "/v0" {
		t.Fatalf("base_path = %q, want /v0", cfg.Server.BasePath)
	}
}

func TestValidateBounds(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"min below floor", func(c *Config) { c.Snooze.MinMinutes = 0 }, "min_minutes"},
		{"max above ceiling", func(c *Config) { c.Snooze.MaxMinutes = 5000 }, "max_minutes"},
		{"min above max", func(c *Config) { c.Snooze.MinMinutes = 60; c.Snooze.MaxMinutes = 30 }, "exceeds"},
		{"webhook without url", func(c *Config) {
			c.Alerts.Webhooks = []WebhookConfig{{}}
		}, "url is required"},
		{"negative timeout", func(c *Config) {
			c.Alerts.Webhooks = []WebhookConfig{{URL: "https://example.com", TimeoutSeconds: -1}}
		}, "timeout_seconds"},
		{"relative base path", func(c *Config) { c.Server.BasePath = "v0" }, "must start with /"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("err = %v, want substring %q", err, tc.wantErr)
			}
		})
	}
}

func TestFromYAMLOverridesDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte(`
snooze:
  min_minutes: 5
  max_minutes: 120
alerts:
  webhooks:
    - url: https://example.com/hooks/tickler
      kinds: [sweep]
`))
	if err != nil {
		t.Fatalf("FromYAML: %v", err)
	}
	if cfg.Snooze.MinMinutes != 5 || cfg.Snooze.MaxMinutes != 120 {
		t.Fatalf("snooze bounds not applied: %+v", cfg.Snooze)
	}
	if len(cfg.Alerts.Webhooks) != 1 || cfg.Alerts.Webhooks[0].Kinds[0] != "sweep" {
		t.Fatalf("webhooks not parsed: %+v", cfg.Alerts.Webhooks)
	}
	// Unset sections keep defaults.
	if cfg.Server.Addr != "127.0.0.1:8080" {
		t.Fatalf("server addr default lost: %q", cfg.Server.Addr)
	}
}

func TestFromYAMLRejectsInvalid(t *testing.T) {
	if _, err := FromYAML([]byte("snooze: {min_minutes: 0}")); err == nil {
		t.Fatalf("expected validation error")
	}
	if _, err := FromYAML([]byte(":\nnot yaml")); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	if err != nil {
		t.Fatalf("LoadOptional on empty workspace: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("fallback config invalid: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "tickler.yml"), []byte("snooze: {min_minutes: 2, max_minutes: 60}"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = LoadOptional(dir)
	if err != nil {
		t.Fatalf("LoadOptional: %v", err)
	}
	if cfg.Snooze.MinMinutes != 2 {
		t.Fatalf("file config not loaded: %+v", cfg.Snooze)
	}
}

func TestLoadMissingFileMentionsInit(t *testing.T) {
	_, err := Load(t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "tickler init") {
		t.Fatalf("err = %v, want init hint", err)
	}
}

func TestGenerateDefaultRoundTrips(t *testing.T) {
	cfg, err := FromYAML([]byte(GenerateDefault()))
	if err != nil {
		t.Fatalf("generated template invalid: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("generated template fails validation: %v", err)
	}
}
