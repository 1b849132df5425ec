package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseMergesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`{"reconnect":{"initialMs":500},"resolver":{"provider":"echo"}}`), "json")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Reconnect.InitialMs != 500 {
		t.Errorf("InitialMs = %d, want 500", cfg.Reconnect.InitialMs)
	}
	if cfg.Reconnect.MaxMs != 30000 {
		t.Errorf("MaxMs = %d, want default 30000", cfg.Reconnect.MaxMs)
	}
	if cfg.Reconnect.Attempts() != 12 {
		t.Errorf("Attempts = %d, want default 12", cfg.Reconnect.Attempts())
	}
	if cfg.Delivery.TextChunkLimit != 4000 {
		t.Errorf("TextChunkLimit = %d", cfg.Delivery.TextChunkLimit)
	}
	if !cfg.WhatsAppEnabled() {
		t.Error("whatsapp should default to enabled")
	}
}

func TestExplicitZeroValuesSurviveDefaults(t *testing.T) {
	tests := []struct {
		format string
		data   string
	}{
		{"json", `{"reconnect":{"maxAttempts":0},"store":{"pruneAfterDays":0},"whatsapp":{"enabled":false}}`},
		{"toml", "[reconnect]\nmaxAttempts = 0\n[store]\npruneAfterDays = 0\n[whatsapp]\nenabled = false\n"},
		{"yaml", "reconnect:\n  maxAttempts: 0\nstore:\n  pruneAfterDays: 0\nwhatsapp:\n  enabled: false\n"},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			cfg, err := Parse([]byte(tt.data), tt.format)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if got := cfg.Reconnect.Attempts(); got != 0 {
				t.Errorf("Attempts = %d, want 0 (unlimited)", got)
			}
			if cfg.Store.PruneAfterDays != 0 {
				t.Errorf("PruneAfterDays = %d, want 0", cfg.Store.PruneAfterDays)
			}
			if cfg.WhatsAppEnabled() {
				t.Error("explicit false should disable whatsapp")
			}
			if cfg.Reconnect.MaxMs != 30000 {
				t.Errorf("MaxMs = %d, want default 30000", cfg.Reconnect.MaxMs)
			}
		})
	}
}

func TestDefaultsAreNotShared(t *testing.T) {
	a, _ := Parse([]byte(`{"reconnect":{"maxAttempts":3}}`), "json")
	b, _ := Parse(nil, "json")
	if a.Reconnect.Attempts() != 3 || b.Reconnect.Attempts() != 12 {
		t.Errorf("attempts = %d, %d; want 3, 12", a.Reconnect.Attempts(), b.Reconnect.Attempts())
	}
}

func TestParseFormats(t *testing.T) {
	tests := []struct {
		format string
		data   string
	}{
		{"toml", "[activation]\nhistoryLimit = 7\n[whatsapp]\nenabled = false\n"},
		{"yaml", "activation:\n  historyLimit: 7\nwhatsapp:\n  enabled: false\n"},
		{"json", `{"activation":{"historyLimit":7},"whatsapp":{"enabled":false}}`},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			cfg, err := Parse([]byte(tt.data), tt.format)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if cfg.Activation.HistoryLimit != 7 {
				t.Errorf("HistoryLimit = %d", cfg.Activation.HistoryLimit)
			}
			if cfg.WhatsAppEnabled() {
				t.Error("explicit false should disable whatsapp")
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"bad factor", func(c *Config) { c.Reconnect.Factor = 0.5 }, "factor"},
		{"max below initial", func(c *Config) { c.Reconnect.MaxMs = 10 }, "maxMs"},
		{"bad pattern", func(c *Config) { c.Activation.MentionPatterns = []string{"(unclosed"} }, "mentionPatterns"},
		{"unknown provider", func(c *Config) { c.Resolver.Provider = "oracle" }, "resolver.provider"},
		{"command without command", func(c *Config) { c.Resolver.Provider = "command" }, "resolver.command"},
		{"negative history", func(c *Config) { c.Activation.HistoryLimit = -1 }, "historyLimit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestRequireMention(t *testing.T) {
	no := false
	yes := true
	a := ActivationConfig{Groups: map[string]GroupConfig{
		"*":        {RequireMention: &no},
		"123@g.us": {RequireMention: &yes},
	}}
	if !a.RequireMention("123@g.us") {
		t.Error("exact entry should win over wildcard")
	}
	if a.RequireMention("456@g.us") {
		t.Error("wildcard should apply to other groups")
	}
	if !(ActivationConfig{}).RequireMention("any") {
		t.Error("default should require a mention")
	}
}

func TestLoadMissingExplicitPath(t *testing.T) {
	_, _, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clawrelay.toml")

	cfg := Defaults()
	cfg.Activation.MentionPatterns = []string{`(?i)\brelay\b`}
	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	// Second save leaves a backup behind
	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save again: %v", err)
	}
	if _, err := os.Stat(path + ".bak"); err != nil {
		t.Errorf("expected backup: %v", err)
	}

	loaded, got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != path {
		t.Errorf("path = %q", got)
	}
	if len(loaded.Activation.MentionPatterns) != 1 || loaded.Activation.MentionPatterns[0] != `(?i)\brelay\b` {
		t.Errorf("patterns = %v", loaded.Activation.MentionPatterns)
	}
}

func TestRedacted(t *testing.T) {
	cfg := Defaults()
	cfg.Resolver.APIKey = "sk-ant-1234567890"
	r := cfg.Redacted()
	if strings.Contains(r.Resolver.APIKey, "567890") {
		t.Errorf("key not masked: %q", r.Resolver.APIKey)
	}
	if cfg.Resolver.APIKey != "sk-ant-1234567890" {
		t.Error("Redacted must not modify the original")
	}
}
