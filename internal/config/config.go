// Package config loads, validates and watches the clawrelay configuration.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/roelfdiedericks/clawrelay/internal/paths"
)

// ErrNotFound is returned when an explicitly requested config file does not exist.
var ErrNotFound = errors.New("config file not found")

// Config is the immutable, validated relay configuration.
// Build it with Load; never mutate a loaded Config, rebuild on reload.
type Config struct {
	Logging    LoggingConfig    `json:"logging" toml:"logging" yaml:"logging"`
	Store      StoreConfig      `json:"store" toml:"store" yaml:"store"`
	Media      MediaConfig      `json:"media" toml:"media" yaml:"media"`
	Reconnect  ReconnectConfig  `json:"reconnect" toml:"reconnect" yaml:"reconnect"`
	Monitor    MonitorConfig    `json:"monitor" toml:"monitor" yaml:"monitor"`
	Delivery   DeliveryConfig   `json:"delivery" toml:"delivery" yaml:"delivery"`
	Activation ActivationConfig `json:"activation" toml:"activation" yaml:"activation"`
	WhatsApp   WhatsAppConfig   `json:"whatsapp" toml:"whatsapp" yaml:"whatsapp"`
	Telegram   TelegramConfig   `json:"telegram" toml:"telegram" yaml:"telegram"`
	CLIChat    CLIChatConfig    `json:"clichat" toml:"clichat" yaml:"clichat"`
	Resolver   ResolverConfig   `json:"resolver" toml:"resolver" yaml:"resolver"`
	HTTP       HTTPConfig       `json:"http" toml:"http" yaml:"http"`
}

type LoggingConfig struct {
	Level      string `json:"level" toml:"level" yaml:"level"`    // trace, debug, info, warn, error
	Format     string `json:"format" toml:"format" yaml:"format"` // text or json
	TimeFormat string `json:"timeFormat" toml:"timeFormat" yaml:"timeFormat"`
	ShowCaller bool   `json:"showCaller" toml:"showCaller" yaml:"showCaller"`
}

// StoreConfig configures the session/route store.
type StoreConfig struct {
	Path                string `json:"path" toml:"path" yaml:"path"` // ":memory:" for an in-memory store
	PruneAfterDays      int    `json:"pruneAfterDays" toml:"pruneAfterDays" yaml:"pruneAfterDays"`
	MaintenanceSchedule string `json:"maintenanceSchedule" toml:"maintenanceSchedule" yaml:"maintenanceSchedule"` // cron expression
}

type MediaConfig struct {
	Dir                 string `json:"dir" toml:"dir" yaml:"dir"`
	MaxBytes            int64  `json:"maxBytes" toml:"maxBytes" yaml:"maxBytes"`
	FetchTimeoutSeconds int    `json:"fetchTimeoutSeconds" toml:"fetchTimeoutSeconds" yaml:"fetchTimeoutSeconds"`
}

// ReconnectConfig is the reconnect backoff policy.
// MaxAttempts is a pointer so an explicit 0 (unlimited) survives defaulting.
type ReconnectConfig struct {
	InitialMs   int     `json:"initialMs" toml:"initialMs" yaml:"initialMs"`
	MaxMs       int     `json:"maxMs" toml:"maxMs" yaml:"maxMs"`
	Factor      float64 `json:"factor" toml:"factor" yaml:"factor"`
	MaxAttempts *int    `json:"maxAttempts,omitempty" toml:"maxAttempts,omitempty" yaml:"maxAttempts,omitempty"`
}

type MonitorConfig struct {
	HeartbeatSeconds       int `json:"heartbeatSeconds" toml:"heartbeatSeconds" yaml:"heartbeatSeconds"`
	WatchdogCheckSeconds   int `json:"watchdogCheckSeconds" toml:"watchdogCheckSeconds" yaml:"watchdogCheckSeconds"`
	WatchdogTimeoutMinutes int `json:"watchdogTimeoutMinutes" toml:"watchdogTimeoutMinutes" yaml:"watchdogTimeoutMinutes"`
	StaleWarnMinutes       int `json:"staleWarnMinutes" toml:"staleWarnMinutes" yaml:"staleWarnMinutes"`
	DrainTimeoutSeconds    int `json:"drainTimeoutSeconds" toml:"drainTimeoutSeconds" yaml:"drainTimeoutSeconds"`
}

type DeliveryConfig struct {
	TextChunkLimit int `json:"textChunkLimit" toml:"textChunkLimit" yaml:"textChunkLimit"`
	CaptionLimit   int `json:"captionLimit" toml:"captionLimit" yaml:"captionLimit"`
	RetryAttempts  int `json:"retryAttempts" toml:"retryAttempts" yaml:"retryAttempts"`
	RetryDelayMs   int `json:"retryDelayMs" toml:"retryDelayMs" yaml:"retryDelayMs"`
}

// ActivationConfig controls group mention gating and history.
type ActivationConfig struct {
	MentionPatterns      []string               `json:"mentionPatterns" toml:"mentionPatterns" yaml:"mentionPatterns"`
	MentionDigitFallback bool                   `json:"mentionDigitFallback" toml:"mentionDigitFallback" yaml:"mentionDigitFallback"`
	Owners               []string               `json:"owners" toml:"owners" yaml:"owners"`
	HistoryLimit         int                    `json:"historyLimit" toml:"historyLimit" yaml:"historyLimit"`
	HistoryMaxTokens     int                    `json:"historyMaxTokens" toml:"historyMaxTokens" yaml:"historyMaxTokens"` // 0 = no token budget for catch-up context
	Groups               map[string]GroupConfig `json:"groups" toml:"groups" yaml:"groups"` // "*" applies to all groups
}

// GroupConfig is a per-conversation override.
type GroupConfig struct {
	RequireMention *bool `json:"requireMention,omitempty" toml:"requireMention,omitempty" yaml:"requireMention,omitempty"`
}

type WhatsAppConfig struct {
	Enabled   *bool    `json:"enabled,omitempty" toml:"enabled,omitempty" yaml:"enabled,omitempty"`
	StorePath string   `json:"storePath" toml:"storePath" yaml:"storePath"`
	AllowFrom []string `json:"allowFrom" toml:"allowFrom" yaml:"allowFrom"` // E.164 numbers, "*" for anyone
}

type TelegramConfig struct {
	Enabled            bool     `json:"enabled" toml:"enabled" yaml:"enabled"`
	BotToken           string   `json:"botToken" toml:"botToken" yaml:"botToken"`
	AllowFrom          []string `json:"allowFrom" toml:"allowFrom" yaml:"allowFrom"` // user ids or usernames, "*" for anyone
	PollTimeoutSeconds int      `json:"pollTimeoutSeconds" toml:"pollTimeoutSeconds" yaml:"pollTimeoutSeconds"`
}

// CLIChatConfig configures a subprocess speaking JSON lines.
type CLIChatConfig struct {
	Enabled bool     `json:"enabled" toml:"enabled" yaml:"enabled"`
	Command string   `json:"command" toml:"command" yaml:"command"`
	Args    []string `json:"args" toml:"args" yaml:"args"`
	Dir     string   `json:"dir" toml:"dir" yaml:"dir"`
	Self    string   `json:"self" toml:"self" yaml:"self"` // our own address on this surface
}

// ResolverConfig selects and configures the reply resolver.
type ResolverConfig struct {
	Provider       string   `json:"provider" toml:"provider" yaml:"provider"` // anthropic, openai, xai, command, echo
	Model          string   `json:"model" toml:"model" yaml:"model"`
	APIKey         string   `json:"apiKey" toml:"apiKey" yaml:"apiKey"`
	BaseURL        string   `json:"baseURL" toml:"baseURL" yaml:"baseURL"`
	MaxTokens      int      `json:"maxTokens" toml:"maxTokens" yaml:"maxTokens"`
	SystemPrompt   string   `json:"systemPrompt" toml:"systemPrompt" yaml:"systemPrompt"`
	Command        string   `json:"command" toml:"command" yaml:"command"`
	Args           []string `json:"args" toml:"args" yaml:"args"`
	TimeoutSeconds int      `json:"timeoutSeconds" toml:"timeoutSeconds" yaml:"timeoutSeconds"`
}

type HTTPConfig struct {
	Enabled bool   `json:"enabled" toml:"enabled" yaml:"enabled"`
	Listen  string `json:"listen" toml:"listen" yaml:"listen"`
	Token   string `json:"token" toml:"token" yaml:"token"` // bearer token for /status; empty disables auth
}

// Providers lists the resolver providers Validate accepts.
var Providers = []string{"anthropic", "openai", "xai", "command", "echo"}

// Defaults returns the default configuration.
func Defaults() *Config {
	maxAttempts := 12
	enabled := true
	return &Config{
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			TimeFormat: "15:04:05",
		},
		Store: StoreConfig{
			Path:                "sessions.db",
			PruneAfterDays:      30,
			MaintenanceSchedule: "@daily",
		},
		Media: MediaConfig{
			Dir:                 "media",
			MaxBytes:            5 * 1024 * 1024,
			FetchTimeoutSeconds: 30,
		},
		Reconnect: ReconnectConfig{
			InitialMs:   2000,
			MaxMs:       30000,
			Factor:      1.8,
			MaxAttempts: &maxAttempts,
		},
		Monitor: MonitorConfig{
			HeartbeatSeconds:       60,
			WatchdogCheckSeconds:   60,
			WatchdogTimeoutMinutes: 30,
			StaleWarnMinutes:       30,
			DrainTimeoutSeconds:    10,
		},
		Delivery: DeliveryConfig{
			TextChunkLimit: 4000,
			CaptionLimit:   1024,
			RetryAttempts:  3,
			RetryDelayMs:   500,
		},
		Activation: ActivationConfig{
			HistoryLimit: 50,
		},
		WhatsApp: WhatsAppConfig{
			Enabled:   &enabled,
			StorePath: "whatsapp.db",
		},
		Telegram: TelegramConfig{
			PollTimeoutSeconds: 10,
		},
		Resolver: ResolverConfig{
			Provider:       "echo",
			MaxTokens:      1024,
			TimeoutSeconds: 120,
		},
		HTTP: HTTPConfig{
			Listen: "127.0.0.1:3379",
		},
	}
}

// Load reads the config file at path (or the discovered one when path is
// empty), decodes it over the defaults, and validates the result.
// Returns the resolved path, which is "" when running on defaults alone.
func Load(path string) (*Config, string, error) {
	if path == "" {
		found, err := paths.ConfigPath()
		if err != nil {
			return nil, "", err
		}
		if found == "" {
			cfg := Defaults()
			return cfg, "", cfg.Validate()
		}
		path = found
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, path, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, path, fmt.Errorf("read config: %w", err)
	}

	cfg, err := Parse(data, Format(path))
	if err != nil {
		return nil, path, fmt.Errorf("%s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, path, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, path, nil
}

// Format returns the config format implied by a file extension.
func Format(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return "toml"
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "json"
	}
}

// Parse decodes data in the given format over Defaults. Keys present in
// the file win, including explicit zero values.
func Parse(data []byte, format string) (*Config, error) {
	cfg := Defaults()
	data = bytes.TrimSpace(data)
	if len(data) > 0 {
		var err error
		switch format {
		case "toml":
			_, err = toml.Decode(string(data), cfg)
		case "yaml":
			err = yaml.Unmarshal(data, cfg)
		default:
			err = json.Unmarshal(data, cfg)
		}
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", format, err)
		}
	}

	return cfg, nil
}

// Validate rejects configurations the relay cannot run with.
func (c *Config) Validate() error {
	var errs []error

	r := c.Reconnect
	if r.InitialMs <= 0 {
		errs = append(errs, errors.New("reconnect.initialMs must be positive"))
	}
	if r.MaxMs < r.InitialMs {
		errs = append(errs, errors.New("reconnect.maxMs must be >= reconnect.initialMs"))
	}
	if r.Factor < 1 {
		errs = append(errs, errors.New("reconnect.factor must be >= 1"))
	}
	if r.MaxAttempts != nil && *r.MaxAttempts < 0 {
		errs = append(errs, errors.New("reconnect.maxAttempts must not be negative"))
	}

	if c.Activation.HistoryLimit < 0 {
		errs = append(errs, errors.New("activation.historyLimit must not be negative"))
	}
	if c.Activation.HistoryMaxTokens < 0 {
		errs = append(errs, errors.New("activation.historyMaxTokens must not be negative"))
	}
	if c.Delivery.TextChunkLimit < 0 || c.Delivery.CaptionLimit < 0 {
		errs = append(errs, errors.New("delivery limits must not be negative"))
	}
	if c.Media.MaxBytes < 0 {
		errs = append(errs, errors.New("media.maxBytes must not be negative"))
	}
	for _, p := range c.Activation.MentionPatterns {
		if _, err := regexp.Compile(p); err != nil {
			errs = append(errs, fmt.Errorf("activation.mentionPatterns %q: %w", p, err))
		}
	}

	known := false
	for _, p := range Providers {
		if c.Resolver.Provider == p {
			known = true
			break
		}
	}
	if !known {
		errs = append(errs, fmt.Errorf("resolver.provider %q is not one of %s", c.Resolver.Provider, strings.Join(Providers, ", ")))
	}
	if c.Resolver.Provider == "command" && c.Resolver.Command == "" {
		errs = append(errs, errors.New("resolver.command is required for the command provider"))
	}
	if c.Telegram.Enabled && c.Telegram.BotToken == "" {
		errs = append(errs, errors.New("telegram.botToken is required when telegram is enabled"))
	}
	if c.CLIChat.Enabled && c.CLIChat.Command == "" {
		errs = append(errs, errors.New("clichat.command is required when clichat is enabled"))
	}

	return errors.Join(errs...)
}

// WhatsAppEnabled reports whether the web messaging surface should run.
func (c *Config) WhatsAppEnabled() bool {
	return c.WhatsApp.Enabled == nil || *c.WhatsApp.Enabled
}

// Attempts returns the reconnect budget; 0 means unlimited.
func (r ReconnectConfig) Attempts() int {
	if r.MaxAttempts == nil {
		return 0
	}
	return *r.MaxAttempts
}

// RequireMention reports whether a group conversation needs an explicit
// mention. Lookup order: exact conversation id, then "*", then true.
func (a ActivationConfig) RequireMention(conversationID string) bool {
	if g, ok := a.Groups[conversationID]; ok && g.RequireMention != nil {
		return *g.RequireMention
	}
	if g, ok := a.Groups["*"]; ok && g.RequireMention != nil {
		return *g.RequireMention
	}
	return true
}

func (m MonitorConfig) Heartbeat() time.Duration {
	return time.Duration(m.HeartbeatSeconds) * time.Second
}

func (m MonitorConfig) WatchdogCheck() time.Duration {
	return time.Duration(m.WatchdogCheckSeconds) * time.Second
}

func (m MonitorConfig) WatchdogTimeout() time.Duration {
	return time.Duration(m.WatchdogTimeoutMinutes) * time.Minute
}

func (m MonitorConfig) StaleWarn() time.Duration {
	return time.Duration(m.StaleWarnMinutes) * time.Minute
}

func (m MonitorConfig) DrainTimeout() time.Duration {
	return time.Duration(m.DrainTimeoutSeconds) * time.Second
}

// Redacted returns a copy safe to print, with secrets masked.
func (c *Config) Redacted() *Config {
	out := *c
	out.Resolver.APIKey = mask(c.Resolver.APIKey)
	out.Telegram.BotToken = mask(c.Telegram.BotToken)
	out.HTTP.Token = mask(c.HTTP.Token)
	return &out
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "****" + secret[len(secret)-2:]
}
