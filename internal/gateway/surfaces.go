package gateway

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/roelfdiedericks/clawrelay/internal/activation"
	"github.com/roelfdiedericks/clawrelay/internal/backoff"
	"github.com/roelfdiedericks/clawrelay/internal/channels"
	"github.com/roelfdiedericks/clawrelay/internal/channels/clichat"
	"github.com/roelfdiedericks/clawrelay/internal/channels/telegram"
	"github.com/roelfdiedericks/clawrelay/internal/channels/whatsapp"
	"github.com/roelfdiedericks/clawrelay/internal/config"
	"github.com/roelfdiedericks/clawrelay/internal/delivery"
	"github.com/roelfdiedericks/clawrelay/internal/monitor"
	"github.com/roelfdiedericks/clawrelay/internal/paths"
	"github.com/roelfdiedericks/clawrelay/internal/resolver"
)

// shared is the part of the config every surface depends on.
type shared struct {
	Reconnect  config.ReconnectConfig
	Monitor    config.MonitorConfig
	Delivery   config.DeliveryConfig
	Activation config.ActivationConfig
	Resolver   config.ResolverConfig
	Media      config.MediaConfig
}

// surfaces builds the monitor options for every enabled surface.
func (g *Gateway) surfaces(cfg *config.Config) ([]channels.Surface, error) {
	res, err := resolver.New(cfg.Resolver)
	if err != nil {
		return nil, fmt.Errorf("resolver: %w", err)
	}
	act, err := activation.New(activation.Options{
		MentionPatterns: cfg.Activation.MentionPatterns,
		DigitFallback:   cfg.Activation.MentionDigitFallback,
		Owners:          cfg.Activation.Owners,
	})
	if err != nil {
		return nil, fmt.Errorf("activation: %w", err)
	}

	common := shared{
		Reconnect:  cfg.Reconnect,
		Monitor:    cfg.Monitor,
		Delivery:   cfg.Delivery,
		Activation: cfg.Activation,
		Resolver:   cfg.Resolver,
		Media:      cfg.Media,
	}
	base := func(surface string, factory monitor.ListenerFactory) monitor.Options {
		return monitor.Options{
			Surface:          surface,
			Factory:          factory,
			Resolver:         res,
			Activation:       act,
			Store:            g.store,
			Loader:           g.loader,
			RequireMention:   cfg.Activation.RequireMention,
			Policy:           policy(cfg.Reconnect),
			Heartbeat:        cfg.Monitor.Heartbeat(),
			WatchdogCheck:    cfg.Monitor.WatchdogCheck(),
			WatchdogTimeout:  cfg.Monitor.WatchdogTimeout(),
			StaleWarn:        cfg.Monitor.StaleWarn(),
			DrainTimeout:     cfg.Monitor.DrainTimeout(),
			HistoryLimit:     cfg.Activation.HistoryLimit,
			HistoryMaxTokens: cfg.Activation.HistoryMaxTokens,
			Delivery: delivery.Options{
				TextLimit:     cfg.Delivery.TextChunkLimit,
				CaptionLimit:  cfg.Delivery.CaptionLimit,
				RetryAttempts: cfg.Delivery.RetryAttempts,
				RetryDelay:    time.Duration(cfg.Delivery.RetryDelayMs) * time.Millisecond,
			},
		}
	}

	var out []channels.Surface

	if cfg.WhatsAppEnabled() {
		storePath, err := paths.Resolve(cfg.WhatsApp.StorePath, "whatsapp.db")
		if err != nil {
			return nil, fmt.Errorf("whatsapp store path: %w", err)
		}
		factory := whatsapp.NewListenerFactory(whatsapp.Options{
			StorePath: storePath,
			AllowFrom: cfg.WhatsApp.AllowFrom,
			Media:     g.media,
		})
		out = append(out, channels.Surface{
			Name:        whatsapp.Surface,
			Options:     base(whatsapp.Surface, factory),
			Info:        storePath,
			Fingerprint: fingerprint(common, cfg.WhatsApp),
		})
	}

	if cfg.Telegram.Enabled {
		factory := telegram.NewListenerFactory(telegram.Options{
			Token:       cfg.Telegram.BotToken,
			AllowFrom:   cfg.Telegram.AllowFrom,
			PollTimeout: time.Duration(cfg.Telegram.PollTimeoutSeconds) * time.Second,
			Media:       g.media,
		})
		opts := base(telegram.Surface, factory)
		opts.Delivery.TextLimit = capLimit(opts.Delivery.TextLimit, telegram.TextLimit)
		opts.Delivery.CaptionLimit = capLimit(opts.Delivery.CaptionLimit, telegram.CaptionLimit)
		out = append(out, channels.Surface{
			Name:        telegram.Surface,
			Options:     opts,
			Info:        "bot api",
			Fingerprint: fingerprint(common, cfg.Telegram),
		})
	}

	if cfg.CLIChat.Enabled {
		factory := clichat.NewListenerFactory(clichat.Options{
			Command: cfg.CLIChat.Command,
			Args:    cfg.CLIChat.Args,
			Dir:     cfg.CLIChat.Dir,
			Self:    cfg.CLIChat.Self,
			Media:   g.media,
		})
		out = append(out, channels.Surface{
			Name:        clichat.Surface,
			Options:     base(clichat.Surface, factory),
			Info:        strings.TrimSpace(cfg.CLIChat.Command + " " + strings.Join(cfg.CLIChat.Args, " ")),
			Fingerprint: fingerprint(common, cfg.CLIChat),
		})
	}

	return out, nil
}

func policy(r config.ReconnectConfig) backoff.Policy {
	return backoff.Policy{
		Initial:     time.Duration(r.InitialMs) * time.Millisecond,
		Max:         time.Duration(r.MaxMs) * time.Millisecond,
		Factor:      r.Factor,
		MaxAttempts: r.Attempts(),
	}
}

// capLimit applies a platform maximum to a configured limit (0 = default).
func capLimit(configured, platform int) int {
	if configured <= 0 || configured > platform {
		return platform
	}
	return configured
}

// fingerprint hashes everything a surface's monitor was built from.
func fingerprint(common shared, surface any) string {
	data, err := json.Marshal(struct {
		Shared  shared
		Surface any
	}{common, surface})
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
