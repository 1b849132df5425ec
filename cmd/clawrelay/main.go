package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/roelfdiedericks/clawrelay/internal/channels/whatsapp"
	"github.com/roelfdiedericks/clawrelay/internal/config"
	"github.com/roelfdiedericks/clawrelay/internal/gateway"
	. "github.com/roelfdiedericks/clawrelay/internal/logging"
	"github.com/roelfdiedericks/clawrelay/internal/paths"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// Globals are flags shared by every command.
type Globals struct {
	Config string `short:"c" help:"Config file (default: ./clawrelay.json or ~/.clawrelay/clawrelay.json)" type:"path"`
	Debug  bool   `short:"d" help:"Debug logging"`
	Trace  bool   `help:"Trace logging"`
}

// CLI is the command tree.
type CLI struct {
	Globals

	Gateway  GatewayCmd  `cmd:"" default:"1" help:"Run the relay (default)"`
	Cfg      ConfigCmd   `cmd:"" name:"config" help:"Inspect or create the configuration"`
	Status   StatusCmd   `cmd:"" help:"Show the status of a running gateway"`
	WhatsApp WhatsAppCmd `cmd:"" name:"whatsapp" help:"Web messaging device commands"`
	Version  VersionCmd  `cmd:"" help:"Print the version"`
}

// loadConfig loads the config and initializes logging from it. CLI flags
// override the configured level.
func loadConfig(g *Globals) (*config.Config, string, error) {
	cfg, path, err := config.Load(g.Config)
	if err != nil {
		initLogging(g, nil)
		return nil, path, err
	}
	initLogging(g, cfg)
	return cfg, path, nil
}

func initLogging(g *Globals, cfg *config.Config) {
	lc := DefaultConfig()
	if cfg != nil {
		lc.Level = ParseLevel(cfg.Logging.Level)
		lc.TimeFormat = cfg.Logging.TimeFormat
		lc.ShowCaller = cfg.Logging.ShowCaller
		lc.JSON = cfg.Logging.Format == "json"
	}
	if g.Debug {
		lc.Level = LevelDebug
	}
	if g.Trace {
		lc.Level = LevelTrace
	}
	Init(lc)
}

// GatewayCmd runs the relay until interrupted.
type GatewayCmd struct{}

func (c *GatewayCmd) Run(g *Globals) error {
	cfg, path, err := loadConfig(g)
	if err != nil {
		return err
	}
	if path == "" {
		L_warn("no config file found, running on defaults", "hint", "clawrelay config init")
	}
	L_info("clawrelay starting", "version", version, "config", path, "resolver", cfg.Resolver.Provider)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gw, err := gateway.New(cfg, path, version)
	if err != nil {
		return err
	}
	defer gw.Close()

	if err := gw.Run(ctx); err != nil {
		if errors.Is(err, gateway.ErrNoSurfaces) {
			return fmt.Errorf("%w: enable whatsapp, telegram or clichat in the config", err)
		}
		return err
	}
	L_info("clawrelay stopped")
	return nil
}

// ConfigCmd groups config subcommands.
type ConfigCmd struct {
	Show     ConfigShowCmd     `cmd:"" help:"Print the effective config with secrets masked"`
	Init     ConfigInitCmd     `cmd:"" help:"Write a config file with defaults"`
	Validate ConfigValidateCmd `cmd:"" help:"Check the config file"`
}

type ConfigShowCmd struct {
	Format string `enum:"json,toml,yaml" default:"json" help:"Output format (json, toml, yaml)"`
}

func (c *ConfigShowCmd) Run(g *Globals) error {
	cfg, _, err := loadConfig(g)
	if err != nil {
		return err
	}
	data, err := config.Marshal(cfg.Redacted(), c.Format)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}

type ConfigInitCmd struct {
	Path  string `arg:"" optional:"" help:"Where to write (default: ~/.clawrelay/clawrelay.json)"`
	Force bool   `help:"Overwrite an existing file"`
}

func (c *ConfigInitCmd) Run(g *Globals) error {
	initLogging(g, nil)
	path := c.Path
	if path == "" {
		var err error
		if path, err = paths.DefaultConfigPath(); err != nil {
			return err
		}
	}
	if _, err := os.Stat(path); err == nil && !c.Force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := paths.EnsureParentDir(path); err != nil {
		return err
	}
	if err := config.Save(config.Defaults(), path); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}

type ConfigValidateCmd struct{}

func (c *ConfigValidateCmd) Run(g *Globals) error {
	_, path, err := loadConfig(g)
	if err != nil {
		return err
	}
	if path == "" {
		fmt.Println("No config file found; defaults are valid")
		return nil
	}
	fmt.Printf("%s: OK\n", path)
	return nil
}

// WhatsAppCmd groups device commands.
type WhatsAppCmd struct {
	Status WhatsAppStatusCmd `cmd:"" help:"Show whether a device is paired"`
}

type WhatsAppStatusCmd struct{}

func (c *WhatsAppStatusCmd) Run(g *Globals) error {
	cfg, _, err := loadConfig(g)
	if err != nil {
		return err
	}
	dbPath, err := paths.Resolve(cfg.WhatsApp.StorePath, "whatsapp.db")
	if err != nil {
		return err
	}
	return whatsapp.DeviceStatus(context.Background(), os.Stdout, dbPath)
}

type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("clawrelay %s\n", version)
	return nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("clawrelay"),
		kong.Description("Relays chat surfaces to a reply resolver and delivers the replies."),
		kong.UsageOnError(),
	)
	err := ctx.Run(&cli.Globals)
	ctx.FatalIfErrorf(err)
}
