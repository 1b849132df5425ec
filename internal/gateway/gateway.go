// Package gateway wires the relay together: it builds the session store,
// media handling and one connection monitor per enabled surface from the
// configuration, serves the status API, and applies config reloads.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/roelfdiedericks/clawrelay/internal/bus"
	"github.com/roelfdiedericks/clawrelay/internal/channels"
	"github.com/roelfdiedericks/clawrelay/internal/config"
	"github.com/roelfdiedericks/clawrelay/internal/httpapi"
	. "github.com/roelfdiedericks/clawrelay/internal/logging"
	"github.com/roelfdiedericks/clawrelay/internal/media"
	"github.com/roelfdiedericks/clawrelay/internal/paths"
	"github.com/roelfdiedericks/clawrelay/internal/session"
)

// ErrNoSurfaces is returned by Run when the config enables no surface.
var ErrNoSurfaces = errors.New("no surface enabled")

// Gateway owns the long-lived relay components.
type Gateway struct {
	cfgPath string
	version string

	mu  sync.Mutex
	cfg *config.Config

	store    session.Store
	media    *media.Store
	loader   *media.Loader
	channels *channels.Manager
	http     *httpapi.Server
	maint    *maintenance
}

// New opens the session store and media directory. cfgPath may be empty
// when running on defaults; reload is then disabled.
func New(cfg *config.Config, cfgPath, version string) (*Gateway, error) {
	g := &Gateway{cfgPath: cfgPath, version: version, cfg: cfg}

	storePath := cfg.Store.Path
	if storePath != session.MemoryPath {
		var err error
		storePath, err = paths.Resolve(cfg.Store.Path, "sessions.db")
		if err != nil {
			return nil, fmt.Errorf("session store path: %w", err)
		}
		if err := paths.EnsureParentDir(storePath); err != nil {
			return nil, fmt.Errorf("session store dir: %w", err)
		}
	}
	store, err := session.Open(storePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	g.store = store
	L_info("session: store ready", "path", storePath)

	mediaDir, err := paths.Resolve(cfg.Media.Dir, "media")
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("media dir: %w", err)
	}
	g.media, err = media.NewStore(mediaDir, media.DefaultTTL, 0)
	if err != nil {
		store.Close()
		return nil, err
	}
	g.loader = media.NewLoader(cfg.Media.MaxBytes, "", time.Duration(cfg.Media.FetchTimeoutSeconds)*time.Second)

	return g, nil
}

// Config returns the configuration currently in effect.
func (g *Gateway) Config() *config.Config {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cfg
}

// Status reports every managed surface. Valid once Run has started.
func (g *Gateway) Status() map[string]channels.ChannelStatus {
	g.mu.Lock()
	mgr := g.channels
	g.mu.Unlock()
	if mgr == nil {
		return map[string]channels.ChannelStatus{}
	}
	return mgr.Status()
}

// Run starts every enabled surface and blocks until ctx is cancelled.
func (g *Gateway) Run(ctx context.Context) error {
	cfg := g.Config()
	surfaces, err := g.surfaces(cfg)
	if err != nil {
		return err
	}
	if len(surfaces) == 0 {
		return ErrNoSurfaces
	}

	mgr := channels.NewManager(ctx)
	if err := mgr.Apply(surfaces); err != nil {
		mgr.StopAll()
		return err
	}
	g.mu.Lock()
	g.channels = mgr
	g.mu.Unlock()

	if cfg.HTTP.Enabled {
		g.http = httpapi.NewServer(httpapi.ServerConfig{
			Listen:  cfg.HTTP.Listen,
			Token:   cfg.HTTP.Token,
			Version: g.version,
		}, g)
		if err := g.http.Start(); err != nil {
			L_error("http: start failed", "error", err)
			g.http = nil
		}
	}

	g.maint, err = startMaintenance(cfg.Store, g.store, g.media)
	if err != nil {
		L_warn("gateway: maintenance disabled", "error", err)
	}

	var watchers sync.WaitGroup
	if g.cfgPath != "" {
		watchers.Add(1)
		go func() {
			defer watchers.Done()
			if err := config.Watch(ctx, g.cfgPath, 0, g.Reload); err != nil {
				L_warn("config: watch failed, hot reload disabled", "error", err)
			}
		}()
	}

	L_info("gateway: running", "surfaces", mgr.Names())
	<-ctx.Done()
	SetShuttingDown()
	L_info("gateway: shutting down")

	mgr.StopAll()
	if g.http != nil {
		_ = g.http.Stop()
	}
	if g.maint != nil {
		g.maint.stop()
	}
	watchers.Wait()
	return nil
}

// Reload applies a new configuration. Surfaces whose settings changed are
// restarted; store and media locations need a process restart.
func (g *Gateway) Reload(cfg *config.Config) {
	g.mu.Lock()
	prev := g.cfg
	g.mu.Unlock()

	if prev.Store.Path != cfg.Store.Path || prev.Media.Dir != cfg.Media.Dir {
		L_warn("config: store and media paths change on restart only")
	}
	if prev.HTTP != cfg.HTTP {
		L_warn("config: http settings change on restart only")
	}
	if prev.Logging.Level != cfg.Logging.Level {
		SetLevel(ParseLevel(cfg.Logging.Level))
		L_info("config: log level changed", "level", cfg.Logging.Level)
	}

	surfaces, err := g.surfaces(cfg)
	if err != nil {
		L_error("config: reload rejected", "error", err)
		return
	}
	g.mu.Lock()
	g.cfg = cfg
	mgr := g.channels
	g.mu.Unlock()

	if mgr != nil {
		if err := mgr.Apply(surfaces); err != nil {
			L_error("config: some surfaces failed to restart", "error", err)
		}
	}
	bus.PublishEvent("config.reloaded", nil, "gateway")
}

// Close releases the session store. Call after Run returns.
func (g *Gateway) Close() error {
	return g.store.Close()
}
