package gateway

import (
	"context"
	"fmt"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/roelfdiedericks/clawrelay/internal/config"
	. "github.com/roelfdiedericks/clawrelay/internal/logging"
	"github.com/roelfdiedericks/clawrelay/internal/media"
	. "github.com/roelfdiedericks/clawrelay/internal/metrics"
	"github.com/roelfdiedericks/clawrelay/internal/session"
)

// maintenance prunes idle sessions and expired inbound media on a schedule.
type maintenance struct {
	cron  *cronlib.Cron
	store session.Store
	media *media.Store
	keep  time.Duration // 0 = never prune sessions
}

func startMaintenance(cfg config.StoreConfig, store session.Store, mediaStore *media.Store) (*maintenance, error) {
	m := &maintenance{
		cron:  cronlib.New(),
		store: store,
		media: mediaStore,
		keep:  time.Duration(cfg.PruneAfterDays) * 24 * time.Hour,
	}
	schedule := cfg.MaintenanceSchedule
	if schedule == "" {
		schedule = "@daily"
	}
	if _, err := m.cron.AddFunc(schedule, func() { m.run(time.Now()) }); err != nil {
		return nil, fmt.Errorf("invalid maintenance schedule %q: %w", schedule, err)
	}
	m.cron.Start()
	L_debug("gateway: maintenance scheduled", "schedule", schedule, "pruneAfter", m.keep)
	return m, nil
}

// run performs one maintenance pass.
func (m *maintenance) run(now time.Time) {
	start := time.Now()
	defer MetricSince("gateway", "maintenance", start)

	if m.keep > 0 && m.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		n, err := m.store.Prune(ctx, now.Add(-m.keep))
		cancel()
		if err != nil {
			L_warn("gateway: session prune failed", "error", err)
		} else if n > 0 {
			L_info("gateway: pruned idle sessions", "removed", n)
			MetricAdd("gateway", "sessions_pruned", int64(n))
		}
	}

	if m.media != nil {
		n, err := m.media.CleanOld(now)
		if err != nil {
			L_warn("gateway: media cleanup failed", "error", err)
		} else if n > 0 {
			L_debug("gateway: media cleanup completed", "removed", n)
		}
	}
}

func (m *maintenance) stop() {
	<-m.cron.Stop().Done()
}
