package cleanup

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/YannKr/signflow/internal/db"
)

const (
	deliveryRetention = 90 * 24 * time.Hour
	jobRetention      = 30 * 24 * time.Hour
	tempGrace         = time.Hour
)

// TempSweeper removes abandoned temporary artifacts.
type TempSweeper interface {
	RemoveStaleTemps(cutoff time.Time) (int, error)
}

type Cleaner struct {
	DB       *sql.DB
	Files    TempSweeper
	Interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

func (c *Cleaner) Start(ctx context.Context) {
	if c.Interval <= 0 {
		c.Interval = time.Hour
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	go c.loop(ctx)
	slog.Info("cleanup scheduler started", "interval", c.Interval)
}

func (c *Cleaner) Stop() {
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}
	slog.Info("cleanup scheduler stopped")
}

func (c *Cleaner) loop(ctx context.Context) {
	defer close(c.done)

	c.RunOnce(ctx, time.Now())

	ticker := time.NewTicker(c.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			c.RunOnce(ctx, t)
		}
	}
}

// RunOnce performs one housekeeping pass as of now.
func (c *Cleaner) RunOnce(ctx context.Context, now time.Time) {
	if n, err := db.CleanExpiredSessions(c.DB, now); err != nil {
		slog.Error("cleanup: expired sessions", "error", err)
	} else if n > 0 {
		slog.Info("cleanup: removed expired sessions", "count", n)
	}

	if c.Files != nil {
		if n, err := c.Files.RemoveStaleTemps(now.Add(-tempGrace)); err != nil {
			slog.Error("cleanup: stale temp artifacts", "error", err)
		} else if n > 0 {
			slog.Info("cleanup: removed stale temp artifacts", "count", n)
		}
	}

	if n, err := db.PruneOldWebhookDeliveries(ctx, c.DB, now.Add(-deliveryRetention)); err != nil {
		slog.Error("cleanup: prune webhook deliveries", "error", err)
	} else if n > 0 {
		slog.Info("cleanup: pruned old webhook deliveries", "count", n)
	}

	if n, err := db.PruneFinishedJobs(ctx, c.DB, now.Add(-jobRetention)); err != nil {
		slog.Error("cleanup: prune finished jobs", "error", err)
	} else if n > 0 {
		slog.Info("cleanup: pruned finished jobs", "count", n)
	}
}
