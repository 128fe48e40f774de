package webhook

import (
	"context"
	"log/slog"
	"time"

	"github.com/YannKr/signflow/internal/db"
)

type Retrier struct {
	Dispatcher *Dispatcher
	Interval   time.Duration
}

func (r *Retrier) Start(ctx context.Context) {
	if r.Interval == 0 {
		r.Interval = 30 * time.Second
	}
	go r.loop(ctx)
	slog.Info("webhook retrier started", "interval", r.Interval)
}

func (r *Retrier) loop(ctx context.Context) {
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce re-attempts every failed delivery whose retry time has passed.
func (r *Retrier) RunOnce(ctx context.Context) {
	d := r.Dispatcher
	deliveries, err := db.ListDueWebhookDeliveries(ctx, d.DB, time.Now())
	if err != nil {
		slog.Error("webhook retrier: list due deliveries", "error", err)
		return
	}
	for i := range deliveries {
		del := &deliveries[i]
		wh, err := db.GetWebhookByID(ctx, d.DB, del.WebhookID)
		if err != nil || wh == nil {
			continue
		}
		del.AttemptNumber++
		d.attemptAndRecord(ctx, wh, del)
	}
}
