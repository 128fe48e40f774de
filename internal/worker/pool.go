package worker

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/YannKr/signflow/internal/db"
	"github.com/YannKr/signflow/internal/model"
	"github.com/YannKr/signflow/internal/signing"
)

const (
	DefaultMaxAttempts  = 3
	DefaultPollInterval = 2 * time.Second
	DefaultBaseDelay    = time.Minute
	staleJobAfter       = 15 * time.Minute
)

// Recomputer re-runs the completion check of a document.
type Recomputer interface {
	RecomputeDocumentStatus(ctx context.Context, docID string) (signing.Completion, error)
}

type Options struct {
	Workers      int
	MaxAttempts  int
	PollInterval time.Duration
	// BaseDelay is the wait before the second attempt; it doubles for each
	// further one.
	BaseDelay time.Duration
}

// Pool runs compositing retry jobs.
type Pool struct {
	database *sql.DB
	svc      Recomputer
	opts     Options
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewPool(database *sql.DB, svc Recomputer, opts Options) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultBaseDelay
	}
	return &Pool{database: database, svc: svc, opts: opts}
}

func (p *Pool) Start(ctx context.Context) {
	if n, err := db.ResetStaleJobs(ctx, p.database, time.Now().Add(-staleJobAfter)); err != nil {
		slog.Error("reset stale jobs", "error", err)
	} else if n > 0 {
		slog.Info("reset stale jobs", "count", n)
	}

	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.opts.Workers; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
	slog.Info("worker pool started", "workers", p.opts.Workers)
}

func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	slog.Info("worker pool stopped")
}

func (p *Pool) run(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ran, err := p.RunOnce(ctx)
		if err != nil {
			slog.Error("claim job", "worker", id, "error", err)
		}
		if !ran {
			sleep(ctx, p.opts.PollInterval)
		}
	}
}

// RunOnce claims and processes one due job. It reports whether a job was
// found.
func (p *Pool) RunOnce(ctx context.Context) (bool, error) {
	job, err := db.ClaimNextJob(ctx, p.database, []string{model.JobComposite}, time.Now())
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	slog.Info("processing job", "job", job.ID, "type", job.JobType, "document", job.DocumentID, "attempt", job.Attempts+1)
	p.finish(ctx, job, p.process(ctx, job))
	return true, nil
}

func (p *Pool) process(ctx context.Context, job *model.Job) error {
	c, err := p.svc.RecomputeDocumentStatus(ctx, job.DocumentID)
	if err != nil {
		if signing.CodeOf(err) == signing.CodeNotFound {
			slog.Info("document gone, dropping job", "job", job.ID, "document", job.DocumentID)
			return nil
		}
		return fmt.Errorf("recompute %s: %w", job.DocumentID, err)
	}
	if c.Err != nil {
		return c.Err
	}
	return nil
}

func (p *Pool) finish(ctx context.Context, job *model.Job, processErr error) {
	if processErr == nil {
		if err := db.CompleteJob(ctx, p.database, job.ID); err != nil {
			slog.Error("complete job", "job", job.ID, "error", err)
		}
		slog.Info("job completed", "job", job.ID)
		return
	}

	attempts := job.Attempts + 1
	if attempts >= p.opts.MaxAttempts {
		slog.Error("job failed", "job", job.ID, "document", job.DocumentID, "attempts", attempts, "error", processErr)
		if err := db.FailJob(ctx, p.database, job.ID, processErr.Error()); err != nil {
			slog.Error("fail job", "job", job.ID, "error", err)
		}
		return
	}

	next := time.Now().Add(p.opts.BaseDelay << (attempts - 1))
	slog.Warn("job failed, will retry", "job", job.ID, "document", job.DocumentID,
		"attempt", attempts, "next_run", next, "error", processErr)
	if err := db.RetryJob(ctx, p.database, job.ID, processErr.Error(), next); err != nil {
		slog.Error("retry job", "job", job.ID, "error", err)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
