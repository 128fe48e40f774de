package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"

	signflow "github.com/YannKr/signflow"
	"github.com/YannKr/signflow/internal/cleanup"
	"github.com/YannKr/signflow/internal/config"
	"github.com/YannKr/signflow/internal/db"
	"github.com/YannKr/signflow/internal/diskstat"
	"github.com/YannKr/signflow/internal/effects"
	"github.com/YannKr/signflow/internal/email"
	"github.com/YannKr/signflow/internal/handler"
	"github.com/YannKr/signflow/internal/signing"
	"github.com/YannKr/signflow/internal/sse"
	"github.com/YannKr/signflow/internal/stamp"
	"github.com/YannKr/signflow/internal/storage"
	"github.com/YannKr/signflow/internal/webhook"
	"github.com/YannKr/signflow/internal/worker"
)

func Run(ctx context.Context, cfg *config.Config) error {
	files := &storage.Files{DataDir: cfg.DataDir}
	for _, dir := range []string{cfg.DataDir, files.OriginalsDir(), files.SignedDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	database, err := db.Open(cfg.DataDir)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := db.Migrate(database, signflow.MigrationFS); err != nil {
		return err
	}
	slog.Info("database ready", "path", filepath.Join(cfg.DataDir, "db", "signflow.db"))

	mailer := &email.Mailer{
		Host: cfg.SMTPHost,
		Port: cfg.SMTPPort,
		User: cfg.SMTPUser,
		Pass: cfg.SMTPPass,
		From: cfg.SMTPFrom,
	}
	if mailer.Enabled() {
		slog.Info("email enabled", "host", cfg.SMTPHost, "from", cfg.SMTPFrom)
	}

	dispatcher := &webhook.Dispatcher{DB: database}
	defer dispatcher.Wait()

	hub := sse.New()
	runner := &effects.Runner{
		DB:       database,
		Hub:      hub,
		Webhooks: dispatcher,
		Mailer:   mailer,
	}
	defer runner.Wait()

	store := &db.Store{DB: database}
	svc := signing.NewService(store, store, &stamp.Pipeline{Files: files}, runner, signing.Options{
		TokenTTL:     cfg.TokenTTL,
		ClaimTimeout: cfg.ClaimTimeout,
		ClientURL:    cfg.ClientURL,
	})

	pool := worker.NewPool(database, svc, worker.Options{
		Workers:     cfg.WorkerCount,
		MaxAttempts: cfg.CompositeMaxAttempts,
	})
	pool.Start(ctx)
	defer pool.Stop()

	retrier := &webhook.Retrier{Dispatcher: dispatcher}
	retrier.Start(ctx)

	cleaner := &cleanup.Cleaner{
		DB:       database,
		Files:    files,
		Interval: cfg.CleanupInterval,
	}
	cleaner.Start(ctx)
	defer cleaner.Stop()

	diskCache := diskstat.New(cfg.DataDir, 60*time.Second)
	diskCache.Start()
	defer diskCache.Stop()

	// 5 requests/minute for credentials; signing links get more headroom
	// since a signer loads the view and the file before submitting.
	authRL := handler.NewRateLimiter(5.0/60.0, 5)
	defer authRL.Stop()
	signRL := handler.NewRateLimiter(rate.Limit(1), 20)
	defer signRL.Stop()

	h := handler.New(database, cfg, svc, files, mailer, hub, diskCache, runner)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           h.Routes(authRL, signRL),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("server starting", "addr", cfg.ListenAddr, "base_url", cfg.BaseURL, "client_url", cfg.ClientURL)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
