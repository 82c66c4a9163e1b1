// cmd/circulation/main.go
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/proall22/library-management-system/internal/archive"
	"github.com/proall22/library-management-system/internal/circulation"
	"github.com/proall22/library-management-system/internal/clients"
	"github.com/proall22/library-management-system/internal/clock"
	"github.com/proall22/library-management-system/internal/config"
	"github.com/proall22/library-management-system/internal/directory"
	"github.com/proall22/library-management-system/internal/middleware"
	"github.com/proall22/library-management-system/internal/telemetry"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()
	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "circulation", cfg.OTLPEndpoint)
	if err != nil {
		sugar.Fatalw("tracing initialization error", "error", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			sugar.Errorw("tracing shutdown error", "error", err)
		}
	}()

	var members circulation.Directory
	if cfg.MembershipServiceURL != "" {
		members = clients.NewMembershipClient(cfg.MembershipServiceURL)
	} else {
		sugar.Warn("no membership service configured, using empty in-memory directory")
		members = directory.NewMemory()
	}

	var sink circulation.EventSink = circulation.NoopSink{}
	var recorder *archive.Recorder
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			sugar.Fatalw("database initialization error", "error", err)
		}
		defer db.Close()

		recorder = archive.NewRecorder(db, sugar)
		if err := recorder.EnsureSchema(ctx); err != nil {
			sugar.Fatalw("archive schema error", "error", err)
		}
		sink = recorder
	}

	svc := circulation.NewService(clock.NewRealClock(), cfg.Policy(), members, sink, sugar)
	handler := circulation.NewHandler(svc, sugar)
	router := handler.SetupRouter(
		middleware.Logger(logger),
		middleware.RateLimit(cfg.RateLimitPerSecond, cfg.RateLimitBurst),
	)

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: router,
	}

	g, ctx := errgroup.WithContext(ctx)

	if recorder != nil {
		g.Go(func() error {
			return recorder.Run(ctx)
		})
	}

	g.Go(func() error {
		svc.RunExpirySweeper(ctx, cfg.SweepInterval)
		return nil
	})

	g.Go(func() error {
		sugar.Infow("starting circulation service", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
