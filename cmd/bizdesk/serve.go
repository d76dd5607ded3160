package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aliuyar1234/bizdesk/internal/app"
	"github.com/aliuyar1234/bizdesk/internal/config"
	"github.com/aliuyar1234/bizdesk/internal/retention"
	"github.com/rs/zerolog/log"
)

type ServeCmd struct {
	ShutdownTimeout time.Duration `help:"Grace period for in-flight requests." default:"10s"`
	NoScheduler     bool          `help:"Do not run the retention scheduler in this process."`
}

func (s *ServeCmd) Run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	application, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	if !s.NoScheduler {
		scheduler, err := retention.NewScheduler(application.Sweeper, cfg.IsDev())
		if err != nil {
			application.Close()
			return fmt.Errorf("failed to setup retention cron: %w", err)
		}
		scheduler.Start()
		defer func() {
			<-scheduler.Stop().Done()
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- application.Start()
	}()

	select {
	case err := <-errChan:
		application.Close()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.ShutdownTimeout)
		defer cancel()
		if err := application.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown failed: %w", err)
		}
		log.Info().Msg("Shutdown complete")
		return nil
	}
}
