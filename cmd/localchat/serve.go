package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/comigor/localchat/internal/api"
	"github.com/comigor/localchat/internal/chat"
	"github.com/comigor/localchat/internal/config"
	"github.com/comigor/localchat/internal/health"
	"github.com/comigor/localchat/internal/history"
	"github.com/comigor/localchat/internal/llm"
	"github.com/comigor/localchat/internal/logger"
	"github.com/comigor/localchat/internal/memory"
	"github.com/comigor/localchat/internal/observe"
	"github.com/comigor/localchat/internal/speech"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if cfg.Telemetry.Enabled {
		shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
			ServiceName:    cfg.Telemetry.ServiceName,
			ServiceVersion: version,
		})
		if err != nil {
			// Telemetry is optional; the server runs without it.
			logger.L.Warn("telemetry disabled", "error", err)
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.L.Warn("telemetry shutdown", "error", err)
				}
			}()
		}
	}
	metrics := observe.DefaultMetrics()

	if cfg.History.Driver == config.DriverPostgres {
		if err := history.RunMigrations(cfg.History.DSN); err != nil {
			return err
		}
	}
	store, err := history.Open(ctx, cfg.History)
	if err != nil {
		return err
	}
	defer store.Close()

	mem, err := memory.Open(ctx, cfg.Memory)
	if err != nil {
		// Long-term memory is optional; chat keeps working without it.
		logger.L.Warn("long-term memory disabled", "backend", cfg.Memory.Backend, "error", err)
		mem = memory.None()
	}
	defer mem.Close()

	tts, err := speech.NewAdapter(speech.NewKokoro(cfg.TTS), cfg.TTS.Voice, cfg.TTS.Speed)
	if err != nil {
		return fmt.Errorf("speech: %w", err)
	}

	model := llm.NewClient(cfg.LLM)
	opts := chat.NewOptions(cfg.Chat, cfg.Memory)
	opts.Metrics = metrics
	rt := chat.New(model, store, mem, opts)

	checkers := []health.Checker{{Name: "history", Check: store.Ping}}
	if mem.Enabled() {
		checkers = append(checkers, health.Checker{Name: "memory", Check: mem.Ping})
	}
	srv := api.New(rt, store, tts, api.Options{
		Model:            model.Model(),
		CORSAllowOrigins: cfg.Server.CORSAllowOrigins,
		Health:           health.New(checkers...),
		Metrics:          metrics,
	})

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: srv.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.L.Info("starting server", "address", httpServer.Addr, "model", model.Model(),
			"history", cfg.History.Driver, "memory", cfg.Memory.Backend)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.L.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.L.Error("http shutdown", "error", err)
	}
	if err := rt.Close(shutdownCtx); err != nil {
		logger.L.Warn("pending writes abandoned", "error", err)
	}
	return nil
}
