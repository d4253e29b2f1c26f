package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"github.com/valkey-io/valkey-go"
	"go.uber.org/zap"

	"github.com/voket/relay/budget"
	"github.com/voket/relay/config"
	"github.com/voket/relay/cooldown"
	"github.com/voket/relay/monitoring"
	"github.com/voket/relay/pattern"
	"github.com/voket/relay/persist"
	"github.com/voket/relay/registry"
	"github.com/voket/relay/server"
	"github.com/voket/relay/utils"
)

const statusInterval = 15 * time.Second

func main() {
	logger := utils.Must(zap.NewProduction())
	defer logger.Sync()
	sugar := logger.Sugar()

	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()
	cfg, err := config.LoadConfig(*configPath, sugar)
	if err != nil {
		sugar.Fatalw("Failed to load config", "error", err)
	}

	reg, err := registry.New(cfg.Providers, cfg.TaskClasses)
	if err != nil {
		sugar.Fatalw("Invalid provider configuration", "error", err)
	}

	cooldownConfig, err := cfg.CooldownConfig()
	if err != nil {
		sugar.Fatalw("Invalid backoff configuration", "error", err)
	}
	patternConfig, err := cfg.PatternConfig()
	if err != nil {
		sugar.Fatalw("Invalid pattern configuration", "error", err)
	}
	flushInterval, err := cfg.FlushIntervalDuration()
	if err != nil {
		sugar.Fatalw("Invalid flush interval", "error", err)
	}

	tracker := budget.NewTracker(reg, sugar)
	manager := cooldown.NewManager(reg, cooldownConfig, sugar)
	patterns := pattern.NewStore(patternConfig, sugar)

	metrics, err := monitoring.NewMetrics("relay", sugar)
	if err != nil {
		sugar.Fatalw("Failed to create metrics", "error", err)
	}

	var store persist.Store
	if cfg.ValkeyEndpoint != "" {
		valkeyClient, err := valkey.NewClient(valkey.ClientOption{
			InitAddress: []string{cfg.ValkeyEndpoint},
		})
		if err != nil {
			sugar.Fatalw("Failed to create Valkey client", "error", err)
		}
		defer valkeyClient.Close()
		store = persist.NewValkeyStore(valkeyClient, "relay:snapshot")
	} else {
		store = persist.NewFileStore(cfg.StatePath)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	flusher := persist.NewFlusher(tracker, manager, patterns, store, flushInterval, cfg.FlushEveryCalls, sugar)
	flusher.Restore(ctx)

	flushDone := make(chan struct{})
	go func() {
		defer close(flushDone)
		flusher.Run(ctx)
	}()

	go startStatusLoop(ctx, reg, tracker, manager, patterns, metrics)

	srv := server.NewServer(reg, tracker, manager, patterns, metrics, cfg.ApiKey, sugar)

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		Debug:          false,
	})

	address := fmt.Sprintf(":%d", cfg.Port)
	httpServer := &http.Server{
		Addr:    address,
		Handler: corsMiddleware.Handler(srv.Routes()),
	}

	shutdownSignal := make(chan os.Signal, 1)
	signal.Notify(shutdownSignal, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-shutdownSignal
		sugar.Infow("Shutting down server...")

		// Stops the flush loop, which writes a final snapshot before exiting.
		cancel()
		<-flushDone

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			sugar.Fatalw("Server forced to shutdown", "error", err)
		}
	}()

	sugar.Infow("Starting server", "address", address)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		sugar.Fatalw("Failed to start server", "error", err)
	}

	sugar.Infow("Server exited gracefully")
}

// startStatusLoop publishes budget and health gauges on a fixed cadence.
func startStatusLoop(ctx context.Context, reg *registry.Registry, tracker *budget.Tracker, manager *cooldown.Manager, patterns *pattern.Store, metrics *monitoring.Metrics) {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			states := manager.States()
			for _, id := range reg.Providers() {
				usages, err := tracker.Usage(id)
				if err != nil {
					continue
				}
				for _, usage := range usages {
					metrics.SetBudgetUsage(id, usage.Period, usage.Used)
				}
				metrics.SetCooldownState(id, int(states[id].State))
			}
			metrics.SetPatternEntries(patterns.Size())
		}
	}
}
