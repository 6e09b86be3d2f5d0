package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/OllieMilton/pulsefeed/internal/coordination"
	"github.com/OllieMilton/pulsefeed/internal/feed"
	"github.com/OllieMilton/pulsefeed/internal/hub"
	"github.com/OllieMilton/pulsefeed/internal/platform/config"
	"github.com/OllieMilton/pulsefeed/internal/platform/logging"
	"github.com/OllieMilton/pulsefeed/internal/platform/version"
	redisclient "github.com/OllieMilton/pulsefeed/internal/redis"
	"github.com/OllieMilton/pulsefeed/internal/server"
	"github.com/OllieMilton/pulsefeed/internal/snapshot"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the broadcast server",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupRedis(cfg *config.Config) *goredis.Client {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := redisclient.Connect(ctx, cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

func runGracefulShutdown(cancel context.CancelFunc, srv *server.Server, hubs []*hub.Hub) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		// Stop the drivers and trigger bus, then the hubs.
		cancel()
		for _, h := range hubs {
			h.Stop()
		}

		close(done)
	}()

	return done
}

func runServe() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "version", version.Get().Version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverInfo, err := feed.BuildServerInfo(ctx, version.Get().Version, cfg.AppEnv, clock)
	if err != nil {
		slog.Error("Failed to collect server info", "error", err)
		os.Exit(1)
	}

	hubOpts := hub.Options{
		QueueCapacity:  cfg.SubscriberQueueCapacity,
		OverflowLimit:  cfg.OverflowEvictionThreshold,
		MaxSubscribers: cfg.MaxSubscribers,
	}

	timeCache := snapshot.NewCache()
	statusCache := snapshot.NewCache()

	timeHub := hub.New("time-update", timeCache, clock, hubOpts)
	statusHub := hub.New("status-update", statusCache, clock, hubOpts)

	timeDriver := feed.NewDriver("time-update", feed.NewTimeSource(clock), timeCache, timeHub,
		clock, cfg.TimeBroadcastInterval, cfg.CollectionTimeout)
	statusSource := feed.NewStatusSource(clock, cfg.StatusBroadcastInterval, serverInfo)
	statusDriver := feed.NewDriver("status-update", statusSource, statusCache, statusHub,
		clock, cfg.StatusBroadcastInterval, cfg.CollectionTimeout)

	go timeDriver.Run(ctx)
	go statusDriver.Run(ctx)

	triggers := map[string]server.Triggerable{
		"time":   timeDriver,
		"status": statusDriver,
	}

	var redisClient *goredis.Client
	if cfg.RedisURL != "" {
		redisClient = setupRedis(cfg)
		defer func() { _ = redisClient.Close() }()

		bus := coordination.NewTriggerBus(redisClient, map[string]coordination.Triggerable{
			"time":   timeDriver,
			"status": statusDriver,
		})
		go bus.Start(ctx)
		slog.Info("Trigger bus enabled", "channel", coordination.TriggerChannel)
	}

	srv := server.NewServer(cfg, server.Deps{
		TimeHub:     timeHub,
		StatusHub:   statusHub,
		StatusCache: statusCache,
		Triggers:    triggers,
		Redis:       redisClient,
		Clock:       clock,
	})

	done := runGracefulShutdown(cancel, srv, []*hub.Hub{timeHub, statusHub})

	slog.Info("Server starting", "port", cfg.Port)
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
