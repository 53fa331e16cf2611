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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"voicexp/internal/cache"
	"voicexp/internal/config"
	"voicexp/internal/database"
	"voicexp/internal/discord"
	"voicexp/internal/logger"
	"voicexp/internal/voice"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, logCloser := logger.New(logger.Options{
		Level:      cfg.LogLevel,
		Pretty:     cfg.LogPretty,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})
	defer logCloser.Close()

	if err := run(cfg, log); err != nil {
		log.Error().Err(err).Msg("bot stopped with error")
		logCloser.Close()
		os.Exit(1)
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx := context.Background()
	loc := cfg.Location()

	// Initialize database
	db, err := database.New(cfg.DatabaseDSN, log)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	repository := database.NewRepository(db)

	// Rows left active by a previous process can no longer be completed
	if n, err := repository.AbandonStaleSessions(ctx); err != nil {
		log.Warn().Err(err).Msg("error abandoning stale sessions")
	} else if n > 0 {
		log.Info().Int64("sessions", n).Msg("abandoned sessions from previous run")
	}

	metrics := voice.NewMetrics(prometheus.DefaultRegisterer)
	if cfg.MetricsAddr != "" {
		srv := serveMetrics(cfg.MetricsAddr, log)
		defer srv.Close()
	}

	var limiter voice.DailyLimiter = voice.NewMemoryDailyLimiter(loc)
	if cfg.RedisAddr != "" {
		redisCfg := cache.DefaultConfig()
		redisCfg.Addr = cfg.RedisAddr
		redisCfg.Password = cfg.RedisPassword
		redisCfg.DB = cfg.RedisDB

		client, err := cache.NewClient(redisCfg)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer client.Close()
		limiter = cache.NewRedisDailyLimiter(client, loc)
		log.Info().Str("addr", cfg.RedisAddr).Msg("daily XP limits kept in redis")
	}

	policy := voice.NewPolicyStore(repository, cfg.PolicyCacheMB, cfg.PolicyCacheTTL, log, metrics)
	bridge := voice.NewBridge(repository, repository, limiter, log, metrics)
	registry := voice.NewRegistry(policy, bridge, voice.Options{
		Location:   loc,
		Checkpoint: cfg.XPCheckpoint,
		Logger:     log,
		Metrics:    metrics,
	})

	// Initialize Discord bot
	bot, err := discord.New(cfg.DiscordToken, discord.Deps{
		Tracker: registry,
		Policy:  policy,
		Stats:   repository,
		Prefix:  cfg.CommandPrefix,
		Logger:  log,
	})
	if err != nil {
		return err
	}
	bridge.OnGrant(bot.NotifyLevelUp)

	// Start bot
	if err := bot.Start(); err != nil {
		return err
	}

	// Wait for interrupt signal
	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	sig := <-sc
	log.Info().Str("signal", sig.String()).Msg("shutting down bot")

	if err := bot.Stop(); err != nil {
		log.Warn().Err(err).Msg("error closing discord session")
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.ShutdownAfter)
	defer cancel()
	if err := registry.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to finalize sessions: %w", err)
	}
	log.Info().Msg("all sessions finalized")
	return nil
}

func serveMetrics(addr string, log zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msg("metrics server stopped")
		}
	}()
	log.Info().Str("addr", addr).Msg("serving metrics")
	return srv
}
