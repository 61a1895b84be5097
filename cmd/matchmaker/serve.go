// cmd/matchmaker/serve.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jason-s-yu/matchmaker/internal/auth"
	"github.com/jason-s-yu/matchmaker/internal/clock"
	"github.com/jason-s-yu/matchmaker/internal/config"
	"github.com/jason-s-yu/matchmaker/internal/database"
	"github.com/jason-s-yu/matchmaker/internal/handlers"
	"github.com/jason-s-yu/matchmaker/internal/lobby"
	"github.com/jason-s-yu/matchmaker/internal/matchmaking"
	"github.com/jason-s-yu/matchmaker/internal/metrics"
	"github.com/jason-s-yu/matchmaker/internal/presence"
	"github.com/jason-s-yu/matchmaker/internal/reaper"
	"github.com/spf13/cobra"
)

func newServeCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the matchmaking HTTP service and its background reaper",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}

	flags := cmd.Flags()
	flags.String("port", "8080", "HTTP listen port (PORT)")
	flags.String("database-url", "", "Postgres URL of the sessions database (DATABASE_URL)")
	flags.Duration("heartbeat-ttl", 20*time.Second, "lobby heartbeat TTL (HEARTBEAT_TTL)")
	flags.Duration("sweep-interval", 20*time.Second, "dead-lobby sweep interval (SWEEP_INTERVAL)")
	flags.Duration("archive-grace", 5*time.Minute, "how long closed lobbies stay readable (ARCHIVE_GRACE)")
	flags.Duration("cleanup-interval", 5*time.Minute, "expired-session purge interval (CLEANUP_INTERVAL)")
	flags.String("public-ws-url", "ws://localhost:8080", "public base URL for presence sockets (PUBLIC_WS_URL)")
	flags.Bool("bootstrap-schema", false, "create the sessions table if missing, for local setups (BOOTSTRAP_SCHEMA)")
	mustBind(a.v, flags, map[string]string{
		config.KeyPort:                 "port",
		config.KeyDatabaseURL:          "database-url",
		config.KeyHeartbeatTTL:         "heartbeat-ttl",
		config.KeySweepInterval:        "sweep-interval",
		config.KeyArchiveGrace:         "archive-grace",
		config.KeySessionPurgeInterval: "cleanup-interval",
		config.KeyPublicWSURL:          "public-ws-url",
		config.KeyBootstrapSchema:      "bootstrap-schema",
	})
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("%s is required to resolve sessions", config.KeyDatabaseURL)
	}

	rdb, repo, err := a.connect(ctx)
	if err != nil {
		return err
	}
	defer rdb.Close()

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()
	sessions := database.NewSessionStore(pool)
	if cfg.BootstrapSchema {
		if err := sessions.EnsureSchema(ctx); err != nil {
			return err
		}
	}

	var tokens *auth.Tokens
	if cfg.PresenceKeyPath != "" {
		tokens, err = auth.NewTokensFromPath(cfg.PresenceKeyPath, cfg.PresencePubKeyPath, cfg.PresenceTokenTTL)
	} else {
		tokens, err = auth.NewTokens(cfg.PresenceTokenTTL)
	}
	if err != nil {
		return err
	}

	m := metrics.New()
	hub := presence.NewHub(logger, 16)
	relay := presence.NewRedisRelay(rdb, hub, logger)

	lm := lobby.NewLobbyManager(repo, clock.Real{}, relay, m, logger, lobby.Options{
		MaxJoiners:   cfg.MaxJoiners,
		HeartbeatTTL: cfg.HeartbeatTTL,
	})
	mm := matchmaking.NewMatchmaker(repo, lm, clock.Real{}, relay, m, logger, matchmaking.Options{
		MaxJoiners:      cfg.MaxJoiners,
		AvgMatchSeconds: cfg.AvgMatchSeconds,
	})
	rp := reaper.New(lm, sessions, logger, reaper.Options{
		SweepInterval:        cfg.SweepInterval,
		ArchiveGrace:         cfg.ArchiveGrace,
		ArchivePurgeInterval: cfg.ArchivePurgeInterval,
		SessionPurgeInterval: cfg.SessionPurgeInterval,
	})

	srv := &handlers.MatchServer{
		Matchmaker:  mm,
		Sessions:    sessions,
		Tokens:      tokens,
		Hub:         hub,
		PublicWSURL: cfg.PublicWSURL,
		Logger:      logger,
	}
	mux := http.NewServeMux()
	srv.Routes(mux, m.Handler())

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, 3)
	go func() { errc <- relay.Run(ctx) }()
	go func() {
		rp.Run(ctx)
		errc <- nil
	}()
	go func() {
		logger.Infof("Running on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("server exited: %w", err)
			return
		}
		errc <- nil
	}()

	select {
	case <-ctx.Done():
	case err = <-errc:
		if err != nil {
			logger.WithError(err).Error("component failed, shutting down")
		}
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.WithError(shutdownErr).Warn("http shutdown")
	}
	logger.Info("matchmaker stopped")
	return err
}
