package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nids-dash/nids-go/internal/artifacts"
	"github.com/nids-dash/nids-go/internal/briefing"
	"github.com/nids-dash/nids-go/internal/db"
	"github.com/nids-dash/nids-go/internal/handlers"
	"github.com/nids-dash/nids-go/internal/ratelimit"
	"github.com/nids-dash/nids-go/internal/server"
	"github.com/nids-dash/nids-go/internal/session"
	"github.com/nids-dash/nids-go/internal/sse"
	nidstls "github.com/nids-dash/nids-go/internal/tls"
	"github.com/nids-dash/nids-go/internal/web"
	"github.com/nids-dash/nids-go/internal/ws"
)

const (
	shutdownGrace   = 10 * time.Second
	limiterPrune    = 5 * time.Minute
	limiterIdleTime = 10 * time.Minute
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dashboard HTTP server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger := server.SetupLogger(cfg.LogLevel, os.Stdout)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader := artifacts.New(artifactPaths(cfg), logger)
	if _, _, err := loader.LoadAll(ctx); err != nil {
		if cfg.Startup.FailFast {
			return fmt.Errorf("load artifacts: %w", err)
		}
		logger.Warn("serving without artifacts; pages will report the load failure", "err", err)
	}

	// PostgreSQL is optional: without it sessions live in memory and no
	// detection history is kept.
	var (
		store   session.Store = session.NewMemoryStore()
		history handlers.HistoryStore
	)
	if cfg.Database.URL != "" {
		database, err := db.Connect(ctx, cfg.Database.URL, logger)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer database.Close()
		store = session.NewPGStore(database)
		history = database
	}

	sessions := session.NewManager(store, logger, cfg.Production(), cfg.Session.IdleTimeout)
	renderer, err := web.NewRenderer()
	if err != nil {
		return err
	}
	hub := sse.NewHub(logger)

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.DetectPerMinute > 0 {
		limiter = ratelimit.New(map[string]ratelimit.Bucket{
			"detect": {MaxRequests: cfg.RateLimit.DetectPerMinute, Window: time.Minute},
		})
		go server.RunWithRecovery(ctx, logger, "ratelimit-prune", server.Every(limiterPrune, func(context.Context) {
			if n := limiter.Prune(limiterIdleTime); n > 0 {
				logger.Debug("pruned idle rate limit clients", "count", n)
			}
		}))
	}

	briefer := briefing.New(ctx, briefing.Config{
		Provider: cfg.Briefing.Provider,
		APIKey:   cfg.Briefing.APIKey,
		Model:    cfg.Briefing.Model,
		Region:   cfg.Briefing.Region,
	}, logger)

	router := handlers.NewRouter(handlers.Deps{
		Artifacts: loader,
		Sessions:  sessions,
		Renderer:  renderer,
		Limiter:   limiter,
		Briefer:   briefer,
		History:   history,
		Hub:       hub,
		WS:        ws.NewManager(hub, logger),
		Logger:    logger,
	})

	go server.RunWithRecovery(ctx, logger, "session-cleanup", sessions.CleanupLoop)

	if cfg.TLS.Domain != "" {
		cm, err := nidstls.NewCertManager(cfg.TLS.Domain, cfg.TLS.Email, cfg.TLS.Staging, logger)
		if err != nil {
			return err
		}
		return cm.ListenAndServe(ctx, router)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: 0, // SSE + WebSocket need unlimited write time
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}
	return server.Serve(ctx, srv, logger, shutdownGrace)
}
