package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	panel "github.com/cardinal-bot/panel"
	"github.com/cardinal-bot/panel/internal/auth"
	"github.com/cardinal-bot/panel/internal/config"
	"github.com/cardinal-bot/panel/internal/discord"
	"github.com/cardinal-bot/panel/internal/escalation"
	"github.com/cardinal-bot/panel/internal/server"
	"github.com/cardinal-bot/panel/internal/store"
)

func main() {
	configPath := flag.String("config", envOr("PANEL_CONFIG", "panel.toml"), "TOML config file")
	listenAddr := flag.String("listen", "", "HTTP listen address (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *listenAddr != "" {
		cfg.Server.Addr = *listenAddr
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	logger := cfg.Log.NewLogger(os.Stderr)
	slog.SetDefault(logger)
	if cfg.Auth.SessionSecret == config.InsecureSessionSecret {
		logger.Warn("using insecure default session secret; set PANEL_SESSION_SECRET for production")
	}
	if !cfg.Auth.Enabled {
		logger.Warn("authentication is disabled; every visitor has full access")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := store.NewSQLiteStore(ctx, cfg.Database.Path, store.WithQueryTimeout(cfg.Database.QueryTimeout))
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	gate, err := auth.New(cfg.Auth, cfg.Secure())
	if err != nil {
		log.Fatalf("Failed to set up authentication: %v", err)
	}

	tmplFS, err := fs.Sub(panel.TemplatesFS, "templates")
	if err != nil {
		log.Fatalf("Failed to create templates sub-FS: %v", err)
	}
	stFS, err := fs.Sub(panel.StaticFS, "static")
	if err != nil {
		log.Fatalf("Failed to create static sub-FS: %v", err)
	}

	srv, err := server.NewServer(server.Config{
		ListenAddr:    cfg.Server.Addr,
		BaseURL:       cfg.Server.BaseURL,
		SessionSecret: cfg.Auth.SessionSecret,
		Secure:        cfg.Secure(),
		Pagination:    cfg.Pagination,
		RateLimits:    server.DefaultRateLimiterConfig(),
	}, db, gate, tmplFS, stFS, logger)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}
	defer srv.Stop()

	srv.SetEscalator(escalation.NewEngine(db, logger))
	if cfg.Discord.BotToken != "" {
		srv.SetDiscord(discord.NewClient(ctx, cfg.Discord.BotToken, cfg.Discord.APIBase, cfg.Discord.CacheTTL))
		logger.Info("discord sync enabled", "api_base", cfg.Discord.APIBase)
	}

	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", cfg.Server.Addr, "db", cfg.Database.Path, "auth", cfg.Auth.Enabled)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
