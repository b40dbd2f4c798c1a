// Package server wires the cloud service together: storage, services, the
// HTTP API, and graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"alarmify/internal/config"
	"alarmify/internal/logging"
	"alarmify/internal/server/repositories/repomanager"
	"alarmify/internal/server/rest"
	"alarmify/internal/server/services"
	"alarmify/internal/server/storage"
)

// App is the assembled cloud server.
type App struct {
	config *config.ServerConfig
	logger logging.Logger
	db     *sql.DB
	rest   *rest.Server
}

// NewApp opens the database, migrates it, and wires the services.
func NewApp(ctx context.Context, cfg *config.ServerConfig) (*App, error) {
	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	db, err := storage.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	repos := repomanager.NewPostgresManager()
	userService := services.NewUserService(db, repos, cfg.JWTSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	syncService := services.NewSyncService(db, repos, cfg.TombstoneGrace)
	restServer := rest.NewServer(cfg.Addr, cfg.JWTSecret, userService, syncService, logger)

	return &App{config: cfg, logger: logger, db: db, rest: restServer}, nil
}

// Run serves until the context is cancelled or a termination signal arrives.
func (app *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(sigs)
	go func() {
		<-sigs
		cancel()
	}()

	app.logger.Info(ctx, "starting cloud server", "addr", app.config.Addr)
	err := app.rest.Run(ctx)

	if closeErr := app.db.Close(); closeErr != nil {
		app.logger.Error(ctx, "closing database", "error", closeErr)
	}
	return err
}
