// Package cli is the interactive alarm client: it hosts the scheduler, the
// sync engine, and a small REPL for managing alarms and the cloud account.
package cli

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	"alarmify/internal/cloud"
	"alarmify/internal/config"
	"alarmify/internal/filex"
	"alarmify/internal/logging"
	"alarmify/internal/playback"
	"alarmify/internal/scheduler"
	"alarmify/internal/session"
	"alarmify/internal/store"
	"alarmify/internal/syncengine"
)

// preWakeLead is how far ahead of an alarm the playback endpoint is probed so
// a dozing device reconnects in time.
const preWakeLead = 2 * time.Minute

// App wires the client together.
type App struct {
	config    *config.ClientConfig
	log       logging.Logger
	db        *sql.DB
	store     *store.Store
	sessions  *session.Manager
	trigger   *playback.Trigger
	scheduler *scheduler.Scheduler
	cloud     *cloud.Client
	engine    *syncengine.Engine
	reader    *bufio.Reader
}

// NewApp opens the local database and assembles the client components.
func NewApp(ctx context.Context, cfg *config.ClientConfig) (*App, error) {
	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	dbPath, err := filex.EnsureParentDir(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("preparing database path: %w", err)
	}
	db, err := store.Open(ctx, dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening alarm database: %w", err)
	}

	st := store.New(store.NewSQLiteRepository(db), logger)
	if err := st.Load(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("loading alarms: %w", err)
	}

	refresher := playback.NewSpotifyRefresher(cfg.SpotifyClientID)
	sessions := session.NewManager(refresher, logger)
	if cfg.SpotifyAccessToken != "" || cfg.SpotifyRefreshToken != "" {
		sessions.SetSession(session.Token{
			AccessToken:  cfg.SpotifyAccessToken,
			RefreshToken: cfg.SpotifyRefreshToken,
			// Unknown expiry; the first use refreshes if possible.
			ExpiresAt: time.Now(),
		})
	}

	controller := playback.NewSpotifyClient(sessions, logger)
	trigger := playback.NewTrigger(controller, logger)
	sched := scheduler.New(st, trigger, logger, scheduler.WithInterval(cfg.TickInterval))

	cloudClient := cloud.NewClient(cfg.CloudURL, logger)
	engine := syncengine.NewEngine(st, cloudClient, logger, syncengine.WithGraceWindow(cfg.TombstoneGrace))

	return &App{
		config:    cfg,
		log:       logger,
		db:        db,
		store:     st,
		sessions:  sessions,
		trigger:   trigger,
		scheduler: sched,
		cloud:     cloudClient,
		engine:    engine,
		reader:    bufio.NewReader(os.Stdin),
	}, nil
}

// Run starts the background loops and the REPL, and tears everything down
// when the REPL exits or the context is cancelled.
func (a *App) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.scheduler.Start(ctx)
	defer a.scheduler.Stop()
	defer a.engine.Close()

	go a.watchEvents(ctx)
	go a.runPreWakeLoop(ctx)

	fmt.Println("Alarmify ready. Type 'help' for commands.")
	runREPL(ctx, a, a.statusLine, bufio.NewScanner(os.Stdin))
}

// watchEvents prints playback outcomes as they happen.
func (a *App) watchEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-a.trigger.Events():
			switch ev.Kind {
			case playback.EventAlarmFired:
				fmt.Printf("\n[%s] alarm %s: playing %s\n", ev.At.Format("15:04:05"), ev.Alarm.Time, ev.Alarm.PlaylistName)
			case playback.EventPlaybackFailed:
				fmt.Printf("\n[%s] alarm %s: playback failed: %v\n", ev.At.Format("15:04:05"), ev.Alarm.Time, ev.Err)
			}
		}
	}
}

// runPreWakeLoop probes the playback endpoint shortly before each upcoming
// alarm.
func (a *App) runPreWakeLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if due := a.store.PeekDue(now.Add(preWakeLead)); due != nil {
				a.trigger.PreWake(ctx, *due)
			}
		}
	}
}

func (a *App) isLoggedIn() bool {
	return a.cloud.SignedIn(context.Background())
}

func (a *App) statusLine() string {
	if a.isLoggedIn() {
		return fmt.Sprintf("%d alarms, signed in", len(a.store.List()))
	}
	return fmt.Sprintf("%d alarms, offline", len(a.store.List()))
}

// StartAutoSync launches the periodic sync loop once the user is signed in.
func (a *App) StartAutoSync(ctx context.Context) {
	a.engine.StartAutoSync(ctx, a.config.AutoSyncInterval)
}

// Close releases the local database.
func (a *App) Close() error {
	return a.db.Close()
}
