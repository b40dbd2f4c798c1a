// Package rest exposes the cloud API over HTTP/JSON.
package rest

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"alarmify/internal/alarm"
	"alarmify/internal/logging"
	"alarmify/internal/server/models"
	"alarmify/internal/server/services"
	"alarmify/internal/syncengine"
)

// UserAPI is the account surface the handlers need.
type UserAPI interface {
	Register(ctx context.Context, email, password string) (*models.User, error)
	Login(ctx context.Context, email, password string) (*models.User, *services.TokenPair, error)
	RefreshToken(ctx context.Context, refreshToken string) (*services.TokenPair, error)
	GetUser(ctx context.Context, userID string) (*models.User, error)
}

// SyncAPI is the alarm exchange surface the handlers need.
type SyncAPI interface {
	Backup(ctx context.Context, userID, deviceID string, alarms []alarm.Alarm) error
	Restore(ctx context.Context, userID string) ([]alarm.Alarm, error)
	Sync(ctx context.Context, userID, deviceID string, alarms []alarm.Alarm, tombstones []alarm.Tombstone) (syncengine.Result, error)
	RegisterDevice(ctx context.Context, userID string, d alarm.Device) error
	Devices(ctx context.Context, userID string) ([]alarm.Device, error)
	History(ctx context.Context, userID string) ([]models.SyncHistoryEntry, error)
}

// Server is the cloud HTTP server.
type Server struct {
	addr      string
	jwtSecret []byte
	users     UserAPI
	sync      SyncAPI
	log       logging.Logger
}

// NewServer wires the handlers over the given services.
func NewServer(addr, jwtSecret string, users UserAPI, sync SyncAPI, log logging.Logger) *Server {
	return &Server{
		addr:      addr,
		jwtSecret: []byte(jwtSecret),
		users:     users,
		sync:      sync,
		log:       log.With("component", "rest"),
	}
}

// Router builds the route tree. Split out so handler tests can drive it
// without a listener.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/register", s.handleRegister)
		r.Post("/auth/login", s.handleLogin)
		r.Post("/auth/refresh", s.handleRefresh)

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)
			r.Get("/auth/me", s.handleMe)
			r.Get("/alarms", s.handleRestore)
			r.Post("/alarms/backup", s.handleBackup)
			r.Post("/sync", s.handleSync)
			r.Get("/sync/history", s.handleHistory)
			r.Post("/devices", s.handleRegisterDevice)
			r.Get("/devices", s.handleListDevices)
		})
	})
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.log.Info(ctx, "http server listening", "addr", s.addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		s.log.Info(context.Background(), "http server stopped")
		return nil
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug(r.Context(), "request",
			"method", r.Method, "path", r.URL.Path, "status", ww.Status(), "duration", time.Since(start))
	})
}
