package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"alarmify/internal/alarm"
	"alarmify/internal/common"
	"alarmify/internal/server/services"
)

type userPayload struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type tokenPayload struct {
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
	ExpiresAt    time.Time    `json:"expiresAt"`
	User         *userPayload `json:"user,omitempty"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decode(w, r, &req) {
		return
	}

	user, err := s.users.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		var ve *services.ValidationError
		switch {
		case errors.As(err, &ve):
			writeError(w, http.StatusBadRequest, ve.Error())
		case errors.Is(err, common.ErrAlreadyExists):
			writeError(w, http.StatusConflict, "email already registered")
		default:
			s.serverError(w, r, err)
		}
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"userId": user.ID})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decode(w, r, &req) {
		return
	}

	user, pair, err := s.users.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, common.ErrUnauthorized) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		s.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenPayload{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    pair.ExpiresAt,
		User:         &userPayload{ID: user.ID, Email: user.Email},
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if !decode(w, r, &req) {
		return
	}

	pair, err := s.users.RefreshToken(r.Context(), req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, common.ErrUnauthorized):
			writeError(w, http.StatusUnauthorized, "unknown refresh token")
		case errors.Is(err, common.ErrRefreshTokenExpired):
			writeError(w, http.StatusUnauthorized, "refresh token expired")
		default:
			s.serverError(w, r, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, tokenPayload{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    pair.ExpiresAt,
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := s.users.GetUser(r.Context(), userID(r))
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}
		s.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, userPayload{ID: user.ID, Email: user.Email})
}

func (s *Server) handleBackup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID string        `json:"deviceId"`
		Alarms   []alarm.Alarm `json:"alarms"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := s.sync.Backup(r.Context(), userID(r), req.DeviceID, req.Alarms); err != nil {
		s.serverError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	alarms, err := s.sync.Restore(r.Context(), userID(r))
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	if alarms == nil {
		alarms = []alarm.Alarm{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"alarms": alarms})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID   string            `json:"deviceId"`
		Alarms     []alarm.Alarm     `json:"alarms"`
		Tombstones []alarm.Tombstone `json:"tombstones"`
	}
	if !decode(w, r, &req) {
		return
	}

	merged, err := s.sync.Sync(r.Context(), userID(r), req.DeviceID, req.Alarms, req.Tombstones)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	if merged.Alarms == nil {
		merged.Alarms = []alarm.Alarm{}
	}
	if merged.Tombstones == nil {
		merged.Tombstones = []alarm.Tombstone{}
	}
	if merged.Conflicts == nil {
		merged.Conflicts = []alarm.ConflictRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mergedAlarms":     merged.Alarms,
		"mergedTombstones": merged.Tombstones,
		"conflicts":        merged.Conflicts,
	})
}

func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID    string `json:"deviceId"`
		Name        string `json:"name"`
		PlatformTag string `json:"platformTag"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.DeviceID == "" {
		writeError(w, http.StatusBadRequest, "deviceId is required")
		return
	}

	d := alarm.Device{DeviceID: req.DeviceID, Name: req.Name, PlatformTag: req.PlatformTag}
	if err := s.sync.RegisterDevice(r.Context(), userID(r), d); err != nil {
		s.serverError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.sync.Devices(r.Context(), userID(r))
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	if devices == nil {
		devices = []alarm.Device{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices})
}

type historyPayload struct {
	DeviceID      string    `json:"deviceId"`
	Operation     string    `json:"operation"`
	AlarmCount    int       `json:"alarmCount"`
	ConflictCount int       `json:"conflictCount"`
	SyncedAt      time.Time `json:"syncedAt"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.sync.History(r.Context(), userID(r))
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	history := make([]historyPayload, 0, len(entries))
	for _, e := range entries {
		history = append(history, historyPayload{
			DeviceID:      e.DeviceID,
			Operation:     e.Operation,
			AlarmCount:    e.AlarmCount,
			ConflictCount: e.ConflictCount,
			SyncedAt:      e.SyncedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": history})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) serverError(w http.ResponseWriter, r *http.Request, err error) {
	s.log.Error(r.Context(), "handler error", "method", r.Method, "path", r.URL.Path, "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}
