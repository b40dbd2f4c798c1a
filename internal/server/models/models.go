// Package models holds the cloud server's storage-facing types.
package models

import "time"

// User is a cloud account.
type User struct {
	ID           string
	Email        string
	PasswordHash []byte
	CreatedAt    time.Time
}

// RefreshToken is a server-stored, single-use opaque token. Using one rotates
// it.
type RefreshToken struct {
	Token   string
	UserID  string
	Expires time.Time
}

// SyncHistoryEntry is one audit row of a past sync or backup.
type SyncHistoryEntry struct {
	ID            int64
	UserID        string
	DeviceID      string
	Operation     string
	AlarmCount    int
	ConflictCount int
	SyncedAt      time.Time
}
