// Package common defines shared constants and sentinel errors used across
// the Alarmify client and the cloud server. Callers match these values with
// errors.Is.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")

	// Service-level errors.
	ErrInternal     = errors.New("internal error")
	ErrUnauthorized = errors.New("unauthorized")

	// Playback errors. ErrNoActiveDevice means the audio API has no playback
	// endpoint selected; it is retryable because starting playback can itself
	// wake a device.
	ErrNoActiveDevice = errors.New("no active playback device")

	// Session errors. ErrAuthExpired is fatal until an external
	// re-authentication installs a fresh session.
	ErrAuthExpired = errors.New("authentication expired")

	// Token lifecycle errors.
	ErrInvalidToken        = errors.New("invalid token")
	ErrTokenExpired        = errors.New("token expired")
	ErrRefreshTokenExpired = errors.New("refresh token expired")
)
