package refreshtokens

import (
	"context"
	"time"

	"alarmify/internal/server/models"
)

// Repository stores opaque single-use refresh tokens.
type Repository interface {
	Create(ctx context.Context, userID, token string, validity time.Duration) error
	Find(ctx context.Context, token string) (*models.RefreshToken, error)
	Delete(ctx context.Context, token string) error
}
