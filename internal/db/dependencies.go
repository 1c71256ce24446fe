package db

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

// Client is the full persistence surface consumed by the engine and its
// collaborators. Implementations must be safe for concurrent use.
type Client interface {
	Close() error

	GetSpamRecord(ctx context.Context, userID string) (*SpamRecord, error)
	UpsertSpamRecord(ctx context.Context, record *SpamRecord) error
	TopSpamRecords(ctx context.Context, limit int) ([]*SpamRecord, error)
	ClearExpiredMutes(ctx context.Context, now time.Time) (int64, error)
	GetSpamStats(ctx context.Context, now time.Time) (*SpamStats, error)

	GetUserRole(ctx context.Context, userID string) (string, error)
	SetUserRole(ctx context.Context, role *UserRole) error
	DeleteUserRole(ctx context.Context, userID string) error

	GetKV(ctx context.Context, key string) (string, error)
	SetKV(ctx context.Context, key string, value string) error
}
