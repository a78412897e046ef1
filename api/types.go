package api

import (
	"context"
	"time"

	"board-api/domain"
)

// Storage abstracts persistence for handlers.
type Storage interface {
	FetchSnapshot(ctx context.Context) (domain.Snapshot, error)
	LastModified(ctx context.Context) (time.Time, error)
	UpdateStatus(ctx context.Context, id int64, statusID int) error
	UpdatePosition(ctx context.Context, id int64, position float64) error
	UpdateDueDate(ctx context.Context, id int64, due *string) error
	TouchTask(ctx context.Context, id int64) error
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Deduper drops broadcast events this process has already relayed, regardless
// of whether they arrived over the local socket or the redis channel.
type Deduper interface {
	// Add records the key under the given scope and returns true if it was
	// newly added.
	Add(ctx context.Context, scope, key string) (bool, error)
	// Remove deletes a previously added key.
	Remove(ctx context.Context, scope, key string) error
}
