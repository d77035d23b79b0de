package connection

import (
	"context"
	"time"
)

// Repository defines the interface for connection persistence.
// Lookups return (nil, nil) when nothing matches.
type Repository interface {
	// Upsert replaces the whole record keyed by LocalID
	Upsert(ctx context.Context, c *Connection) error

	// GetByLocalID retrieves a connection by its registry key
	GetByLocalID(ctx context.Context, localID string) (*Connection, error)

	// GetByConnectionID retrieves a connection by its aggregator item id
	GetByConnectionID(ctx context.Context, connectionID string) (*Connection, error)

	// ListByUserID retrieves all connections for a user, newest first
	ListByUserID(ctx context.Context, userID int64) ([]*Connection, error)

	// Delete removes a connection together with its accounts and transactions
	Delete(ctx context.Context, localID string) error

	// ListRefreshCandidates returns connections left UPDATING, plus UPDATED
	// ones whose last sync is older than staleBefore
	ListRefreshCandidates(ctx context.Context, staleBefore time.Time) ([]*Connection, error)
}
