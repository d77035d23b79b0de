package account

import "context"

// Repository defines the interface for account data access
// This interface is defined in the domain layer, but implemented in the infrastructure layer
type Repository interface {
	// Upsert creates or updates an account keyed by connection and external id.
	// created reports whether a new row was inserted.
	Upsert(ctx context.Context, params UpsertParams) (acc *Account, created bool, err error)

	// ListByConnection retrieves all accounts under a connection
	ListByConnection(ctx context.Context, connectionLocalID string) ([]*Account, error)
}
