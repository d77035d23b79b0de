package transaction

import "context"

// Repository defines the interface for transaction data access
type Repository interface {
	// InsertIfAbsent inserts the transaction unless one with the same
	// (AccountID, ExternalID) exists. On conflict only the status is
	// refreshed and inserted is false.
	InsertIfAbsent(ctx context.Context, params InsertParams) (inserted bool, err error)
}
