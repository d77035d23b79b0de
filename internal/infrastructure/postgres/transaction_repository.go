package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"finlink/internal/domain/transaction"
)

// TransactionRepository implements transaction.Repository for PostgreSQL
type TransactionRepository struct {
	db *DB
}

func NewTransactionRepository(db *DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// InsertIfAbsent relies on the (account_id, external_id) unique key. A known
// transaction only has its status refreshed, so a PENDING entry can settle.
func (r *TransactionRepository) InsertIfAbsent(ctx context.Context, params transaction.InsertParams) (bool, error) {
	query := `
		INSERT INTO transactions (id, account_id, external_id, amount, currency, transaction_date,
		                          description, category, movement_kind, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (account_id, external_id) DO UPDATE SET
		    status = EXCLUDED.status,
		    updated_at = CASE WHEN transactions.status <> EXCLUDED.status
		                      THEN NOW() ELSE transactions.updated_at END
		RETURNING (xmax = 0)
	`

	var inserted bool
	err := r.db.QueryRowContext(ctx, query,
		uuid.NewString(), params.AccountID, params.ExternalID, params.Amount, params.Currency,
		params.Date, params.Description, params.Category, string(params.MovementKind), string(params.Status),
	).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("failed to insert transaction: %w", err)
	}
	return inserted, nil
}

var _ transaction.Repository = (*TransactionRepository)(nil)
