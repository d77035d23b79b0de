package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"finlink/internal/domain/account"
)

// AccountRepository implements the account.Repository interface for PostgreSQL
type AccountRepository struct {
	db *DB
}

// NewAccountRepository creates a new PostgreSQL account repository
func NewAccountRepository(db *DB) *AccountRepository {
	return &AccountRepository{db: db}
}

const accountColumns = `id, connection_local_id, external_id, name, kind, subtype, number, balance,
	credit_limit, available_credit_limit, currency, created_at, updated_at`

// Upsert inserts the account or refreshes it in place. xmax is zero only
// for a row this statement inserted, which is how created is reported.
func (r *AccountRepository) Upsert(ctx context.Context, params account.UpsertParams) (*account.Account, bool, error) {
	query := `
		INSERT INTO accounts (id, connection_local_id, external_id, name, kind, subtype, number,
		                      balance, credit_limit, available_credit_limit, currency)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (connection_local_id, external_id) DO UPDATE SET
		    name = EXCLUDED.name,
		    kind = EXCLUDED.kind,
		    subtype = EXCLUDED.subtype,
		    number = EXCLUDED.number,
		    balance = EXCLUDED.balance,
		    credit_limit = EXCLUDED.credit_limit,
		    available_credit_limit = EXCLUDED.available_credit_limit,
		    currency = EXCLUDED.currency,
		    updated_at = NOW()
		RETURNING ` + accountColumns + `, (xmax = 0)
	`

	var created bool
	acc, err := scanAccount(r.db.QueryRowContext(ctx, query,
		uuid.NewString(), params.ConnectionLocalID, params.ExternalID, params.Name, string(params.Kind),
		nullString(params.Subtype), nullString(params.Number), params.Balance,
		nullDecimal(params.CreditLimit), nullDecimal(params.AvailableCreditLimit), params.Currency,
	), &created)
	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert account: %w", err)
	}
	return acc, created, nil
}

func (r *AccountRepository) ListByConnection(ctx context.Context, connectionLocalID string) ([]*account.Account, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE connection_local_id = $1
		ORDER BY name ASC
	`

	rows, err := r.db.QueryContext(ctx, query, connectionLocalID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*account.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, acc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}
	return accounts, nil
}

func scanAccount(s scanner, extra ...any) (*account.Account, error) {
	var acc account.Account
	var kind string
	var subtype, number sql.NullString
	var limit, available decimal.NullDecimal

	dest := []any{
		&acc.ID, &acc.ConnectionLocalID, &acc.ExternalID, &acc.Name, &kind, &subtype, &number,
		&acc.Balance, &limit, &available, &acc.Currency, &acc.CreatedAt, &acc.UpdatedAt,
	}
	if err := s.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	acc.Kind = account.Kind(kind)
	acc.Subtype = subtype.String
	acc.Number = number.String
	if limit.Valid {
		acc.CreditLimit = &limit.Decimal
	}
	if available.Valid {
		acc.AvailableCreditLimit = &available.Decimal
	}
	return &acc, nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

var _ account.Repository = (*AccountRepository)(nil)
