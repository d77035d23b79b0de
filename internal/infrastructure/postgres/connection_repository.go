package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"finlink/internal/domain/connection"
)

const uniqueViolation = "23505"

// ConnectionRepository implements connection.Repository for PostgreSQL
type ConnectionRepository struct {
	db *DB
}

func NewConnectionRepository(db *DB) *ConnectionRepository {
	return &ConnectionRepository{db: db}
}

const connectionColumns = `local_id, connection_id, user_id, institution_id, status, execution_status,
	error_message, pending_challenge, last_sync_at, created_at, updated_at`

// Upsert replaces the whole row. A second local record for an already
// registered item is reported as connection.ErrDuplicateConnection.
func (r *ConnectionRepository) Upsert(ctx context.Context, c *connection.Connection) error {
	query := `
		INSERT INTO connections (` + connectionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (local_id) DO UPDATE SET
		    status = EXCLUDED.status,
		    execution_status = EXCLUDED.execution_status,
		    error_message = EXCLUDED.error_message,
		    pending_challenge = EXCLUDED.pending_challenge,
		    last_sync_at = EXCLUDED.last_sync_at,
		    updated_at = EXCLUDED.updated_at
	`

	// JSONB goes over the wire as text; a []byte would be sent as bytea.
	var challenge sql.NullString
	if c.PendingChallenge != nil {
		b, err := json.Marshal(c.PendingChallenge)
		if err != nil {
			return fmt.Errorf("failed to encode challenge: %w", err)
		}
		challenge = sql.NullString{String: string(b), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, query,
		c.LocalID, c.ConnectionID, c.UserID, c.InstitutionID, string(c.Status),
		nullString(string(c.ExecutionStatus)), nullString(c.ErrorMessage), challenge,
		nullTime(c.LastSyncAt), c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return connection.ErrDuplicateConnection
		}
		return fmt.Errorf("failed to upsert connection: %w", err)
	}
	return nil
}

func (r *ConnectionRepository) GetByLocalID(ctx context.Context, localID string) (*connection.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE local_id = $1`
	return r.getOne(ctx, query, localID)
}

func (r *ConnectionRepository) GetByConnectionID(ctx context.Context, connectionID string) (*connection.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE connection_id = $1`
	return r.getOne(ctx, query, connectionID)
}

func (r *ConnectionRepository) getOne(ctx context.Context, query string, arg any) (*connection.Connection, error) {
	c, err := scanConnection(r.db.QueryRowContext(ctx, query, arg))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	return c, nil
}

func (r *ConnectionRepository) ListByUserID(ctx context.Context, userID int64) ([]*connection.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE user_id = $1 ORDER BY created_at DESC`
	return r.list(ctx, query, userID)
}

// ListRefreshCandidates returns connections stuck at UPDATING and UPDATED
// ones not synced since staleBefore, oldest update first.
func (r *ConnectionRepository) ListRefreshCandidates(ctx context.Context, staleBefore time.Time) ([]*connection.Connection, error) {
	query := `
		SELECT ` + connectionColumns + `
		FROM connections
		WHERE status = 'UPDATING'
		   OR (status = 'UPDATED' AND (last_sync_at IS NULL OR last_sync_at < $1))
		ORDER BY updated_at ASC
	`
	return r.list(ctx, query, staleBefore)
}

func (r *ConnectionRepository) list(ctx context.Context, query string, args ...any) ([]*connection.Connection, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	defer rows.Close()

	var conns []*connection.Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		conns = append(conns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating connections: %w", err)
	}
	return conns, nil
}

// Delete removes the row; accounts and transactions go with it through
// ON DELETE CASCADE.
func (r *ConnectionRepository) Delete(ctx context.Context, localID string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM connections WHERE local_id = $1`, localID)
	if err != nil {
		return fmt.Errorf("failed to delete connection: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return connection.ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConnection(s scanner) (*connection.Connection, error) {
	var c connection.Connection
	var status string
	var execStatus, errMsg sql.NullString
	var challenge []byte
	var lastSync sql.NullTime

	err := s.Scan(
		&c.LocalID, &c.ConnectionID, &c.UserID, &c.InstitutionID, &status, &execStatus,
		&errMsg, &challenge, &lastSync, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Status = connection.Status(status)
	c.ExecutionStatus = connection.ParseExecutionStatus(execStatus.String)
	c.ErrorMessage = errMsg.String
	if lastSync.Valid {
		t := lastSync.Time
		c.LastSyncAt = &t
	}
	if len(challenge) > 0 {
		var ch connection.Challenge
		if err := json.Unmarshal(challenge, &ch); err != nil {
			return nil, fmt.Errorf("failed to decode challenge: %w", err)
		}
		c.PendingChallenge = &ch
	}
	return &c, nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

var _ connection.Repository = (*ConnectionRepository)(nil)
