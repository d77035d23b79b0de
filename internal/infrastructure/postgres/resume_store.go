package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"finlink/internal/domain/openfinance"
)

// ResumeStore keeps OAuth resume contexts in the app_state table.
type ResumeStore struct {
	db *DB
}

func NewResumeStore(db *DB) *ResumeStore {
	return &ResumeStore{db: db}
}

func (s *ResumeStore) Save(ctx context.Context, key string, rc *openfinance.ResumeContext) error {
	value, err := json.Marshal(rc)
	if err != nil {
		return fmt.Errorf("failed to encode resume context: %w", err)
	}

	query := `
		INSERT INTO app_state (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`
	if _, err := s.db.ExecContext(ctx, query, key, string(value)); err != nil {
		return fmt.Errorf("failed to save resume context: %w", err)
	}
	return nil
}

func (s *ResumeStore) Load(ctx context.Context, key string) (*openfinance.ResumeContext, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM app_state WHERE key = $1`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load resume context: %w", err)
	}

	var rc openfinance.ResumeContext
	if err := json.Unmarshal(value, &rc); err != nil {
		return nil, fmt.Errorf("failed to decode resume context: %w", err)
	}
	return &rc, nil
}

func (s *ResumeStore) Clear(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM app_state WHERE key = $1`, key); err != nil {
		return fmt.Errorf("failed to clear resume context: %w", err)
	}
	return nil
}

var _ openfinance.ResumeStore = (*ResumeStore)(nil)
