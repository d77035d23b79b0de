package postgres

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS connections (
		local_id          UUID         PRIMARY KEY,
		connection_id     VARCHAR(255) NOT NULL UNIQUE,
		user_id           BIGINT       NOT NULL,
		institution_id    INTEGER      NOT NULL,
		status            VARCHAR(20)  NOT NULL,
		execution_status  VARCHAR(20),
		error_message     TEXT,
		pending_challenge JSONB,
		last_sync_at      TIMESTAMPTZ,
		created_at        TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
		updated_at        TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
		CHECK ((status = 'WAITING_INPUT') = (pending_challenge IS NOT NULL))
	)`,
	`CREATE INDEX IF NOT EXISTS idx_connections_user_id ON connections(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_connections_status ON connections(status)`,
	`CREATE TABLE IF NOT EXISTS accounts (
		id                     UUID          PRIMARY KEY,
		connection_local_id    UUID          NOT NULL REFERENCES connections(local_id) ON DELETE CASCADE,
		external_id            VARCHAR(255)  NOT NULL,
		name                   VARCHAR(255)  NOT NULL,
		kind                   VARCHAR(10)   NOT NULL,
		subtype                VARCHAR(50),
		number                 VARCHAR(50),
		balance                NUMERIC(20,2) NOT NULL DEFAULT 0,
		credit_limit           NUMERIC(20,2),
		available_credit_limit NUMERIC(20,2),
		currency               CHAR(3)       NOT NULL,
		created_at             TIMESTAMPTZ   NOT NULL DEFAULT NOW(),
		updated_at             TIMESTAMPTZ   NOT NULL DEFAULT NOW(),
		UNIQUE (connection_local_id, external_id)
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id               UUID          PRIMARY KEY,
		account_id       UUID          NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		external_id      VARCHAR(255)  NOT NULL,
		amount           NUMERIC(20,2) NOT NULL,
		currency         CHAR(3)       NOT NULL,
		transaction_date TIMESTAMPTZ   NOT NULL,
		description      TEXT          NOT NULL DEFAULT '',
		category         VARCHAR(255),
		movement_kind    VARCHAR(10)   NOT NULL,
		status           VARCHAR(10)   NOT NULL,
		created_at       TIMESTAMPTZ   NOT NULL DEFAULT NOW(),
		updated_at       TIMESTAMPTZ   NOT NULL DEFAULT NOW(),
		UNIQUE (account_id, external_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_date ON transactions(account_id, transaction_date DESC)`,
	`CREATE TABLE IF NOT EXISTS app_state (
		key        VARCHAR(255) PRIMARY KEY,
		value      JSONB        NOT NULL,
		updated_at TIMESTAMPTZ  NOT NULL DEFAULT NOW()
	)`,
}

// Migrate creates the tables and indexes the service needs. Every statement
// is idempotent, so it runs on each start.
func (db *DB) Migrate(ctx context.Context, logger *zap.Logger) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	logger.Info("database schema ready", zap.Int("statements", len(schema)))
	return nil
}
