package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"finlink/internal/domain/connection"
	"finlink/internal/domain/openfinance"
)

// Syncer refreshes one connection without a user present.
// openfinance.Service implements it.
type Syncer interface {
	Refresh(ctx context.Context, connectionID string) (*openfinance.SyncSummary, error)
}

type CandidateLister interface {
	ListRefreshCandidates(ctx context.Context, staleBefore time.Time) ([]*connection.Connection, error)
}

// ConnectionSyncJob polls one connection and reconciles it when it settles
// at UPDATED.
type ConnectionSyncJob struct {
	connectionID string
	userID       int64
	syncer       Syncer
	logger       *zap.Logger
}

func NewConnectionSyncJob(conn *connection.Connection, syncer Syncer, logger *zap.Logger) *ConnectionSyncJob {
	return &ConnectionSyncJob{
		connectionID: conn.ConnectionID,
		userID:       conn.UserID,
		syncer:       syncer,
		logger:       logger,
	}
}

// Execute runs the sync. Outcomes that need the user (a challenge, bad
// credentials) are not job failures; a failed route is.
func (j *ConnectionSyncJob) Execute(ctx context.Context) error {
	summary, err := j.syncer.Refresh(ctx, j.connectionID)
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	fields := []zap.Field{
		zap.String("connection_id", j.connectionID),
		zap.Int64("user_id", j.userID),
		zap.String("outcome", string(summary.Outcome)),
	}
	if r := summary.Reconcile; r != nil {
		fields = append(fields,
			zap.Int("accounts", r.AccountsUpserted),
			zap.Int("saved", r.TransactionsSaved),
			zap.Int("skipped", r.TransactionsSkipped),
		)
	}
	j.logger.Info("scheduled sync finished", fields...)

	if summary.Outcome == openfinance.OutcomeFailed {
		return fmt.Errorf("sync of %s failed: %s", j.connectionID, summary.Message)
	}
	return nil
}

func (j *ConnectionSyncJob) Key() string {
	return j.connectionID
}

func (j *ConnectionSyncJob) Description() string {
	return fmt.Sprintf("Connection sync for %s (user %d)", j.connectionID, j.userID)
}

// RefreshJobProvider lists connections still UPDATING or not synced within
// staleAfter and turns each into a ConnectionSyncJob.
func RefreshJobProvider(lister CandidateLister, syncer Syncer, staleAfter time.Duration, logger *zap.Logger) JobProvider {
	return refreshJobProvider(lister, syncer, staleAfter, logger, time.Now)
}

func refreshJobProvider(lister CandidateLister, syncer Syncer, staleAfter time.Duration, logger *zap.Logger, now func() time.Time) JobProvider {
	return func(ctx context.Context) ([]Job, error) {
		conns, err := lister.ListRefreshCandidates(ctx, now().Add(-staleAfter))
		if err != nil {
			return nil, fmt.Errorf("failed to list refresh candidates: %w", err)
		}

		jobs := make([]Job, 0, len(conns))
		for _, c := range conns {
			jobs = append(jobs, NewConnectionSyncJob(c, syncer, logger))
		}
		logger.Info("refresh candidates loaded", zap.Int("connections", len(jobs)))
		return jobs, nil
	}
}
