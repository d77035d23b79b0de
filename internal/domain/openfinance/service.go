package openfinance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"finlink/internal/domain/connection"
	"finlink/internal/domain/transaction"
	ofclient "finlink/internal/infrastructure/openfinance"
	"finlink/internal/shared/metrics"
)

var tracer = otel.Tracer("finlink/openfinance")

// Outcome is how a connect or sync attempt ended, as far as the app is concerned.
type Outcome string

const (
	OutcomeSynced          Outcome = "synced"
	OutcomeChallenge       Outcome = "challenge"
	OutcomeStillProcessing Outcome = "still_processing"
	OutcomeCredentialError Outcome = "credential_error"
	OutcomeFailed          Outcome = "failed"
)

const stillProcessingMessage = "the institution is still processing; refresh again later"

const partialMessage = "some data may be incomplete; try syncing again later"

// SyncSummary is what every connect/sync entry point hands back to the app.
type SyncSummary struct {
	Connection   *connection.Connection `json:"connection"`
	Outcome      Outcome                `json:"outcome"`
	Action       *Action                `json:"action,omitempty"`
	Message      string                 `json:"message,omitempty"`
	Partial      bool                   `json:"partial"`
	Reconcile    *ReconcileResult       `json:"reconcile,omitempty"`
	ResumeTarget string                 `json:"resumeTarget,omitempty"`
}

// ConnectionHandle identifies a newly created connection.
type ConnectionHandle struct {
	LocalID      string       `json:"localId"`
	ConnectionID string       `json:"connectionId"`
	Summary      *SyncSummary `json:"summary"`
}

type Config struct {
	PollAttempts    int
	PollInterval    time.Duration
	SyncLookback    time.Duration
	SyncOverlap     time.Duration
	SyncConcurrency int
}

// Service drives a connection from credential submission to reconciled data.
type Service struct {
	client     ofclient.ClientInterface
	registry   Registry
	submitter  *Submitter
	poller     *Poller
	oauth      *OAuthContinuation
	mfa        *MFAContinuation
	reconciler *Reconciler
	cfg        Config
	logger     *zap.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

func NewService(
	client ofclient.ClientInterface,
	registry Registry,
	accounts AccountUpserter,
	transactions transaction.Repository,
	store ResumeStore,
	opener Opener,
	cfg Config,
	logger *zap.Logger,
	m *metrics.Metrics,
) *Service {
	if cfg.PollAttempts < 1 {
		cfg.PollAttempts = DefaultPollAttempts
	}
	if cfg.PollInterval < 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Service{
		client:    client,
		registry:  registry,
		submitter: NewSubmitter(client, logger),
		poller:    NewPoller(client, logger, m),
		oauth:     NewOAuthContinuation(store, opener, logger),
		mfa:       NewMFAContinuation(client, logger),
		reconciler: NewReconciler(client, registry, accounts, transactions, ReconcilerConfig{
			Lookback:    cfg.SyncLookback,
			Overlap:     cfg.SyncOverlap,
			Concurrency: cfg.SyncConcurrency,
		}, logger, m),
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
}

// CredentialFields returns what the app should render for an institution's login.
func (s *Service) CredentialFields(ctx context.Context, institutionID int) ([]CredentialField, error) {
	return s.submitter.Fields(ctx, institutionID)
}

// Connect submits credentials, registers the new connection and drives it
// as far as it can go without the user.
func (s *Service) Connect(ctx context.Context, userID int64, institutionID int, credentials map[string]string, products []string) (*ConnectionHandle, error) {
	ctx, span := s.startSpan(ctx, "Connect", attribute.Int("institution.id", institutionID))
	defer span.End()
	start := time.Now()

	item, err := s.submitter.Submit(ctx, userID, institutionID, credentials, products)
	if err != nil {
		return nil, s.fail(span, err)
	}

	conn := connection.New(userID, institutionID, item.ID, s.now().UTC())
	if err := s.registry.Upsert(ctx, conn); err != nil {
		return nil, s.fail(span, err)
	}

	summary, err := s.drive(ctx, conn, item, true)
	s.metrics.ObserveSync("connect", time.Since(start))
	if summary != nil {
		s.metrics.IncSyncOutcome(string(summary.Outcome))
	}
	if err != nil {
		return nil, s.fail(span, err)
	}
	return &ConnectionHandle{
		LocalID:      conn.LocalID,
		ConnectionID: conn.ConnectionID,
		Summary:      summary,
	}, nil
}

// Sync is the manual refresh path: poll, then reconcile when the
// connection reports UPDATED.
func (s *Service) Sync(ctx context.Context, connectionID string) (*SyncSummary, error) {
	return s.refresh(ctx, "Sync", connectionID, true)
}

// Refresh is Sync for callers acting without the user present. An OAuth
// challenge is reported in the summary but no resume slot is written.
func (s *Service) Refresh(ctx context.Context, connectionID string) (*SyncSummary, error) {
	return s.refresh(ctx, "Refresh", connectionID, false)
}

func (s *Service) refresh(ctx context.Context, op, connectionID string, interactive bool) (*SyncSummary, error) {
	ctx, span := s.startSpan(ctx, op, attribute.String("connection.id", connectionID))
	defer span.End()
	start := time.Now()

	conn, err := s.registry.GetByConnectionID(ctx, connectionID)
	if err != nil {
		return nil, s.fail(span, err)
	}

	summary, err := s.drive(ctx, conn, nil, interactive)
	s.metrics.ObserveSync(strings.ToLower(op), time.Since(start))
	if summary != nil {
		s.metrics.IncSyncOutcome(string(summary.Outcome))
	}
	if err != nil {
		return nil, s.fail(span, err)
	}
	return summary, nil
}

// ResumeOAuth is called by the OAuth callback once the user is back from
// the bank. The stored resume target is returned with the summary.
func (s *Service) ResumeOAuth(ctx context.Context, connectionID string) (*SyncSummary, error) {
	ctx, span := s.startSpan(ctx, "ResumeOAuth", attribute.String("connection.id", connectionID))
	defer span.End()
	start := time.Now()

	conn, err := s.registry.GetByConnectionID(ctx, connectionID)
	if err != nil {
		return nil, s.fail(span, err)
	}

	rc, err := s.oauth.Resume(ctx, conn.UserID, connectionID)
	if err != nil {
		return nil, s.fail(span, err)
	}

	summary, err := s.drive(ctx, conn, nil, true)
	s.metrics.ObserveSync("resume_oauth", time.Since(start))
	if summary != nil {
		s.metrics.IncSyncOutcome(string(summary.Outcome))
	}
	if err != nil {
		return nil, s.fail(span, err)
	}
	if rc != nil {
		summary.ResumeTarget = rc.Target
	}
	return summary, nil
}

// SubmitChallenge answers a pending MFA prompt and reports the status the
// connection ended up in. A rejected answer leaves it at WAITING_INPUT.
func (s *Service) SubmitChallenge(ctx context.Context, connectionID, value string) (connection.Status, error) {
	ctx, span := s.startSpan(ctx, "SubmitChallenge", attribute.String("connection.id", connectionID))
	defer span.End()

	conn, err := s.registry.GetByConnectionID(ctx, connectionID)
	if err != nil {
		return "", s.fail(span, err)
	}

	item, err := s.mfa.Submit(ctx, conn, value)
	if err != nil {
		return conn.Status, s.fail(span, err)
	}

	// The aggregator may answer straight away with a follow-up prompt.
	if status, _ := connection.ParseStatus(item.Status); status == connection.StatusWaitingInput && item.Parameter != nil {
		if err := s.record(ctx, conn, item); err != nil {
			return conn.Status, s.fail(span, err)
		}
		return conn.Status, nil
	}

	if err := s.transition(ctx, conn, connection.StatusUpdating, nil); err != nil {
		return conn.Status, s.fail(span, err)
	}
	summary, err := s.drive(ctx, conn, nil, true)
	if summary != nil {
		s.metrics.IncSyncOutcome(string(summary.Outcome))
	}
	if err != nil {
		return conn.Status, s.fail(span, err)
	}
	return conn.Status, nil
}

// Disconnect deletes the connection locally and asks the aggregator to drop
// the item. The remote delete is best effort.
func (s *Service) Disconnect(ctx context.Context, localID string) error {
	ctx, span := s.startSpan(ctx, "Disconnect", attribute.String("connection.local_id", localID))
	defer span.End()

	conn, err := s.registry.Get(ctx, localID)
	if err != nil {
		return s.fail(span, err)
	}
	if err := s.registry.Delete(ctx, localID); err != nil {
		return s.fail(span, err)
	}

	if err := s.client.DeleteItem(ctx, conn.ConnectionID); err != nil && !ofclient.IsNotFound(err) {
		s.logger.Warn("failed to delete item at aggregator",
			zap.String("connection_id", conn.ConnectionID),
			zap.Error(err))
	}
	s.logger.Info("connection disconnected",
		zap.String("local_id", localID),
		zap.String("connection_id", conn.ConnectionID))
	return nil
}

// drive records item when given, polls unless it is already settled, and
// turns the final observation into a summary. interactive is false when no
// user is waiting on the result.
func (s *Service) drive(ctx context.Context, conn *connection.Connection, item *ofclient.Item, interactive bool) (*SyncSummary, error) {
	if item != nil {
		if err := s.record(ctx, conn, item); err != nil {
			return nil, err
		}
		if status, ok := connection.ParseStatus(item.Status); ok && settled(status, item) {
			return s.settle(ctx, conn, item, interactive)
		}
	}

	res, err := s.poller.Poll(ctx, conn.ConnectionID, s.cfg.PollAttempts, s.cfg.PollInterval)
	if err != nil {
		return nil, err
	}
	if res.TimedOut {
		if conn.Status != connection.StatusUpdating {
			if err := s.transition(ctx, conn, connection.StatusUpdating, nil); err != nil {
				return nil, err
			}
		}
		return &SyncSummary{
			Connection: conn,
			Outcome:    OutcomeStillProcessing,
			Message:    stillProcessingMessage,
		}, nil
	}

	if err := s.record(ctx, conn, res.Item); err != nil {
		return nil, err
	}
	return s.settle(ctx, conn, res.Item, interactive)
}

func (s *Service) settle(ctx context.Context, conn *connection.Connection, item *ofclient.Item, interactive bool) (*SyncSummary, error) {
	summary := &SyncSummary{Connection: conn}

	switch conn.Status {
	case connection.StatusUpdated:
		rec, err := s.reconciler.ReconcileItem(ctx, conn, item, DateRange{})
		if err != nil {
			return nil, err
		}
		summary.Outcome = OutcomeSynced
		summary.Reconcile = rec
		summary.Partial = rec.ExecutionStatus == connection.ExecutionPartialSuccess
		if summary.Partial {
			summary.Message = partialMessage
		}

	case connection.StatusWaitingInput:
		action := Route(conn)
		summary.Action = &action
		switch action.Kind {
		case ActionOpenOAuth:
			if interactive {
				if err := s.oauth.Begin(ctx, conn.UserID, conn.ConnectionID, action.URL, DefaultResumeTarget); err != nil {
					return nil, err
				}
			}
			summary.Outcome = OutcomeChallenge
		case ActionPromptMFA:
			summary.Outcome = OutcomeChallenge
		default:
			summary.Outcome = OutcomeFailed
			summary.Message = action.Reason
		}

	case connection.StatusLoginError, connection.StatusOutdated:
		summary.Outcome = OutcomeCredentialError
		summary.Message = conn.ErrorMessage

	default:
		summary.Outcome = OutcomeStillProcessing
		summary.Message = stillProcessingMessage
	}
	return summary, nil
}

// record applies an item observation to conn and saves it. Unknown statuses
// are ignored. WAITING_INPUT without a payload is recorded as UPDATING.
func (s *Service) record(ctx context.Context, conn *connection.Connection, item *ofclient.Item) error {
	status, ok := connection.ParseStatus(item.Status)
	if !ok {
		s.logger.Warn("ignoring unknown connection status",
			zap.String("connection_id", conn.ConnectionID),
			zap.String("status", item.Status))
		return nil
	}

	var challenge *connection.Challenge
	if status == connection.StatusWaitingInput {
		challenge = NewChallenge(item.Parameter)
		if challenge == nil {
			status = connection.StatusUpdating
		}
	}

	if err := s.apply(ctx, conn, status, challenge); err != nil {
		if errors.Is(err, connection.ErrInvalidTransition) {
			s.logger.Warn("ignoring out-of-order status",
				zap.String("connection_id", conn.ConnectionID),
				zap.String("from", string(conn.Status)),
				zap.String("to", string(status)))
			return nil
		}
		return err
	}
	if status.IsFatal() {
		conn.ErrorMessage = item.ErrorMessage()
	}
	return s.registry.Upsert(ctx, conn)
}

func (s *Service) transition(ctx context.Context, conn *connection.Connection, next connection.Status, challenge *connection.Challenge) error {
	if err := s.apply(ctx, conn, next, challenge); err != nil {
		return fmt.Errorf("failed to move connection to %s: %w", next, err)
	}
	return s.registry.Upsert(ctx, conn)
}

// apply moves conn to next. When the observation skipped UPDATING, the
// intermediate hop is applied and saved first so the registry never holds a
// shortcut edge. The final hop is left for the caller to save.
func (s *Service) apply(ctx context.Context, conn *connection.Connection, next connection.Status, challenge *connection.Challenge) error {
	if next == connection.StatusWaitingInput && challenge == nil {
		return connection.ErrChallengeInvariant
	}
	path, err := connection.TransitionPath(conn.Status, next)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	for _, hop := range path[:len(path)-1] {
		if err := conn.ApplyStatus(hop, nil, now); err != nil {
			return err
		}
		if err := s.registry.Upsert(ctx, conn); err != nil {
			return err
		}
	}
	return conn.ApplyStatus(next, challenge, now)
}

func (s *Service) startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, "openfinance."+op, trace.WithAttributes(attrs...))
}

func (s *Service) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
