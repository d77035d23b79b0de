package openfinance

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"finlink/internal/domain/account"
	"finlink/internal/domain/connection"
	"finlink/internal/domain/transaction"
	ofclient "finlink/internal/infrastructure/openfinance"
	"finlink/internal/shared/metrics"
)

const (
	DefaultSyncLookback    = 90 * 24 * time.Hour
	DefaultSyncOverlap     = 7 * 24 * time.Hour
	DefaultSyncConcurrency = 4
)

// Registry is the part of connection.Service the sync flow needs.
type Registry interface {
	Upsert(ctx context.Context, c *connection.Connection) error
	Get(ctx context.Context, localID string) (*connection.Connection, error)
	GetByConnectionID(ctx context.Context, connectionID string) (*connection.Connection, error)
	Delete(ctx context.Context, localID string) error
}

// AccountUpserter is satisfied by account.Service.
type AccountUpserter interface {
	Upsert(ctx context.Context, params account.UpsertParams) (*account.Account, bool, error)
}

// DateRange bounds the transaction fetch. Both ends are inclusive.
type DateRange struct {
	From time.Time
	To   time.Time
}

func (r DateRange) IsZero() bool {
	return r.From.IsZero() && r.To.IsZero()
}

// ReconcileResult summarizes one reconciliation run.
type ReconcileResult struct {
	ConnectionID        string                     `json:"connectionId"`
	AccountsUpserted    int                        `json:"accountsUpserted"`
	TransactionsSaved   int                        `json:"transactionsSaved"`
	TransactionsSkipped int                        `json:"transactionsSkipped"`
	AccountErrors       []string                   `json:"accountErrors,omitempty"`
	ExecutionStatus     connection.ExecutionStatus `json:"executionStatus,omitempty"`
	CompletedAt         time.Time                  `json:"completedAt"`
}

// ReconcilerConfig holds the date window and fan-out settings.
type ReconcilerConfig struct {
	Lookback    time.Duration
	Overlap     time.Duration
	Concurrency int
}

// Reconciler pulls accounts and transactions for a connection and merges
// them into local storage. Running it twice over the same data is a no-op
// the second time.
type Reconciler struct {
	client       ofclient.ClientInterface
	registry     Registry
	accounts     AccountUpserter
	transactions transaction.Repository
	cfg          ReconcilerConfig
	logger       *zap.Logger
	metrics      *metrics.Metrics
	now          func() time.Time
}

func NewReconciler(
	client ofclient.ClientInterface,
	registry Registry,
	accounts AccountUpserter,
	transactions transaction.Repository,
	cfg ReconcilerConfig,
	logger *zap.Logger,
	m *metrics.Metrics,
) *Reconciler {
	if cfg.Lookback <= 0 {
		cfg.Lookback = DefaultSyncLookback
	}
	if cfg.Overlap < 0 {
		cfg.Overlap = 0
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = DefaultSyncConcurrency
	}
	return &Reconciler{
		client:       client,
		registry:     registry,
		accounts:     accounts,
		transactions: transactions,
		cfg:          cfg,
		logger:       logger,
		metrics:      m,
		now:          time.Now,
	}
}

// DefaultRange starts at the last sync minus the overlap, or at the lookback
// horizon for a connection that was never synced.
func (r *Reconciler) DefaultRange(conn *connection.Connection) DateRange {
	now := r.now().UTC()
	from := now.Add(-r.cfg.Lookback)
	if conn != nil && conn.LastSyncAt != nil {
		from = conn.LastSyncAt.UTC().Add(-r.cfg.Overlap)
	}
	return DateRange{From: from, To: now}
}

// Reconcile loads the connection and a fresh item snapshot, then runs
// ReconcileItem. A zero rng selects DefaultRange.
func (r *Reconciler) Reconcile(ctx context.Context, connectionID string, rng DateRange) (*ReconcileResult, error) {
	conn, err := r.registry.GetByConnectionID(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	item, err := r.client.GetItem(ctx, connectionID)
	if err != nil {
		return nil, &AggregatorError{Operation: "get item", Err: err}
	}
	return r.ReconcileItem(ctx, conn, item, rng)
}

// ReconcileItem runs the three steps against an item snapshot the caller
// already holds. Only a failed account listing or a failed registry write is
// returned as an error; per-account problems land in AccountErrors. When the
// registry write fails the result is still returned alongside the error.
func (r *Reconciler) ReconcileItem(ctx context.Context, conn *connection.Connection, item *ofclient.Item, rng DateRange) (*ReconcileResult, error) {
	start := time.Now()
	if rng.IsZero() {
		rng = r.DefaultRange(conn)
	}

	result := &ReconcileResult{ConnectionID: conn.ConnectionID}
	log := r.logger.With(zap.String("connection_id", conn.ConnectionID))

	// Step A
	remote, err := r.client.ListAccounts(ctx, conn.ConnectionID)
	if err != nil {
		return nil, &AggregatorError{Operation: "list accounts", Err: err}
	}

	type target struct {
		localID    string
		externalID string
	}
	targets := make([]target, 0, len(remote))
	for _, ra := range remote {
		acc, _, err := r.accounts.Upsert(ctx, accountParams(conn.LocalID, ra))
		if err != nil {
			log.Warn("failed to upsert account", zap.String("account_id", ra.ID), zap.Error(err))
			result.AccountErrors = append(result.AccountErrors, fmt.Sprintf("account %s: %v", ra.ID, err))
			continue
		}
		result.AccountsUpserted++
		targets = append(targets, target{localID: acc.ID, externalID: ra.ID})
	}

	// Step B
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for _, t := range targets {
		g.Go(func() error {
			saved, skipped, errs := r.syncAccount(gctx, t.localID, t.externalID, rng)
			mu.Lock()
			result.TransactionsSaved += saved
			result.TransactionsSkipped += skipped
			result.AccountErrors = append(result.AccountErrors, errs...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	// Step C
	result.ExecutionStatus = connection.ParseExecutionStatus(item.ExecutionStatus)
	result.CompletedAt = r.now().UTC()
	conn.MarkSynced(result.ExecutionStatus, result.CompletedAt)

	r.metrics.AddTransactions(result.TransactionsSaved, result.TransactionsSkipped)
	r.metrics.ObserveSync("reconcile", time.Since(start))

	log.Info("reconciliation finished",
		zap.Int("accounts", result.AccountsUpserted),
		zap.Int("saved", result.TransactionsSaved),
		zap.Int("skipped", result.TransactionsSkipped),
		zap.Int("errors", len(result.AccountErrors)),
		zap.String("execution_status", string(result.ExecutionStatus)))

	if err := r.registry.Upsert(ctx, conn); err != nil {
		return result, fmt.Errorf("failed to record sync: %w", err)
	}
	return result, nil
}

// syncAccount fetches and inserts one account's transactions. Errors are
// returned as messages so they never stop the other accounts.
func (r *Reconciler) syncAccount(ctx context.Context, localID, externalID string, rng DateRange) (saved, skipped int, errs []string) {
	txs, err := r.client.ListTransactions(ctx, externalID, rng.From, rng.To)
	if err != nil {
		r.logger.Warn("failed to fetch transactions",
			zap.String("account_id", externalID),
			zap.Error(err))
		return 0, 0, []string{fmt.Sprintf("account %s: failed to fetch transactions: %v", externalID, err)}
	}

	for i := range txs {
		params, err := transactionParams(localID, &txs[i])
		if err != nil {
			errs = append(errs, fmt.Sprintf("account %s: transaction %s: %v", externalID, txs[i].ID, err))
			continue
		}
		inserted, err := r.transactions.InsertIfAbsent(ctx, params)
		if err != nil {
			errs = append(errs, fmt.Sprintf("account %s: transaction %s: %v", externalID, txs[i].ID, err))
			continue
		}
		if inserted {
			saved++
		} else {
			skipped++
		}
	}
	return saved, skipped, errs
}

func accountParams(connectionLocalID string, ra ofclient.Account) account.UpsertParams {
	params := account.UpsertParams{
		ConnectionLocalID: connectionLocalID,
		ExternalID:        ra.ID,
		Name:              ra.Name,
		Kind:              account.KindDeposit,
		Subtype:           ra.Subtype,
		Number:            ra.Number,
		Balance:           ra.Balance,
		Currency:          strings.ToUpper(ra.CurrencyCode),
	}
	if strings.EqualFold(ra.Type, "CREDIT") {
		params.Kind = account.KindCredit
		if ra.CreditData != nil {
			params.CreditLimit = ra.CreditData.CreditLimit
			params.AvailableCreditLimit = ra.CreditData.AvailableCreditLimit
		}
	}
	if params.Currency == "" {
		params.Currency = "BRL"
	}
	if params.Name == "" {
		params.Name = ra.ID
	}
	return params
}

func transactionParams(accountID string, tx *ofclient.Transaction) (transaction.InsertParams, error) {
	date, err := tx.GetDate()
	if err != nil {
		return transaction.InsertParams{}, err
	}

	kind := transaction.MovementDebit
	if strings.EqualFold(tx.Type, "CREDIT") {
		kind = transaction.MovementCredit
	}
	currency := strings.ToUpper(tx.CurrencyCode)
	if currency == "" {
		currency = "BRL"
	}

	params := transaction.InsertParams{
		AccountID:    accountID,
		ExternalID:   tx.ID,
		Amount:       tx.Amount,
		Currency:     currency,
		Date:         date,
		Description:  tx.Description,
		Category:     tx.Category,
		MovementKind: kind,
		Status:       transaction.ParseStatus(tx.Status),
	}
	if err := params.Validate(); err != nil {
		return transaction.InsertParams{}, err
	}
	return params, nil
}
