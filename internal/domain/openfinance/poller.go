package openfinance

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"finlink/internal/domain/connection"
	ofclient "finlink/internal/infrastructure/openfinance"
	"finlink/internal/shared/metrics"
)

const (
	DefaultPollAttempts = 15
	DefaultPollInterval = 2 * time.Second
)

// PollResult is the last observation of a poll run. Status is empty when no
// fetch succeeded.
type PollResult struct {
	Item     *ofclient.Item
	Status   connection.Status
	Attempts int
	TimedOut bool
}

// Poller re-fetches an item until it reaches a status the caller can act on.
type Poller struct {
	client  ofclient.ClientInterface
	logger  *zap.Logger
	metrics *metrics.Metrics
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewPoller(client ofclient.ClientInterface, logger *zap.Logger, m *metrics.Metrics) *Poller {
	return &Poller{
		client:  client,
		logger:  logger,
		metrics: m,
		sleep:   sleepContext,
	}
}

// Poll performs at most maxAttempts fetches, waiting interval between them.
// Fetch errors count as attempts and are otherwise ignored. Running out of
// attempts is reported through TimedOut, not as an error. Only context
// cancellation stops the loop early.
func (p *Poller) Poll(ctx context.Context, connectionID string, maxAttempts int, interval time.Duration) (*PollResult, error) {
	if connectionID == "" || maxAttempts < 1 || interval < 0 {
		return nil, fmt.Errorf("%w: connectionID=%q maxAttempts=%d interval=%s",
			ErrInvalidPollArgs, connectionID, maxAttempts, interval)
	}

	result := &PollResult{}
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result.Attempts = attempt

		item, err := p.client.PollItem(ctx, connectionID)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			p.metrics.IncPollAttempt("error")
			p.logger.Debug("poll fetch failed",
				zap.String("connection_id", connectionID),
				zap.Int("attempt", attempt),
				zap.Error(err))

		default:
			result.Item = item
			status, known := connection.ParseStatus(item.Status)
			if !known {
				p.metrics.IncPollAttempt("unknown")
				p.logger.Debug("poll observed unknown status",
					zap.String("connection_id", connectionID),
					zap.String("status", item.Status))
				break
			}
			result.Status = status
			if settled(status, item) {
				p.metrics.IncPollAttempt("settled")
				return result, nil
			}
			p.metrics.IncPollAttempt("pending")
		}

		if attempt == maxAttempts {
			break
		}
		if err := p.sleep(ctx, interval); err != nil {
			return nil, err
		}
	}

	result.TimedOut = true
	p.logger.Info("poll timed out",
		zap.String("connection_id", connectionID),
		zap.Int("attempts", result.Attempts),
		zap.String("last_status", string(result.Status)))
	return result, nil
}

// settled reports whether polling can stop on this observation.
func settled(status connection.Status, item *ofclient.Item) bool {
	if status.IsTerminal() {
		return true
	}
	return status == connection.StatusWaitingInput && item.Parameter != nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
