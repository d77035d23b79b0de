package openfinance

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"finlink/internal/domain/connection"
	ofclient "finlink/internal/infrastructure/openfinance"
)

// MFAContinuation validates a one-time answer locally and sends it on.
type MFAContinuation struct {
	client ofclient.ClientInterface
	logger *zap.Logger
}

func NewMFAContinuation(client ofclient.ClientInterface, logger *zap.Logger) *MFAContinuation {
	return &MFAContinuation{client: client, logger: logger}
}

// Submit answers conn's pending MFA challenge with value. Invalid input
// never reaches the aggregator.
func (m *MFAContinuation) Submit(ctx context.Context, conn *connection.Connection, value string) (*ofclient.Item, error) {
	if conn == nil || conn.Status != connection.StatusWaitingInput ||
		conn.PendingChallenge == nil || conn.PendingChallenge.Kind != connection.ChallengeMFA {
		return nil, ErrNoPendingChallenge
	}

	p := conn.PendingChallenge.Payload
	value = strings.TrimSpace(value)
	if msg, ok := checkValue(m.logger, p.Name, value, p.Validation, p.ValidationMessage, p.Optional); !ok {
		return nil, &ValidationError{Field: p.Name, Message: msg}
	}

	item, err := m.client.SubmitMFA(ctx, conn.ConnectionID, map[string]string{p.Name: value})
	if err != nil {
		if apiErr, ok := ofclient.AsAPIError(err); ok && apiErr.IsClientError() {
			m.logger.Info("mfa answer rejected",
				zap.String("connection_id", conn.ConnectionID),
				zap.Int("status", apiErr.StatusCode))
			return nil, &ChallengeRejectedError{ConnectionID: conn.ConnectionID, Message: apiErr.Message, Err: err}
		}
		return nil, &AggregatorError{Operation: "submit mfa", Err: err}
	}
	return item, nil
}
