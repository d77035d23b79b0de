package openfinance

import (
	"context"
	"strconv"

	"go.uber.org/zap"

	ofclient "finlink/internal/infrastructure/openfinance"
)

// Submitter validates login credentials against the institution's field
// descriptors and creates the aggregator item.
type Submitter struct {
	client ofclient.ClientInterface
	logger *zap.Logger
}

func NewSubmitter(client ofclient.ClientInterface, logger *zap.Logger) *Submitter {
	return &Submitter{client: client, logger: logger}
}

// Fields returns the credential inputs the institution asks for.
func (s *Submitter) Fields(ctx context.Context, institutionID int) ([]CredentialField, error) {
	connector, err := s.client.GetConnector(ctx, institutionID)
	if err != nil {
		return nil, &AggregatorError{Operation: "get connector", Err: err}
	}
	return fieldsFromConnector(connector), nil
}

// Submit creates the item. Every field error is reported at once through
// *ValidationErrors and in that case nothing is sent.
func (s *Submitter) Submit(ctx context.Context, userID int64, institutionID int, credentials map[string]string, products []string) (*ofclient.Item, error) {
	if institutionID <= 0 {
		return nil, &ValidationError{Field: "institutionId", Message: "is required"}
	}
	if len(credentials) == 0 {
		return nil, &ValidationError{Field: "credentials", Message: "is required"}
	}

	fields, err := s.Fields(ctx, institutionID)
	if err != nil {
		return nil, err
	}

	params, err := validateCredentials(fields, credentials, s.logger)
	if err != nil {
		return nil, err
	}

	item, err := s.client.CreateItem(ctx, ofclient.CreateItemRequest{
		ConnectorID:  institutionID,
		Parameters:   params,
		Products:     products,
		ClientUserID: strconv.FormatInt(userID, 10),
	})
	if err != nil {
		return nil, &AggregatorError{Operation: "create item", Err: err}
	}

	s.logger.Info("connection created",
		zap.Int64("user_id", userID),
		zap.Int("institution_id", institutionID),
		zap.String("connection_id", item.ID),
		zap.String("status", item.Status))
	return item, nil
}
