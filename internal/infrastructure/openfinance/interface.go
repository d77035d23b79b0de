package openfinance

import (
	"context"
	"time"
)

// ClientInterface defines the methods required from the Open Finance API client
type ClientInterface interface {
	GetConnector(ctx context.Context, connectorID int) (*Connector, error)
	CreateItem(ctx context.Context, req CreateItemRequest) (*Item, error)
	GetItem(ctx context.Context, itemID string) (*Item, error)
	PollItem(ctx context.Context, itemID string) (*Item, error) // One request, no retry
	SubmitMFA(ctx context.Context, itemID string, values map[string]string) (*Item, error)
	DeleteItem(ctx context.Context, itemID string) error
	ListAccounts(ctx context.Context, itemID string) ([]Account, error)
	ListTransactions(ctx context.Context, accountID string, from, to time.Time) ([]Transaction, error) // Follows every page
}
