package openfinance

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Item represents a connection (item) as reported by the aggregator
type Item struct {
	ID              string         `json:"id"`
	Connector       *ItemConnector `json:"connector,omitempty"`
	Status          string         `json:"status"`
	ExecutionStatus string         `json:"executionStatus"`
	Parameter       *Parameter     `json:"parameter,omitempty"`
	Error           *ItemError     `json:"error,omitempty"`
	CreatedAt       string         `json:"createdAt"`
	UpdatedAt       string         `json:"updatedAt"`
}

// ConnectorID returns the institution id, or 0 when the item omits it
func (i *Item) ConnectorID() int {
	if i == nil || i.Connector == nil {
		return 0
	}
	return i.Connector.ID
}

// ErrorMessage returns the aggregator's error message, if any
func (i *Item) ErrorMessage() string {
	if i == nil || i.Error == nil {
		return ""
	}
	return i.Error.Message
}

// GetUpdatedAt parses and returns the updatedAt timestamp
func (i *Item) GetUpdatedAt() (*time.Time, error) {
	if i.UpdatedAt == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, i.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse updatedAt '%s': %w", i.UpdatedAt, err)
	}
	return &t, nil
}

type ItemConnector struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type ItemError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Parameter is the extra input the aggregator is waiting for. Data holds
// either a JSON string (usually a URL) or an object with a url field.
type Parameter struct {
	Name              string          `json:"name"`
	Label             string          `json:"label"`
	Type              string          `json:"type"`
	Placeholder       string          `json:"placeholder"`
	AssistiveText     string          `json:"assistiveText"`
	Validation        string          `json:"validation"`
	ValidationMessage string          `json:"validationMessage"`
	Data              json.RawMessage `json:"data,omitempty"`
	ExpiresAt         string          `json:"expiresAt"`
	Optional          bool            `json:"optional"`
}

// GetExpiresAt parses and returns the expiresAt timestamp
func (p *Parameter) GetExpiresAt() (*time.Time, error) {
	if p == nil || p.ExpiresAt == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, p.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse expiresAt '%s': %w", p.ExpiresAt, err)
	}
	return &t, nil
}

// Connector represents an institution and the credentials it asks for
type Connector struct {
	ID          int                    `json:"id"`
	Name        string                 `json:"name"`
	Credentials []CredentialDescriptor `json:"credentials"`
}

type CredentialDescriptor struct {
	Name              string `json:"name"`
	Label             string `json:"label"`
	Type              string `json:"type"`
	Placeholder       string `json:"placeholder"`
	Validation        string `json:"validation"`
	ValidationMessage string `json:"validationMessage"`
	Optional          bool   `json:"optional"`
}

type CreateItemRequest struct {
	ConnectorID  int               `json:"connectorId"`
	Parameters   map[string]string `json:"parameters"`
	Products     []string          `json:"products,omitempty"`
	ClientUserID string            `json:"clientUserId,omitempty"`
}

// AccountResponse represents the API response for account data
type AccountResponse struct {
	Total   int       `json:"total"`
	Results []Account `json:"results"`
}

// Account represents an account from the aggregator. Type is BANK or CREDIT.
type Account struct {
	ID           string          `json:"id"`
	ItemID       string          `json:"itemId"`
	Type         string          `json:"type"`
	Subtype      string          `json:"subtype"`
	Name         string          `json:"name"`
	Number       string          `json:"number"`
	Balance      decimal.Decimal `json:"balance"`
	CurrencyCode string          `json:"currencyCode"`
	CreditData   *CreditData     `json:"creditData,omitempty"`
}

// CreditData represents credit card-specific account data
type CreditData struct {
	CreditLimit          *decimal.Decimal `json:"creditLimit"`
	AvailableCreditLimit *decimal.Decimal `json:"availableCreditLimit"`
}

// TransactionResponse is one page of transactions
type TransactionResponse struct {
	Total      int           `json:"total"`
	TotalPages int           `json:"totalPages"`
	Page       int           `json:"page"`
	Results    []Transaction `json:"results"`
}

// Transaction represents a transaction from the aggregator
type Transaction struct {
	ID           string          `json:"id"`
	AccountID    string          `json:"accountId"`
	Description  string          `json:"description"`
	Amount       decimal.Decimal `json:"amount"`
	CurrencyCode string          `json:"currencyCode"`
	DateString   string          `json:"date"`
	Type         string          `json:"type"`   // "DEBIT" or "CREDIT"
	Status       string          `json:"status"` // "PENDING" or "POSTED"
	Category     *string         `json:"category"`
}

var transactionDateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// GetDate parses the transaction date in any of the layouts the API emits
func (t *Transaction) GetDate() (time.Time, error) {
	if t.DateString == "" {
		return time.Time{}, fmt.Errorf("transaction %s has no date", t.ID)
	}
	for _, layout := range transactionDateLayouts {
		if parsed, err := time.Parse(layout, t.DateString); err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, fmt.Errorf("failed to parse date '%s'", t.DateString)
}

// ErrorResponse represents an error response from the API. Code may be a
// number or a string depending on the endpoint.
type ErrorResponse struct {
	Code            json.RawMessage `json:"code"`
	CodeDescription string          `json:"codeDescription"`
	Message         string          `json:"message"`
}

type authRequest struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

type authResponse struct {
	APIKey string `json:"apiKey"`
}
