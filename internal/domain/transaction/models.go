package transaction

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type MovementKind string

const (
	MovementCredit MovementKind = "CREDIT"
	MovementDebit  MovementKind = "DEBIT"
)

type Status string

const (
	StatusPending Status = "PENDING"
	StatusSettled Status = "SETTLED"
)

// ParseStatus maps the aggregator's POSTED to SETTLED. Anything unrecognized
// is treated as settled, which is how the aggregator reports booked entries.
func ParseStatus(s string) Status {
	switch strings.ToUpper(s) {
	case "PENDING":
		return StatusPending
	default:
		return StatusSettled
	}
}

var ErrInvalidMovementKind = errors.New("invalid movement kind")

type Transaction struct {
	ID           string          `json:"id"`
	AccountID    string          `json:"accountId"`
	ExternalID   string          `json:"externalId"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	Date         time.Time       `json:"date"`
	Description  string          `json:"description"`
	Category     *string         `json:"category,omitempty"`
	MovementKind MovementKind    `json:"movementKind"`
	Status       Status          `json:"status"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// InsertParams is used for syncing transactions from the provider.
// (AccountID, ExternalID) is the natural key.
type InsertParams struct {
	AccountID    string
	ExternalID   string
	Amount       decimal.Decimal
	Currency     string
	Date         time.Time
	Description  string
	Category     *string
	MovementKind MovementKind
	Status       Status
}

func (p InsertParams) Validate() error {
	if p.AccountID == "" {
		return errors.New("account ID is required")
	}
	if p.ExternalID == "" {
		return errors.New("external transaction ID is required")
	}
	if p.MovementKind != MovementCredit && p.MovementKind != MovementDebit {
		return ErrInvalidMovementKind
	}
	if p.Date.IsZero() {
		return errors.New("transaction date is required")
	}
	return nil
}
