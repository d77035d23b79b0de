package account

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindDeposit Kind = "DEPOSIT"
	KindCredit  Kind = "CREDIT"
)

// Domain errors
var (
	ErrInvalidKind     = errors.New("invalid account kind")
	ErrInvalidCurrency = errors.New("valid ISO 4217 currency is required")
	ErrAccountNotFound = errors.New("account not found")
)

// Account is a bank or card account discovered under a connection.
type Account struct {
	ID                   string           `json:"id"`
	ConnectionLocalID    string           `json:"connectionLocalId"`
	ExternalID           string           `json:"externalId"`
	Name                 string           `json:"name"`
	Kind                 Kind             `json:"kind"`
	Subtype              string           `json:"subtype,omitempty"`
	Number               string           `json:"number,omitempty"`
	Balance              decimal.Decimal  `json:"balance"`
	CreditLimit          *decimal.Decimal `json:"creditLimit,omitempty"`
	AvailableCreditLimit *decimal.Decimal `json:"availableCreditLimit,omitempty"`
	Currency             string           `json:"currency"`
	CreatedAt            time.Time        `json:"createdAt"`
	UpdatedAt            time.Time        `json:"updatedAt"`
}

// UpsertParams is keyed by (ConnectionLocalID, ExternalID). Balance and
// limit fields are replaced in place on conflict.
type UpsertParams struct {
	ConnectionLocalID    string
	ExternalID           string
	Name                 string
	Kind                 Kind
	Subtype              string
	Number               string
	Balance              decimal.Decimal
	CreditLimit          *decimal.Decimal
	AvailableCreditLimit *decimal.Decimal
	Currency             string
}

// Validate validates the upsert parameters
func (p UpsertParams) Validate() error {
	if p.ConnectionLocalID == "" {
		return errors.New("connection is required for upsert")
	}
	if p.ExternalID == "" {
		return errors.New("external account ID is required for upsert")
	}
	if p.Name == "" {
		return errors.New("account name is required")
	}
	if !IsValidKind(p.Kind) {
		return ErrInvalidKind
	}
	if p.Kind == KindDeposit && (p.CreditLimit != nil || p.AvailableCreditLimit != nil) {
		return errors.New("credit limits only apply to credit accounts")
	}
	if !IsValidCurrency(p.Currency) {
		return ErrInvalidCurrency
	}
	return nil
}

func IsValidKind(k Kind) bool {
	return k == KindDeposit || k == KindCredit
}

// IsValidCurrency checks that c has the shape of an ISO 4217 alphabetic
// code. Codes are carried as the aggregator reports them, so no table is
// consulted.
func IsValidCurrency(c string) bool {
	if len(c) != 3 {
		return false
	}
	for i := 0; i < len(c); i++ {
		if c[i] < 'A' || c[i] > 'Z' {
			return false
		}
	}
	return true
}
