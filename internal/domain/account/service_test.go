package account

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

// MockRepository is a mock implementation of Repository interface
type MockRepository struct {
	UpsertFunc           func(ctx context.Context, params UpsertParams) (*Account, bool, error)
	ListByConnectionFunc func(ctx context.Context, connectionLocalID string) ([]*Account, error)
}

func (m *MockRepository) Upsert(ctx context.Context, params UpsertParams) (*Account, bool, error) {
	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, params)
	}
	return &Account{ExternalID: params.ExternalID}, true, nil
}

func (m *MockRepository) ListByConnection(ctx context.Context, connectionLocalID string) ([]*Account, error) {
	if m.ListByConnectionFunc != nil {
		return m.ListByConnectionFunc(ctx, connectionLocalID)
	}
	return nil, nil
}

func validParams() UpsertParams {
	return UpsertParams{
		ConnectionLocalID: "conn-1",
		ExternalID:        "acc-1",
		Name:              "Conta Corrente",
		Kind:              KindDeposit,
		Balance:           decimal.RequireFromString("1500.25"),
		Currency:          "BRL",
	}
}

func TestUpsertParams_Validate(t *testing.T) {
	limit := decimal.NewFromInt(5000)

	tests := []struct {
		name    string
		mutate  func(p *UpsertParams)
		wantErr error
		ok      bool
	}{
		{"valid deposit", func(p *UpsertParams) {}, nil, true},
		{"valid credit with limits", func(p *UpsertParams) {
			p.Kind = KindCredit
			p.CreditLimit = &limit
			p.AvailableCreditLimit = &limit
		}, nil, true},
		{"deposit with limit", func(p *UpsertParams) { p.CreditLimit = &limit }, nil, false},
		{"missing external id", func(p *UpsertParams) { p.ExternalID = "" }, nil, false},
		{"missing name", func(p *UpsertParams) { p.Name = "" }, nil, false},
		{"bad kind", func(p *UpsertParams) { p.Kind = "INVESTMENT" }, ErrInvalidKind, false},
		{"lower case currency", func(p *UpsertParams) { p.Currency = "brl" }, ErrInvalidCurrency, false},
		{"short currency", func(p *UpsertParams) { p.Currency = "US" }, ErrInvalidCurrency, false},
		{"unlisted currency", func(p *UpsertParams) { p.Currency = "PEN" }, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validParams()
			tt.mutate(&p)
			err := p.Validate()
			if tt.ok {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestService_Upsert_DefaultsCurrency(t *testing.T) {
	var got UpsertParams
	svc := NewService(&MockRepository{
		UpsertFunc: func(ctx context.Context, params UpsertParams) (*Account, bool, error) {
			got = params
			return &Account{}, false, nil
		},
	})

	p := validParams()
	p.Currency = ""
	if _, _, err := svc.Upsert(context.Background(), p); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}
	if got.Currency != "BRL" {
		t.Errorf("Upsert() currency = %q, want BRL", got.Currency)
	}
}

func TestService_Upsert_InvalidSkipsRepository(t *testing.T) {
	called := false
	svc := NewService(&MockRepository{
		UpsertFunc: func(ctx context.Context, params UpsertParams) (*Account, bool, error) {
			called = true
			return nil, false, nil
		},
	})

	p := validParams()
	p.Kind = "LOAN"
	if _, _, err := svc.Upsert(context.Background(), p); err == nil {
		t.Error("Upsert() error = nil, want validation error")
	}
	if called {
		t.Error("Upsert() reached repository with invalid params")
	}
}
