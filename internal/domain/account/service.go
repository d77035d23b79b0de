package account

import (
	"context"
	"fmt"
)

// Service contains the business logic for account operations
type Service struct {
	repo Repository
}

// NewService creates a new account service
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Upsert validates params and writes the account.
func (s *Service) Upsert(ctx context.Context, params UpsertParams) (*Account, bool, error) {
	if params.Currency == "" {
		params.Currency = "BRL"
	}
	if err := params.Validate(); err != nil {
		return nil, false, err
	}

	acc, created, err := s.repo.Upsert(ctx, params)
	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert account: %w", err)
	}
	return acc, created, nil
}

func (s *Service) ListByConnection(ctx context.Context, connectionLocalID string) ([]*Account, error) {
	accounts, err := s.repo.ListByConnection(ctx, connectionLocalID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return accounts, nil
}
