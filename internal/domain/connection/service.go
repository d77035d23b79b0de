package connection

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Service is the connection registry. It stores and returns records and
// never reaches out to the aggregator.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Upsert validates c and replaces the stored record. Last writer wins.
func (s *Service) Upsert(ctx context.Context, c *Connection) error {
	if c == nil {
		return errors.New("connection is required")
	}
	if err := c.Validate(); err != nil {
		return err
	}
	if err := s.repo.Upsert(ctx, c); err != nil {
		return fmt.Errorf("failed to save connection: %w", err)
	}
	return nil
}

func (s *Service) Get(ctx context.Context, localID string) (*Connection, error) {
	c, err := s.repo.GetByLocalID(ctx, localID)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	if c == nil {
		return nil, ErrNotFound
	}
	return c, nil
}

func (s *Service) GetByConnectionID(ctx context.Context, connectionID string) (*Connection, error) {
	c, err := s.repo.GetByConnectionID(ctx, connectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	if c == nil {
		return nil, ErrNotFound
	}
	return c, nil
}

// GetForUser is Get plus an ownership check.
func (s *Service) GetForUser(ctx context.Context, localID string, userID int64) (*Connection, error) {
	c, err := s.Get(ctx, localID)
	if err != nil {
		return nil, err
	}
	if c.UserID != userID {
		return nil, ErrForbidden
	}
	return c, nil
}

func (s *Service) List(ctx context.Context, userID int64) ([]*Connection, error) {
	if userID <= 0 {
		return nil, errors.New("valid user ID is required")
	}
	conns, err := s.repo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	return conns, nil
}

// Delete removes the connection and, by cascade, its accounts and transactions.
func (s *Service) Delete(ctx context.Context, localID string) error {
	if err := s.repo.Delete(ctx, localID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete connection: %w", err)
	}
	return nil
}

func (s *Service) ListRefreshCandidates(ctx context.Context, staleBefore time.Time) ([]*Connection, error) {
	conns, err := s.repo.ListRefreshCandidates(ctx, staleBefore)
	if err != nil {
		return nil, fmt.Errorf("failed to list refresh candidates: %w", err)
	}
	return conns, nil
}
