package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"finlink/internal/domain/openfinance"
)

// ResumeStore keeps the OAuth resume slot as a JSON string key. Keys never
// expire; an abandoned flow is overwritten by the next one.
type ResumeStore struct {
	client *goredis.Client
}

func NewResumeStore(client *goredis.Client) *ResumeStore {
	return &ResumeStore{client: client}
}

func (s *ResumeStore) Save(ctx context.Context, key string, rc *openfinance.ResumeContext) error {
	data, err := json.Marshal(rc)
	if err != nil {
		return fmt.Errorf("failed to encode resume context: %w", err)
	}
	if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save resume context: %w", err)
	}
	return nil
}

func (s *ResumeStore) Load(ctx context.Context, key string) (*openfinance.ResumeContext, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load resume context: %w", err)
	}

	var rc openfinance.ResumeContext
	if err := json.Unmarshal(data, &rc); err != nil {
		return nil, fmt.Errorf("failed to decode resume context: %w", err)
	}
	return &rc, nil
}

func (s *ResumeStore) Clear(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to clear resume context: %w", err)
	}
	return nil
}

var _ openfinance.ResumeStore = (*ResumeStore)(nil)
