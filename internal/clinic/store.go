package clinic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Store provides persistence for clinic profiles.
type Store struct {
	redis *redis.Client
}

// NewStore creates a new clinic profile store.
func NewStore(redisClient *redis.Client) *Store {
	if redisClient == nil {
		panic("clinic: redis client cannot be nil")
	}
	return &Store{redis: redisClient}
}

func (s *Store) key(clinicID string) string {
	return fmt.Sprintf("clinic:config:%s", clinicID)
}

// Get retrieves a clinic profile, returning the default profile if none is stored.
func (s *Store) Get(ctx context.Context, clinicID string) (*Config, error) {
	data, err := s.redis.Get(ctx, s.key(clinicID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return DefaultConfig(clinicID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("clinic: get config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("clinic: unmarshal config: %w", err)
	}
	if cfg.ID == "" {
		cfg.ID = clinicID
	}
	return &cfg, nil
}

// Set saves a clinic profile.
func (s *Store) Set(ctx context.Context, cfg *Config) error {
	if cfg == nil || cfg.ID == "" {
		return fmt.Errorf("clinic: config id is required")
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("clinic: marshal config: %w", err)
	}
	if err := s.redis.Set(ctx, s.key(cfg.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("clinic: set config: %w", err)
	}
	return nil
}
