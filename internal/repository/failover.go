package repository

import (
	"context"
	"sync/atomic"
	"time"

	"qpaygate/internal/domain"

	"github.com/rs/zerolog"
)

// FailoverStore serves from the primary store until it errors, then
// degrades to the fallback and probes the primary again after a minute.
type FailoverStore struct {
	primary   domain.KeyValueStore
	fallback  domain.KeyValueStore
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
}

func NewFailoverStore(primary, fallback domain.KeyValueStore, logger *zerolog.Logger) *FailoverStore {
	return &FailoverStore{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (s *FailoverStore) Get(ctx context.Context, key string) (string, bool, error) {
	if !s.isDown.Load() {
		val, ok, err := s.primary.Get(ctx, key)
		if err == nil {
			return val, ok, nil
		}
		s.markDown(err)
	}

	if s.shouldProbe() {
		val, ok, err := s.primary.Get(ctx, key)
		if err == nil {
			s.isDown.Store(false)
			return val, ok, nil
		}
		s.lastCheck.Store(time.Now().Unix())
	}

	return s.fallback.Get(ctx, key)
}

func (s *FailoverStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if !s.isDown.Load() {
		if err := s.primary.Set(ctx, key, value, ttl); err == nil {
			return nil
		} else {
			s.markDown(err)
		}
	}
	return s.fallback.Set(ctx, key, value, ttl)
}

func (s *FailoverStore) Delete(ctx context.Context, key string) error {
	if !s.isDown.Load() {
		if err := s.primary.Delete(ctx, key); err == nil {
			return nil
		} else {
			s.markDown(err)
		}
	}
	return s.fallback.Delete(ctx, key)
}

func (s *FailoverStore) markDown(err error) {
	s.logger.Error().Err(err).Msg("Primary key-value store failed, falling back to memory")
	s.isDown.Store(true)
	s.lastCheck.Store(time.Now().Unix())
}

func (s *FailoverStore) shouldProbe() bool {
	return s.isDown.Load() && time.Now().Unix()-s.lastCheck.Load() > 60
}
