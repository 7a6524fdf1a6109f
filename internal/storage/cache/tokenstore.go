// Package cache adds a Redis read-aside layer over the token store.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/tinywideclouds/go-campus-notify/pkg/dispatch"
)

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns the value or a specific error if not found.
	Get(ctx context.Context, key string, dest interface{}) error
	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Del removes the key.
	Del(ctx context.Context, key string) error
}

// CachedTokenStore is a decorator that adds read-aside caching to the
// population fan-out lookups, the expensive path of a broadcast. Individual
// lookups always go to the real store: device registrations happen outside
// this service, so we cannot invalidate per-user keys on write.
type CachedTokenStore struct {
	realStore dispatch.TokenStore
	cache     CacheClient
	ttl       time.Duration
}

func NewCachedTokenStore(realStore dispatch.TokenStore, cache CacheClient, ttl time.Duration) *CachedTokenStore {
	return &CachedTokenStore{
		realStore: realStore,
		cache:     cache,
		ttl:       ttl,
	}
}

func (s *CachedTokenStore) TokensForPopulation(ctx context.Context, population string) ([]string, error) {
	key := s.populationKey(population)

	var cached []string
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return cached, nil
	}

	fresh, err := s.realStore.TokensForPopulation(ctx, population)
	if err != nil {
		return nil, err
	}

	// Caching is an optimization, not a transaction. If Redis is down we
	// just serve from the real store.
	_ = s.cache.Set(ctx, key, fresh, s.ttl)

	return fresh, nil
}

func (s *CachedTokenStore) TokensForIndividual(ctx context.Context, userID string) ([]string, error) {
	return s.realStore.TokensForIndividual(ctx, userID)
}

// PruneToken writes through to the source of truth, then drops both
// population keys: we do not know which population held the token, and a
// pruned token must stop receiving broadcasts immediately.
func (s *CachedTokenStore) PruneToken(ctx context.Context, token string) error {
	if err := s.realStore.PruneToken(ctx, token); err != nil {
		return err
	}
	var finalErr error
	for _, p := range []string{dispatch.PopulationStudents, dispatch.PopulationFaculty} {
		if err := s.cache.Del(ctx, s.populationKey(p)); err != nil {
			finalErr = err
		}
	}
	return finalErr
}

func (s *CachedTokenStore) populationKey(population string) string {
	return fmt.Sprintf("notify:tokens:population:%s", population)
}
