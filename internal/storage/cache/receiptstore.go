// --- File: internal/storage/cache/receiptstore.go ---
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-contact-push-service/pkg/dispatch"
)

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns ErrCacheMiss (or any error) when nothing usable is cached.
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

type receiptMarker struct {
	NotifiedAt time.Time `json:"notified_at"`
}

// CachedReceiptStore is a Decorator that adds read-aside caching to the
// "already notified" check. Only positive markers are cached.
type CachedReceiptStore struct {
	realStore dispatch.ReceiptStore
	cache     CacheClient
	ttl       time.Duration
	logger    *slog.Logger
}

func NewCachedReceiptStore(realStore dispatch.ReceiptStore, cache CacheClient, ttl time.Duration, logger *slog.Logger) *CachedReceiptStore {
	return &CachedReceiptStore{
		realStore: realStore,
		cache:     cache,
		ttl:       ttl,
		logger:    logger.With("component", "CachedReceiptStore"),
	}
}

// --- READ PATH (Read-Aside) ---

func (s *CachedReceiptStore) AlreadyNotified(ctx context.Context, messageID string) (bool, error) {
	key := s.cacheKey(messageID)

	// 1. Try Cache
	var marker receiptMarker
	if err := s.cache.Get(ctx, key, &marker); err == nil {
		return true, nil
	}

	// 2. Fallback to Firestore
	done, err := s.realStore.AlreadyNotified(ctx, messageID)
	if err != nil || !done {
		return done, err
	}

	// 3. Populate Cache. Redis being down only costs us the optimisation.
	if err := s.cache.Set(ctx, key, receiptMarker{NotifiedAt: time.Now().UTC()}, s.ttl); err != nil {
		s.logger.Debug("Failed to cache push marker", "message_id", messageID, "err", err)
	}
	return true, nil
}

// --- WRITE PATHS ---

func (s *CachedReceiptStore) MarkNotified(ctx context.Context, messageID string) error {
	if err := s.realStore.MarkNotified(ctx, messageID); err != nil {
		return err
	}
	if err := s.cache.Set(ctx, s.cacheKey(messageID), receiptMarker{NotifiedAt: time.Now().UTC()}, s.ttl); err != nil {
		s.logger.Debug("Failed to cache push marker", "message_id", messageID, "err", err)
	}
	return nil
}

// MarkFailed invalidates any cached marker so a later manual retry is not
// short-circuited.
func (s *CachedReceiptStore) MarkFailed(ctx context.Context, messageID, reason string) error {
	if err := s.realStore.MarkFailed(ctx, messageID, reason); err != nil {
		return err
	}
	if err := s.cache.Del(ctx, s.cacheKey(messageID)); err != nil {
		s.logger.Debug("Failed to drop cached push marker", "message_id", messageID, "err", err)
	}
	return nil
}

func (s *CachedReceiptStore) cacheKey(messageID string) string {
	return fmt.Sprintf("push:notified:%s", messageID)
}
