package transcript

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nikhilbhutani/audioscribe/internal/cache"
	"github.com/nikhilbhutani/audioscribe/internal/models"
)

// CachedRepository serves FindByUser from Redis. Each user has a generation
// counter that Save bumps after a successful insert; cached lists are keyed by
// generation, so a list read before a save can never be served after it.
// Cache faults fall through to the wrapped repository.
type CachedRepository struct {
	next  Repository
	cache *cache.Cache
	ttl   time.Duration
}

func NewCachedRepository(next Repository, c *cache.Cache, ttl time.Duration) *CachedRepository {
	return &CachedRepository{next: next, cache: c, ttl: ttl}
}

func generationKey(userID string) string {
	return "user:" + userID + ":gen"
}

func listKey(userID string, gen int64) string {
	return fmt.Sprintf("user:%s:list:%d", userID, gen)
}

func (r *CachedRepository) Save(ctx context.Context, rec *models.TranscriptionRecord) error {
	if err := r.next.Save(ctx, rec); err != nil {
		return err
	}
	if _, err := r.cache.Incr(ctx, generationKey(rec.UserID)); err != nil {
		slog.Warn("failed to advance transcription cache generation", "user_id", rec.UserID, "error", err)
	}
	return nil
}

func (r *CachedRepository) FindByUser(ctx context.Context, userID string) ([]models.TranscriptionRecord, error) {
	// The generation is read before the backing query so that a save landing
	// in between moves readers to a new key.
	gen, err := r.cache.Counter(ctx, generationKey(userID))
	if err != nil {
		slog.Warn("transcription cache unavailable", "user_id", userID, "error", err)
		return r.next.FindByUser(ctx, userID)
	}
	key := listKey(userID, gen)

	var records []models.TranscriptionRecord
	err = r.cache.Get(ctx, key, &records)
	if err == nil {
		return records, nil
	}
	if !errors.Is(err, cache.ErrMiss) {
		slog.Warn("transcription cache read failed", "user_id", userID, "error", err)
	}

	records, err = r.next.FindByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := r.cache.Set(ctx, key, records, r.ttl); err != nil {
		slog.Warn("failed to cache transcriptions", "user_id", userID, "error", err)
	}
	return records, nil
}
