package enrichment

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"packmarket/internal/domain"
	"packmarket/internal/economy"
	"packmarket/internal/logger"
	"packmarket/internal/metrics"

	redis "github.com/redis/go-redis/v9"
)

const DefaultCacheTTL = 24 * time.Hour

// CachedProvider keeps signals in Redis. A nil or unreachable Redis only
// costs a provider call.
type CachedProvider struct {
	next Provider
	rdb  *redis.Client
	ttl  time.Duration
	log  *slog.Logger
}

func NewCachedProvider(next Provider, rdb *redis.Client, ttl time.Duration) *CachedProvider {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedProvider{next: next, rdb: rdb, ttl: ttl, log: logger.Component("enrichment")}
}

func cacheKey(sourceURL string) (string, bool) {
	kind, id, ok := economy.SourceID(sourceURL)
	if !ok {
		return "", false
	}
	return "enrich:" + kind + ":" + id, true
}

func (p *CachedProvider) Lookup(ctx context.Context, sourceURL string) (*domain.Signal, error) {
	key, ok := cacheKey(sourceURL)
	if ok && p.rdb != nil {
		raw, err := p.rdb.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			var sig domain.Signal
			if jerr := json.Unmarshal(raw, &sig); jerr == nil {
				metrics.EnrichmentLookups.WithLabelValues("hit").Inc()
				return &sig, nil
			}
		case !errors.Is(err, redis.Nil):
			p.log.Warn("enrichment cache read failed", "key", key, "error", err)
		}
	}

	sig, err := p.next.Lookup(ctx, sourceURL)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			metrics.EnrichmentLookups.WithLabelValues("not_found").Inc()
		} else {
			metrics.EnrichmentLookups.WithLabelValues("error").Inc()
		}
		return nil, err
	}
	metrics.EnrichmentLookups.WithLabelValues("miss").Inc()

	if ok && p.rdb != nil {
		if raw, err := json.Marshal(sig); err == nil {
			if err := p.rdb.Set(ctx, key, raw, p.ttl).Err(); err != nil {
				p.log.Warn("enrichment cache write failed", "key", key, "error", err)
			}
		}
	}
	return sig, nil
}
