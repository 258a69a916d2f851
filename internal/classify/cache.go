package classify

import (
	"context"
	"strings"
	"time"

	"github.com/goodtune/lockedin/internal/metrics"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cached memoizes successful verdicts per (goal, url, title). It only saves
// model calls: the usage ledger runs before it, so cached answers still
// count against the daily quota.
type Cached struct {
	next  Model
	cache *expirable.LRU[string, Verdict]
}

// NewCached wraps next with an LRU of the given size and entry lifetime.
func NewCached(next Model, size int, ttl time.Duration) *Cached {
	return &Cached{
		next:  next,
		cache: expirable.NewLRU[string, Verdict](size, nil, ttl),
	}
}

// Classify returns a cached verdict or asks the wrapped model.
func (c *Cached) Classify(ctx context.Context, req Request) (Verdict, error) {
	key := cacheKey(req)
	if verdict, ok := c.cache.Get(key); ok {
		metrics.VerdictCacheHits.Inc()
		return verdict, nil
	}
	metrics.VerdictCacheMisses.Inc()

	verdict, err := c.next.Classify(ctx, req)
	if err != nil {
		return Verdict{}, err
	}
	c.cache.Add(key, verdict)
	return verdict, nil
}

// Len returns the number of cached verdicts.
func (c *Cached) Len() int {
	return c.cache.Len()
}

func cacheKey(req Request) string {
	goal := strings.ToLower(strings.TrimSpace(req.Goal))
	return goal + "\x00" + req.URL + "\x00" + req.Title
}
