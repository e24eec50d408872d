package footprint

import (
	"context"
	"fmt"
	"time"

	"github.com/maypok86/otter/v2"

	"github.com/daylight-data/exposure.report/internal/monitoring"
)

// cacheGridDecimals quantizes coordinates for cache keys. Four decimal
// places is roughly an 11m grid, comparable to the GPS accuracy the answers
// are consumed at.
const cacheGridDecimals = 4

// cacheHardTTL is how long an entry may be served past its soft TTL when the
// inner oracle is failing.
const cacheHardTTL = time.Hour

type cacheEntry struct {
	prox     Proximity
	storedAt time.Time
}

// Cached wraps an Oracle with an otter cache keyed on a coarse position
// grid. Fresh entries short-circuit the inner lookup entirely; entries past
// their soft TTL trigger a refresh but are served stale when the refresh
// fails, so a flaky footprint service degrades to slightly old answers
// instead of fallback classifications.
type Cached struct {
	inner   Oracle
	cache   *otter.Cache[string, cacheEntry]
	softTTL time.Duration
	now     func() time.Time
}

// NewCached wraps inner with a cache of the given capacity and soft TTL.
func NewCached(inner Oracle, capacity int, softTTL time.Duration) *Cached {
	cache := otter.Must(&otter.Options[string, cacheEntry]{
		MaximumSize:      capacity,
		ExpiryCalculator: otter.ExpiryWriting[string, cacheEntry](cacheHardTTL),
	})
	return &Cached{
		inner:   inner,
		cache:   cache,
		softTTL: softTTL,
		now:     time.Now,
	}
}

func cacheKey(lat, lon float64) string {
	format := fmt.Sprintf("%%.%df,%%.%df", cacheGridDecimals, cacheGridDecimals)
	return fmt.Sprintf(format, lat, lon)
}

// Lookup implements Oracle.
func (c *Cached) Lookup(ctx context.Context, lat, lon float64) (Proximity, error) {
	key := cacheKey(lat, lon)

	entry, found := c.cache.GetIfPresent(key)
	if found && c.now().Sub(entry.storedAt) <= c.softTTL {
		return entry.prox, nil
	}

	prox, err := c.inner.Lookup(ctx, lat, lon)
	if err != nil {
		if found {
			monitoring.Debugf("footprint: serving stale proximity for %s after lookup failure: %v", key, err)
			stale := entry.prox
			stale.Stale = true
			return stale, nil
		}
		return Proximity{NearestDistanceM: -1}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	c.cache.Set(key, cacheEntry{prox: prox, storedAt: c.now()})
	return prox, nil
}
