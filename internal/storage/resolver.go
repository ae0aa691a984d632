package storage

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"capsules/internal/config"
	"capsules/internal/logger"
)

type cacheEntry struct {
	url      string
	issuedAt time.Time
}

// Resolver turns stored object paths into client-usable signed URLs. URLs
// issued within the freshness window are reused instead of hitting the
// backend again; once the window passes the URL is reissued even though the
// old one may still be technically valid, so callers never render a URL that
// is about to expire.
//
// A Resolver is owned by whoever created it and shared by reference. All
// methods are safe for concurrent use; concurrent requests for the same path
// collapse into a single backend call.
type Resolver struct {
	store ObjectStore
	log   *logger.Logger
	ttl   time.Duration
	fresh time.Duration
	now   func() time.Time

	mu    sync.Mutex
	cache map[string]cacheEntry
	group singleflight.Group
}

func NewResolver(store ObjectStore, log *logger.Logger, cfg config.Resolver) *Resolver {
	return &Resolver{
		store: store,
		log:   log,
		ttl:   cfg.SignedURLTTL,
		fresh: cfg.CacheFreshness,
		now:   time.Now,
		cache: make(map[string]cacheEntry),
	}
}

// ResolveURLs resolves paths to signed URLs, preserving input order. A path
// that cannot be resolved and has no cached URL (not even a stale one) is
// dropped from the result, so the returned slice may be shorter than the
// input.
func (r *Resolver) ResolveURLs(ctx context.Context, paths []string) []string {
	urls := make([]string, 0, len(paths))
	for _, path := range paths {
		if url, ok := r.resolve(ctx, path); ok {
			urls = append(urls, url)
		}
	}
	return urls
}

func (r *Resolver) resolve(ctx context.Context, path string) (string, bool) {
	if url, ok := r.cached(path); ok {
		return url, true
	}

	v, err, _ := r.group.Do(path, func() (interface{}, error) {
		// Another caller may have refreshed while we waited on the flight.
		if url, ok := r.cached(path); ok {
			return url, nil
		}
		url, err := r.store.SignedURL(ctx, path, r.ttl)
		if err != nil {
			return "", err
		}
		r.mu.Lock()
		r.cache[path] = cacheEntry{url: url, issuedAt: r.now()}
		r.mu.Unlock()
		return url, nil
	})
	if err == nil {
		return v.(string), true
	}

	// Reissue failed: an expired URL is still better than nothing to render.
	r.mu.Lock()
	stale, ok := r.cache[path]
	r.mu.Unlock()
	if ok {
		r.log.Warn("signed url reissue failed, using stale entry", "path", path, "err", err)
		return stale.url, true
	}
	r.log.Error("signed url request failed", "path", path, "err", err)
	return "", false
}

func (r *Resolver) cached(path string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.cache[path]
	if !ok {
		return "", false
	}
	if r.now().Sub(e.issuedAt) >= r.fresh {
		return "", false
	}
	return e.url, true
}
