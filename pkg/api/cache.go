package api

import (
	"context"
	"errors"
	"time"
)

var (
	errCacheDisabled = errors.New("cache disabled")
	errCacheStopped  = errors.New("cache stopped")
	errNoLoader      = errors.New("no loader")
)

// cacheRequest models a single lookup or population attempt. A struct
// keeps the channel signature compact so the goroutine that owns the cache
// deals with one message type.
type cacheRequest struct {
	ctx    context.Context
	key    string
	loader func(context.Context) ([]byte, error)
	reply  chan cacheResponse
}

type cacheResponse struct {
	data []byte
	err  error
}

// cacheEntry records rendered JSON along with its expiry timestamp.
// Stale entries are trimmed lazily on access and swept when the map grows,
// so no timers are needed.
type cacheEntry struct {
	data    []byte
	expires time.Time
}

// sweepThreshold bounds the cache map. Keys embed the snapshot version, so
// every rebuild orphans the previous version's entries; once the map holds
// this many, expired leftovers are swept on insert.
const sweepThreshold = 512

// ResponseCache keeps rendered feature responses in memory so identical
// viewport queries within the TTL skip refiltering the snapshot. A
// dedicated goroutine and channels coordinate the state without mutexes.
type ResponseCache struct {
	ttl      time.Duration
	requests chan cacheRequest
	quit     chan struct{}
	now      func() time.Time
}

// NewResponseCache starts the caching goroutine immediately. A ttl of zero
// or less disables caching by returning nil, which every method accepts.
// The clock is injectable for tests; production uses time.Now.
func NewResponseCache(ttl time.Duration) *ResponseCache {
	if ttl <= 0 {
		return nil
	}
	cache := &ResponseCache{
		ttl:      ttl,
		requests: make(chan cacheRequest),
		quit:     make(chan struct{}),
		now:      time.Now,
	}
	go cache.loop()
	return cache
}

// Close stops the cache goroutine. Safe to call more than once.
func (c *ResponseCache) Close() {
	if c == nil {
		return
	}
	select {
	case <-c.quit:
		return
	default:
	}
	close(c.quit)
}

// Get returns cached bytes for the key or invokes loader to produce them.
// The stored slice is copied before returning so callers can modify the
// result without poisoning future hits.
func (c *ResponseCache) Get(ctx context.Context, key string, loader func(context.Context) ([]byte, error)) ([]byte, error) {
	if c == nil {
		return nil, errCacheDisabled
	}
	req := cacheRequest{
		ctx:    ctx,
		key:    key,
		loader: loader,
		reply:  make(chan cacheResponse, 1),
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.quit:
		return nil, errCacheStopped
	case c.requests <- req:
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.quit:
		return nil, errCacheStopped
	case resp := <-req.reply:
		if resp.err != nil {
			return nil, resp.err
		}
		if resp.data == nil {
			return nil, nil
		}
		copyBuf := make([]byte, len(resp.data))
		copy(copyBuf, resp.data)
		return copyBuf, nil
	}
}

// loop serialises all cache access inside one goroutine so plain maps
// suffice.
func (c *ResponseCache) loop() {
	store := make(map[string]cacheEntry)
	for {
		select {
		case <-c.quit:
			return
		case req := <-c.requests:
			now := c.now()
			if entry, ok := store[req.key]; ok && now.Before(entry.expires) {
				req.reply <- cacheResponse{data: entry.data}
				continue
			}
			if req.loader == nil {
				req.reply <- cacheResponse{err: errNoLoader}
				continue
			}
			data, err := req.loader(req.ctx)
			if err == nil && data != nil {
				if len(store) >= sweepThreshold {
					for key, entry := range store {
						if !now.Before(entry.expires) {
							delete(store, key)
						}
					}
				}
				buf := make([]byte, len(data))
				copy(buf, data)
				store[req.key] = cacheEntry{data: buf, expires: now.Add(c.ttl)}
			} else if err != nil {
				delete(store, req.key)
			}
			req.reply <- cacheResponse{data: data, err: err}
		}
	}
}
