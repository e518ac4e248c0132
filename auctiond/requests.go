package main

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RequestGuard remembers the request ids of execute requests so a resent
// request is rejected instead of applied twice.
type RequestGuard struct {
	mu   sync.Mutex
	seen map[uuid.UUID]time.Time
	now  func() time.Time
	log  *zap.Logger
}

func NewRequestGuard(log *zap.Logger) *RequestGuard {
	return &RequestGuard{
		seen: make(map[uuid.UUID]time.Time),
		now:  time.Now,
		log:  log.Named("requests"),
	}
}

// Consume records id and reports whether it had not been seen before.
func (g *RequestGuard) Consume(id uuid.UUID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.seen[id]; ok {
		return false
	}
	g.seen[id] = g.now()
	return true
}

// Release forgets id. Used when a request is rejected before it reached the
// auction, so the client may retry with the same id.
func (g *RequestGuard) Release(id uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.seen, id)
}

func (g *RequestGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}

// expire drops ids recorded more than maxAge ago.
func (g *RequestGuard) expire(maxAge time.Duration) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	cutoff := g.now().Add(-maxAge)
	removed := 0
	for id, at := range g.seen {
		if at.Before(cutoff) {
			delete(g.seen, id)
			removed++
		}
	}
	return removed
}

// StartExpirationCleanup expires ids older than maxAge every interval until
// ctx is done.
func (g *RequestGuard) StartExpirationCleanup(ctx context.Context, interval, maxAge time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := g.expire(maxAge); n > 0 {
					g.log.Debug("expired request ids", zap.Int("count", n))
				}
			}
		}
	}()
}
