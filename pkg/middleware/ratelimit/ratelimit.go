package ratelimit

import (
	"context"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	appErrors "github.com/noah-isme/academic-records-api/pkg/errors"
	"github.com/noah-isme/academic-records-api/pkg/response"
)

// KeyFunc extracts the bucket key for a request.
type KeyFunc func(c *gin.Context) string

// Store keeps one token bucket per key and forgets keys idle for longer than idleTTL.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	rps     rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time
}

type entry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewStore creates a limiter store. Non-positive values fall back to 10 rps and a burst of 20.
func NewStore(rps float64, burst int, idleTTL time.Duration) *Store {
	if rps <= 0 {
		rps = 10
	}
	if burst <= 0 {
		burst = int(math.Max(1, rps*2))
	}
	if idleTTL <= 0 {
		idleTTL = 15 * time.Minute
	}
	return &Store{
		entries: make(map[string]*entry),
		rps:     rate.Limit(rps),
		burst:   burst,
		idleTTL: idleTTL,
		now:     time.Now,
	}
}

// Limiter returns the bucket for key, creating it on first use.
func (s *Store) Limiter(key string) *rate.Limiter {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if ent, ok := s.entries[key]; ok {
		ent.lastSeen = now
		return ent.lim
	}
	lim := rate.NewLimiter(s.rps, s.burst)
	s.entries[key] = &entry{lim: lim, lastSeen: now}
	return lim
}

// Len reports how many keys are tracked.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Cleanup drops keys not seen within the idle TTL.
func (s *Store) Cleanup() {
	cutoff := s.now().Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, ent := range s.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(s.entries, k)
		}
	}
}

// StartJanitor runs Cleanup periodically until ctx is cancelled.
func (s *Store) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Cleanup()
			}
		}
	}()
}

// ClientIP keys buckets by the resolved client address.
func ClientIP(c *gin.Context) string {
	return c.ClientIP()
}

// Middleware rejects requests that exceed the bucket for their key with 429.
func Middleware(store *Store, key KeyFunc) gin.HandlerFunc {
	if key == nil {
		key = ClientIP
	}
	return func(c *gin.Context) {
		if store == nil {
			c.Next()
			return
		}
		lim := store.Limiter(key(c))
		if !lim.Allow() {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(1/float64(store.rps)))))
			response.Error(c, appErrors.ErrTooManyRequests)
			c.Abort()
			return
		}
		c.Next()
	}
}
