// Package middleware holds the gRPC server interceptors shared by the
// API: per-key rate limiting and request logging.
package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/peer"

	"github.com/BakhodirAbdullayev/orbital/internal/auth"
	"github.com/BakhodirAbdullayev/orbital/internal/normalize"
)

const defaultIdleTTL = 10 * time.Minute

// AttemptLimiter throttles sign-in attempts with one token bucket per key.
// Buckets unused for idleTTL are forgotten, so a key that went quiet
// starts over with a full burst.
type AttemptLimiter struct {
	every   rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket

	stopOnce sync.Once
	done     chan struct{}
}

type bucket struct {
	lim  *rate.Limiter
	used time.Time
}

// NewAttemptLimiter allows perMinute attempts per key with the given
// burst. Non-positive values fall back to 60 a minute, a burst of one and
// a ten minute idle TTL.
func NewAttemptLimiter(perMinute, burst int, idleTTL time.Duration) *AttemptLimiter {
	l := newAttemptLimiter(perMinute, burst, idleTTL, time.Now)
	go l.sweepLoop()
	return l
}

func newAttemptLimiter(perMinute, burst int, idleTTL time.Duration, now func() time.Time) *AttemptLimiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	if idleTTL <= 0 {
		idleTTL = defaultIdleTTL
	}
	return &AttemptLimiter{
		every:   rate.Every(time.Minute / time.Duration(perMinute)),
		burst:   max(burst, 1),
		idleTTL: idleTTL,
		now:     now,
		buckets: map[string]*bucket{},
		done:    make(chan struct{}),
	}
}

func (l *AttemptLimiter) sweepLoop() {
	t := time.NewTicker(l.idleTTL / 2)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			l.sweep()
		case <-l.done:
			return
		}
	}
}

// sweep forgets buckets idle for longer than idleTTL.
func (l *AttemptLimiter) sweep() {
	cutoff := l.now().Add(-l.idleTTL)
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, b := range l.buckets {
		if b.used.Before(cutoff) {
			delete(l.buckets, k)
		}
	}
}

// Stop ends the sweeper. It is safe to call more than once.
func (l *AttemptLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.done) })
}

// Allow spends one attempt for key, reporting false when none is left.
func (l *AttemptLimiter) Allow(key string) bool {
	now := l.now()
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.every, l.burst)}
		l.buckets[key] = b
	}
	b.used = now
	l.mu.Unlock()
	return b.lim.AllowN(now, 1)
}

// tracked returns the number of keys holding a bucket.
func (l *AttemptLimiter) tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// RateLimitUnaryInterceptor applies rate limiting to the sign-in methods.
// Requests carrying an email are keyed by the normalized address so one
// account cannot be hammered from many peers; others fall back to the
// remote address. Rejections use auth/too-many-requests.
func RateLimitUnaryInterceptor(limiter *AttemptLimiter, limitedMethods map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !limitedMethods[info.FullMethod] {
			return handler(ctx, req)
		}

		if !limiter.Allow(limitKey(ctx, req)) {
			return nil, auth.NewError(auth.CodeTooManyRequests, "rate limit exceeded")
		}
		return handler(ctx, req)
	}
}

func limitKey(ctx context.Context, req any) string {
	type emailGetter interface{ GetEmail() string }
	if eg, ok := req.(emailGetter); ok {
		if e := normalize.Email(eg.GetEmail()); e != "" {
			return fmt.Sprintf("email:%s", e)
		}
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return "addr:" + p.Addr.String()
	}
	return "unknown"
}
