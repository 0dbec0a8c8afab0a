package app

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// tokenBucketLimiter is a token bucket shared by all requests of one
// listener. A nil limiter allows everything.
type tokenBucketLimiter struct {
	mu     sync.Mutex
	rate   float64
	burst  float64
	tokens float64
	last   time.Time
}

func newTokenBucketLimiter(rps float64, burst int, now time.Time) *tokenBucketLimiter {
	if now.IsZero() {
		now = time.Now()
	}
	return &tokenBucketLimiter{
		rate:   max(rps, 1e-9),
		burst:  float64(max(burst, 1)),
		tokens: float64(max(burst, 1)),
		last:   now,
	}
}

// AllowAt takes one token if available, refilling for the time elapsed
// since the previous call. Clock steps backwards do not refill.
func (l *tokenBucketLimiter) AllowAt(now time.Time) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if elapsed := now.Sub(l.last).Seconds(); elapsed > 0 {
		l.tokens = min(l.burst, l.tokens+elapsed*l.rate)
		l.last = now
	}
	if l.tokens < 1 {
		return false
	}
	l.tokens--
	return true
}

// withRateLimit rejects requests with 429 once the bucket is empty.
// Health probes bypass the limiter.
func withRateLimit(l *tokenBucketLimiter, next http.Handler) http.Handler {
	if l == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" || l.AllowAt(time.Now()) {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"code":   "rate_limited",
			"detail": "request rate limit exceeded",
		})
	})
}

func grpcRateLimit(l *tokenBucketLimiter) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !l.AllowAt(time.Now()) {
			return nil, status.Error(codes.ResourceExhausted, "request rate limit exceeded")
		}
		return handler(ctx, req)
	}
}
