package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestTokenBucketLimiter_Refill(t *testing.T) {
	start := time.Unix(1000, 0)
	l := newTokenBucketLimiter(2, 2, start)

	if !l.AllowAt(start) || !l.AllowAt(start) {
		t.Fatalf("expected burst of 2 to be allowed")
	}
	if l.AllowAt(start) {
		t.Fatalf("expected third request to be rejected")
	}
	if !l.AllowAt(start.Add(500 * time.Millisecond)) {
		t.Fatalf("expected one token after 500ms at 2 rps")
	}
	if l.AllowAt(start.Add(500 * time.Millisecond)) {
		t.Fatalf("expected bucket to be empty again")
	}
	// Refill is capped at burst.
	later := start.Add(time.Hour)
	for i := 0; i < 2; i++ {
		if !l.AllowAt(later) {
			t.Fatalf("expected request %d after refill to be allowed", i)
		}
	}
	if l.AllowAt(later) {
		t.Fatalf("expected refill to be capped at burst")
	}
}

func TestTokenBucketLimiter_Nil(t *testing.T) {
	var l *tokenBucketLimiter
	if !l.AllowAt(time.Now()) {
		t.Fatalf("expected nil limiter to allow")
	}
}

func TestWithRateLimit(t *testing.T) {
	l := newTokenBucketLimiter(0.001, 1, time.Now())
	h := withRateLimit(l, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/resources", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/resources", nil))
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	var body struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Code != "rate_limited" {
		t.Fatalf("expected code rate_limited, got %q", body.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected healthz to bypass the limiter, got %d", rr.Code)
	}
}

func TestGRPCRateLimit(t *testing.T) {
	intercept := grpcRateLimit(newTokenBucketLimiter(0.001, 1, time.Now()))
	info := &grpc.UnaryServerInfo{FullMethod: "/brokeradmin.v1.Management/GetAttribute"}
	handler := func(ctx context.Context, req any) (any, error) { return "ok", nil }

	if _, err := intercept(context.Background(), nil, info, handler); err != nil {
		t.Fatalf("expected first call to pass, got %v", err)
	}
	_, err := intercept(context.Background(), nil, info, handler)
	if status.Code(err) != codes.ResourceExhausted {
		t.Fatalf("expected ResourceExhausted, got %v", err)
	}
}
