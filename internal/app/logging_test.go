package app

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nuetzliches/brokeradmin/internal/config"
)

func TestWithAccessLog(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	h := withAccessLog(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("hello"))
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/invoke", nil)
	req.Header.Set(requestIDHeader, "req-1")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if got := rr.Header().Get(requestIDHeader); got != "req-1" {
		t.Fatalf("expected request id echoed, got %q", got)
	}
	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v (%q)", err, buf.String())
	}
	if line["msg"] != "http_request" || line["request_id"] != "req-1" || line["path"] != "/v1/invoke" {
		t.Fatalf("unexpected log line: %v", line)
	}
	if line["status"] != float64(http.StatusAccepted) || line["bytes"] != float64(5) {
		t.Fatalf("expected status 202 and 5 bytes, got %v", line)
	}
	if _, ok := line["trace_id"]; ok {
		t.Fatalf("expected no trace_id without a span, got %v", line)
	}
}

func TestWithAccessLog_GeneratesRequestID(t *testing.T) {
	h := withAccessLog(newDiscardLogger(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if got := rr.Header().Get(requestIDHeader); len(got) != 36 {
		t.Fatalf("expected generated uuid request id, got %q", got)
	}
	if rr.Code != http.StatusOK {
		t.Fatalf("expected implicit 200, got %d", rr.Code)
	}
}

func TestNewRuntimeLogger_TextFormat(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "brokeradmin.log")
	logger, closer, err := newRuntimeLogger("", config.ObservabilityConfig{
		LogFormat: "text",
		LogOutput: "file",
		LogPath:   logPath,
	})
	if err != nil {
		t.Fatalf("newRuntimeLogger: %v", err)
	}
	logger.Info("broker_ready", slog.String("broker", "main"))
	_ = closer.Close()

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "msg=broker_ready broker=main") {
		t.Fatalf("expected text log line, got %q", data)
	}
}

func TestLogSink_Invalid(t *testing.T) {
	cases := map[string]logSink{
		"invalid log format": {format: "logfmt"},
		"invalid log output": {output: "syslog"},
		"requires path":      {output: "file"},
	}
	for want, sink := range cases {
		if _, _, err := sink.open(); err == nil || !strings.Contains(err.Error(), want) {
			t.Fatalf("%+v: expected error containing %q, got %v", sink, want, err)
		}
	}
}
