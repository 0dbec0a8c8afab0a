package app

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/nuetzliches/brokeradmin/internal/config"
)

const requestIDHeader = "X-Request-Id"

// logSink describes where and how log lines are written.
type logSink struct {
	level  string
	format string
	output string
	path   string
}

func newLogger(level string) (*slog.Logger, error) {
	l, _, err := logSink{level: level}.open()
	return l, err
}

// newRuntimeLogger builds the logger the broker runs with. A --log-level
// flag other than info wins over the configured level.
func newRuntimeLogger(flagLevel string, obs config.ObservabilityConfig) (*slog.Logger, io.Closer, error) {
	sink := logSink{level: obs.LogLevel, format: obs.LogFormat, output: obs.LogOutput, path: obs.LogPath}
	if lvl := strings.TrimSpace(flagLevel); lvl != "" && lvl != "info" {
		sink.level = lvl
	}
	return sink.open()
}

// open returns the logger plus a closer for file sinks; the closer is nil
// for stdout and stderr.
func (s logSink) open() (*slog.Logger, io.Closer, error) {
	lvl, err := parseLogLevel(s.level)
	if err != nil {
		return nil, nil, err
	}
	w, closer, err := openLogOutput(s.output, s.path)
	if err != nil {
		return nil, nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(strings.TrimSpace(s.format)) {
	case "", "json":
		return slog.New(slog.NewJSONHandler(w, opts)), closer, nil
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), closer, nil
	default:
		if closer != nil {
			_ = closer.Close()
		}
		return nil, nil, fmt.Errorf("invalid log format %q (use: json|text)", s.format)
	}
}

func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level %q (use: debug|info|warn|error)", level)
	}
}

func openLogOutput(output, path string) (io.Writer, io.Closer, error) {
	switch strings.ToLower(strings.TrimSpace(output)) {
	case "", "stderr":
		return os.Stderr, nil, nil
	case "stdout":
		return os.Stdout, nil, nil
	case "file":
		p := strings.TrimSpace(path)
		if p == "" {
			return nil, nil, errors.New("log output file requires path")
		}
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log dir for %q: %w", p, err)
		}
		f, err := os.OpenFile(p, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file %q: %w", p, err)
		}
		return f, f, nil
	default:
		return nil, nil, fmt.Errorf("invalid log output %q (use: stdout|stderr|file)", output)
	}
}

func newDiscardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// withAccessLog logs one http_request line per request and echoes the
// request id back to the caller. The subject is not known at this layer;
// the admin handler authenticates after it.
func withAccessLog(logger *slog.Logger, next http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)

		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		attrs := []slog.Attr{
			slog.String("request_id", id),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Int64("bytes", rec.bytes),
			slog.Duration("duration", time.Since(start)),
			slog.String("remote_addr", r.RemoteAddr),
		}
		if sc := trace.SpanContextFromContext(r.Context()); sc.HasTraceID() {
			attrs = append(attrs, slog.String("trace_id", sc.TraceID().String()))
		}
		logger.LogAttrs(r.Context(), slog.LevelInfo, "http_request", attrs...)
	})
}

// responseRecorder captures status and size. Unwrap keeps
// http.ResponseController working for the wrapped writer.
type responseRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	bytes       int64
}

func (r *responseRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(p []byte) (int, error) {
	r.wroteHeader = true
	n, err := r.ResponseWriter.Write(p)
	r.bytes += int64(n)
	return n, err
}

func (r *responseRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }
