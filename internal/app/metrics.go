package app

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nuetzliches/brokeradmin/internal/management"
	"github.com/nuetzliches/brokeradmin/internal/notify"
	"github.com/nuetzliches/brokeradmin/internal/resource"
)

var callOutcomes = []string{
	management.OutcomeOK,
	management.OutcomeInvalidState,
	management.OutcomeDenied,
	management.OutcomeNotFound,
	management.OutcomeFailed,
}

type callKey struct {
	call    string
	outcome string
}

type runtimeMetrics struct {
	tracingEnabled           atomic.Int64
	tracingInitFailuresTotal atomic.Int64
	tracingExportErrorsTotal atomic.Int64
	reloadOKTotal            atomic.Int64
	reloadFailedTotal        atomic.Int64

	mu                sync.Mutex
	controls          map[resource.Kind]int
	controlsSampledAt time.Time
	registered        map[resource.Kind]int64
	replaced          map[resource.Kind]int64
	unregistered      map[resource.Kind]int64
	calls             map[callKey]int64
	callSeconds       map[string]float64

	// Read at scrape time when set.
	counts        func() map[resource.Kind]int
	notifications func() notify.Stats
	now           func() time.Time
}

func newRuntimeMetrics() *runtimeMetrics {
	return &runtimeMetrics{
		controls:     make(map[resource.Kind]int),
		registered:   make(map[resource.Kind]int64),
		replaced:     make(map[resource.Kind]int64),
		unregistered: make(map[resource.Kind]int64),
		calls:        make(map[callKey]int64),
		callSeconds:  make(map[string]float64),
		now:          time.Now,
	}
}

func (m *runtimeMetrics) setTracingEnabled(enabled bool) {
	if m == nil {
		return
	}
	if enabled {
		m.tracingEnabled.Store(1)
		return
	}
	m.tracingEnabled.Store(0)
}

func (m *runtimeMetrics) incTracingInitFailures() {
	if m == nil {
		return
	}
	m.tracingInitFailuresTotal.Add(1)
}

func (m *runtimeMetrics) incTracingExportErrors() {
	if m == nil {
		return
	}
	m.tracingExportErrorsTotal.Add(1)
}

func (m *runtimeMetrics) observeReload(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.reloadOKTotal.Add(1)
		return
	}
	m.reloadFailedTotal.Add(1)
}

// observeCall is installed as the gateway's call observer.
func (m *runtimeMetrics) observeCall(ev management.CallEvent) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[callKey{call: ev.Call, outcome: ev.Outcome}]++
	m.callSeconds[ev.Call] += ev.Duration.Seconds()
}

func (m *runtimeMetrics) observeLifecycle(ev management.LifecycleEvent) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	switch ev.Type {
	case notify.TypeRegistered:
		m.registered[ev.Kind]++
		if ev.Replaced {
			m.replaced[ev.Kind]++
		}
	case notify.TypeUnregistered:
		m.unregistered[ev.Kind]++
	}
}

// sampleControls is installed as the gateway's housekeeping sampler.
func (m *runtimeMetrics) sampleControls(counts map[resource.Kind]int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.controls = make(map[resource.Kind]int, len(counts))
	for k, v := range counts {
		m.controls[k] = v
	}
	m.controlsSampledAt = m.now()
}

type metricsSnapshot struct {
	controls          map[resource.Kind]int
	controlsSampledAt time.Time
	registered        map[resource.Kind]int64
	replaced          map[resource.Kind]int64
	unregistered      map[resource.Kind]int64
	calls             map[callKey]int64
	callSeconds       map[string]float64
	notifications     notify.Stats
	hasNotifications  bool
}

func (m *runtimeMetrics) snapshot() metricsSnapshot {
	out := metricsSnapshot{
		controls:     make(map[resource.Kind]int),
		registered:   make(map[resource.Kind]int64),
		replaced:     make(map[resource.Kind]int64),
		unregistered: make(map[resource.Kind]int64),
		calls:        make(map[callKey]int64),
		callSeconds:  make(map[string]float64),
	}
	if m == nil {
		return out
	}
	if m.counts != nil {
		m.sampleControls(m.counts())
	}
	if m.notifications != nil {
		out.notifications = m.notifications()
		out.hasNotifications = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.controls {
		out.controls[k] = v
	}
	out.controlsSampledAt = m.controlsSampledAt
	for k, v := range m.registered {
		out.registered[k] = v
	}
	for k, v := range m.replaced {
		out.replaced[k] = v
	}
	for k, v := range m.unregistered {
		out.unregistered[k] = v
	}
	for k, v := range m.calls {
		out.calls[k] = v
	}
	for k, v := range m.callSeconds {
		out.callSeconds[k] = v
	}
	return out
}

func (m *runtimeMetrics) healthDiagnostics() map[string]any {
	if m == nil {
		return map[string]any{}
	}
	snap := m.snapshot()

	controls := make(map[string]any, len(resource.Kinds))
	total := 0
	for _, kind := range resource.Kinds {
		controls[string(kind)] = snap.controls[kind]
		total += snap.controls[kind]
	}
	calls := map[string]any{}
	for key, n := range snap.calls {
		byOutcome, ok := calls[key.call].(map[string]any)
		if !ok {
			byOutcome = map[string]any{}
			calls[key.call] = byOutcome
		}
		byOutcome[key.outcome] = n
	}

	out := map[string]any{
		"tracing": map[string]any{
			"enabled":             m.tracingEnabled.Load() == 1,
			"init_failures_total": m.tracingInitFailuresTotal.Load(),
			"export_errors_total": m.tracingExportErrorsTotal.Load(),
		},
		"reload": map[string]any{
			"ok_total":     m.reloadOKTotal.Load(),
			"failed_total": m.reloadFailedTotal.Load(),
		},
		"controls": map[string]any{
			"total":   total,
			"by_kind": controls,
		},
		"calls": calls,
	}
	if snap.hasNotifications {
		out["notifications"] = map[string]any{
			"queued":          snap.notifications.Queued,
			"delivered_total": snap.notifications.Delivered,
			"dropped_total":   snap.notifications.Dropped,
			"failed_total":    snap.notifications.Failed,
		}
	}
	return out
}

func newMetricsHandler(version string, start time.Time, rm *runtimeMetrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		snap := rm.snapshot()
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(w, version, start, rm, snap)
	})
}

func writeMetrics(w io.Writer, version string, start time.Time, rm *runtimeMetrics, snap metricsSnapshot) {
	var tracingEnabled, tracingInitFailures, tracingExportErrors, reloadOK, reloadFailed int64
	if rm != nil {
		tracingEnabled = rm.tracingEnabled.Load()
		tracingInitFailures = rm.tracingInitFailuresTotal.Load()
		tracingExportErrors = rm.tracingExportErrorsTotal.Load()
		reloadOK = rm.reloadOKTotal.Load()
		reloadFailed = rm.reloadFailedTotal.Load()
	}

	writeHeader(w, "brokeradmin_up", "gauge", "Whether the brokeradmin process is up.")
	_, _ = fmt.Fprintf(w, "brokeradmin_up 1\n")
	writeHeader(w, "brokeradmin_build_info", "gauge", "Build information.")
	_, _ = fmt.Fprintf(w, "brokeradmin_build_info{version=%q} 1\n", version)
	writeHeader(w, "brokeradmin_start_time_seconds", "gauge", "Start time since unix epoch.")
	_, _ = fmt.Fprintf(w, "brokeradmin_start_time_seconds %d\n", start.Unix())

	writeHeader(w, "brokeradmin_tracing_enabled", "gauge", "Whether tracing is enabled.")
	_, _ = fmt.Fprintf(w, "brokeradmin_tracing_enabled %d\n", tracingEnabled)
	writeHeader(w, "brokeradmin_tracing_init_failures_total", "counter", "Total number of tracing initialization failures.")
	_, _ = fmt.Fprintf(w, "brokeradmin_tracing_init_failures_total %d\n", tracingInitFailures)
	writeHeader(w, "brokeradmin_tracing_export_errors_total", "counter", "Total number of tracing exporter errors reported by OpenTelemetry.")
	_, _ = fmt.Fprintf(w, "brokeradmin_tracing_export_errors_total %d\n", tracingExportErrors)

	writeHeader(w, "brokeradmin_config_reloads_total", "counter", "Total number of config reload attempts by result.")
	_, _ = fmt.Fprintf(w, "brokeradmin_config_reloads_total{result=\"ok\"} %d\n", reloadOK)
	_, _ = fmt.Fprintf(w, "brokeradmin_config_reloads_total{result=\"failed\"} %d\n", reloadFailed)

	writeHeader(w, "brokeradmin_controls", "gauge", "Number of registered management controls by kind.")
	for _, kind := range resource.Kinds {
		_, _ = fmt.Fprintf(w, "brokeradmin_controls{kind=%q} %d\n", kind, snap.controls[kind])
	}
	if !snap.controlsSampledAt.IsZero() {
		writeHeader(w, "brokeradmin_controls_sampled_timestamp_seconds", "gauge", "When control counts were last sampled.")
		_, _ = fmt.Fprintf(w, "brokeradmin_controls_sampled_timestamp_seconds %d\n", snap.controlsSampledAt.Unix())
	}

	writeKindCounter(w, "brokeradmin_registrations_total", "Total number of control registrations by kind.", snap.registered)
	writeKindCounter(w, "brokeradmin_replacements_total", "Total number of registrations that replaced a control by kind.", snap.replaced)
	writeKindCounter(w, "brokeradmin_unregistrations_total", "Total number of control unregistrations by kind.", snap.unregistered)

	calls := make([]string, 0, len(snap.callSeconds))
	for call := range snap.callSeconds {
		calls = append(calls, call)
	}
	sort.Strings(calls)
	writeHeader(w, "brokeradmin_calls_total", "counter", "Total number of management calls by call and outcome.")
	for _, call := range calls {
		for _, outcome := range callOutcomes {
			_, _ = fmt.Fprintf(w, "brokeradmin_calls_total{call=%q,outcome=%q} %d\n", call, outcome, snap.calls[callKey{call: call, outcome: outcome}])
		}
	}
	writeHeader(w, "brokeradmin_call_duration_seconds_total", "counter", "Total time spent in management calls by call.")
	for _, call := range calls {
		_, _ = fmt.Fprintf(w, "brokeradmin_call_duration_seconds_total{call=%q} %.9f\n", call, snap.callSeconds[call])
	}

	if snap.hasNotifications {
		n := snap.notifications
		writeHeader(w, "brokeradmin_notifications_queued", "gauge", "Number of notifications waiting for the journal.")
		_, _ = fmt.Fprintf(w, "brokeradmin_notifications_queued %d\n", n.Queued)
		writeHeader(w, "brokeradmin_notifications_total", "counter", "Total number of notifications by dispatch result.")
		_, _ = fmt.Fprintf(w, "brokeradmin_notifications_total{result=\"delivered\"} %d\n", n.Delivered)
		_, _ = fmt.Fprintf(w, "brokeradmin_notifications_total{result=\"dropped\"} %d\n", n.Dropped)
		_, _ = fmt.Fprintf(w, "brokeradmin_notifications_total{result=\"failed\"} %d\n", n.Failed)
	}
}

func writeHeader(w io.Writer, name, typ, help string) {
	_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, typ)
}

func writeKindCounter(w io.Writer, name, help string, byKind map[resource.Kind]int64) {
	writeHeader(w, name, "counter", help)
	for _, kind := range resource.Kinds {
		_, _ = fmt.Fprintf(w, "%s{kind=%q} %d\n", name, kind, byKind[kind])
	}
}
