package app

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nuetzliches/brokeradmin/internal/management"
	"github.com/nuetzliches/brokeradmin/internal/notify"
	"github.com/nuetzliches/brokeradmin/internal/resource"
)

func scrape(t *testing.T, m *runtimeMetrics) string {
	t.Helper()
	h := newMetricsHandler("dev", time.Unix(100, 0).UTC(), m)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "http://example/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	return rr.Body.String()
}

func assertMetrics(t *testing.T, body string, want ...string) {
	t.Helper()
	for _, w := range want {
		if !strings.Contains(body, w) {
			t.Fatalf("missing %q in metrics output:\n%s", w, body)
		}
	}
}

func TestMetricsHandler_DefaultDiagnostics(t *testing.T) {
	body := scrape(t, nil)
	assertMetrics(t, body,
		"brokeradmin_up 1",
		`brokeradmin_build_info{version="dev"} 1`,
		"brokeradmin_start_time_seconds 100",
		"brokeradmin_tracing_enabled 0",
		"brokeradmin_tracing_init_failures_total 0",
		"brokeradmin_tracing_export_errors_total 0",
		`brokeradmin_config_reloads_total{result="ok"} 0`,
		`brokeradmin_controls{kind="queue"} 0`,
		`brokeradmin_registrations_total{kind="address"} 0`,
	)
	if strings.Contains(body, "brokeradmin_notifications_total") {
		t.Fatalf("expected no notification metrics without a dispatcher:\n%s", body)
	}
}

func TestMetricsHandler_WithDiagnostics(t *testing.T) {
	m := newRuntimeMetrics()
	m.setTracingEnabled(true)
	m.incTracingInitFailures()
	m.incTracingExportErrors()
	m.incTracingExportErrors()
	m.observeReload(true)
	m.observeReload(false)
	m.observeReload(true)

	assertMetrics(t, scrape(t, m),
		"brokeradmin_tracing_enabled 1",
		"brokeradmin_tracing_init_failures_total 1",
		"brokeradmin_tracing_export_errors_total 2",
		`brokeradmin_config_reloads_total{result="ok"} 2`,
		`brokeradmin_config_reloads_total{result="failed"} 1`,
	)
}

func TestMetricsHandler_CallCounters(t *testing.T) {
	m := newRuntimeMetrics()
	m.observeCall(management.CallEvent{Call: "get_attribute", Outcome: management.OutcomeOK, Duration: time.Second})
	m.observeCall(management.CallEvent{Call: "get_attribute", Outcome: management.OutcomeNotFound, Duration: time.Second})
	m.observeCall(management.CallEvent{Call: "invoke_operation", Outcome: management.OutcomeDenied, Duration: 500 * time.Millisecond})

	assertMetrics(t, scrape(t, m),
		`brokeradmin_calls_total{call="get_attribute",outcome="ok"} 1`,
		`brokeradmin_calls_total{call="get_attribute",outcome="not_found"} 1`,
		`brokeradmin_calls_total{call="get_attribute",outcome="failed"} 0`,
		`brokeradmin_calls_total{call="invoke_operation",outcome="denied"} 1`,
		`brokeradmin_call_duration_seconds_total{call="get_attribute"} 2.000000000`,
		`brokeradmin_call_duration_seconds_total{call="invoke_operation"} 0.500000000`,
	)
}

func TestMetricsHandler_LifecycleCounters(t *testing.T) {
	m := newRuntimeMetrics()
	m.observeLifecycle(management.LifecycleEvent{Kind: resource.KindQueue, Type: notify.TypeRegistered})
	m.observeLifecycle(management.LifecycleEvent{Kind: resource.KindQueue, Type: notify.TypeRegistered, Replaced: true})
	m.observeLifecycle(management.LifecycleEvent{Kind: resource.KindQueue, Type: notify.TypeUnregistered})
	m.observeLifecycle(management.LifecycleEvent{Kind: resource.KindAcceptor, Type: notify.TypeRegistered})

	assertMetrics(t, scrape(t, m),
		`brokeradmin_registrations_total{kind="queue"} 2`,
		`brokeradmin_replacements_total{kind="queue"} 1`,
		`brokeradmin_unregistrations_total{kind="queue"} 1`,
		`brokeradmin_registrations_total{kind="acceptor"} 1`,
		`brokeradmin_unregistrations_total{kind="acceptor"} 0`,
	)
}

func TestMetricsHandler_ControlsSampledAtScrape(t *testing.T) {
	m := newRuntimeMetrics()
	m.now = func() time.Time { return time.Unix(200, 0) }
	m.counts = func() map[resource.Kind]int {
		return map[resource.Kind]int{resource.KindQueue: 3, resource.KindBroker: 1}
	}

	assertMetrics(t, scrape(t, m),
		`brokeradmin_controls{kind="queue"} 3`,
		`brokeradmin_controls{kind="broker"} 1`,
		`brokeradmin_controls{kind="divert"} 0`,
		"brokeradmin_controls_sampled_timestamp_seconds 200",
	)
}

func TestMetricsHandler_NotificationStats(t *testing.T) {
	m := newRuntimeMetrics()
	m.notifications = func() notify.Stats {
		return notify.Stats{Queued: 2, Delivered: 10, Dropped: 1, Failed: 3}
	}

	assertMetrics(t, scrape(t, m),
		"brokeradmin_notifications_queued 2",
		`brokeradmin_notifications_total{result="delivered"} 10`,
		`brokeradmin_notifications_total{result="dropped"} 1`,
		`brokeradmin_notifications_total{result="failed"} 3`,
	)
}

func TestMetricsHandler_MethodNotAllowed(t *testing.T) {
	h := newMetricsHandler("dev", time.Unix(100, 0).UTC(), newRuntimeMetrics())
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "http://example/metrics", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
	if got := rr.Header().Get("Allow"); got != "GET, HEAD" {
		t.Fatalf("expected Allow header %q, got %q", "GET, HEAD", got)
	}
}

func TestRuntimeMetrics_HealthDiagnostics(t *testing.T) {
	m := newRuntimeMetrics()
	m.sampleControls(map[resource.Kind]int{resource.KindQueue: 2, resource.KindAddress: 1})
	m.observeCall(management.CallEvent{Call: "query", Outcome: management.OutcomeOK})
	m.observeReload(false)

	diag := m.healthDiagnostics()
	controls, ok := diag["controls"].(map[string]any)
	if !ok {
		t.Fatalf("expected controls diagnostics object, got %T", diag["controls"])
	}
	if got := controls["total"]; got != 3 {
		t.Fatalf("expected total=3, got %#v", got)
	}
	calls, ok := diag["calls"].(map[string]any)
	if !ok {
		t.Fatalf("expected calls diagnostics object, got %T", diag["calls"])
	}
	query, ok := calls["query"].(map[string]any)
	if !ok || query["ok"] != int64(1) {
		t.Fatalf("expected query ok=1, got %#v", calls["query"])
	}
	reload := diag["reload"].(map[string]any)
	if got := reload["failed_total"]; got != int64(1) {
		t.Fatalf("expected failed_total=1, got %#v", got)
	}
	if _, ok := diag["notifications"]; ok {
		t.Fatalf("expected no notifications section without a dispatcher")
	}
}
