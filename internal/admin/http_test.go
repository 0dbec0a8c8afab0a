package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/nuetzliches/brokeradmin/internal/broker"
	"github.com/nuetzliches/brokeradmin/internal/control"
	"github.com/nuetzliches/brokeradmin/internal/exposure"
	"github.com/nuetzliches/brokeradmin/internal/management"
	"github.com/nuetzliches/brokeradmin/internal/notify"
	"github.com/nuetzliches/brokeradmin/internal/resource"
	"github.com/nuetzliches/brokeradmin/internal/security"
	"github.com/nuetzliches/brokeradmin/internal/view"
)

type testEnv struct {
	srv     *Server
	gateway *management.Gateway
	queue   *broker.MemoryQueue
	dir     *exposure.Directory
	journal *notify.MemoryJournal
}

func newTestEnv(t *testing.T, opts ...management.Option) testEnv {
	t.Helper()
	b := broker.NewMemory("main")
	b.Start()
	b.CreateAddress("orders", broker.RoutingAnycast)
	q, err := b.CreateQueue(broker.QueueInfo{Name: "orders", Address: "orders"})
	if err != nil {
		t.Fatalf("create queue: %v", err)
	}
	if err := q.Send(3); err != nil {
		t.Fatalf("send: %v", err)
	}

	dir := exposure.NewDirectory()
	journal := notify.NewMemoryJournal()
	notifier := notify.NotifierFunc(func(ctx context.Context, ev notify.Event) error {
		return journal.Append(ctx, ev)
	})
	opts = append([]management.Option{
		management.WithBrokerName("main"),
		management.WithExposer(dir),
		management.WithNotifier(notifier),
	}, opts...)
	g := management.New(opts...)
	if _, err := g.RegisterServer(b); err != nil {
		t.Fatalf("register server: %v", err)
	}
	addr, _ := b.Address("orders")
	if err := g.RegisterAddress(addr); err != nil {
		t.Fatalf("register address: %v", err)
	}
	if err := g.RegisterQueue(q); err != nil {
		t.Fatalf("register queue: %v", err)
	}

	srv := NewServer(g)
	srv.Objects = dir.List
	srv.Notifications = journal
	return testEnv{srv: srv, gateway: g, queue: q, dir: dir, journal: journal}
}

func serve(srv *Server, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	return rr
}

func decodeManagementError(t *testing.T, rr *httptest.ResponseRecorder) managementErrorResponse {
	t.Helper()
	if got := rr.Header().Get("Content-Type"); !strings.HasPrefix(got, "application/json") {
		t.Fatalf("expected JSON error response, got content-type %q", got)
	}
	var out managementErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&out); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return out
}

func expectError(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) managementErrorResponse {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("expected %d, got %d (%s)", status, rr.Code, rr.Body.String())
	}
	errResp := decodeManagementError(t, rr)
	if errResp.Code != code {
		t.Fatalf("expected code=%q, got %q", code, errResp.Code)
	}
	return errResp
}

func TestServer_Healthz(t *testing.T) {
	env := newTestEnv(t)

	rr := serve(env.srv, http.MethodGet, "http://example/healthz", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr.Body.String() != "ok\n" {
		t.Fatalf("unexpected body: %q", rr.Body.String())
	}
}

func TestServer_HealthzDetails(t *testing.T) {
	env := newTestEnv(t)
	env.srv.HealthDiagnostics = func() map[string]any {
		return map[string]any{"management": map[string]any{"started": false}}
	}

	rr := serve(env.srv, http.MethodGet, "http://example/healthz?details=1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var out struct {
		OK          bool           `json:"ok"`
		Time        string         `json:"time"`
		Diagnostics map[string]any `json:"diagnostics"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.OK || out.Time == "" {
		t.Fatalf("unexpected health response: %+v", out)
	}
	if _, err := time.Parse(time.RFC3339Nano, out.Time); err != nil {
		t.Fatalf("expected RFC3339 time, got %q", out.Time)
	}
	if _, ok := out.Diagnostics["management"]; !ok {
		t.Fatalf("expected management diagnostics, got %v", out.Diagnostics)
	}
}

func TestServer_HealthzInvalidDetailsStructuredError(t *testing.T) {
	env := newTestEnv(t)

	rr := serve(env.srv, http.MethodGet, "http://example/healthz?details=maybe", "")
	errResp := expectError(t, rr, http.StatusBadRequest, readCodeInvalidQuery)
	if !strings.Contains(errResp.Detail, "details must be true|false") {
		t.Fatalf("unexpected detail: %q", errResp.Detail)
	}
}

func TestServer_MethodNotAllowedStructuredError(t *testing.T) {
	env := newTestEnv(t)

	rr := serve(env.srv, http.MethodPost, "http://example/resources", "")
	errResp := expectError(t, rr, http.StatusMethodNotAllowed, readCodeMethodNotAllowed)
	if !strings.Contains(errResp.Detail, http.MethodGet) {
		t.Fatalf("expected detail to mention expected method GET, got %q", errResp.Detail)
	}
	if got := rr.Header().Get("Allow"); got != http.MethodGet {
		t.Fatalf("expected Allow=GET, got %q", got)
	}

	rr = serve(env.srv, http.MethodGet, "http://example/resources/queue.orders/operations/pause", "")
	expectError(t, rr, http.StatusMethodNotAllowed, readCodeMethodNotAllowed)
}

func TestServer_NotFoundStructuredError(t *testing.T) {
	env := newTestEnv(t)

	for _, target := range []string{
		"http://example/does-not-exist",
		"http://example/resources/queue.orders/bogus/x",
		"http://example/views/",
	} {
		rr := serve(env.srv, http.MethodGet, target, "")
		expectError(t, rr, http.StatusNotFound, readCodeNotFound)
	}

	rr := serve(env.srv, http.MethodGet, "http://example/resources/queue.missing", "")
	expectError(t, rr, http.StatusNotFound, codeResourceNotFound)
}

func TestServer_ListResources(t *testing.T) {
	env := newTestEnv(t)

	rr := serve(env.srv, http.MethodGet, "http://example/resources", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var out resourcesResponse
	if err := json.NewDecoder(rr.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []resourceItem{
		{Name: "broker", Kind: resource.KindBroker},
		{Name: "address.orders", Kind: resource.KindAddress},
		{Name: "queue.orders", Kind: resource.KindQueue},
	}
	if diff := cmp.Diff(want, out.Items); diff != "" {
		t.Fatalf("resources mismatch (-want +got):\n%s", diff)
	}

	rr = serve(env.srv, http.MethodGet, "http://example/resources?kind=queue", "")
	out = resourcesResponse{}
	if err := json.NewDecoder(rr.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Items) != 1 || out.Items[0].Name != "queue.orders" {
		t.Fatalf("expected only the queue, got %v", out.Items)
	}

	rr = serve(env.srv, http.MethodGet, "http://example/resources?kind=topic", "")
	expectError(t, rr, http.StatusBadRequest, readCodeInvalidQuery)
}

func TestServer_DescribeResource(t *testing.T) {
	env := newTestEnv(t)

	rr := serve(env.srv, http.MethodGet, "http://example/resources/queue.orders", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var desc management.Description
	if err := json.NewDecoder(rr.Body).Decode(&desc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if desc.Name != "queue.orders" || desc.Kind != resource.KindQueue {
		t.Fatalf("unexpected description: %+v", desc)
	}
	hasPurge := false
	for _, op := range desc.Operations {
		if op == "removeAllMessages" {
			hasPurge = true
		}
	}
	if !hasPurge {
		t.Fatalf("expected removeAllMessages in %v", desc.Operations)
	}
}

func TestServer_GetAttribute(t *testing.T) {
	env := newTestEnv(t)

	rr := serve(env.srv, http.MethodGet, "http://example/resources/queue.orders/attributes/messageCount", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rr.Code, rr.Body.String())
	}
	var out valueResponse
	if err := json.NewDecoder(rr.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Resource != "queue.orders" || out.Member != "messageCount" || out.Value != float64(3) {
		t.Fatalf("unexpected attribute response: %+v", out)
	}
}

func TestServer_GetAttributeUniformError(t *testing.T) {
	env := newTestEnv(t)

	for _, target := range []string{
		"http://example/resources/queue.orders/attributes/nope",
		"http://example/resources/queue.missing/attributes/messageCount",
	} {
		rr := serve(env.srv, http.MethodGet, target, "")
		expectError(t, rr, http.StatusConflict, codeInvalidState)
	}
}

func TestServer_InvokeOperation(t *testing.T) {
	env := newTestEnv(t)

	rr := serve(env.srv, http.MethodPost, "http://example/resources/queue.orders/operations/removeAllMessages", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rr.Code, rr.Body.String())
	}
	var out valueResponse
	if err := json.NewDecoder(rr.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Value != float64(3) {
		t.Fatalf("expected 3 removed messages, got %v", out.Value)
	}
	if got := env.queue.Info().MessageCount; got != 0 {
		t.Fatalf("expected empty queue, got %d", got)
	}

	rr = serve(env.srv, http.MethodPost, "http://example/resources/broker/operations/listQueues",
		`{"params":["{\"field\":\"name\",\"operation\":\"EQUALS\",\"value\":\"orders\"}",0,10]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rr.Code, rr.Body.String())
	}
	out = valueResponse{}
	if err := json.NewDecoder(rr.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	s, ok := out.Value.(string)
	if !ok || !strings.HasPrefix(s, `{"count":1,`) {
		t.Fatalf("expected one matching queue, got %v", out.Value)
	}
}

func TestServer_InvokeOperationErrors(t *testing.T) {
	env := newTestEnv(t)

	cases := []struct {
		name   string
		target string
		body   string
		status int
		code   string
	}{
		{"missing resource", "/resources/queue.missing/operations/pause", "", http.StatusNotFound, codeResourceNotFound},
		{"unknown operation", "/resources/queue.orders/operations/explode", "", http.StatusBadRequest, codeInvalidOperation},
		{"bad parameter", "/resources/broker/operations/listQueues", `{"params":["", "x"]}`, http.StatusBadRequest, codeInvalidOperation},
		{"bad body", "/resources/queue.orders/operations/pause", `{"params":`, http.StatusBadRequest, readCodeInvalidBody},
		{"unknown body field", "/resources/queue.orders/operations/pause", `{"args":[]}`, http.StatusBadRequest, readCodeInvalidBody},
		{"two documents", "/resources/queue.orders/operations/pause", `{} {}`, http.StatusBadRequest, readCodeInvalidBody},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := serve(env.srv, http.MethodPost, "http://example"+tc.target, tc.body)
			expectError(t, rr, tc.status, tc.code)
		})
	}
}

func TestServer_InvokeOperationFailure(t *testing.T) {
	env := newTestEnv(t)

	b := broker.NewMemory("other")
	b.CreateAddress("tmp", broker.RoutingAnycast)
	q, err := b.CreateQueue(broker.QueueInfo{Name: "tmp"})
	if err != nil {
		t.Fatalf("create queue: %v", err)
	}
	if err := env.gateway.RegisterQueue(q); err != nil {
		t.Fatalf("register: %v", err)
	}
	b.DeleteQueue("tmp")

	rr := serve(env.srv, http.MethodPost, "http://example/resources/queue.tmp/operations/pause", "")
	errResp := expectError(t, rr, http.StatusInternalServerError, codeOperationFailed)
	if !strings.Contains(errResp.Detail, broker.ErrResourceClosed.Error()) {
		t.Fatalf("expected closed resource detail, got %q", errResp.Detail)
	}
}

func TestServer_EscapedResourceName(t *testing.T) {
	env := newTestEnv(t)
	if err := env.gateway.RegisterUntypedControl("plugin/a b", map[string]int{"x": 1}, ""); err != nil {
		t.Fatalf("register untyped: %v", err)
	}

	rr := serve(env.srv, http.MethodGet, "http://example/resources/"+url.PathEscape("plugin/a b"), "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rr.Code, rr.Body.String())
	}
	var desc management.Description
	if err := json.NewDecoder(rr.Body).Decode(&desc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if desc.Name != "plugin/a b" || desc.Kind != resource.KindUntyped {
		t.Fatalf("unexpected description: %+v", desc)
	}
}

func TestServer_View(t *testing.T) {
	env := newTestEnv(t)

	rr := serve(env.srv, http.MethodPost, "http://example/views/queue?page=1&page_size=10",
		`{"field":"name","operation":"CONTAINS","value":"ord"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rr.Code, rr.Body.String())
	}
	var out struct {
		Count int              `json:"count"`
		Data  []map[string]any `json:"data"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Count != 1 || len(out.Data) != 1 || out.Data[0]["name"] != "orders" {
		t.Fatalf("unexpected view result: %+v", out)
	}

	rr = serve(env.srv, http.MethodPost, "http://example/views/topic", "")
	expectError(t, rr, http.StatusNotFound, codeUnsupportedEntity)

	rr = serve(env.srv, http.MethodPost, "http://example/views/queue?page=-2", "")
	expectError(t, rr, http.StatusBadRequest, readCodeInvalidQuery)

	rr = serve(env.srv, http.MethodGet, "http://example/views/queue", "")
	expectError(t, rr, http.StatusMethodNotAllowed, readCodeMethodNotAllowed)
}

func TestServer_ViewBodyTooLarge(t *testing.T) {
	env := newTestEnv(t)
	env.srv.MaxBodyBytes = 8

	rr := serve(env.srv, http.MethodPost, "http://example/views/queue", `{"field":"name"}`)
	expectError(t, rr, http.StatusRequestEntityTooLarge, readCodeInvalidBody)
}

func TestServer_Authentication(t *testing.T) {
	tokens := security.NewTokenAuthenticator()
	tokens.Add([]byte("viewer-token"), security.Subject{User: "ana", Roles: []string{"viewer"}})
	guard := security.NewGuard(&security.Policy{
		Tokens: tokens,
		Authorizer: security.NewRoleAuthorizer(map[string][]security.Rule{
			"viewer": {{Resource: "*", Access: security.AccessView}},
		}),
	})
	env := newTestEnv(t, management.WithAuthorizer(guard))
	env.srv.Authenticate = GuardAuthenticator(guard)

	rr := serve(env.srv, http.MethodGet, "http://example/resources", "")
	expectError(t, rr, http.StatusUnauthorized, readCodeUnauthorized)

	req := httptest.NewRequest(http.MethodGet, "http://example/resources/queue.orders/attributes/messageCount", nil)
	req.Header.Set("Authorization", "Bearer viewer-token")
	rr = httptest.NewRecorder()
	env.srv.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected viewer to read attributes, got %d (%s)", rr.Code, rr.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "http://example/resources/queue.orders/operations/removeAllMessages", nil)
	req.Header.Set("Authorization", "Bearer viewer-token")
	rr = httptest.NewRecorder()
	env.srv.ServeHTTP(rr, req)
	expectError(t, rr, http.StatusForbidden, codeForbidden)
}

func TestServer_Objects(t *testing.T) {
	env := newTestEnv(t)

	rr := serve(env.srv, http.MethodGet, "http://example/objects?match=subcomponent=queues", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var out struct {
		Items []exposure.Entry `json:"items"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := env.gateway.Handles().Queue("orders", "orders", "anycast")
	if len(out.Items) != 1 || out.Items[0].Handle != want {
		t.Fatalf("expected queue handle %q, got %v", want, out.Items)
	}

	env.srv.Objects = nil
	rr = serve(env.srv, http.MethodGet, "http://example/objects", "")
	expectError(t, rr, http.StatusNotFound, readCodeExposureUnavailable)
}

func TestServer_Notifications(t *testing.T) {
	env := newTestEnv(t)
	if err := env.gateway.UnregisterQueue("orders"); err != nil {
		t.Fatalf("unregister: %v", err)
	}

	rr := serve(env.srv, http.MethodGet, "http://example/notifications?kind=queue", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var out notificationsResponse
	if err := json.NewDecoder(rr.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	got := make([]string, len(out.Items))
	for i, ev := range out.Items {
		got[i] = string(ev.Type) + " " + ev.Name
	}
	want := []string{"unregistered queue.orders", "registered queue.orders"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("notifications mismatch (-want +got):\n%s", diff)
	}

	rr = serve(env.srv, http.MethodGet, "http://example/notifications?type=registered&limit=1", "")
	out = notificationsResponse{}
	if err := json.NewDecoder(rr.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Items) != 1 || out.Items[0].Type != notify.TypeRegistered {
		t.Fatalf("expected one registered event, got %v", out.Items)
	}

	for _, q := range []string{"limit=0", "limit=x", "type=bogus"} {
		rr = serve(env.srv, http.MethodGet, "http://example/notifications?"+q, "")
		expectError(t, rr, http.StatusBadRequest, readCodeInvalidQuery)
	}
}

func TestClassifyError(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: x", management.ErrInvalidState), http.StatusConflict, codeInvalidState},
		{fmt.Errorf("%w: x", management.ErrResourceNotFound), http.StatusNotFound, codeResourceNotFound},
		{fmt.Errorf("%w: x", management.ErrUnauthorized), http.StatusForbidden, codeForbidden},
		{fmt.Errorf("query x: %w", view.ErrUnsupportedKind), http.StatusNotFound, codeUnsupportedEntity},
		{&management.OperationError{Resource: "queue.a", Operation: "x", Err: control.ErrUnknownOperation}, http.StatusBadRequest, codeInvalidOperation},
		{&management.OperationError{Resource: "queue.a", Operation: "x", Err: &control.ParamError{Operation: "x"}}, http.StatusBadRequest, codeInvalidOperation},
		{&management.OperationError{Resource: "queue.a", Operation: "x", Err: errors.New("boom")}, http.StatusInternalServerError, codeOperationFailed},
	}
	for _, tc := range cases {
		status, code := ClassifyError(tc.err)
		if status != tc.status || code != tc.code {
			t.Fatalf("%v: expected %d/%s, got %d/%s", tc.err, tc.status, tc.code, status, code)
		}
	}
}
