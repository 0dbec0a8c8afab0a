package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/nuetzliches/brokeradmin/internal/exposure"
	"github.com/nuetzliches/brokeradmin/internal/management"
	"github.com/nuetzliches/brokeradmin/internal/notify"
	"github.com/nuetzliches/brokeradmin/internal/resource"
	"github.com/nuetzliches/brokeradmin/internal/security"
)

const (
	defaultListLimit    = 100
	maxListLimit        = 1000
	defaultMaxBodyBytes = 1 << 20 // 1 MiB

	readCodeUnauthorized          = "unauthorized"
	readCodeMethodNotAllowed      = "method_not_allowed"
	readCodeInvalidQuery          = "invalid_query"
	readCodeInvalidBody           = "invalid_body"
	readCodeNotFound              = "not_found"
	readCodeExposureUnavailable   = "exposure_unavailable"
	readCodeJournalUnavailable    = "notifications_unavailable"
	readCodeManagementUnavailable = "management_unavailable"
)

// Management is the part of the management gateway the HTTP API serves.
type Management interface {
	GetAttribute(ctx context.Context, resourceName, attr string, subject security.Subject) (any, error)
	InvokeOperation(ctx context.Context, resourceName, operation string, params []any, subject security.Subject) (any, error)
	Query(ctx context.Context, entity, options string, page, pageSize int, subject security.Subject) ([]byte, error)
	Describe(resourceName string) (management.Description, bool)
	ResourceNames(kind resource.Kind) []string
}

// Authenticator resolves the caller of a request.
type Authenticator func(r *http.Request) (security.Subject, bool)

// GuardAuthenticator authenticates bearer tokens against the guard's
// current policy.
func GuardAuthenticator(g *security.Guard) Authenticator {
	return func(r *http.Request) (security.Subject, bool) {
		return g.Authenticate(r.Header.Get("Authorization"))
	}
}

type Server struct {
	Management        Management
	Authenticate      Authenticator
	Objects           func(match string) []exposure.Entry
	Notifications     notify.Journal
	HealthDiagnostics func() map[string]any
	MaxBodyBytes      int64
}

func NewServer(m Management) *Server {
	return &Server{
		Management:   m,
		MaxBodyBytes: defaultMaxBodyBytes,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	subject := security.Subject{}
	if s.Authenticate != nil {
		var ok bool
		subject, ok = s.Authenticate(r)
		if !ok {
			writeManagementError(w, http.StatusUnauthorized, readCodeUnauthorized, "request is not authorized")
			return
		}
	}
	r = r.WithContext(security.WithSubject(r.Context(), subject))

	cleanPath := path.Clean(r.URL.EscapedPath())
	if strings.HasPrefix(cleanPath, "/resources/") {
		s.handleResource(w, r, strings.TrimPrefix(cleanPath, "/resources/"))
		return
	}
	if strings.HasPrefix(cleanPath, "/views/") {
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w, http.MethodPost)
			return
		}
		entity, err := url.PathUnescape(strings.TrimPrefix(cleanPath, "/views/"))
		if err != nil || entity == "" || strings.Contains(entity, "/") {
			writeManagementError(w, http.StatusNotFound, readCodeNotFound, "view was not found")
			return
		}
		s.handleView(w, r, entity)
		return
	}

	switch cleanPath {
	case "/healthz":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w, http.MethodGet)
			return
		}
		s.handleHealthz(w, r)
		return
	case "/resources":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w, http.MethodGet)
			return
		}
		s.handleResources(w, r)
		return
	case "/objects":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w, http.MethodGet)
			return
		}
		s.handleObjects(w, r)
		return
	case "/notifications":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w, http.MethodGet)
			return
		}
		s.handleNotifications(w, r)
		return
	default:
		writeManagementError(w, http.StatusNotFound, readCodeNotFound, "resource was not found")
		return
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	details, ok := parseBoolParam(strings.TrimSpace(r.URL.Query().Get("details")))
	if !ok {
		writeManagementError(w, http.StatusBadRequest, readCodeInvalidQuery, "details must be true|false")
		return
	}
	if !details {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
		return
	}

	diagnostics := map[string]any{}
	if s.HealthDiagnostics != nil {
		if v := s.HealthDiagnostics(); v != nil {
			diagnostics = v
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":          true,
		"time":        time.Now().UTC().Format(time.RFC3339Nano),
		"diagnostics": diagnostics,
	})
}

type resourceItem struct {
	Name string        `json:"name"`
	Kind resource.Kind `json:"kind"`
}

type resourcesResponse struct {
	Items []resourceItem `json:"items"`
}

func (s *Server) handleResources(w http.ResponseWriter, r *http.Request) {
	if s.Management == nil {
		writeManagementError(w, http.StatusServiceUnavailable, readCodeManagementUnavailable, "management is unavailable")
		return
	}
	kinds := resource.Kinds
	if raw := strings.TrimSpace(r.URL.Query().Get("kind")); raw != "" {
		k, ok := resource.ParseKind(raw)
		if !ok {
			writeManagementError(w, http.StatusBadRequest, readCodeInvalidQuery, fmt.Sprintf("unknown kind %q", raw))
			return
		}
		kinds = []resource.Kind{k}
	}
	resp := resourcesResponse{Items: []resourceItem{}}
	for _, k := range kinds {
		for _, name := range s.Management.ResourceNames(k) {
			resp.Items = append(resp.Items, resourceItem{Name: name, Kind: k})
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleResource serves /resources/{name}[/attributes/{attr}|/operations/{op}].
// Segments are path-escaped, so names may contain slashes.
func (s *Server) handleResource(w http.ResponseWriter, r *http.Request, rest string) {
	if s.Management == nil {
		writeManagementError(w, http.StatusServiceUnavailable, readCodeManagementUnavailable, "management is unavailable")
		return
	}
	parts := strings.Split(rest, "/")
	segs := make([]string, len(parts))
	for i, p := range parts {
		v, err := url.PathUnescape(p)
		if err != nil || v == "" {
			writeManagementError(w, http.StatusNotFound, readCodeNotFound, "resource was not found")
			return
		}
		segs[i] = v
	}

	switch {
	case len(segs) == 1:
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w, http.MethodGet)
			return
		}
		desc, ok := s.Management.Describe(segs[0])
		if !ok {
			writeManagementError(w, http.StatusNotFound, codeResourceNotFound, "resource was not found")
			return
		}
		writeJSON(w, http.StatusOK, desc)
	case len(segs) == 3 && segs[1] == "attributes":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w, http.MethodGet)
			return
		}
		s.handleGetAttribute(w, r, segs[0], segs[2])
	case len(segs) == 3 && segs[1] == "operations":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w, http.MethodPost)
			return
		}
		s.handleInvokeOperation(w, r, segs[0], segs[2])
	default:
		writeManagementError(w, http.StatusNotFound, readCodeNotFound, "resource was not found")
	}
}

type valueResponse struct {
	Resource string `json:"resource"`
	Member   string `json:"member"`
	Value    any    `json:"value"`
}

func (s *Server) handleGetAttribute(w http.ResponseWriter, r *http.Request, name, attr string) {
	subject, _ := security.SubjectFrom(r.Context())
	v, err := s.Management.GetAttribute(r.Context(), name, attr, subject)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, valueResponse{Resource: name, Member: attr, Value: v})
}

type operationRequest struct {
	Params []any `json:"params"`
}

func (s *Server) handleInvokeOperation(w http.ResponseWriter, r *http.Request, name, op string) {
	var req operationRequest
	if err := s.decodeJSONBody(r, &req, true); err != nil {
		writeBodyError(w, err)
		return
	}
	subject, _ := security.SubjectFrom(r.Context())
	v, err := s.Management.InvokeOperation(r.Context(), name, op, req.Params, subject)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, valueResponse{Resource: name, Member: op, Value: v})
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request, entity string) {
	if s.Management == nil {
		writeManagementError(w, http.StatusServiceUnavailable, readCodeManagementUnavailable, "management is unavailable")
		return
	}
	q := r.URL.Query()
	page, ok := parsePageParam(q.Get("page"))
	if !ok {
		writeManagementError(w, http.StatusBadRequest, readCodeInvalidQuery, "page must be an integer >= -1")
		return
	}
	pageSize, ok := parsePageParam(q.Get("page_size"))
	if !ok {
		writeManagementError(w, http.StatusBadRequest, readCodeInvalidQuery, "page_size must be an integer >= -1")
		return
	}
	body, err := s.readBody(r)
	if err != nil {
		writeBodyError(w, err)
		return
	}

	subject, _ := security.SubjectFrom(r.Context())
	out, err := s.Management.Query(r.Context(), entity, string(body), page, pageSize, subject)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

type objectsResponse struct {
	Items []exposure.Entry `json:"items"`
}

func (s *Server) handleObjects(w http.ResponseWriter, r *http.Request) {
	if s.Objects == nil {
		writeManagementError(w, http.StatusNotFound, readCodeExposureUnavailable, "object exposure is disabled")
		return
	}
	items := s.Objects(strings.TrimSpace(r.URL.Query().Get("match")))
	if items == nil {
		items = []exposure.Entry{}
	}
	writeJSON(w, http.StatusOK, objectsResponse{Items: items})
}

type notificationsResponse struct {
	Items []notify.Event `json:"items"`
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if s.Notifications == nil {
		writeManagementError(w, http.StatusNotFound, readCodeJournalUnavailable, "notification journal is disabled")
		return
	}
	q := r.URL.Query()
	limit := defaultListLimit
	if v := strings.TrimSpace(q.Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeManagementError(w, http.StatusBadRequest, readCodeInvalidQuery, "limit must be a positive integer")
			return
		}
		limit = n
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	req := notify.ListRequest{Limit: limit, Kind: strings.TrimSpace(q.Get("kind"))}
	switch typ := notify.Type(strings.TrimSpace(q.Get("type"))); typ {
	case "", notify.TypeRegistered, notify.TypeUnregistered:
		req.Type = typ
	default:
		writeManagementError(w, http.StatusBadRequest, readCodeInvalidQuery, "type must be registered|unregistered")
		return
	}

	items, err := s.Notifications.List(r.Context(), req)
	if err != nil {
		writeManagementError(w, http.StatusServiceUnavailable, readCodeJournalUnavailable, "notification journal is unavailable")
		return
	}
	if items == nil {
		items = []notify.Event{}
	}
	writeJSON(w, http.StatusOK, notificationsResponse{Items: items})
}

var errRequestBodyTooLarge = errors.New("request body too large")

func (s *Server) readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	maxBytes := s.MaxBodyBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBodyBytes
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > maxBytes {
		return nil, errRequestBodyTooLarge
	}
	return body, nil
}

// decodeJSONBody decodes a single JSON document. Numbers are kept as
// json.Number so integer parameters survive unchanged.
func (s *Server) decodeJSONBody(r *http.Request, out any, allowEmpty bool) error {
	body, err := s.readBody(r)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		if allowEmpty {
			return nil
		}
		return errors.New("request body is missing")
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return err
	}
	var extra any
	if err := dec.Decode(&extra); err != io.EOF {
		if err == nil {
			return errors.New("request body must contain a single JSON document")
		}
		return err
	}
	return nil
}

func writeBodyError(w http.ResponseWriter, err error) {
	if errors.Is(err, errRequestBodyTooLarge) {
		writeManagementError(w, http.StatusRequestEntityTooLarge, readCodeInvalidBody, "request body too large")
		return
	}
	writeManagementError(w, http.StatusBadRequest, readCodeInvalidBody, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type managementErrorResponse struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

func writeManagementError(w http.ResponseWriter, status int, code, detail string) {
	if w == nil {
		return
	}
	code = strings.TrimSpace(code)
	if code == "" {
		code = readCodeInvalidQuery
	}
	detail = strings.TrimSpace(detail)
	if detail == "" {
		detail = http.StatusText(status)
	}
	writeJSON(w, status, managementErrorResponse{Code: code, Detail: detail})
}

func writeMethodNotAllowed(w http.ResponseWriter, expected string) {
	expected = strings.TrimSpace(expected)
	detail := "method is not allowed"
	if expected != "" {
		w.Header().Set("Allow", expected)
		detail = fmt.Sprintf("method must be %s", expected)
	}
	writeManagementError(w, http.StatusMethodNotAllowed, readCodeMethodNotAllowed, detail)
}

func parseBoolParam(raw string) (bool, bool) {
	if raw == "" {
		return false, true
	}
	switch strings.ToLower(raw) {
	case "1", "true", "on", "yes":
		return true, true
	case "0", "false", "off", "no":
		return false, true
	default:
		return false, false
	}
}

// parsePageParam accepts -1 (unbounded) and non-negative integers. Missing
// values mean unbounded.
func parsePageParam(raw string) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return -1, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < -1 {
		return 0, false
	}
	return n, true
}
