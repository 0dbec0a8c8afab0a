// Package security decides who may read attributes of and invoke operations
// on management resources.
package security

import (
	"context"
	"crypto/subtle"
	"path"
	"strings"
	"sync/atomic"
	"unicode"
)

// Subject is an authenticated management caller.
type Subject struct {
	User  string
	Roles []string
}

func (s Subject) IsZero() bool {
	return s.User == "" && len(s.Roles) == 0
}

type subjectKey struct{}

func WithSubject(ctx context.Context, s Subject) context.Context {
	return context.WithValue(ctx, subjectKey{}, s)
}

func SubjectFrom(ctx context.Context) (Subject, bool) {
	if ctx == nil {
		return Subject{}, false
	}
	s, ok := ctx.Value(subjectKey{}).(Subject)
	return s, ok
}

// Authorizer checks a single member (attribute getter or operation) of a
// resource for a subject.
type Authorizer interface {
	Authorize(ctx context.Context, subject Subject, resourceName, member string) bool
}

type AuthorizerFunc func(ctx context.Context, subject Subject, resourceName, member string) bool

func (f AuthorizerFunc) Authorize(ctx context.Context, subject Subject, resourceName, member string) bool {
	return f(ctx, subject, resourceName, member)
}

type allowAll struct{}

func (allowAll) Authorize(context.Context, Subject, string, string) bool { return true }

// AllowAll authorizes every request.
var AllowAll Authorizer = allowAll{}

type Access int

const (
	AccessView Access = iota + 1
	AccessUpdate
)

func ParseAccess(raw string) (Access, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "view":
		return AccessView, true
	case "update":
		return AccessUpdate, true
	default:
		return 0, false
	}
}

func (a Access) String() string {
	switch a {
	case AccessView:
		return "view"
	case AccessUpdate:
		return "update"
	default:
		return "none"
	}
}

// AttributeMember is the member name an attribute read is authorized as.
func AttributeMember(attribute string) string {
	if attribute == "" {
		return "get"
	}
	r := []rune(attribute)
	r[0] = unicode.ToUpper(r[0])
	return "get" + string(r)
}

var viewPrefixes = []string{"get", "is", "list", "count", "can"}

// RequiredAccess classifies a member: getters and read-only queries need
// view, everything else needs update.
func RequiredAccess(member string) Access {
	for _, p := range viewPrefixes {
		if strings.HasPrefix(member, p) {
			return AccessView
		}
	}
	return AccessUpdate
}

// Rule grants access to every resource whose composite name matches the
// glob pattern Resource.
type Rule struct {
	Resource string
	Access   Access
}

// RoleAuthorizer grants by role. Update access implies view access.
type RoleAuthorizer struct {
	roles map[string][]Rule
}

func NewRoleAuthorizer(roles map[string][]Rule) *RoleAuthorizer {
	cp := make(map[string][]Rule, len(roles))
	for name, rules := range roles {
		cp[name] = append([]Rule(nil), rules...)
	}
	return &RoleAuthorizer{roles: cp}
}

func (a *RoleAuthorizer) Authorize(_ context.Context, subject Subject, resourceName, member string) bool {
	need := RequiredAccess(member)
	for _, role := range subject.Roles {
		for _, rule := range a.roles[role] {
			if rule.Access < need {
				continue
			}
			if matchResource(rule.Resource, resourceName) {
				return true
			}
		}
	}
	return false
}

func matchResource(pattern, name string) bool {
	if pattern == "*" {
		return true
	}
	ok, err := path.Match(pattern, name)
	return err == nil && ok
}

type tokenEntry struct {
	token   []byte
	subject Subject
}

// TokenAuthenticator maps bearer tokens to subjects using constant-time
// comparison.
type TokenAuthenticator struct {
	entries []tokenEntry
}

func NewTokenAuthenticator() *TokenAuthenticator {
	return &TokenAuthenticator{}
}

func (a *TokenAuthenticator) Add(token []byte, subject Subject) {
	if len(token) == 0 {
		return
	}
	cp := make([]byte, len(token))
	copy(cp, token)
	a.entries = append(a.entries, tokenEntry{token: cp, subject: subject})
}

func (a *TokenAuthenticator) Len() int {
	return len(a.entries)
}

func (a *TokenAuthenticator) Authenticate(token string) (Subject, bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Subject{}, false
	}
	got := []byte(token)
	var (
		found Subject
		ok    bool
	)
	for _, e := range a.entries {
		if subtle.ConstantTimeCompare(got, e.token) == 1 && !ok {
			found, ok = e.subject, true
		}
	}
	return found, ok
}

// BearerToken extracts the token of an "Authorization: Bearer <token>"
// header value.
func BearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	tok := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	return tok, tok != ""
}

// Policy is one consistent set of authentication and authorization rules.
// An open policy has no tokens and authorizes every caller.
type Policy struct {
	Tokens     *TokenAuthenticator
	Authorizer Authorizer
	Open       bool
}

// Guard holds the active policy and lets config reloads swap it without
// blocking in-flight checks.
type Guard struct {
	p atomic.Pointer[Policy]
}

func NewGuard(p *Policy) *Guard {
	g := &Guard{}
	g.Swap(p)
	return g
}

func (g *Guard) Swap(p *Policy) {
	if p == nil {
		p = &Policy{Open: true}
	}
	if p.Tokens == nil {
		p.Tokens = NewTokenAuthenticator()
	}
	if p.Authorizer == nil {
		p.Authorizer = AllowAll
	}
	g.p.Store(p)
}

func (g *Guard) Policy() *Policy {
	return g.p.Load()
}

// Authenticate resolves the Authorization header value. Open policies
// accept anonymous callers.
func (g *Guard) Authenticate(header string) (Subject, bool) {
	p := g.p.Load()
	tok, hasToken := BearerToken(header)
	if p.Open && !hasToken {
		return Subject{}, true
	}
	if !hasToken {
		return Subject{}, false
	}
	if s, ok := p.Tokens.Authenticate(tok); ok {
		return s, true
	}
	return Subject{}, p.Open
}

func (g *Guard) Authorize(ctx context.Context, subject Subject, resourceName, member string) bool {
	p := g.p.Load()
	if p.Open {
		return true
	}
	return p.Authorizer.Authorize(ctx, subject, resourceName, member)
}
