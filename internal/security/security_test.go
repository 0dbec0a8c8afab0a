package security

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestRequiredAccess(t *testing.T) {
	cases := map[string]Access{
		"getMessageCount": AccessView,
		"isPaused":        AccessView,
		"listQueues":      AccessView,
		"countMessages":   AccessView,
		"canInvoke":       AccessView,
		"pause":           AccessUpdate,
		"removeAll":       AccessUpdate,
	}
	for member, want := range cases {
		if got := RequiredAccess(member); got != want {
			t.Fatalf("RequiredAccess(%q): expected %s, got %s", member, want, got)
		}
	}
	if got := AttributeMember("messageCount"); got != "getMessageCount" {
		t.Fatalf("expected getMessageCount, got %q", got)
	}
}

func TestRoleAuthorizer(t *testing.T) {
	a := NewRoleAuthorizer(map[string][]Rule{
		"admin":  {{Resource: "*", Access: AccessUpdate}},
		"viewer": {{Resource: "queue.*", Access: AccessView}},
	})
	ctx := context.Background()
	viewer := Subject{User: "v", Roles: []string{"viewer"}}
	admin := Subject{User: "a", Roles: []string{"admin"}}

	if !a.Authorize(ctx, viewer, "queue.orders", "getMessageCount") {
		t.Fatalf("expected viewer to read queue attributes")
	}
	if a.Authorize(ctx, viewer, "queue.orders", "pause") {
		t.Fatalf("expected viewer to be denied pause")
	}
	if a.Authorize(ctx, viewer, "address.orders", "getName") {
		t.Fatalf("expected viewer to be denied other kinds")
	}
	if !a.Authorize(ctx, admin, "broker", "listQueues") || !a.Authorize(ctx, admin, "queue.orders", "pause") {
		t.Fatalf("expected admin to be allowed everything")
	}
	if a.Authorize(ctx, Subject{}, "queue.orders", "getName") {
		t.Fatalf("expected anonymous subject to be denied")
	}
}

func TestGuardOpenAndClosed(t *testing.T) {
	tokens := NewTokenAuthenticator()
	tokens.Add([]byte("s3cret"), Subject{User: "ops", Roles: []string{"admin"}})
	tokens.Add(nil, Subject{User: "ignored"})
	if tokens.Len() != 1 {
		t.Fatalf("expected empty tokens to be skipped, got %d entries", tokens.Len())
	}

	g := NewGuard(&Policy{Tokens: tokens, Authorizer: NewRoleAuthorizer(map[string][]Rule{
		"admin": {{Resource: "*", Access: AccessUpdate}},
	})})

	if _, ok := g.Authenticate(""); ok {
		t.Fatalf("expected missing token to be rejected")
	}
	if _, ok := g.Authenticate("Bearer wrong"); ok {
		t.Fatalf("expected wrong token to be rejected")
	}
	s, ok := g.Authenticate("Bearer s3cret")
	if !ok || s.User != "ops" {
		t.Fatalf("expected ops subject, got %+v ok=%v", s, ok)
	}
	if !g.Authorize(context.Background(), s, "queue.orders", "pause") {
		t.Fatalf("expected admin to be authorized")
	}

	g.Swap(nil)
	if _, ok := g.Authenticate(""); !ok {
		t.Fatalf("expected open policy to accept anonymous callers")
	}
	if !g.Authorize(context.Background(), Subject{}, "queue.orders", "pause") {
		t.Fatalf("expected open policy to authorize")
	}
}

func TestSubjectContext(t *testing.T) {
	if _, ok := SubjectFrom(context.Background()); ok {
		t.Fatalf("expected no subject")
	}
	ctx := WithSubject(context.Background(), Subject{User: "u"})
	s, ok := SubjectFrom(ctx)
	if !ok || s.User != "u" {
		t.Fatalf("expected subject u, got %+v", s)
	}
}

func TestLoadRef(t *testing.T) {
	t.Setenv("BROKERADMIN_TEST_SECRET", " from-env ")
	got, err := LoadRef("env:BROKERADMIN_TEST_SECRET")
	if err != nil || string(got) != "from-env" {
		t.Fatalf("expected from-env, got %q err=%v", got, err)
	}

	p := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(p, []byte("from-file\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err = LoadRef("file:" + p)
	if err != nil || string(got) != "from-file" {
		t.Fatalf("expected from-file, got %q err=%v", got, err)
	}

	got, err = LoadRef("raw:two words ")
	if err != nil || string(got) != "two words" {
		t.Fatalf("expected raw value, got %q err=%v", got, err)
	}

	t.Setenv(vaultAddrEnv, "")
	for _, bad := range []string{"", "env:", "vault:x", "vault:a/../b", "kms:key", "plain", "env:BROKERADMIN_TEST_MISSING_SECRET"} {
		if _, err := LoadRef(bad); !errors.Is(err, ErrSecretRef) {
			t.Fatalf("LoadRef(%q): expected ErrSecretRef, got %v", bad, err)
		}
	}
}
