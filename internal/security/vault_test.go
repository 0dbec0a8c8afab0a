package security

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func vaultServer(t *testing.T, h http.HandlerFunc) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	t.Setenv(vaultAddrEnv, srv.URL)
	t.Setenv(vaultTokenEnv, "vault-token")
}

func TestLoadRef_VaultKV2(t *testing.T) {
	t.Setenv(vaultNamespaceEnv, "ops")
	var gotPath, gotToken, gotNamespace string
	vaultServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotToken = r.Header.Get("X-Vault-Token")
		gotNamespace = r.Header.Get("X-Vault-Namespace")
		_, _ = w.Write([]byte(`{"data":{"data":{"admin":"s3cr3t"},"metadata":{"version":3}}}`))
	})

	got, err := LoadRef("vault:secret/data/brokeradmin#admin")
	if err != nil {
		t.Fatalf("LoadRef: %v", err)
	}
	if string(got) != "s3cr3t" {
		t.Fatalf("expected s3cr3t, got %q", got)
	}
	if gotPath != "/v1/secret/data/brokeradmin" {
		t.Fatalf("expected /v1/secret/data/brokeradmin, got %q", gotPath)
	}
	if gotToken != "vault-token" || gotNamespace != "ops" {
		t.Fatalf("expected token and namespace headers, got %q %q", gotToken, gotNamespace)
	}
}

func TestLoadRef_VaultSingleKeyFallback(t *testing.T) {
	vaultServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"token":12345}}`))
	})

	got, err := LoadRef("vault:kv/brokeradmin")
	if err != nil {
		t.Fatalf("LoadRef: %v", err)
	}
	if string(got) != "12345" {
		t.Fatalf("expected 12345, got %q", got)
	}
}

func TestLoadRef_VaultErrors(t *testing.T) {
	vaultServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/secret/denied":
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"errors":["permission denied"]}`))
		default:
			_, _ = w.Write([]byte(`{"data":{"a":"1","b":"2"}}`))
		}
	})

	cases := map[string]string{
		"vault:secret/denied":      "permission denied",
		"vault:secret/ambiguous":   `vault field "value" not found`,
		"vault:secret/ambiguous#c": `vault field "c" not found`,
	}
	for ref, want := range cases {
		_, err := LoadRef(ref)
		if !errors.Is(err, ErrSecretRef) || !strings.Contains(err.Error(), want) {
			t.Fatalf("LoadRef(%q): expected error containing %q, got %v", ref, want, err)
		}
	}
}

func TestLoadRef_VaultAddrPathPrefix(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/proxy/v1/secret/x" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"data":{"value":"prefixed"}}`))
	}))
	defer srv.Close()
	t.Setenv(vaultAddrEnv, srv.URL+"/proxy/")
	t.Setenv(vaultTokenEnv, "vault-token")

	got, err := LoadRef("vault:/secret/x")
	if err != nil {
		t.Fatalf("LoadRef: %v", err)
	}
	if string(got) != "prefixed" {
		t.Fatalf("expected prefixed, got %q", got)
	}
}

func TestLoadRef_VaultMissingToken(t *testing.T) {
	t.Setenv(vaultAddrEnv, "http://127.0.0.1:8200")
	t.Setenv(vaultTokenEnv, "")
	_, err := LoadRef("vault:secret/x")
	if err == nil || !strings.Contains(err.Error(), vaultTokenEnv) {
		t.Fatalf("expected missing token error, got %v", err)
	}
}
