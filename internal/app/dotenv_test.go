package app

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadDotenv_SetsVars(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	data := []byte(`
# comment
BROKERADMIN_OPS_TOKEN=devtoken
export BROKERADMIN_PG_DSN="postgres://localhost/dev"
BROKERADMIN_SINGLE='a b'
BROKERADMIN_INLINE=value # note
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	for _, k := range []string{"BROKERADMIN_OPS_TOKEN", "BROKERADMIN_PG_DSN", "BROKERADMIN_SINGLE", "BROKERADMIN_INLINE"} {
		t.Setenv(k, "")
	}

	if err := loadDotenv(path); err != nil {
		t.Fatalf("loadDotenv: %v", err)
	}

	for k, want := range map[string]string{
		"BROKERADMIN_OPS_TOKEN": "devtoken",
		"BROKERADMIN_PG_DSN":    "postgres://localhost/dev",
		"BROKERADMIN_SINGLE":    "a b",
		"BROKERADMIN_INLINE":    "value",
	} {
		if got := os.Getenv(k); got != want {
			t.Fatalf("expected %s=%q, got %q", k, want, got)
		}
	}
}

func TestLoadDotenv_DoesNotOverrideNonEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("BROKERADMIN_OPS_TOKEN=devtoken\n"), 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}

	t.Setenv("BROKERADMIN_OPS_TOKEN", "prodtoken")
	if err := loadDotenv(path); err != nil {
		t.Fatalf("loadDotenv: %v", err)
	}
	if got := os.Getenv("BROKERADMIN_OPS_TOKEN"); got != "prodtoken" {
		t.Fatalf("expected prodtoken, got %q", got)
	}
}

func TestLoadDotenv_ErrorHasLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("OK=1\nbroken line\n"), 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Setenv("OK", "")

	err := loadDotenv(path)
	if err == nil {
		t.Fatalf("expected error")
	}
	if want := path + ":2: missing '='"; err.Error() != want {
		t.Fatalf("expected %q, got %q", want, err.Error())
	}
}

func TestParseDotenvLine(t *testing.T) {
	cases := []struct {
		line    string
		key     string
		val     string
		ok      bool
		wantErr string
	}{
		{line: "", ok: false},
		{line: "  # only a comment", ok: false},
		{line: "A=1", key: "A", val: "1", ok: true},
		{line: "export  B = two ", key: "B", val: "two", ok: true},
		{line: `C="line\nbreak"`, key: "C", val: "line\nbreak", ok: true},
		{line: "D='#not a comment'", key: "D", val: "#not a comment", ok: true},
		{line: "E=x#y", key: "E", val: "x#y", ok: true},
		{line: "F=", key: "F", val: "", ok: true},
		{line: "=v", wantErr: "empty key"},
		{line: `G="unterminated\"`, wantErr: "invalid syntax"},
	}
	for _, tc := range cases {
		key, val, ok, err := parseDotenvLine(tc.line)
		if tc.wantErr != "" {
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("%q: expected error containing %q, got %v", tc.line, tc.wantErr, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", tc.line, err)
		}
		if key != tc.key || val != tc.val || ok != tc.ok {
			t.Fatalf("%q: expected (%q, %q, %v), got (%q, %q, %v)", tc.line, tc.key, tc.val, tc.ok, key, val, ok)
		}
	}
}
