package app

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	p := filepath.Join(dir, "Brokerfile")
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

const validConfig = `
broker main {
    exposure on
}

resources {
    queue orders
}
`

func TestConfigValidate_ValidJSON(t *testing.T) {
	cfgPath := writeConfig(t, t.TempDir(), validConfig)

	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	code := runConfigCmd([]string{"validate", "-config", cfgPath}, stdout, stderr)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d (stderr=%q)", code, stderr.String())
	}

	var res struct {
		OK     bool     `json:"ok"`
		Errors []string `json:"errors"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &res); err != nil {
		t.Fatalf("invalid json output: %v (%q)", err, stdout.String())
	}
	if !res.OK {
		t.Fatalf("expected ok=true, got errors %v", res.Errors)
	}
}

func TestConfigValidate_ValidText(t *testing.T) {
	cfgPath := writeConfig(t, t.TempDir(), validConfig)

	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	code := runConfigCmd([]string{"validate", "-config", cfgPath, "-format", "text"}, stdout, stderr)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d (stderr=%q)", code, stderr.String())
	}
	if got := strings.TrimSpace(stdout.String()); got != "config ok" {
		t.Fatalf("expected %q, got %q", "config ok", got)
	}
}

func TestConfigValidate_ParseErrorJSON(t *testing.T) {
	cfgPath := writeConfig(t, t.TempDir(), "broker {\n")

	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	code := runConfigCmd([]string{"validate", "-config", cfgPath}, stdout, stderr)
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if stdout.Len() != 0 {
		t.Fatalf("expected empty stdout, got %q", stdout.String())
	}
	var res struct {
		OK     bool     `json:"ok"`
		Errors []string `json:"errors"`
	}
	if err := json.Unmarshal(stderr.Bytes(), &res); err != nil {
		t.Fatalf("invalid json on stderr: %v (%q)", err, stderr.String())
	}
	if res.OK || len(res.Errors) != 1 {
		t.Fatalf("expected one error, got %+v", res)
	}
}

func TestConfigValidate_MissingFileText(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope")

	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	code := runConfigCmd([]string{"validate", "-config", missing, "-format", "text"}, stdout, stderr)
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.HasPrefix(stderr.String(), "config invalid: ") {
		t.Fatalf("expected text failure, got %q", stderr.String())
	}
}

func TestConfigValidate_CompileErrorJSON(t *testing.T) {
	cfgPath := writeConfig(t, t.TempDir(), `
resources {
    divert audit {
        address orders
    }
}
`)

	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	code := runConfigCmd([]string{"validate", "-config", cfgPath}, stdout, stderr)
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(stderr.String(), "resources.divert.forwarding_address: is required") {
		t.Fatalf("expected forwarding_address error, got %q", stderr.String())
	}
}

func TestConfigValidate_StrictSecrets(t *testing.T) {
	cfgPath := writeConfig(t, t.TempDir(), `
security {
    token env:BROKERADMIN_TEST_MISSING_TOKEN {
        user ops
    }
}
`)
	t.Setenv("BROKERADMIN_TEST_MISSING_TOKEN", "")

	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	if code := runConfigCmd([]string{"validate", "-config", cfgPath}, stdout, stderr); code != 0 {
		t.Fatalf("expected exit 0 without preflight, got %d (stderr=%q)", code, stderr.String())
	}

	stdout.Reset()
	stderr.Reset()
	code := runConfigCmd([]string{"validate", "-config", cfgPath, "-strict-secrets"}, stdout, stderr)
	if code != 1 {
		t.Fatalf("expected exit 1 with preflight, got %d", code)
	}
	if !strings.Contains(stderr.String(), "secret preflight: security.token[0]") {
		t.Fatalf("expected preflight error, got %q", stderr.String())
	}
}

func TestConfigValidate_EnvFallback(t *testing.T) {
	cfgPath := writeConfig(t, t.TempDir(), validConfig)
	t.Setenv("BROKERADMIN_CONFIG", cfgPath)

	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	code := runConfigCmd([]string{"validate", "-format", "text"}, stdout, stderr)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d (stderr=%q)", code, stderr.String())
	}
}

func TestConfigFormat_Stdout(t *testing.T) {
	cfgPath := writeConfig(t, t.TempDir(), "resources {\nqueue   orders\n}")

	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	code := runConfigCmd([]string{"fmt", "-config", cfgPath}, stdout, stderr)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d (stderr=%q)", code, stderr.String())
	}
	want := "resources {\n  queue orders\n}\n"
	if got := stdout.String(); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestConfigFormat_Write(t *testing.T) {
	cfgPath := writeConfig(t, t.TempDir(), "resources {\nqueue   orders\n}")

	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	code := runConfigCmd([]string{"fmt", "-config", cfgPath, "-write"}, stdout, stderr)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d (stderr=%q)", code, stderr.String())
	}
	if stdout.Len() != 0 {
		t.Fatalf("expected empty stdout, got %q", stdout.String())
	}
	got, err := os.ReadFile(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "resources {\n  queue orders\n}\n" {
		t.Fatalf("expected file to be formatted, got %q", got)
	}
}

func TestConfigFormat_Check(t *testing.T) {
	dir := t.TempDir()
	messy := writeConfig(t, dir, "resources {\nqueue   orders\n}")

	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	if code := runConfigCmd([]string{"fmt", "-config", messy, "-check"}, stdout, stderr); code != 1 {
		t.Fatalf("expected exit 1 for unformatted file, got %d (stderr=%q)", code, stderr.String())
	}
	if got := strings.TrimSpace(stdout.String()); got != messy {
		t.Fatalf("expected path %q on stdout, got %q", messy, got)
	}

	clean := writeConfig(t, dir, "resources {\n  queue orders\n}\n")
	stdout.Reset()
	if code := runConfigCmd([]string{"fmt", "-config", clean, "-check"}, stdout, stderr); code != 0 {
		t.Fatalf("expected exit 0 for formatted file, got %d", code)
	}
	if stdout.Len() != 0 {
		t.Fatalf("expected no output, got %q", stdout.String())
	}

	if code := runConfigCmd([]string{"fmt", "-config", clean, "-check", "-write"}, stdout, stderr); code != 2 {
		t.Fatalf("expected exit 2 for -check with -write, got %d", code)
	}
}

func TestConfigCmd_UnknownSubcommand(t *testing.T) {
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	if code := runConfigCmd([]string{"diff"}, stdout, stderr); code != 2 {
		t.Fatalf("expected exit 2, got %d", code)
	}
	if !strings.Contains(stderr.String(), "unknown config subcommand: diff") {
		t.Fatalf("expected unknown subcommand error, got %q", stderr.String())
	}
}
