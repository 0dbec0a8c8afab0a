package security

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

var ErrSecretRef = errors.New("invalid secret reference")

// ValidateRef checks the reference format without loading the value.
//
// Supported forms:
// - env:NAME
// - file:/path/to/secret
// - raw:literal-value
// - vault:secret/path[#field]
func ValidateRef(ref string) error {
	scheme, rest, err := splitRef(ref)
	if err != nil {
		return err
	}
	if strings.TrimSpace(rest) == "" {
		return fmt.Errorf("%w: %s reference is empty", ErrSecretRef, scheme)
	}
	if scheme == "vault" {
		_, err := parseVaultRef(rest)
		return err
	}
	return nil
}

// LoadRef resolves a secret reference. Values read from env and files are
// trimmed; raw values are taken literally. Vault refs read the KV API at
// BROKERADMIN_VAULT_ADDR with BROKERADMIN_VAULT_TOKEN.
func LoadRef(ref string) ([]byte, error) {
	if err := ValidateRef(ref); err != nil {
		return nil, err
	}
	scheme, rest, _ := splitRef(ref)

	switch scheme {
	case "env":
		name := strings.TrimSpace(rest)
		val := strings.TrimSpace(os.Getenv(name))
		if val == "" {
			return nil, fmt.Errorf("%w: env var %q is empty or missing", ErrSecretRef, name)
		}
		return []byte(val), nil
	case "file":
		path := strings.TrimSpace(rest)
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		val := strings.TrimSpace(string(b))
		if val == "" {
			return nil, fmt.Errorf("%w: file %q is empty", ErrSecretRef, path)
		}
		return []byte(val), nil
	case "vault":
		return loadVaultRef(rest)
	default:
		return []byte(rest), nil
	}
}

func splitRef(ref string) (string, string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", "", fmt.Errorf("%w: empty", ErrSecretRef)
	}
	scheme, rest, ok := strings.Cut(ref, ":")
	if !ok {
		return "", "", fmt.Errorf("%w: missing scheme (use env:, file:, raw:, or vault:)", ErrSecretRef)
	}
	switch scheme {
	case "env", "file", "raw", "vault":
		return scheme, rest, nil
	default:
		return "", "", fmt.Errorf("%w: unsupported scheme %q (use env:, file:, raw:, or vault:)", ErrSecretRef, scheme)
	}
}
