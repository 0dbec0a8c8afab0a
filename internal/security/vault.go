package security

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strconv"
	"strings"
	"time"
)

const (
	vaultAddrEnv      = "BROKERADMIN_VAULT_ADDR"
	vaultTokenEnv     = "BROKERADMIN_VAULT_TOKEN"
	vaultNamespaceEnv = "BROKERADMIN_VAULT_NAMESPACE"
	vaultTimeoutEnv   = "BROKERADMIN_VAULT_TIMEOUT"
	vaultCACertEnv    = "BROKERADMIN_VAULT_CACERT"

	defaultVaultTimeout = 5 * time.Second
	maxVaultResponse    = 1 << 20
)

// vaultRef is a parsed "vault:<path>[#field]" reference.
type vaultRef struct {
	apiPath string
	field   string
}

func parseVaultRef(raw string) (vaultRef, error) {
	raw = strings.TrimSpace(raw)
	p, field, hasField := strings.Cut(raw, "#")
	p = strings.Trim(p, "/ ")
	field = strings.TrimSpace(field)
	switch {
	case p == "":
		return vaultRef{}, fmt.Errorf("%w: vault path is empty", ErrSecretRef)
	case strings.Contains(p, "://"):
		return vaultRef{}, fmt.Errorf("%w: vault ref must be a path, not a URL", ErrSecretRef)
	case hasField && field == "":
		return vaultRef{}, fmt.Errorf("%w: vault field is empty", ErrSecretRef)
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "." || seg == ".." {
			return vaultRef{}, fmt.Errorf("%w: vault path must not contain dot segments", ErrSecretRef)
		}
	}
	if !hasField {
		field = "value"
	}
	if !strings.HasPrefix(p, "v1/") {
		p = "v1/" + p
	}
	return vaultRef{apiPath: "/" + p, field: field}, nil
}

type vaultClient struct {
	base      *url.URL
	token     string
	namespace string
	http      *http.Client
}

// vaultClientFromEnv builds a client from the BROKERADMIN_VAULT_* variables.
func vaultClientFromEnv() (*vaultClient, error) {
	addr := strings.TrimSpace(os.Getenv(vaultAddrEnv))
	token := strings.TrimSpace(os.Getenv(vaultTokenEnv))
	if addr == "" {
		return nil, fmt.Errorf("%w: %s is required for vault refs", ErrSecretRef, vaultAddrEnv)
	}
	if token == "" {
		return nil, fmt.Errorf("%w: %s is required for vault refs", ErrSecretRef, vaultTokenEnv)
	}
	base, err := url.Parse(addr)
	if err != nil || base.Host == "" || (base.Scheme != "http" && base.Scheme != "https") {
		return nil, fmt.Errorf("%w: %s must be an http(s) URL", ErrSecretRef, vaultAddrEnv)
	}

	timeout := defaultVaultTimeout
	if raw := strings.TrimSpace(os.Getenv(vaultTimeoutEnv)); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("%w: %s must be a positive duration", ErrSecretRef, vaultTimeoutEnv)
		}
		timeout = d
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if caPath := strings.TrimSpace(os.Getenv(vaultCACertEnv)); caPath != "" {
		pem, err := os.ReadFile(caPath)
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", ErrSecretRef, vaultCACertEnv, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("%w: %s contains no certificates", ErrSecretRef, vaultCACertEnv)
		}
		transport.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	}

	return &vaultClient{
		base:      base,
		token:     token,
		namespace: strings.TrimSpace(os.Getenv(vaultNamespaceEnv)),
		http:      &http.Client{Timeout: timeout, Transport: transport},
	}, nil
}

func (c *vaultClient) read(ctx context.Context, ref vaultRef) (string, error) {
	u := *c.base
	u.Path = path.Clean(strings.TrimSuffix(u.Path, "/") + ref.apiPath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("%w: vault request: %v", ErrSecretRef, err)
	}
	req.Header.Set("X-Vault-Token", c.token)
	if c.namespace != "" {
		req.Header.Set("X-Vault-Namespace", c.namespace)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: vault request failed: %v", ErrSecretRef, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxVaultResponse))
	if err != nil {
		return "", fmt.Errorf("%w: read vault response: %v", ErrSecretRef, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: vault returned %d: %s", ErrSecretRef, resp.StatusCode, vaultErrorDetail(body))
	}
	return vaultField(body, ref.field)
}

// vaultField extracts a scalar from a KV v1 ({"data":{...}}) or KV v2
// ({"data":{"data":{...}}}) response. The default field "value" falls back
// to the only key present.
func vaultField(body []byte, field string) (string, error) {
	var payload struct {
		Data map[string]json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("%w: decode vault response: %v", ErrSecretRef, err)
	}
	if payload.Data == nil {
		return "", fmt.Errorf("%w: vault response has no data", ErrSecretRef)
	}
	data := payload.Data
	if nested, ok := data["data"]; ok {
		var inner map[string]json.RawMessage
		if json.Unmarshal(nested, &inner) == nil && inner != nil {
			data = inner
		}
	}

	raw, ok := data[field]
	if !ok && field == "value" {
		delete(data, "metadata")
		if len(data) == 1 {
			for _, v := range data {
				raw, ok = v, true
			}
		}
	}
	if !ok {
		return "", fmt.Errorf("%w: vault field %q not found", ErrSecretRef, field)
	}

	var v any
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return "", fmt.Errorf("%w: decode vault field %q: %v", ErrSecretRef, field, err)
	}
	var out string
	switch x := v.(type) {
	case string:
		out = x
	case json.Number:
		out = x.String()
	case bool:
		out = strconv.FormatBool(x)
	default:
		return "", fmt.Errorf("%w: vault field %q is not a scalar", ErrSecretRef, field)
	}
	if out == "" {
		return "", fmt.Errorf("%w: vault field %q is empty", ErrSecretRef, field)
	}
	return out, nil
}

func vaultErrorDetail(body []byte) string {
	var p struct {
		Errors []string `json:"errors"`
	}
	if json.Unmarshal(body, &p) == nil && len(p.Errors) > 0 {
		return strings.Join(p.Errors, "; ")
	}
	if msg := strings.TrimSpace(string(body)); msg != "" {
		return msg
	}
	return "unknown error"
}

func loadVaultRef(raw string) ([]byte, error) {
	ref, err := parseVaultRef(raw)
	if err != nil {
		return nil, err
	}
	c, err := vaultClientFromEnv()
	if err != nil {
		return nil, err
	}
	val, err := c.read(context.Background(), ref)
	if err != nil {
		return nil, err
	}
	return []byte(val), nil
}
