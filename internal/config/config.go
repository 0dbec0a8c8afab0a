// Package config parses, validates and formats the Brokerfile.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Config is the parsed, user-authored Brokerfile as a tree of directives.
// Nothing is defaulted or resolved here; see Compile.
type Config struct {
	Nodes []*Node

	// Trailing holds comments after the last top-level directive.
	Trailing []string
}

// Find returns the first top-level directive named name.
func (c *Config) Find(name string) *Node {
	for _, n := range c.Nodes {
		if n.Name == name {
			return n
		}
	}
	return nil
}

func Parse(input []byte) (*Config, error) {
	p := newParser(string(normalizeInput(input)))
	cfg, err := p.parse()
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, errors.New("empty config")
	}
	return cfg, nil
}

// Format returns a deterministic representation of the parsed config.
// It formats only what is present in the input and expands no defaults.
func Format(cfg *Config) ([]byte, error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}
	return canonicalize(format(cfg)), nil
}

// Validate checks whether the config can be compiled for runtime.
func Validate(cfg *Config) error {
	_, res := Compile(cfg)
	if res.OK {
		return nil
	}
	if len(res.Errors) == 0 {
		return errors.New("invalid config")
	}
	return errors.New(res.Errors[0])
}

type ValidationResult struct {
	OK       bool     `json:"ok"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

func (r *ValidationResult) errorf(n *Node, field, format string, args ...any) {
	r.Errors = append(r.Errors, located(n, field, fmt.Sprintf(format, args...)))
}

func (r *ValidationResult) warnf(n *Node, field, format string, args ...any) {
	r.Warnings = append(r.Warnings, located(n, field, fmt.Sprintf(format, args...)))
}

func (r *ValidationResult) merge(other ValidationResult) {
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

func located(n *Node, field, msg string) string {
	if n == nil || n.pos.line == 0 {
		return fmt.Sprintf("%s: %s", field, msg)
	}
	return fmt.Sprintf("%s: %s: %s", n.pos, field, msg)
}

type ValidationOptions struct {
	// SecretPreflight loads every token ref (env:, file:, raw:) so missing
	// secrets fail validation instead of startup.
	SecretPreflight bool
}

func ValidateWithResult(cfg *Config) ValidationResult {
	return ValidateWithResultOptions(cfg, ValidationOptions{})
}

func ValidateWithResultOptions(cfg *Config, options ValidationOptions) ValidationResult {
	compiled, res := Compile(cfg)
	if !res.OK || !options.SecretPreflight {
		return res
	}
	res.Errors = append(res.Errors, validateSecretPreflight(compiled)...)
	res.OK = len(res.Errors) == 0
	return res
}

func FormatValidationJSON(res ValidationResult) (string, error) {
	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func FormatValidationText(res ValidationResult) string {
	if res.OK {
		if len(res.Warnings) == 0 {
			return "config ok"
		}
		return fmt.Sprintf("config ok (warnings: %d)", len(res.Warnings))
	}
	if len(res.Errors) == 0 {
		return "config invalid"
	}
	return fmt.Sprintf("config invalid: %s", res.Errors[0])
}
