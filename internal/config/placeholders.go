package config

import (
	"fmt"
	"os"
	"strings"
)

// expandPlaceholders replaces {env.NAME} and {$NAME[:default]} with
// environment values. Unset variables without a default expand to "" and
// produce a warning.
func expandPlaceholders(in string) (out string, errs []string, warns []string) {
	var b strings.Builder
	rest := in
	for {
		i := strings.IndexByte(rest, '{')
		if i < 0 {
			b.WriteString(rest)
			break
		}
		b.WriteString(rest[:i])
		rest = rest[i:]

		var body string
		switch {
		case strings.HasPrefix(rest, "{env."):
			body = rest[len("{env."):]
		case strings.HasPrefix(rest, "{$"):
			body = rest[len("{$"):]
		default:
			b.WriteByte('{')
			rest = rest[1:]
			continue
		}
		end := strings.IndexByte(body, '}')
		if end < 0 {
			errs = append(errs, fmt.Sprintf("unterminated placeholder %q", rest))
			b.WriteString(rest)
			break
		}
		name, def, hasDef := strings.Cut(body[:end], ":")
		if !strings.HasPrefix(rest, "{$") {
			name, def, hasDef = body[:end], "", false
		}
		rest = body[end+1:]

		if name == "" {
			errs = append(errs, "placeholder names no environment variable")
			continue
		}
		val, ok := os.LookupEnv(name)
		if !ok {
			if hasDef {
				val = def
			} else {
				warns = append(warns, fmt.Sprintf("env var %q not set; replaced with empty string", name))
			}
		}
		b.WriteString(val)
	}
	return b.String(), errs, warns
}

func resolveValue(n *Node, in, field string, res *ValidationResult) string {
	val, errs, warns := expandPlaceholders(in)
	for _, msg := range errs {
		res.errorf(n, field, "%s", msg)
	}
	for _, msg := range warns {
		res.warnf(n, field, "%s", msg)
	}
	return val
}
