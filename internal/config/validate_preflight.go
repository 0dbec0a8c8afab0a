package config

import (
	"fmt"

	"github.com/nuetzliches/brokeradmin/internal/security"
)

// validateSecretPreflight loads every token ref and reports the ones that
// cannot be resolved right now.
func validateSecretPreflight(c Compiled) []string {
	var errs []string
	for i, tok := range c.Security.Tokens {
		if _, err := security.LoadRef(tok.Ref); err != nil {
			errs = append(errs, fmt.Sprintf("secret preflight: security.token[%d] (user %q): %v", i, tok.User, err))
		}
	}
	return errs
}
