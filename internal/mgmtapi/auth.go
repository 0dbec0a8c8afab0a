package mgmtapi

import (
	"context"

	"google.golang.org/grpc/metadata"

	"github.com/nuetzliches/brokeradmin/internal/security"
)

// Authenticator resolves the caller of an RPC.
type Authenticator func(ctx context.Context) (security.Subject, bool)

// GuardAuthenticator validates gRPC metadata Authorization headers against
// the guard's current policy.
// Expected format: "authorization: Bearer <token>".
func GuardAuthenticator(g *security.Guard) Authenticator {
	return func(ctx context.Context) (security.Subject, bool) {
		md, _ := metadata.FromIncomingContext(ctx)
		values := md.Get("authorization")
		if len(values) == 0 {
			return g.Authenticate("")
		}
		for _, raw := range values {
			if subject, ok := g.Authenticate(raw); ok {
				return subject, true
			}
		}
		return security.Subject{}, false
	}
}
