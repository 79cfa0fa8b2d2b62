package auth

import (
	"context"
	"net/http"
	"strings"
)

// Identity is the authenticated caller as seen by the middleware.
type Identity struct {
	Subject string
	Email   string
	Roles   []string
}

// Actor is the audit-log name for the identity, "anonymous" when
// authentication produced no subject.
func (i Identity) Actor() string {
	if s := strings.TrimSpace(i.Subject); s != "" {
		return s
	}
	return "anonymous"
}

// Authenticator resolves the caller identity for a request.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (Identity, error)
}

type ctxKeyIdentity struct{}

func ContextWithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, ctxKeyIdentity{}, identity)
}

// IdentityFromContext reports the identity stored by the middleware.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	v, ok := ctx.Value(ctxKeyIdentity{}).(Identity)
	return v, ok
}
