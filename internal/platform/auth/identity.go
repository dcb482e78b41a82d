package auth

import (
	"context"
	"strings"
)

// Identity is the authenticated principal of a request. Subject is the login
// used to resolve profile assignments.
type Identity struct {
	Subject string
	Email   string
	Roles   []string
}

func (i Identity) Authenticated() bool {
	return strings.TrimSpace(i.Subject) != ""
}

func (i Identity) Login() string {
	return strings.TrimSpace(i.Subject)
}

type ctxKeyIdentity struct{}

func ContextWithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, ctxKeyIdentity{}, identity)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	v, ok := ctx.Value(ctxKeyIdentity{}).(Identity)
	return v, ok
}

// ActorFromContext names the caller for audit trails, falling back to "system".
func ActorFromContext(ctx context.Context) string {
	if identity, ok := IdentityFromContext(ctx); ok && identity.Authenticated() {
		return identity.Login()
	}
	return "system"
}
