package auth

import (
	"context"
	"fmt"
	"net/http"
)

type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (Identity, error)
}

type DevAuthenticator struct {
	identity Identity
}

func NewDevAuthenticator(cfg Config) *DevAuthenticator {
	return &DevAuthenticator{
		identity: Identity{
			Subject: cfg.DevSubject,
			Email:   cfg.DevEmail,
			Roles:   cfg.DevRoles,
		},
	}
}

func (a *DevAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	return a.identity, nil
}

// NewAuthenticator builds the authenticator selected by cfg.Mode. The OIDC
// service is returned separately so callers can mount its login routes.
func NewAuthenticator(ctx context.Context, cfg Config) (Authenticator, *OIDCService, error) {
	switch cfg.Mode {
	case ModeDev:
		return NewDevAuthenticator(cfg), nil, nil
	case ModeHeaders:
		authn, err := NewGatewayHeadersAuthenticator(cfg.InternalAuthSecret)
		if err != nil {
			return nil, nil, err
		}
		if cfg.InternalAuthSkew > 0 {
			authn.MaxSkew = cfg.InternalAuthSkew
		}
		return authn, nil, nil
	case ModeOIDC:
		svc, err := NewOIDCService(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return svc, svc, nil
	default:
		return nil, nil, fmt.Errorf("unsupported auth mode: %q", cfg.Mode)
	}
}
