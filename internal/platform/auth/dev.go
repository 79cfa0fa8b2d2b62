package auth

import (
	"context"
	"net/http"
	"slices"
)

// DevAuthenticator answers every request with one fixed identity. It
// backs mode "dev" (identity from config) and mode "disabled"
// (anonymous admin). Local setups only.
type DevAuthenticator struct {
	identity Identity
}

func NewDevAuthenticator(cfg Config) *DevAuthenticator {
	return &DevAuthenticator{identity: Identity{
		Subject: cfg.DevSubject,
		Email:   cfg.DevEmail,
		Roles:   slices.Clone(cfg.DevRoles),
	}}
}

func (a *DevAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	return a.identity, nil
}
