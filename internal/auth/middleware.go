package auth

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-bookstore/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-bookstore/internal/httpx"
)

// IdentityLoader resolves a token subject into a fresh identity.
type IdentityLoader interface {
	LoadIdentity(ctx context.Context, userID int64) (*Identity, error)
}

// Authenticator turns a bearer token into a request Identity.
type Authenticator struct {
	tokens *TokenService
	loader IdentityLoader
	logger *zap.SugaredLogger
}

func NewAuthenticator(tokens *TokenService, loader IdentityLoader, logger *zap.SugaredLogger) *Authenticator {
	return &Authenticator{tokens: tokens, loader: loader, logger: logger}
}

// Identify validates the Authorization header and loads the caller.
func (a *Authenticator) Identify(r *http.Request) (*Identity, error) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return nil, apperr.New(apperr.Auth, "Not authorized: missing token")
	}
	claims, err := a.tokens.Parse(strings.TrimSpace(token))
	if err != nil {
		return nil, err
	}
	uid, err := claims.UserID()
	if err != nil {
		return nil, apperr.Wrap(apperr.Auth, "Not authorized: invalid token", err)
	}
	id, err := a.loader.LoadIdentity(r.Context(), uid)
	if err != nil {
		return nil, err
	}
	if id.Version != claims.Version {
		return nil, apperr.New(apperr.Auth, "Not authorized: token revoked")
	}
	return id, nil
}

// Require wraps next so it only runs for authenticated callers.
func (a *Authenticator) Require(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := a.Identify(r)
		if err != nil {
			httpx.WriteError(w, a.logger, r, err)
			return
		}
		next(w, r.WithContext(WithIdentity(r.Context(), id)))
	}
}

// RequireCapability is Require plus a fixed capability check.
func (a *Authenticator) RequireCapability(c Capability, next http.HandlerFunc) http.HandlerFunc {
	return a.Require(func(w http.ResponseWriter, r *http.Request) {
		if err := Authorize(FromContext(r.Context()), c); err != nil {
			httpx.WriteError(w, a.logger, r, err)
			return
		}
		next(w, r)
	})
}
