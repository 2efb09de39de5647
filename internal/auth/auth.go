// Package auth resolves the caller's session into a Principal and carries it
// through the request context.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/brand-dashboard/internal/apperr"
	"github.com/JakeFAU/brand-dashboard/internal/brand"
	"github.com/JakeFAU/brand-dashboard/internal/clock/system"
	"github.com/JakeFAU/brand-dashboard/internal/store"
)

// ErrNoSession is returned when a request carries no usable session.
var ErrNoSession = errors.New("no valid session")

// Principal is the authenticated caller.
type Principal struct {
	UserID               string
	SessionToken         string
	ActiveOrganizationID string
}

// Authenticated reports whether the principal identifies a user.
func (p Principal) Authenticated() bool {
	return p.UserID != ""
}

// HasActiveOrganization reports whether the session has an active tenant.
func (p Principal) HasActiveOrganization() bool {
	return p.ActiveOrganizationID != ""
}

type contextKey int

const principalContextKey contextKey = iota

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// FromContext returns the principal stored in ctx, if any.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(Principal)
	return p, ok && p.Authenticated()
}

// Resolver turns session tokens into principals.
type Resolver struct {
	sessions   store.SessionRepository
	clock      brand.Clock
	cookieName string
	logger     *zap.Logger
}

// NewResolver builds a Resolver reading the named cookie.
func NewResolver(sessions store.SessionRepository, cookieName string, clock brand.Clock, logger *zap.Logger) *Resolver {
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		sessions:   sessions,
		clock:      clock,
		cookieName: cookieName,
		logger:     logger,
	}
}

// Token extracts the session token from the cookie or a bearer header.
func (r *Resolver) Token(req *http.Request) string {
	if r.cookieName != "" {
		if c, err := req.Cookie(r.cookieName); err == nil && c.Value != "" {
			return c.Value
		}
	}
	header := req.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(after)
	}
	return ""
}

// Resolve loads the session for token. Missing and expired sessions yield
// ErrNoSession.
func (r *Resolver) Resolve(ctx context.Context, token string) (Principal, error) {
	if token == "" {
		return Principal{}, ErrNoSession
	}
	session, err := r.sessions.GetSession(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return Principal{}, ErrNoSession
	}
	if err != nil {
		return Principal{}, fmt.Errorf("load session: %w", err)
	}
	if session.IsExpired(r.clock.Now()) {
		return Principal{}, ErrNoSession
	}
	p := Principal{UserID: session.UserID, SessionToken: session.Token}
	if session.ActiveOrganizationID != nil {
		p.ActiveOrganizationID = *session.ActiveOrganizationID
	}
	return p, nil
}

// Middleware attaches the resolved principal to the request context. Requests
// without a valid session pass through anonymously; handlers decide whether
// that is acceptable. A session store failure answers 500, since the session
// may well be valid.
func (r *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		token := r.Token(req)
		if token == "" {
			next.ServeHTTP(w, req)
			return
		}
		p, err := r.Resolve(req.Context(), token)
		if errors.Is(err, ErrNoSession) {
			next.ServeHTTP(w, req)
			return
		}
		if err != nil {
			r.logger.Error("session lookup failed",
				zap.String("method", req.Method),
				zap.String("path", req.URL.Path),
				zap.Error(err),
			)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"` + apperr.InternalMessage + `"}` + "\n"))
			return
		}
		next.ServeHTTP(w, req.WithContext(WithPrincipal(req.Context(), p)))
	})
}
