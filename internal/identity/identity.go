// Package identity resolves who is calling: a registered user from a bearer
// token, or an anonymous shopper from an opaque session token.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/joao-fontenele/storefront/internal/domain"
	"github.com/joao-fontenele/storefront/internal/web"
)

const (
	SessionHeader     = "X-Session-ID"
	SessionQueryParam = "session_id"
)

var ErrInvalidToken = errors.New("invalid or expired token")

type Identity struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
}

type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Resolver verifies HS256 tokens whose subject is the user id.
type Resolver struct {
	secret []byte
	parser *jwt.Parser
}

func NewResolver(secret string) *Resolver {
	return &Resolver{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
		),
	}
}

// Resolve returns nil without error when the request carries no
// Authorization header.
func (r *Resolver) Resolve(req *http.Request) (*Identity, error) {
	header := req.Header.Get("Authorization")
	if header == "" {
		return nil, nil
	}

	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return nil, ErrInvalidToken
	}

	claims := &Claims{}
	token, err := r.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return r.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return nil, ErrInvalidToken
	}

	return &Identity{UserID: subject, Email: claims.Email}, nil
}

// Sign issues a token for userID. Token issuance belongs to the auth
// service; this exists for tests and local tooling.
func (r *Resolver) Sign(userID, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.secret)
}

type contextKey struct{}

func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

func FromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(*Identity)
	return id, ok && id != nil
}

// Middleware attaches the resolved identity to the request context. A
// malformed or expired token is rejected; no token means anonymous.
func Middleware(resolver *Resolver, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := resolver.Resolve(r)
			if err != nil {
				logger.Warn("rejected bearer token", "error", err, "path", r.URL.Path)
				web.WriteError(w, logger, &domain.Error{Kind: domain.KindUnauthorized, Message: ErrInvalidToken.Error()})
				return
			}
			if id != nil {
				r = r.WithContext(WithIdentity(r.Context(), id))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireUser rejects anonymous callers.
func RequireUser(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := FromContext(r.Context()); !ok {
				web.WriteError(w, logger, domain.ErrUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SessionToken reads the anonymous session token from the X-Session-ID
// header, falling back to the session_id query parameter.
func SessionToken(r *http.Request) string {
	if token := strings.TrimSpace(r.Header.Get(SessionHeader)); token != "" {
		return token
	}
	return strings.TrimSpace(r.URL.Query().Get(SessionQueryParam))
}

// Owner is the cart owner for the request: the authenticated user when
// present, the session token otherwise. It is zero when neither is known.
func Owner(r *http.Request) domain.Owner {
	if id, ok := FromContext(r.Context()); ok {
		return domain.UserOwner(id.UserID)
	}
	token := SessionToken(r)
	if token == "" {
		return domain.Owner{}
	}
	return domain.SessionOwner(token)
}
