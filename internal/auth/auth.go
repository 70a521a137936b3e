// Package auth verifies bearer tokens issued by the identity provider and
// carries the caller's identity through request contexts.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hackgods/medibook/internal/apperr"
	"github.com/hackgods/medibook/internal/user"
)

var (
	ErrMissingToken = apperr.Kind("token", apperr.ErrUnauthorized)
	ErrInvalidToken = fmt.Errorf("invalid token: %w", apperr.ErrUnauthorized)
)

// Identity is the authenticated caller.
type Identity struct {
	UserID uuid.UUID
	Role   user.Role
}

func (i Identity) IsAdmin() bool {
	return i.Role == user.RoleAdmin
}

type contextKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}

// Verifier checks bearer tokens whose subject is a user id. Tokens are
// either HS256 with a shared secret or signed by keys from a JWKS endpoint.
type Verifier struct {
	keyFunc jwt.Keyfunc
	methods []string
	now     func() time.Time
	stop    func()
}

func NewVerifier(secret string) *Verifier {
	key := []byte(secret)
	return &Verifier{
		keyFunc: func(*jwt.Token) (any, error) { return key, nil },
		methods: []string{jwt.SigningMethodHS256.Alg()},
		now:     time.Now,
	}
}

// NewJWKSVerifier fetches the identity provider's key set and keeps it
// refreshed in the background until Close.
func NewJWKSVerifier(jwksURL string, refresh time.Duration, logger *slog.Logger) (*Verifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		RefreshInterval:   refresh,
		RefreshUnknownKID: true,
		RefreshErrorHandler: func(err error) {
			logger.Warn("jwks refresh failed", "url", jwksURL, "error", err)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("load jwks: %w", err)
	}
	return &Verifier{
		keyFunc: jwks.Keyfunc,
		methods: []string{"RS256", "ES256"},
		now:     time.Now,
		stop:    jwks.EndBackground,
	}, nil
}

// Close stops background key refreshes.
func (v *Verifier) Close() {
	if v.stop != nil {
		v.stop()
	}
}

// Verify parses raw and returns the subject user id.
func (v *Verifier) Verify(raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, ErrMissingToken
	}

	token, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, v.keyFunc,
		jwt.WithValidMethods(v.methods),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return uuid.Nil, ErrInvalidToken
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: subject is not a uuid", ErrInvalidToken)
	}
	return id, nil
}

// Sign mints a token for userID. Token issuance belongs to the identity
// provider; this exists for the seed and simulate tools and for tests.
func Sign(secret string, userID uuid.UUID, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// IsUnauthorized reports whether err came from token verification.
func IsUnauthorized(err error) bool {
	return errors.Is(err, apperr.ErrUnauthorized)
}
