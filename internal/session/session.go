// Package session implements the Session Gate (C7): a signed cookie named
// "auth" binding requests to a user uuid, and the middleware that enforces
// its presence on protected routes. Grounded in the teacher's context-key
// pattern (internal/middleware/tracing.go) for request-scoped values, with
// the cookie itself signed as a golang-jwt/v5 HS256 token using the server's
// session_key rather than the teacher's hand-rolled "basic token".
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CookieName is the name of the session cookie.
const CookieName = "auth"

// TTL is how long an issued session cookie remains valid.
const TTL = 30 * 24 * time.Hour

// ErrNotAuthenticated is returned by Verify when no valid session cookie is
// present; RequireAuth answers such requests with 401.
var ErrNotAuthenticated = errors.New("not authenticated")

type contextKey string

const userIDKey contextKey = "session_user_id"

// claims is the payload of the signed session cookie.
type claims struct {
	jwt.RegisteredClaims
}

// Gate issues and verifies session cookies using secret as the HS256 key.
type Gate struct {
	secret []byte
	secure bool
}

// New creates a Gate. secure controls the cookie's Secure attribute and
// should be true for any non-debug deployment (spec §6).
func New(secret []byte, secure bool) *Gate {
	return &Gate{secret: secret, secure: secure}
}

// Issue signs a session cookie for userUUID and writes it to w.
func (g *Gate) Issue(w http.ResponseWriter, userUUID string) error {
	now := time.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userUUID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(g.secret)
	if err != nil {
		return fmt.Errorf("sign session cookie: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    signed,
		Path:     "/",
		HttpOnly: true,
		Secure:   g.secure,
		SameSite: http.SameSiteStrictMode,
		Expires:  now.Add(TTL),
	})
	return nil
}

// Clear removes the session cookie, used on account deletion.
func (g *Gate) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   g.secure,
		SameSite: http.SameSiteStrictMode,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
}

// Verify parses and validates the session cookie from r, returning the
// bound user uuid.
func (g *Gate) Verify(r *http.Request) (string, error) {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return "", ErrNotAuthenticated
	}

	var c claims
	_, err = jwt.ParseWithClaims(cookie.Value, &c, func(t *jwt.Token) (any, error) {
		return g.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", ErrNotAuthenticated
	}

	if c.Subject == "" {
		return "", ErrNotAuthenticated
	}
	return c.Subject, nil
}

// RequireAuth is mux/http middleware enforcing a valid session cookie,
// injecting the user uuid into the request context on success.
func (g *Gate) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userUUID, err := g.Verify(r)
		if err != nil {
			http.Error(w, "not authenticated", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, userUUID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserID extracts the authenticated user uuid from a request context
// populated by RequireAuth.
func UserID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(userIDKey).(string)
	return v, ok
}
