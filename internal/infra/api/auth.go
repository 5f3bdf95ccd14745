package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	clientKeyCookie = "checkout_client"
	clientKeyHeader = "X-Client-Key"
)

var errMissingToken = errors.New("missing token")

// Identity is who is calling. Token is forwarded verbatim to the backend;
// UserID is only set when the token verified against the shared secret.
type Identity struct {
	UserID string
	Token  string
}

type identityKey struct{}

func withIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func identityFrom(ctx context.Context) Identity {
	id, _ := ctx.Value(identityKey{}).(Identity)
	return id
}

// UserClaims is the subset of the backend-issued JWT this service reads.
type UserClaims struct {
	UserID string `json:"userId,omitempty"`
	UID    string `json:"id,omitempty"`
	jwt.RegisteredClaims
}

func (c *UserClaims) user() string {
	switch {
	case c.Subject != "":
		return c.Subject
	case c.UserID != "":
		return c.UserID
	}
	return c.UID
}

type AuthManager struct {
	secret       []byte
	secureCookie bool
	clientTTL    time.Duration
}

// NewAuthManager verifies HS256 tokens with secret. An empty secret disables
// verification: tokens are still forwarded but no user id is derived.
func NewAuthManager(secret string, secureCookie bool, clientTTL time.Duration) *AuthManager {
	if clientTTL <= 0 {
		clientTTL = 30 * 24 * time.Hour
	}
	return &AuthManager{secret: []byte(secret), secureCookie: secureCookie, clientTTL: clientTTL}
}

// Identify never rejects: a missing or unverifiable token is the
// orchestrator's business (awaiting_auth / backend 401).
func (a *AuthManager) Identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok, err := bearer(r)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		id := Identity{Token: tok}
		if claims, err := a.parse(tok); err == nil {
			id.UserID = claims.user()
		}
		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), id)))
	})
}

func (a *AuthManager) parse(tok string) (*UserClaims, error) {
	if len(a.secret) == 0 {
		return nil, errors.New("verification disabled")
	}
	claims := &UserClaims{}
	tkn, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !tkn.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// ClientKey identifies the browser session. When mint is set and the caller
// has none, a new key is issued as a cookie.
func (a *AuthManager) ClientKey(w http.ResponseWriter, r *http.Request, mint bool) string {
	if k := strings.TrimSpace(r.Header.Get(clientKeyHeader)); k != "" {
		return k
	}
	if c, err := r.Cookie(clientKeyCookie); err == nil && c.Value != "" {
		return c.Value
	}
	if !mint {
		return ""
	}
	k := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     clientKeyCookie,
		Value:    k,
		Path:     "/",
		MaxAge:   int(a.clientTTL.Seconds()),
		HttpOnly: true,
		Secure:   a.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	w.Header().Set(clientKeyHeader, k)
	return k
}

// bearer reads Authorization: Bearer <jwt>, or ?token= for websocket handshakes.
func bearer(r *http.Request) (string, error) {
	if hdr := r.Header.Get("Authorization"); hdr != "" {
		if strings.HasPrefix(strings.ToLower(hdr), "bearer ") {
			if tok := strings.TrimSpace(hdr[7:]); tok != "" {
				return tok, nil
			}
		}
	}
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok, nil
	}
	return "", errMissingToken
}
