// Package identity gives every visitor an opaque session token carried in a
// signed cookie.
package identity

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	CookieName    = "profilegpt_session"
	cookieMaxAge  = 30 * 24 * time.Hour
	signatureSize = sha256.Size
)

type contextKey int

const sessionKey contextKey = iota

// SessionFromContext returns the token set by the middleware.
func SessionFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionKey).(string); ok {
		return v
	}
	return ""
}

// WithSession stores token in ctx the way the middleware does.
func WithSession(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, sessionKey, token)
}

type Signer struct {
	secret []byte
	secure bool
}

// NewSigner signs cookies with secret. Secure cookies are only sent over TLS.
func NewSigner(secret string, secure bool) *Signer {
	return &Signer{secret: []byte(secret), secure: secure}
}

func (s *Signer) Sign(token string) string {
	return token + "." + base64.RawURLEncoding.EncodeToString(s.mac(token))
}

// Verify returns the token inside value when the signature matches.
func (s *Signer) Verify(value string) (string, bool) {
	dot := strings.LastIndexByte(value, '.')
	if dot <= 0 {
		return "", false
	}

	token := value[:dot]
	sig, err := base64.RawURLEncoding.DecodeString(value[dot+1:])
	if err != nil || len(sig) != signatureSize {
		return "", false
	}
	if !hmac.Equal(sig, s.mac(token)) {
		return "", false
	}
	if _, err := uuid.Parse(token); err != nil {
		return "", false
	}
	return token, true
}

func (s *Signer) mac(token string) []byte {
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(token))
	return h.Sum(nil)
}

func (s *Signer) session(w http.ResponseWriter, r *http.Request) string {
	token := ""
	if c, err := r.Cookie(CookieName); err == nil {
		token, _ = s.Verify(c.Value)
	}
	if token == "" {
		token = uuid.NewString()
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    s.Sign(token),
		Path:     "/",
		MaxAge:   int(cookieMaxAge.Seconds()),
		Expires:  time.Now().Add(cookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   s.secure,
	})
	return token
}

// Middleware injects the visitor's session token, issuing a new one when the
// cookie is missing or its signature does not match.
func (s *Signer) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := s.session(w, r)
		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), token)))
	})
}
