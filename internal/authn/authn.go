// Package authn defines the Authenticator hook the HTTP layer calls
// before serving any request — spec.md §1 treats full authentication as
// an external collaborator, but the public surface still needs a
// pluggable interface point and a usable default. Adapted from
// teranos-QNTX's auth.JWTManager (HS256 bearer tokens via golang-jwt/jwt/v5).
package authn

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Authenticator gates access to the public HTTP surface. The default
// implementation is JWTAuthenticator; operators may substitute their own.
type Authenticator interface {
	Authenticate(r *http.Request) error
}

// claims is the gateway's minimal JWT payload — a subject identifying the
// calling operator/integration, nothing instance-specific.
type claims struct {
	jwt.RegisteredClaims
	Subject string `json:"sub"`
}

// JWTAuthenticator validates HS256 bearer tokens in the Authorization
// header.
type JWTAuthenticator struct {
	secret []byte
}

// NewJWTAuthenticator builds a JWTAuthenticator. If secret is empty, a
// random one is generated — tokens minted by a previous process will no
// longer validate, which is the intended behavior for a dev-mode default.
func NewJWTAuthenticator(secret string) (*JWTAuthenticator, error) {
	if secret == "" {
		generated, err := generateSecret(32)
		if err != nil {
			return nil, err
		}
		secret = generated
	}
	return &JWTAuthenticator{secret: []byte(secret)}, nil
}

func generateSecret(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// IssueToken mints a bearer token for subject, valid for ttl.
func (a *JWTAuthenticator) IssueToken(subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "wagateway",
		},
		Subject: subject,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return token.SignedString(a.secret)
}

var errMissingAuth = errors.New("authn: missing bearer token")
var errInvalidAuth = errors.New("authn: invalid bearer token")

// Authenticate implements Authenticator.
func (a *JWTAuthenticator) Authenticate(r *http.Request) error {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return errMissingAuth
	}
	raw := strings.TrimPrefix(header, "Bearer ")

	token, err := jwt.ParseWithClaims(raw, &claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errInvalidAuth
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return errInvalidAuth
	}
	return nil
}

// AllowAll is a no-op Authenticator for local development when no
// GATEWAY_JWT_SECRET is configured — never used when auth is required.
type AllowAll struct{}

func (AllowAll) Authenticate(*http.Request) error { return nil }
