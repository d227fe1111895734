package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"image-task-pipeline/internal/infra/logging"
	"image-task-pipeline/internal/infra/metrics"
)

var (
	errMissingToken = errors.New("missing token")
	errInvalidToken = errors.New("invalid token")
)

// Authenticator verifies HS256 bearer tokens. The sub claim is the owner id.
type Authenticator struct {
	secret []byte
	issuer string
	log    *zerolog.Logger
}

func NewAuthenticator(secret, issuer string, logger *zerolog.Logger) *Authenticator {
	l := logger.With().Str("component", "Authenticator").Logger()
	return &Authenticator{secret: []byte(secret), issuer: issuer, log: &l}
}

// Mint issues a token for ownerID. Used by tooling and tests.
func (a *Authenticator) Mint(ownerID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   ownerID,
		Issuer:    a.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *Authenticator) ParseFromRequest(r *http.Request) (string, error) {
	hdr := r.Header.Get("Authorization")
	if hdr == "" || !strings.HasPrefix(strings.ToLower(hdr), "bearer ") {
		return "", errMissingToken
	}
	return a.parse(strings.TrimSpace(hdr[7:]))
}

func (a *Authenticator) parse(tok string) (string, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	claims := &jwt.RegisteredClaims{}
	tkn, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil || !tkn.Valid || claims.Subject == "" {
		return "", errInvalidToken
	}
	return claims.Subject, nil
}

// Middleware rejects the request with 401 unless it carries a valid token.
func (a *Authenticator) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			owner, err := a.ParseFromRequest(r)
			if err != nil {
				reason := "invalid"
				if errors.Is(err, errMissingToken) {
					reason = "missing"
				}
				metrics.IncAuthFailure(reason)
				logging.With(r.Context(), a.log).Debug().Str("reason", reason).Msg("unauthorized request")
				writeJSON(w, http.StatusUnauthorized, errorBody{Code: codeUnauthorized, Message: err.Error()})
				return
			}
			ctx := logging.WithOwnerID(r.Context(), owner)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
