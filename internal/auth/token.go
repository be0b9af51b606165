// Package auth issues and validates the HS256 bearer tokens that guard the
// daemon's local control API. Clients pair once with the shared secret and
// hold a short-lived token afterwards.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultTokenTTL = 12 * time.Hour

var (
	// ErrMissingSigningSecret indicates the token service was built without a secret.
	ErrMissingSigningSecret = errors.New("auth: signing secret required")
	// ErrMissingClientName indicates a pairing request without a client name.
	ErrMissingClientName = errors.New("auth: client name required")
	// ErrInvalidPairingSecret indicates the presented pairing secret does not match.
	ErrInvalidPairingSecret = errors.New("auth: invalid pairing secret")
	// ErrMissingToken indicates no bearer token was presented.
	ErrMissingToken = errors.New("auth: token required")
	// ErrInvalidToken indicates a malformed, mis-signed, or mis-scoped token.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrExpiredToken indicates a token past its expiry.
	ErrExpiredToken = errors.New("auth: token expired")
)

// ControlTokensConfig describes the control-API token service.
type ControlTokensConfig struct {
	SigningSecret []byte
	PairingSecret []byte
	Issuer        string
	Audience      string
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// ControlTokens pairs clients and validates their bearer tokens.
type ControlTokens struct {
	signingSecret []byte
	pairingSecret []byte
	issuer        string
	audience      string
	tokenTTL      time.Duration
	clock         func() time.Time
}

// NewControlTokens validates the configuration and returns a ControlTokens.
func NewControlTokens(cfg ControlTokensConfig) (*ControlTokens, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingSigningSecret
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = "inkwell-syncd"
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		audience = "inkwell-control"
	}
	pairingSecret := cfg.PairingSecret
	if len(pairingSecret) == 0 {
		pairingSecret = cfg.SigningSecret
	}
	return &ControlTokens{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		pairingSecret: append([]byte(nil), pairingSecret...),
		issuer:        issuer,
		audience:      audience,
		tokenTTL:      ttl,
		clock:         clock,
	}, nil
}

// Pair exchanges the shared pairing secret for a signed bearer token. The
// returned expiry is in seconds from now.
func (t *ControlTokens) Pair(pairingSecret, clientName string) (string, int64, error) {
	name := strings.TrimSpace(clientName)
	if name == "" {
		return "", 0, ErrMissingClientName
	}
	if subtle.ConstantTimeCompare([]byte(pairingSecret), t.pairingSecret) != 1 {
		return "", 0, ErrInvalidPairingSecret
	}

	now := t.clock().UTC()
	expiresAt := now.Add(t.tokenTTL)
	claims := jwt.RegisteredClaims{
		Subject:   name,
		Issuer:    t.issuer,
		Audience:  []string{t.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.signingSecret)
	if err != nil {
		return "", 0, err
	}
	return signed, int64(expiresAt.Sub(now).Seconds()), nil
}

// Validate checks the token's signature, issuer, audience, and expiry, and
// returns the client name it was paired under.
func (t *ControlTokens) Validate(tokenString string) (string, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return "", ErrMissingToken
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(
		token,
		claims,
		func(parsed *jwt.Token) (interface{}, error) {
			if parsed.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("%w: unexpected signing algorithm %s", ErrInvalidToken, parsed.Method.Alg())
			}
			return t.signingSecret, nil
		},
		jwt.WithIssuer(t.issuer),
		jwt.WithAudience(t.audience),
		jwt.WithTimeFunc(t.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// ValidateRequest extracts the bearer token from the Authorization header and
// validates it.
func (t *ControlTokens) ValidateRequest(r *http.Request) (string, error) {
	if r == nil {
		return "", ErrMissingToken
	}
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", ErrMissingToken
	}
	return t.Validate(strings.TrimPrefix(header, "Bearer "))
}
