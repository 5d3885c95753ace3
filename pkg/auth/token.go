package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/facegate/facegate/pkg/clock"
	"github.com/facegate/facegate/pkg/config"
)

// ErrInvalidToken is returned when a token fails verification.
var ErrInvalidToken = errors.New("invalid token")

// TokenIssuer mints and verifies access tokens for authenticated users.
type TokenIssuer interface {
	Issue(name string) (string, error)
	Verify(token string) (string, error)
}

// JWTIssuer issues HS256-signed JWTs carrying the authenticated name.
type JWTIssuer struct {
	secret []byte
	issuer string
	cfg    config.AuthConfig
	clk    clock.Clock
}

// NewJWTIssuer creates an issuer from the auth configuration. The
// signing secret must be non-empty; serve-time validation enforces it.
func NewJWTIssuer(cfg config.AuthConfig, clk clock.Clock) (*JWTIssuer, error) {
	if cfg.TokenSecret == "" {
		return nil, errors.New("token secret not configured")
	}
	return &JWTIssuer{
		secret: []byte(cfg.TokenSecret),
		issuer: cfg.TokenIssuer,
		cfg:    cfg,
		clk:    clk,
	}, nil
}

// Issue creates a signed access token for the given name.
func (j *JWTIssuer) Issue(name string) (string, error) {
	now := j.clk.Now()
	claims := jwt.MapClaims{
		"sub": name,
		"iss": j.issuer,
		"iat": now.Unix(),
		"exp": now.Add(j.cfg.TokenTTL()).Unix(),
		"jti": uuid.New().String(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(j.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token, returning the subject name.
func (j *JWTIssuer) Verify(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return j.secret, nil
	}, jwt.WithIssuer(j.issuer), jwt.WithTimeFunc(j.clk.Now))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", ErrInvalidToken
	}
	return sub, nil
}
