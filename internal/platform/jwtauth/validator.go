// Package jwtauth validates HMAC-signed bearer tokens issued by the platform
// identity service.
package jwtauth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"custodia/internal/platform/middleware"
)

// Validator checks token signature, expiry, and extracts the claims the API
// relies on.
type Validator struct {
	key []byte
}

// NewValidator creates a validator for the shared signing key.
func NewValidator(signingKey string) (*Validator, error) {
	if signingKey == "" {
		return nil, fmt.Errorf("jwt signing key is required")
	}
	return &Validator{key: []byte(signingKey)}, nil
}

type tokenClaims struct {
	Tenant string `json:"tenant"`
	Email  string `json:"email"`
	Admin  bool   `json:"admin"`
	jwt.RegisteredClaims
}

func (v *Validator) ValidateToken(tokenString string) (*middleware.JWTClaims, error) {
	var claims tokenClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		return v.key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token missing subject")
	}
	return &middleware.JWTClaims{
		UserID: claims.Subject,
		Tenant: claims.Tenant,
		Email:  claims.Email,
		Admin:  claims.Admin,
	}, nil
}
