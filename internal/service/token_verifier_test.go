package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campus-feed-engine/internal/models"
	appErrors "github.com/noah-isme/campus-feed-engine/pkg/errors"
)

func signToken(t *testing.T, secret string, method jwt.SigningMethod, claims *models.JWTClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestTokenVerifierAcceptsValidToken(t *testing.T) {
	v := NewTokenVerifier("secret", "campus")
	token := signToken(t, "secret", jwt.SigningMethodHS256, &models.JWTClaims{
		Role:       "teacher",
		Department: "CS",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "fac-1",
			Issuer:    "campus",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	claims, err := v.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "fac-1", claims.UserID)
	assert.Equal(t, models.RoleFaculty, claims.Role)
}

func TestTokenVerifierRejectsBadTokens(t *testing.T) {
	v := NewTokenVerifier("secret", "campus")
	valid := jwt.RegisteredClaims{Subject: "u1", Issuer: "campus", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}

	cases := map[string]string{
		"wrong secret": signToken(t, "other", jwt.SigningMethodHS256, &models.JWTClaims{Role: "student", RegisteredClaims: valid}),
		"wrong method": signToken(t, "secret", jwt.SigningMethodHS512, &models.JWTClaims{Role: "student", RegisteredClaims: valid}),
		"expired": signToken(t, "secret", jwt.SigningMethodHS256, &models.JWTClaims{Role: "student", RegisteredClaims: jwt.RegisteredClaims{
			Subject: "u1", Issuer: "campus", ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		}}),
		"wrong issuer": signToken(t, "secret", jwt.SigningMethodHS256, &models.JWTClaims{Role: "student", RegisteredClaims: jwt.RegisteredClaims{Subject: "u1", Issuer: "elsewhere"}}),
		"unknown role": signToken(t, "secret", jwt.SigningMethodHS256, &models.JWTClaims{Role: "janitor", RegisteredClaims: valid}),
		"garbage":      "not-a-token",
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.ValidateToken(token)
			assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
		})
	}
}
