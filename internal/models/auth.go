package models

import "github.com/golang-jwt/jwt/v5"

// JWTClaims is the access token payload issued by the identity subsystem.
type JWTClaims struct {
	UserID     string   `json:"user_id"`
	Role       UserRole `json:"role"`
	Department string   `json:"department,omitempty"`
	Year       string   `json:"year,omitempty"`
	Email      string   `json:"email,omitempty"`
	jwt.RegisteredClaims
}
