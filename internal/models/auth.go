package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// LoginRequest holds coordinator credentials.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse returns the issued token and coordinator info.
type LoginResponse struct {
	AccessToken string          `json:"access_token"`
	ExpiresIn   int64           `json:"expires_in"`
	Coordinator CoordinatorInfo `json:"coordinator"`
	IssuedAt    time.Time       `json:"issued_at"`
}

// CoordinatorInfo describes the authenticated coordinator in responses.
type CoordinatorInfo struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	Department string `json:"department"`
}

// JWTClaims represents the JWT payload for access tokens.
type JWTClaims struct {
	CoordinatorID string `json:"coordinator_id"`
	Email         string `json:"email"`
	Name          string `json:"name"`
	jwt.RegisteredClaims
}
