package model

import "errors"

var (
	// Authentication
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAlreadyExists      = errors.New("already exists")
	ErrTokenExpired       = errors.New("token expired")
	ErrInvalidToken       = errors.New("invalid token")
	ErrSessionRevoked     = errors.New("session revoked")

	// Authorization
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// Store
	ErrCredentialCorrupt = errors.New("credential corrupt")
	ErrStoreUnavailable  = errors.New("store unavailable")
	ErrUserNotFound      = errors.New("user not found")

	// Generic errors
	ErrInvalidInput = errors.New("invalid input")
)
