package jwt

import "errors"

var (
	ErrMissingSigningKey       = errors.New("missing signing key")
	ErrMissingClaims           = errors.New("missing claims")
	ErrInvalidToken            = errors.New("invalid token")
	ErrInvalidSignature        = errors.New("invalid token signature")
	ErrInvalidClaims           = errors.New("invalid token claims")
	ErrExpiredToken            = errors.New("token expired")
	ErrUnexpectedSigningMethod = errors.New("unexpected signing method")
	ErrNoTokenFound            = errors.New("no token found in request")
)
