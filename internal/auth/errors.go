package auth

import "errors"

var (
	ErrInvalidInput    = errors.New("auth: invalid input")
	ErrInvalidToken    = errors.New("auth: invalid token")
	ErrInvalidState    = errors.New("auth: invalid sign-in state")
	ErrUnknownProvider = errors.New("auth: unknown provider")
	ErrUnauthorized    = errors.New("auth: unauthorized")
)
