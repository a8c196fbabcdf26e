package testserver

import "errors"

var (
	// ErrEmptyAuthorizationHeader is returned when the request carries no
	// "Authorization" header.
	ErrEmptyAuthorizationHeader = errors.New("empty authorization header")

	// ErrTokenIsExpired is returned when the bearer token has expired.
	ErrTokenIsExpired = errors.New("token is expired")

	// ErrNoAccount is returned when a handler runs without an authenticated
	// account in its context.
	ErrNoAccount = errors.New("no account in request context")
)
