// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package models

// Credentials identify the account the engine syncs for.
//
// The struct is replaced wholesale by UpdateCredentials and read by the
// transport on every request; callers never mutate a shared instance.
type Credentials struct {
	// Email is the authenticated account name.
	Email string `json:"email"`
	// SyncToken is the bearer token presented to the sync server.
	SyncToken string `json:"sync_token"`
}

// Valid reports whether both fields are set.
func (c Credentials) Valid() bool {
	return c.Email != "" && c.SyncToken != ""
}

// AuthErrorState classifies an authentication failure.
type AuthErrorState int

const (
	AuthErrorNone AuthErrorState = iota
	AuthErrorInvalidCredentials
	AuthErrorServiceUnavailable
	AuthErrorConnectionFailed
)

func (s AuthErrorState) String() string {
	switch s {
	case AuthErrorNone:
		return "none"
	case AuthErrorInvalidCredentials:
		return "invalid_gaia_credentials"
	case AuthErrorServiceUnavailable:
		return "service_unavailable"
	case AuthErrorConnectionFailed:
		return "connection_failed"
	}
	return "unknown"
}

// AuthError is delivered to observers when the server rejects credentials.
type AuthError struct {
	State   AuthErrorState `json:"state"`
	Message string         `json:"message,omitempty"`
}

func (e AuthError) Error() string {
	if e.Message == "" {
		return "auth error: " + e.State.String()
	}
	return "auth error: " + e.State.String() + ": " + e.Message
}
