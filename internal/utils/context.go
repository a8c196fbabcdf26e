// Package utils provides small helpers shared by the transport and the
// reference sync server: request context keys, HMAC hashing of commit
// payloads, JSON responses, the resty client wrapper, JWT handling and
// client-side id generation.
package utils

import (
	"context"
)

// contextKey is a private type for context keys.
// Using a dedicated type instead of a plain string prevents key collisions
// with other packages that may use string-based keys in the context.
type contextKey string

// String returns the string representation of the context key.
// Implements the fmt.Stringer interface.
func (c contextKey) String() string {
	return string(c)
}

// AccountCtxKey is the key used to store the authenticated account name in
// the context.
//
// Example of writing a value to the context:
//
//	ctx := context.WithValue(ctx, utils.AccountCtxKey, "user@example.com")
var AccountCtxKey = contextKey("account")

// GetAccountFromContext retrieves the account name from the context.
//
// Returns the account and an ok flag:
//   - ok == true  — value is found, is a string and is not empty
//   - ok == false — value is missing or has an unexpected type
func GetAccountFromContext(ctx context.Context) (string, bool) {
	account, ok := ctx.Value(AccountCtxKey).(string)
	return account, ok && account != ""
}
