package crypto

import "errors"

var (
	// ErrNotReady is returned when encryption is requested without a
	// default key.
	ErrNotReady = errors.New("cryptographer not ready")

	// ErrCannotDecrypt is returned when no key of the bag can open a blob.
	ErrCannotDecrypt = errors.New("cannot decrypt")

	// ErrInvalidBootstrapToken is returned when a bootstrap token cannot
	// be decoded into a key bag.
	ErrInvalidBootstrapToken = errors.New("invalid bootstrap token")
)
