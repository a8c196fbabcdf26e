package syncable

import (
	"errors"
	"fmt"

	"github.com/MKhiriev/go-sync-engine/models"
)

var (
	// ErrStoreUnavailable is returned when the durable store cannot be
	// opened, or has failed and no longer accepts writes.
	ErrStoreUnavailable = errors.New("entity store unavailable")

	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("graph validation failed")

	// ErrNotFound is returned when an entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrClosed is returned once the directory is closed.
	ErrClosed = errors.New("directory closed")

	// ErrTransactionDone is returned when a finished transaction is used.
	ErrTransactionDone = errors.New("transaction already finished")
)

// ValidationError describes the first invariant violation found at commit.
type ValidationError struct {
	ID     models.EntityID
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid entity %d: %s", e.ID, e.Reason)
}

// Is makes errors.Is(err, ErrValidation) hold.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(id models.EntityID, format string, args ...any) *ValidationError {
	return &ValidationError{ID: id, Reason: fmt.Sprintf(format, args...)}
}
