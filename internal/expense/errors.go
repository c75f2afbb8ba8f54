package expense

import (
	"errors"
	"fmt"
)

// ErrAuthRequired is returned when a cloud write is attempted without a
// signed-in identity.
var ErrAuthRequired = errors.New("sign-in required for cloud operations")

// ErrSyncBusy is reported by a sync trigger when a cycle is already
// running. The request is dropped, not queued.
var ErrSyncBusy = errors.New("sync already in progress")

// ValidationError reports a required field that is missing or malformed.
// It is checked synchronously before any write and never reaches a store.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
