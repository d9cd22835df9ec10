package screenshot

import (
	"errors"
	"fmt"
)

// ValidationError reports a user-fixable problem with a capture request.
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

// ErrOriginNotAllowed indicates the target URL host is rejected by the
// tenant's origin allow-list.
var ErrOriginNotAllowed = errors.New("origin not allowed")
