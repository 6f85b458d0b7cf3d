package resolver

import (
	"github.com/pkg/errors"
)

// ErrNotFound is returned when no structurally valid candidate satisfies the predicate.
var ErrNotFound = errors.New("no matching USB storage device found")

// IsNotFound returns whether err is, or wraps, ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// RegistryUnavailableError is returned when a registry session cannot be opened or the initial
// enumeration fails.
type RegistryUnavailableError struct {
	Err error
}

// NewRegistryUnavailableError wraps the registry failure.
func NewRegistryUnavailableError(err error) error {
	return &RegistryUnavailableError{Err: err}
}

func (e *RegistryUnavailableError) Error() string {
	return "device registry unavailable: " + e.Err.Error()
}

func (e *RegistryUnavailableError) Unwrap() error {
	return e.Err
}

// IsRegistryUnavailable returns whether err is, or wraps, a RegistryUnavailableError.
func IsRegistryUnavailable(err error) bool {
	var target *RegistryUnavailableError
	return errors.As(err, &target)
}
