package license

import (
	"errors"
	"fmt"
)

var (
	// ErrKeyNotFound is returned when an operation names a code that is not stored.
	ErrKeyNotFound = errors.New("key not found")
	// ErrKeyExpired describes the Expired validation outcome.
	ErrKeyExpired = errors.New("key expired")
	// ErrDeviceConflict describes the DeviceMismatch validation outcome.
	ErrDeviceConflict = errors.New("key bound to another device")
	// ErrNoExpirySet is returned when extending a key whose expiry clock has not started.
	ErrNoExpirySet = errors.New("key has no expiry set")
	// ErrConfirmationRequired is returned by PurgeAll without the exact sentinel.
	ErrConfirmationRequired = errors.New("confirmation required")

	// ErrInvalidCount is returned when a generate count is out of range.
	ErrInvalidCount = errors.New("invalid key count")
	// ErrInvalidDays is returned when an extension is not a positive day count.
	ErrInvalidDays = errors.New("invalid extension days")
	// ErrInvalidPolicy is returned when a duration policy is out of range.
	ErrInvalidPolicy = errors.New("invalid duration policy")
)

// PersistenceError reports that the key store failed to read or durably
// record a change. It is the only error class that maps to a server error.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: persistence failure: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsPersistenceError reports whether err wraps a PersistenceError.
func IsPersistenceError(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}

func persistenceError(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}
