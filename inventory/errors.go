package inventory

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration matches every *ConfigurationError.
	ErrConfiguration = errors.New("inventory: configuration error")
	// ErrStorage matches every *StorageError.
	ErrStorage = errors.New("inventory: storage error")
	// ErrNotFound matches every *NotFoundError so callers can show "no data yet".
	ErrNotFound = errors.New("inventory: not found")
)

// ConfigurationError reports an empty or invalid vocabulary or threshold
// table. It is fatal to the pipeline instance that hit it.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "inventory: configuration error: " + e.Reason
}

// Is reports whether target is ErrConfiguration.
func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// Configurationf builds a *ConfigurationError with a formatted reason.
func Configurationf(format string, args ...interface{}) error {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

// StorageError wraps a failure of the durable store. The record being
// written, if any, is lost.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	if e.Err == nil {
		return "inventory: storage error: " + e.Op
	}
	return fmt.Sprintf("inventory: storage error: %s: %v", e.Op, e.Err)
}

// Unwrap exposes the driver error, e.g. context.DeadlineExceeded.
func (e *StorageError) Unwrap() error { return e.Err }

// Is reports whether target is ErrStorage.
func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// NewStorageError wraps err unless it is nil or already a storage error.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// NotFoundError is returned when history is requested from an empty store
// or a specific record does not exist.
type NotFoundError struct {
	What string
}

func (e *NotFoundError) Error() string {
	return "inventory: not found: " + e.What
}

// Is reports whether target is ErrNotFound.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }
