package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the referenced entity, role, definition or record is absent.
	ErrNotFound = errors.New("not found")
	// ErrInvalidDefinition indicates a recurring definition with a missing or out of range field.
	ErrInvalidDefinition = errors.New("invalid definition")
	// ErrInvalidInput indicates a caller supplied empty identifiers or an unknown action.
	ErrInvalidInput = errors.New("invalid input")
	// ErrDataIntegrity indicates stored data violates an invariant the engine relies on.
	ErrDataIntegrity = errors.New("data integrity violation")
	// ErrStorage marks failures of the underlying store.
	ErrStorage = errors.New("storage error")
	// ErrConflict is returned by repositories when a uniqueness constraint rejected a write.
	ErrConflict = errors.New("uniqueness conflict")
	// ErrRunInProgress indicates another process holds the run lock for a bulk pass.
	ErrRunInProgress = errors.New("run already in progress")
)

// DataIntegrityError describes the record that broke an invariant.
type DataIntegrityError struct {
	Subject string
	ID      string
	Reason  string
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("data integrity: %s %s: %s", e.Subject, e.ID, e.Reason)
}

// Unwrap exposes ErrDataIntegrity for errors.Is checks.
func (e *DataIntegrityError) Unwrap() error {
	return ErrDataIntegrity
}

// StorageError wraps a store failure with the operation that triggered it.
type StorageError struct {
	Op  string
	Err error
}

// NewStorageError wraps err unless it is nil.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

func (e *StorageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: storage error", e.Op)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying store error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is matches ErrStorage in addition to the wrapped cause.
func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

// IsStorage reports whether err originated in the store.
func IsStorage(err error) bool {
	return errors.Is(err, ErrStorage)
}
