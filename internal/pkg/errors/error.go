package xerrors

import "errors"

// Common reusable application errors
var (
	ErrNotFound       = errors.New("resource not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrDuplicateEntry = errors.New("duplicate entry")
	ErrLockTimeout    = errors.New("timed out waiting for lock")
)
