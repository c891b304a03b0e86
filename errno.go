// Error sentinels shared by every driver built on this package. They're
// modeled after POSIX errno values so that driver authors and callers can
// reason about failures the same way they would with [os.PathError] or
// [syscall.Errno], without pulling in a platform-specific syscall package.

package disko

import (
	"fmt"
)

// DiskoError is a sentinel error type. Comparing against one of the
// Err* constants with [errors.Is] works because DriverError.Unwrap()
// ultimately bottoms out at one of these values.
type DiskoError string

func (e DiskoError) Error() string {
	return string(e)
}

// Unwrap lets a bare sentinel satisfy [DriverError] directly, so callers can
// return e.g. `disko.ErrNotFound` without wrapping it first.
func (e DiskoError) Unwrap() error {
	return nil
}

// WithMessage attaches additional context to a sentinel, without losing the
// ability to match it with errors.Is(err, disko.ErrWhatever).
func (e DiskoError) WithMessage(message string) DriverError {
	return customDriverError{
		message:       message,
		originalError: e,
	}
}

// Wrap attaches an underlying error (usually from an I/O call into the
// backing block device) to a sentinel.
func (e DiskoError) Wrap(err error) DriverError {
	return customDriverError{
		message:       fmt.Sprintf("%s: %s", e.Error(), err.Error()),
		originalError: err,
		sentinel:      e,
	}
}

// DriverError is the error type returned by every fallible operation in this
// package and the drivers built on it. It's a plain `error` with a bit of
// extra plumbing so `errors.Is`/`errors.As` can still match against one of
// the DiskoError sentinels underneath.
type DriverError interface {
	error
	Unwrap() error

	// WithMessage returns a copy of this error with additional context
	// appended to its message. The result still unwraps to the same
	// sentinel, so errors.Is(result, disko.ErrWhatever) keeps working.
	WithMessage(message string) DriverError

	// Wrap attaches an underlying cause (e.g. a raw I/O error) to this
	// error without losing the sentinel it unwraps to.
	Wrap(err error) DriverError
}

// customDriverError is the concrete type returned by DiskoError.WithMessage
// and DiskoError.Wrap. It is never constructed directly by callers.
type customDriverError struct {
	message       string
	originalError error
	sentinel      DiskoError
}

func (e customDriverError) Error() string {
	return e.message
}

func (e customDriverError) Unwrap() error {
	if e.sentinel != "" {
		return e.sentinel
	}
	return e.originalError
}

func (e customDriverError) WithMessage(message string) DriverError {
	e.message = message
	return e
}

func (e customDriverError) Wrap(err error) DriverError {
	e.message = fmt.Sprintf("%s: %s", e.message, err.Error())
	e.originalError = err
	return e
}

// Sentinel error values. Each one corresponds to a POSIX errno or a
// condition specific to on-disk file systems that doesn't have a clean
// POSIX equivalent.
const (
	ErrAlreadyInProgress   = DiskoError("operation already in progress")
	ErrArgumentOutOfRange  = DiskoError("numerical argument out of domain")
	ErrBlockDeviceRequired = DiskoError("block device required")
	ErrBusy                = DiskoError("device or resource busy")
	ErrCrossDeviceLink     = DiskoError("invalid cross-device link")
	ErrDirectoryNotEmpty   = DiskoError("directory not empty")
	ErrDiskQuotaExceeded   = DiskoError("disk quota exceeded")
	ErrExists              = DiskoError("file exists")
	ErrFileSystemCorrupted = DiskoError("structure needs cleaning")
	ErrFileTooLarge        = DiskoError("file too large")
	ErrInvalidArgument     = DiskoError("invalid argument")
	ErrInvalidFileSystem   = DiskoError("wrong medium type")
	ErrInvalidObject       = DiskoError("stale or invalid object handle")
	ErrIOFailed            = DiskoError("input/output error")
	ErrIsADirectory        = DiskoError("is a directory")
	ErrLinkCycleDetected   = DiskoError("symlink cycle detected")
	ErrLocked              = DiskoError("resource temporarily locked")
	ErrNameTooLong         = DiskoError("file name too long")
	ErrNoSpaceOnDevice     = DiskoError("no space left on device")
	ErrNotADirectory       = DiskoError("not a directory")
	ErrNotFound            = DiskoError("no such file or directory")
	ErrNotImplemented      = DiskoError("function not implemented")
	ErrNotPermitted        = DiskoError("operation not permitted")
	ErrNotSupported        = DiskoError("operation not supported")
	ErrOutOfMemory         = DiskoError("cannot allocate memory")
	ErrPermissionDenied    = DiskoError("permission denied")
	ErrReadOnlyFileSystem  = DiskoError("read-only file system")
	ErrTimedOut            = DiskoError("operation timed out")
	ErrTooManyOpenFiles    = DiskoError("too many open files in system")
	ErrUnexpectedEOF       = DiskoError("unexpected end of file or stream")

	// ErrMediumFormatAborted is returned by a driver's FormatImage
	// implementation when a format is interrupted partway through, leaving
	// the image in an indeterminate state.
	ErrMediumFormatAborted = DiskoError("medium format aborted")
)
