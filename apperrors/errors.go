// Package apperrors holds the failure taxonomy shared by the registry, the
// converter strategies and the worker pool.
//
// Unknown, Incompatible, Unsupported, Corrupt and Timeout errors are
// permanent. ExternalTool and Storage errors are transient and retried up to
// the configured budget.
package apperrors

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// UnknownFormatError reports a format id or extension missing from the registry.
type UnknownFormatError struct {
	Format string
}

func (e *UnknownFormatError) Error() string {
	return fmt.Sprintf("unknown format %q", e.Format)
}

// IncompatiblePairError reports a pair that no compatibility rule allows.
type IncompatiblePairError struct {
	Source string
	Target string
}

func (e *IncompatiblePairError) Error() string {
	return fmt.Sprintf("conversion from %s to %s is not supported", e.Source, e.Target)
}

// UnsupportedPairError reports a routed pair that the strategy cannot produce.
type UnsupportedPairError struct {
	Strategy string
	Source   string
	Target   string
}

func (e *UnsupportedPairError) Error() string {
	return fmt.Sprintf("%s converter cannot convert %s to %s", e.Strategy, e.Source, e.Target)
}

// CorruptInputError reports input bytes that failed structural validation.
type CorruptInputError struct {
	Format string
	Reason string
	Err    error
}

func (e *CorruptInputError) Error() string {
	msg := fmt.Sprintf("invalid %s input: %s", e.Format, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CorruptInputError) Unwrap() error { return e.Err }

// TimeoutError reports an external process killed after its deadline.
type TimeoutError struct {
	Tool  string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Tool, e.After)
}

// ExternalToolError reports an unavailable tool or an abnormal exit.
type ExternalToolError struct {
	Tool        string
	Unavailable bool
	ExitCode    int
	Stderr      string
	Err         error
}

func (e *ExternalToolError) Error() string {
	switch {
	case e.Unavailable:
		return fmt.Sprintf("%s is not available: %v", e.Tool, e.Err)
	case e.ExitCode != 0:
		return fmt.Sprintf("%s exited with code %d", e.Tool, e.ExitCode)
	case e.Err != nil:
		return fmt.Sprintf("%s failed: %v", e.Tool, e.Err)
	default:
		return fmt.Sprintf("%s failed", e.Tool)
	}
}

func (e *ExternalToolError) Unwrap() error { return e.Err }

// StorageError reports a failed storage gateway operation.
type StorageError struct {
	Op     string
	Bucket string
	Path   string
	Err    error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s/%s: %v", e.Op, e.Bucket, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if IsPermanent(err) {
		return false
	}
	var toolErr *ExternalToolError
	var storageErr *StorageError
	return errors.As(err, &toolErr) || errors.As(err, &storageErr)
}

// IsPermanent reports whether err belongs to the permanent part of the taxonomy.
func IsPermanent(err error) bool {
	var unknown *UnknownFormatError
	var incompatible *IncompatiblePairError
	var unsupported *UnsupportedPairError
	var corrupt *CorruptInputError
	var timeout *TimeoutError
	return errors.As(err, &unknown) ||
		errors.As(err, &incompatible) ||
		errors.As(err, &unsupported) ||
		errors.As(err, &corrupt) ||
		errors.As(err, &timeout)
}

// Classified reports whether err is part of the taxonomy at all.
func Classified(err error) bool {
	return IsPermanent(err) || IsTransient(err)
}

const genericFailure = "Conversion failed. Please try again or contact support if the issue persists."

// UserMessage renders err as a message safe to expose through the status API.
// Tool output, paths and wrapped causes are never included.
func UserMessage(err error) string {
	var (
		unknown      *UnknownFormatError
		incompatible *IncompatiblePairError
		unsupported  *UnsupportedPairError
		corrupt      *CorruptInputError
		timeout      *TimeoutError
		toolErr      *ExternalToolError
		storageErr   *StorageError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &unknown):
		return fmt.Sprintf("Unknown file format: %s.", unknown.Format)
	case errors.As(err, &incompatible):
		return fmt.Sprintf("Conversion from %s to %s is not supported.", incompatible.Source, incompatible.Target)
	case errors.As(err, &unsupported):
		return fmt.Sprintf("Conversion from %s to %s is not supported.", unsupported.Source, unsupported.Target)
	case errors.As(err, &corrupt):
		return fmt.Sprintf("File content does not match the declared format (%s). The file may be corrupted or have an incorrect extension.", corrupt.Format)
	case errors.As(err, &timeout):
		return "Conversion timed out. The file may be too large or malformed."
	case errors.As(err, &toolErr):
		if toolErr.Unavailable {
			return fmt.Sprintf("The conversion tool required for this file (%s) is not available on the server.", toolErr.Tool)
		}
		return "The conversion tool could not process this file."
	case errors.As(err, &storageErr):
		return "The file could not be read from or written to storage."
	case errors.Is(err, context.DeadlineExceeded):
		return "Conversion timed out. The file may be too large or malformed."
	default:
		return genericFailure
	}
}
