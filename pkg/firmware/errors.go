package firmware

import (
	"errors"
	"fmt"
)

// Error kinds shared by images and update packages. Every error returned by
// this package (and pkg/update) wraps exactly one of these.
var (
	// ErrInvalidLength is returned for buffers that are too short or not a
	// multiple of 4 bytes.
	ErrInvalidLength = errors.New("invalid length")

	// ErrAmbiguousEncoding is returned when neither (or both) byte orders
	// produce a self-consistent header.
	ErrAmbiguousEncoding = errors.New("could not determine byte order")

	// ErrIntegrityMismatch is returned when an image's declared checksum or
	// size disagrees with its contents.
	ErrIntegrityMismatch = errors.New("firmware integrity mismatch")
)

// MismatchError reports a declared value that disagrees with the computed one.
// It unwraps to Kind so callers can match it with errors.Is.
type MismatchError struct {
	Kind     error
	Field    string
	Declared uint32
	Actual   uint32
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%v: %s declared 0x%08x, actual 0x%08x", e.Kind, e.Field, e.Declared, e.Actual)
}

func (e *MismatchError) Unwrap() error {
	return e.Kind
}
