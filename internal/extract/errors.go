package extract

import (
	"errors"
	"fmt"
)

var (
	// ErrNoMetadataFound is returned when the primary pointer yields nothing.
	ErrNoMetadataFound = errors.New("no metadata found")
	// ErrDecode is returned when the primary body does not parse as its
	// declared type.
	ErrDecode = errors.New("decode error")
	// errUnsupportedReference marks references that cannot be fetched.
	errUnsupportedReference = errors.New("unsupported reference")
)

// SecondaryAssetError is a failure on a reference discovered inside a
// metadata document. It is reported, never returned as the run error.
type SecondaryAssetError struct {
	Field   string
	Pointer string
	Err     error
}

func (e *SecondaryAssetError) Error() string {
	return fmt.Sprintf("secondary asset %s (%s): %v", e.Field, e.Pointer, e.Err)
}

func (e *SecondaryAssetError) Unwrap() error {
	return e.Err
}
