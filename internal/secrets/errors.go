package secrets

import (
	"errors"
	"fmt"
)

// UnsupportedSchemeError indicates a key reference whose scheme has no
// registered resolver.
type UnsupportedSchemeError struct {
	Scheme string
}

func (e *UnsupportedSchemeError) Error() string {
	return fmt.Sprintf("unsupported key reference scheme %q (want op, asm, keyring or file)", e.Scheme)
}

// InvalidReferenceError indicates a malformed key reference.
type InvalidReferenceError struct {
	Reference string
	Reason    string
}

func (e *InvalidReferenceError) Error() string {
	return fmt.Sprintf("invalid key reference %q: %s", e.Reference, e.Reason)
}

// NotFoundError indicates the backend has no such secret.
type NotFoundError struct {
	Reference string
	Backend   string
}

func (e *NotFoundError) Error() string {
	if e.Backend != "" {
		return fmt.Sprintf("key not found in %s: %s", e.Backend, e.Reference)
	}
	return fmt.Sprintf("key not found: %s", e.Reference)
}

// BackendError reports a backend failure with a suggested fix.
type BackendError struct {
	Backend   string
	Reference string
	Reason    string
	Fix       string
	Err       error
}

func (e *BackendError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Backend, e.Reason)
	if e.Fix != "" {
		msg += "\n\n  " + e.Fix
	}
	return msg
}

func (e *BackendError) Unwrap() error { return e.Err }

// IsNotFound reports whether err means the referenced key does not exist.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
