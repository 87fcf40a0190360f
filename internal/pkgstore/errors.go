package pkgstore

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is matched by StoreError.Is when Type is ErrorTypeNotFound.
var ErrNotFound = errors.New("package not found")

// ErrorType classifies a StoreError for errors.Is matching, following the
// teacher's MonitorError idiom (internal/monitoring/errors).
type ErrorType int

const (
	ErrorTypeUnknown ErrorType = iota
	ErrorTypeNotFound
	ErrorTypeDecode
	ErrorTypeIO
)

// StoreError is returned by DirStore and SQLiteStore for failures loading
// or watching the package table, styled after the teacher's MonitorError:
// an Op/context/wrapped-Err shape with a sanitized, single-line message.
type StoreError struct {
	Type    ErrorType
	Op      string
	Package string
	Err     error
}

func (e *StoreError) Error() string {
	if e == nil {
		return "<nil>"
	}
	op := sanitize(e.Op)
	if e.Package == "" {
		return fmt.Sprintf("%s failed: %s", op, sanitize(e.Err.Error()))
	}
	return fmt.Sprintf("%s failed on %s: %s", op, sanitize(e.Package), sanitize(e.Err.Error()))
}

func (e *StoreError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *StoreError) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}
	if target == ErrNotFound && e.Type == ErrorTypeNotFound {
		return true
	}
	return errors.Is(e.Err, target)
}

func sanitize(s string) string {
	replacer := strings.NewReplacer("\n", " ", "\r", " ", "\t", " ")
	return replacer.Replace(s)
}
