// Package errs defines the error taxonomy shared by the store, the archive
// extractor and the HTTP layer.
package errs

import (
	"errors"
	"strconv"
)

var (
	ErrInvalidIdentifier  = errors.New("invalid database name")
	ErrInvalidArchive     = errors.New("uploaded file is not a valid zip archive")
	ErrMissingPrimaryFile = errors.New("archive must contain the primary data file at its root or inside a single top-level folder")
	ErrStructureInvalid   = errors.New("primary data file not found at the bundle root after extraction")
	ErrUnsafeEntry        = errors.New("unsafe archive entry")
	ErrPathTraversal      = errors.New("invalid path (path traversal)")
	ErrNotFound           = errors.New("not found")
)

var kinds = []error{
	ErrInvalidIdentifier,
	ErrInvalidArchive,
	ErrMissingPrimaryFile,
	ErrStructureInvalid,
	ErrUnsafeEntry,
	ErrPathTraversal,
	ErrNotFound,
}

// Error attaches a detail, usually the offending entry or path, to one of the
// sentinel kinds above. errors.Is matches on the kind.
type Error struct {
	Kind   error
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Detail
}

func (e *Error) Unwrap() error { return e.Kind }

// New returns an Error of the given kind with a plain detail.
func New(kind error, detail string) error {
	return &Error{Kind: kind, Detail: detail}
}

// Quoted returns an Error whose detail is client-supplied input. The value is
// quoted so control characters and separators are escaped before they reach a
// response body or a log line.
func Quoted(kind error, value string) error {
	return &Error{Kind: kind, Detail: strconv.Quote(value)}
}

// IsClient reports whether err belongs to the taxonomy, i.e. it was caused by
// the request rather than by the server.
func IsClient(err error) bool {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return true
		}
	}
	return false
}
