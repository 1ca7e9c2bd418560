// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as
// handlers to distinguish between different failure scenarios. For
// example, ErrConflict signals that a uniqueness constraint blocked an
// insert (a second open request for the same role, a duplicate feedback
// triple, or a match binding a request that is already bound), while
// ErrForbidden indicates that the current user may not act on a
// resource owned by someone else.
package repository

import (
	"errors"
	"strings"
)

// ErrConflict is returned when an insert or update cannot proceed
// because of conflicting state, such as submitting a second open
// request for the same role. Handlers should translate this into an
// HTTP 409 response.
var ErrConflict = errors.New("conflict")

// ErrForbidden is returned when the caller attempts an operation
// on a resource they do not own. Handlers should translate this
// into an HTTP 403 response.
var ErrForbidden = errors.New("forbidden")

// isDuplicateKey reports whether err is a MySQL duplicate-entry error
// (code 1062). Uniqueness violations are the engine's commit-time
// exclusivity enforcement, so repositories map them to ErrConflict.
func isDuplicateKey(err error) bool {
	return err != nil && strings.Contains(err.Error(), "1062")
}
