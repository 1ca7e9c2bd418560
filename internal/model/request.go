package model

import "time"

// Request roles.  A seeker is a student asking for help in one
// subject; a provider is a tutor offering a session.
const (
	RoleSeeker   = "SEEKER"
	RoleProvider = "PROVIDER"
)

// Request is a standing intent to be paired, scoped to one role.
// A user may own at most one open request per role at any time
// (unique key on (user_id, role) in the `requests` table).  The
// failed_matches set (stored in the `failed_matches` table) lists
// users that must never be proposed to this request again.
//
// Fields:
//
//	ID             – primary key identifier.
//	UserID         – owner of the request.
//	Role           – SEEKER or PROVIDER.
//	SubjectID      – requested subject (seeker requests only, nil for providers).
//	ManuallyClosed – set before deletion on explicit withdrawal so a
//	                 concurrent match termination does not re-queue it.
//	CreatedAt      – creation timestamp; also the search tie-break key.
type Request struct {
	ID             uint64    `json:"id"`                   // requests.id
	UserID         uint64    `json:"user_id"`              // requests.user_id
	Role           string    `json:"role"`                 // requests.role
	SubjectID      *uint64   `json:"subject_id,omitempty"` // requests.subject_id (nullable)
	ManuallyClosed bool      `json:"-"`                    // requests.manually_closed
	CreatedAt      time.Time `json:"created_at"`           // requests.created_at
}
