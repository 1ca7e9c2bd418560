package model

import "time"

// Role names stored in users.role and carried in the JWT "role" claim.
const (
	RoleStudent = "STUDENT"
	RoleTutor   = "TUTOR"
)

// User represents an application user record as stored in the
// `users` table. Each field corresponds to a column in the
// database. The json tags are omitted here because these structs
// are primarily used internally by the repository layer; handlers
// may define separate response types with appropriate JSON tags.
//
// Fields:
//
//	ID           – primary key identifier of the user.
//	Email        – unique email address.
//	PasswordHash – bcrypt hashed password.
//	Role         – role name (STUDENT or TUTOR).
//	IsActive     – whether the account is active.
//	CreatedAt    – timestamp of creation.
//	UpdatedAt    – timestamp of last update.
type User struct {
	ID           uint64    // users.id
	Email        string    // users.email
	PasswordHash string    // users.password_hash
	Role         string    // users.role
	IsActive     bool      // users.is_active
	CreatedAt    time.Time // users.created_at
	UpdatedAt    time.Time // users.updated_at
}

// Profile carries the read-only matching attributes of a user.  The
// engine never mutates a profile; it is loaded once per search and
// passed into scoring and filtering as a plain value.
//
// Fields:
//
//	UserID        – owner of the profile (profiles.user_id).
//	Region        – federal-state code, e.g. "BY" (profiles.region).
//	Gender        – self-reported gender code (profiles.gender).
//	TutorVerified – whether a tutor passed manual verification.
//	SubjectIDs    – subjects the user tutors (tutor_subjects rows).
type Profile struct {
	UserID        uint64   // profiles.user_id
	Region        string   // profiles.region
	Gender        string   // profiles.gender
	TutorVerified bool     // profiles.tutor_verified
	SubjectIDs    []uint64 // tutor_subjects.subject_id
}

// Subject is a row in the `subjects` catalogue table.
//
// Fields:
//
//	ID   – numeric identifier of the subject.
//	Name – unique subject name (e.g. "Mathematik").
type Subject struct {
	ID   uint64 `json:"id"`   // subjects.id
	Name string `json:"name"` // subjects.name
}

// RefreshToken models an entry in the `refresh_tokens` table.  Each
// refresh token belongs to a user and contains metadata for expiry
// and revocation.  The plain token is not stored; only its
// SHA-256 hash.
//
// Fields:
//
//	ID        – primary key identifier.
//	UserID    – owner of the token.
//	TokenHash – SHA-256 hex digest of the token value.
//	ExpiresAt – expiration timestamp of the token.
//	RevokedAt – when the token was revoked (null if still active).
//	CreatedAt – timestamp of creation.
type RefreshToken struct {
	ID        uint64     // refresh_tokens.id
	UserID    uint64     // refresh_tokens.user_id
	TokenHash string     // refresh_tokens.token_hash
	ExpiresAt time.Time  // refresh_tokens.expires_at
	RevokedAt *time.Time // refresh_tokens.revoked_at (nullable)
	CreatedAt time.Time  // refresh_tokens.created_at
}
