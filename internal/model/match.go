package model

import "time"

// Match is a proposed pairing between exactly one seeker request and
// one provider request.  Both request references are unique columns,
// so a request can participate in at most one match at a time; the
// database enforces the exclusivity invariant at commit time and the
// loser of a concurrent bind race falls back to the normal
// "no winner" path.
//
// Both sides must set their agree flag before the match is promoted
// into a Meeting.  A match destroyed before mutual agreement writes
// the opposite party into each surviving request's failed_matches set
// and re-runs search for both.
//
// Fields:
//
//	ID                – primary key identifier.
//	UUID              – public identifier exposed to clients.
//	SeekerRequestID   – matches.seeker_request_id (unique).
//	ProviderRequestID – matches.provider_request_id (unique).
//	SeekerAgree       – seeker side accepted the proposal.
//	ProviderAgree     – provider side accepted the proposal.
//	CreatedAt         – proposal time; basis for the expiry sweep.
//	UpdatedAt         – last agreement mutation.
type Match struct {
	ID                uint64    // matches.id
	UUID              string    // matches.uuid
	SeekerRequestID   uint64    // matches.seeker_request_id
	ProviderRequestID uint64    // matches.provider_request_id
	SeekerAgree       bool      // matches.seeker_agree
	ProviderAgree     bool      // matches.provider_agree
	CreatedAt         time.Time // matches.created_at
	UpdatedAt         time.Time // matches.updated_at
}

// Agreed reports whether both sides accepted.
func (m Match) Agreed() bool { return m.SeekerAgree && m.ProviderAgree }
