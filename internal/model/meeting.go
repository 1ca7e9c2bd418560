package model

import "time"

// Meeting is a provisioned session on the external conferencing
// service, created exactly once per mutually agreed match.  The
// meeting id doubles as the remote meetingID parameter, so it is a
// UUID rather than an auto-increment key.
//
// Establishing is the provisioning-in-progress guard: while it is
// set, exactly one caller is performing the remote create call and
// concurrent callers must wait for it to clear, then re-check
// Established.  Established is only set after a well-formed 200
// response; a failed remote call leaves the meeting unestablished
// and eligible for retry.
//
// Fields:
//
//	ID              – meetings.id (UUID, also the remote meetingID).
//	MatchUUID       – originating match (nullable; matches are deleted
//	                  on termination while the meeting survives).
//	StudentUserID   – seeker-side participant (nullable, user removal).
//	TutorUserID     – provider-side participant (nullable).
//	Name            – display name sent to the conferencing service.
//	AttendeePW      – attendee credential from the create response.
//	ModeratorPW     – moderator credential from the create response.
//	Established     – remote session exists and credentials are stored.
//	Establishing    – a remote create call is in flight.
//	Ended           – the remote session was ended.
//	TimeEstablished – when Established was set (nullable).
//	TimeEnded       – when Ended was set (nullable).
//	CreatedAt       – row creation timestamp.
type Meeting struct {
	ID              string     // meetings.id
	MatchUUID       *string    // meetings.match_uuid (nullable)
	StudentUserID   *uint64    // meetings.student_user_id (nullable)
	TutorUserID     *uint64    // meetings.tutor_user_id (nullable)
	Name            string     // meetings.name
	AttendeePW      *string    // meetings.attendee_pw (nullable)
	ModeratorPW     *string    // meetings.moderator_pw (nullable)
	Established     bool       // meetings.established
	Establishing    bool       // meetings.establishing
	Ended           bool       // meetings.ended
	TimeEstablished *time.Time // meetings.time_established (nullable)
	TimeEnded       *time.Time // meetings.time_ended (nullable)
	CreatedAt       time.Time  // meetings.created_at
}

// IsMember reports whether userID is in the meeting's member set.
// Members are the student and tutor captured at promotion time.
func (m Meeting) IsMember(userID uint64) bool {
	if m.StudentUserID != nil && *m.StudentUserID == userID {
		return true
	}
	if m.TutorUserID != nil && *m.TutorUserID == userID {
		return true
	}
	return false
}
