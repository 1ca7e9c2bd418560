package queue

import "time"

// MeetingEndedQueue is the durable queue carrying end-of-call signals.
const MeetingEndedQueue = "meeting.ended"

// MeetingEndedEvent is published when the conferencing service reports
// that a session ended, either through the end-of-call callback or an
// explicit end request by a moderator.  The consumer marks the meeting
// ended and releases the consumed requests from the pool.
type MeetingEndedEvent struct {
	MeetingID string    `json:"meeting_id"`
	Source    string    `json:"source"` // "callback" or "moderator"
	EndedAt   time.Time `json:"ended_at"`
}
