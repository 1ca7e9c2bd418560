package model

import "time"

// Feedback is a rated comment one participant leaves for the other
// after a meeting.  The (receiver, provider, meeting) triple is
// unique; a second submission for the same triple is rejected.
type Feedback struct {
	ID             uint64    `json:"id"`               // feedback.id
	ReceiverUserID uint64    `json:"receiver_user_id"` // feedback.receiver_user_id
	ProviderUserID uint64    `json:"provider_user_id"` // feedback.provider_user_id
	MeetingID      string    `json:"meeting_id"`       // feedback.meeting_id
	Rating         uint8     `json:"rating"`           // feedback.rating (0..5)
	Message        string    `json:"message"`          // feedback.message
	CreatedAt      time.Time `json:"created_at"`       // feedback.created_at
}
