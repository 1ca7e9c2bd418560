package repository

import (
	"context"
	"database/sql"

	"github.com/studistern/tutor-roulette/internal/model"
)

// FeedbackRepo provides data access to the feedback table.  The
// (receiver, provider, meeting) triple is unique; a second submission
// for the same triple maps to ErrConflict.
type FeedbackRepo struct{ DB *sql.DB }

func NewFeedbackRepo(db *sql.DB) *FeedbackRepo { return &FeedbackRepo{DB: db} }

// Create inserts a feedback row and populates its generated ID.
func (r *FeedbackRepo) Create(ctx context.Context, fb *model.Feedback) error {
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO feedback (receiver_user_id, provider_user_id, meeting_id, rating, message) VALUES (?,?,?,?,?)",
		fb.ReceiverUserID, fb.ProviderUserID, fb.MeetingID, fb.Rating, fb.Message)
	if err != nil {
		if isDuplicateKey(err) {
			return ErrConflict
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	fb.ID = uint64(id)
	return nil
}

// ListForUser returns the feedback a user received, newest first.
func (r *FeedbackRepo) ListForUser(ctx context.Context, receiverUserID uint64) ([]model.Feedback, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, receiver_user_id, provider_user_id, meeting_id, rating, message, created_at
		 FROM feedback WHERE receiver_user_id=? ORDER BY created_at DESC`,
		receiverUserID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := make([]model.Feedback, 0)
	for rows.Next() {
		var fb model.Feedback
		if err := rows.Scan(&fb.ID, &fb.ReceiverUserID, &fb.ProviderUserID,
			&fb.MeetingID, &fb.Rating, &fb.Message, &fb.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, fb)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
