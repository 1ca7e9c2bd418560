package repository

import (
	"context"
	"database/sql"

	"github.com/studistern/tutor-roulette/internal/model"
)

// MeetingRepo provides data access to the meetings table.  Unlike the
// request and match repositories, most methods run outside the engine's
// transactions: provisioning talks to a remote service and must not
// hold row locks across network calls.  The establishing flag is
// claimed with a single conditional UPDATE instead.
type MeetingRepo struct{ DB *sql.DB }

func NewMeetingRepo(db *sql.DB) *MeetingRepo { return &MeetingRepo{DB: db} }

const meetingColumns = `id, match_uuid, student_user_id, tutor_user_id, name,
	attendee_pw, moderator_pw, established, establishing, ended,
	time_established, time_ended, created_at`

func scanMeeting(row interface{ Scan(...any) error }) (model.Meeting, error) {
	var m model.Meeting
	var matchUUID, attendeePW, moderatorPW sql.NullString
	var studentID, tutorID sql.NullInt64
	var established, ended sql.NullTime
	err := row.Scan(&m.ID, &matchUUID, &studentID, &tutorID, &m.Name,
		&attendeePW, &moderatorPW, &m.Established, &m.Establishing, &m.Ended,
		&established, &ended, &m.CreatedAt)
	if err != nil {
		return model.Meeting{}, err
	}
	if matchUUID.Valid {
		m.MatchUUID = &matchUUID.String
	}
	if studentID.Valid {
		v := uint64(studentID.Int64)
		m.StudentUserID = &v
	}
	if tutorID.Valid {
		v := uint64(tutorID.Int64)
		m.TutorUserID = &v
	}
	if attendeePW.Valid {
		m.AttendeePW = &attendeePW.String
	}
	if moderatorPW.Valid {
		m.ModeratorPW = &moderatorPW.String
	}
	if established.Valid {
		t := established.Time
		m.TimeEstablished = &t
	}
	if ended.Valid {
		t := ended.Time
		m.TimeEnded = &t
	}
	return m, nil
}

// CreateTx inserts the meeting row bound to a freshly agreed match.
// Exactly one meeting may reference a match (unique match_uuid key);
// a duplicate maps to ErrConflict.
func (r *MeetingRepo) CreateTx(ctx context.Context, tx *sql.Tx, m *model.Meeting) error {
	_, err := tx.ExecContext(ctx,
		"INSERT INTO meetings (id, match_uuid, student_user_id, tutor_user_id, name) VALUES (?,?,?,?,?)",
		m.ID, m.MatchUUID, m.StudentUserID, m.TutorUserID, m.Name)
	if err != nil {
		if isDuplicateKey(err) {
			return ErrConflict
		}
		return err
	}
	return nil
}

// GetMeeting loads a meeting by id. Returns sql.ErrNoRows when absent.
func (r *MeetingRepo) GetMeeting(ctx context.Context, id string) (model.Meeting, error) {
	row := r.DB.QueryRowContext(ctx,
		"SELECT "+meetingColumns+" FROM meetings WHERE id=? LIMIT 1", id)
	return scanMeeting(row)
}

// GetByMatchUUID loads the meeting promoted from a match, if any.
func (r *MeetingRepo) GetByMatchUUID(ctx context.Context, matchUUID string) (model.Meeting, error) {
	row := r.DB.QueryRowContext(ctx,
		"SELECT "+meetingColumns+" FROM meetings WHERE match_uuid=? LIMIT 1", matchUUID)
	return scanMeeting(row)
}

// TryBeginEstablish atomically claims the establishment guard.  It
// returns true when the caller won the claim and must perform the
// remote create call; false when another caller is already in flight
// or the meeting is established or ended.
func (r *MeetingRepo) TryBeginEstablish(ctx context.Context, id string) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE meetings SET establishing=1 WHERE id=? AND establishing=0 AND established=0 AND ended=0", id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// FinishEstablish stores the credentials from a successful remote
// create call, marks the meeting established and clears the guard.
func (r *MeetingRepo) FinishEstablish(ctx context.Context, id, attendeePW, moderatorPW string) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE meetings SET attendee_pw=?, moderator_pw=?, established=1, establishing=0, time_established=NOW() WHERE id=?",
		attendeePW, moderatorPW, id)
	return err
}

// AbortEstablish clears the guard after a failed remote call, leaving
// the meeting unestablished and eligible for a later retry.
func (r *MeetingRepo) AbortEstablish(ctx context.Context, id string) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE meetings SET establishing=0 WHERE id=? AND established=0", id)
	return err
}

// MarkEnded records that the remote session was ended.
func (r *MeetingRepo) MarkEnded(ctx context.Context, id string) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE meetings SET ended=1, time_ended=NOW() WHERE id=? AND ended=0", id)
	return err
}
