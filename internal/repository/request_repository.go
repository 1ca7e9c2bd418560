package repository

import (
	"context"
	"database/sql"

	"github.com/studistern/tutor-roulette/internal/model"
)

// RequestRepo provides data access to the requests and failed_matches
// tables.  Every mutation that can change the outcome of a search runs
// inside a *sql.Tx supplied by the matching engine so that candidate
// selection and match binding commit as one unit.  The unique key on
// (user_id, role) enforces "one open request per user per role" at
// commit time.
type RequestRepo struct{ DB *sql.DB }

func NewRequestRepo(db *sql.DB) *RequestRepo { return &RequestRepo{DB: db} }

// Candidate pairs a counterpart request with its owner's read-only
// profile, which is everything scoring needs.
type Candidate struct {
	Request model.Request
	Profile model.Profile
}

const requestColumns = "id, user_id, role, subject_id, manually_closed, created_at"

func scanRequest(row interface{ Scan(...any) error }) (model.Request, error) {
	var req model.Request
	var subjectID sql.NullInt64
	err := row.Scan(&req.ID, &req.UserID, &req.Role, &subjectID, &req.ManuallyClosed, &req.CreatedAt)
	if err != nil {
		return model.Request{}, err
	}
	if subjectID.Valid {
		sid := uint64(subjectID.Int64)
		req.SubjectID = &sid
	}
	return req, nil
}

// CreateTx inserts a new open request and populates its generated ID
// and creation timestamp.  A second open request for the same user and
// role violates the (user_id, role) unique key and maps to ErrConflict.
func (r *RequestRepo) CreateTx(ctx context.Context, tx *sql.Tx, req *model.Request) error {
	var subjectID any
	if req.SubjectID != nil {
		subjectID = *req.SubjectID
	}
	res, err := tx.ExecContext(ctx,
		"INSERT INTO requests (user_id, role, subject_id) VALUES (?,?,?)",
		req.UserID, req.Role, subjectID)
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
	req.ID = uint64(id)
	row := tx.QueryRowContext(ctx,
		"SELECT "+requestColumns+" FROM requests WHERE id=?", req.ID)
	got, err := scanRequest(row)
	if err != nil {
		return err
	}
	*req = got
	return nil
}

// GetByIDTx loads a request by id, locking the row for the duration of
// the transaction so agreement and termination cannot race on it.
func (r *RequestRepo) GetByIDTx(ctx context.Context, tx *sql.Tx, id uint64) (model.Request, error) {
	row := tx.QueryRowContext(ctx,
		"SELECT "+requestColumns+" FROM requests WHERE id=? FOR UPDATE", id)
	return scanRequest(row)
}

// GetOpenByUserTx loads the caller's open request for one role.
func (r *RequestRepo) GetOpenByUserTx(ctx context.Context, tx *sql.Tx, userID uint64, role string) (model.Request, error) {
	row := tx.QueryRowContext(ctx,
		"SELECT "+requestColumns+" FROM requests WHERE user_id=? AND role=? FOR UPDATE", userID, role)
	return scanRequest(row)
}

// MarkManuallyClosedTx flags a request as explicitly withdrawn before
// it is deleted, so a concurrent match termination neither re-queues it
// nor writes exclusion data on its behalf.
func (r *RequestRepo) MarkManuallyClosedTx(ctx context.Context, tx *sql.Tx, id uint64) error {
	_, err := tx.ExecContext(ctx, "UPDATE requests SET manually_closed=1 WHERE id=?", id)
	return err
}

// DeleteTx removes a request.  The failed_matches rows cascade via FK.
func (r *RequestRepo) DeleteTx(ctx context.Context, tx *sql.Tx, id uint64) error {
	_, err := tx.ExecContext(ctx, "DELETE FROM requests WHERE id=?", id)
	return err
}

// AddFailedMatchTx records that userID must never again be proposed to
// the request.  INSERT IGNORE keeps the write idempotent: terminating
// the same match twice adds the exclusion exactly once.
func (r *RequestRepo) AddFailedMatchTx(ctx context.Context, tx *sql.Tx, requestID, userID uint64) error {
	_, err := tx.ExecContext(ctx,
		"INSERT IGNORE INTO failed_matches (request_id, user_id) VALUES (?,?)",
		requestID, userID)
	return err
}

// CandidatesForSeekerTx returns the open provider requests eligible to
// pair with a seeker request: owned by a verified tutor who teaches the
// requested subject, not already bound to a match, and with no
// exclusion in either direction.  Order is the deterministic tie-break
// for equal scores: earliest created first, id as the final key.
func (r *RequestRepo) CandidatesForSeekerTx(ctx context.Context, tx *sql.Tx, req model.Request, subjectID uint64) ([]Candidate, error) {
	const q = `SELECT r.id, r.user_id, r.role, r.subject_id, r.manually_closed, r.created_at,
	                  p.region, p.gender, p.tutor_verified
	           FROM requests r
	           JOIN profiles p ON p.user_id = r.user_id
	           WHERE r.role = 'PROVIDER'
	             AND r.user_id <> ?
	             AND p.tutor_verified = 1
	             AND EXISTS (SELECT 1 FROM tutor_subjects ts WHERE ts.user_id = r.user_id AND ts.subject_id = ?)
	             AND NOT EXISTS (SELECT 1 FROM matches m WHERE m.provider_request_id = r.id)
	             AND NOT EXISTS (SELECT 1 FROM failed_matches f WHERE f.request_id = ? AND f.user_id = r.user_id)
	             AND NOT EXISTS (SELECT 1 FROM failed_matches f WHERE f.request_id = r.id AND f.user_id = ?)
	           ORDER BY r.created_at ASC, r.id ASC`
	return r.queryCandidates(ctx, tx, q, req.UserID, subjectID, req.ID, req.UserID)
}

// CandidatesForProviderTx returns the open seeker requests eligible to
// pair with a provider request: asking for a subject the tutor teaches,
// not already bound, and with no exclusion in either direction.
func (r *RequestRepo) CandidatesForProviderTx(ctx context.Context, tx *sql.Tx, req model.Request) ([]Candidate, error) {
	const q = `SELECT r.id, r.user_id, r.role, r.subject_id, r.manually_closed, r.created_at,
	                  p.region, p.gender, p.tutor_verified
	           FROM requests r
	           JOIN profiles p ON p.user_id = r.user_id
	           WHERE r.role = 'SEEKER'
	             AND r.user_id <> ?
	             AND r.subject_id IN (SELECT subject_id FROM tutor_subjects WHERE user_id = ?)
	             AND NOT EXISTS (SELECT 1 FROM matches m WHERE m.seeker_request_id = r.id)
	             AND NOT EXISTS (SELECT 1 FROM failed_matches f WHERE f.request_id = ? AND f.user_id = r.user_id)
	             AND NOT EXISTS (SELECT 1 FROM failed_matches f WHERE f.request_id = r.id AND f.user_id = ?)
	           ORDER BY r.created_at ASC, r.id ASC`
	return r.queryCandidates(ctx, tx, q, req.UserID, req.UserID, req.ID, req.UserID)
}

func (r *RequestRepo) queryCandidates(ctx context.Context, tx *sql.Tx, q string, args ...any) ([]Candidate, error) {
	rows, err := tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var cands []Candidate
	for rows.Next() {
		var c Candidate
		var subjectID sql.NullInt64
		if err := rows.Scan(
			&c.Request.ID, &c.Request.UserID, &c.Request.Role, &subjectID,
			&c.Request.ManuallyClosed, &c.Request.CreatedAt,
			&c.Profile.Region, &c.Profile.Gender, &c.Profile.TutorVerified,
		); err != nil {
			return nil, err
		}
		if subjectID.Valid {
			sid := uint64(subjectID.Int64)
			c.Request.SubjectID = &sid
		}
		c.Profile.UserID = c.Request.UserID
		cands = append(cands, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return cands, nil
}
