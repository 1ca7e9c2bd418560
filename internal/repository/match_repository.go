package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/studistern/tutor-roulette/internal/model"
)

// MatchRepo provides data access to the matches table.  The unique
// keys on seeker_request_id and provider_request_id are the exclusivity
// invariant: a request can participate in at most one match, and the
// loser of a concurrent bind race receives ErrConflict instead of a
// second binding.
type MatchRepo struct{ DB *sql.DB }

func NewMatchRepo(db *sql.DB) *MatchRepo { return &MatchRepo{DB: db} }

const matchColumns = "id, uuid, seeker_request_id, provider_request_id, seeker_agree, provider_agree, created_at, updated_at"

func scanMatch(row interface{ Scan(...any) error }) (model.Match, error) {
	var m model.Match
	err := row.Scan(&m.ID, &m.UUID, &m.SeekerRequestID, &m.ProviderRequestID,
		&m.SeekerAgree, &m.ProviderAgree, &m.CreatedAt, &m.UpdatedAt)
	return m, err
}

// CreateTx binds a seeker request and a provider request into a new
// match.  Either request already being bound violates a unique key and
// maps to ErrConflict; the engine treats that as losing the race and
// moves on to the next candidate.
func (r *MatchRepo) CreateTx(ctx context.Context, tx *sql.Tx, m *model.Match) error {
	res, err := tx.ExecContext(ctx,
		"INSERT INTO matches (uuid, seeker_request_id, provider_request_id) VALUES (?,?,?)",
		m.UUID, m.SeekerRequestID, m.ProviderRequestID)
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
	m.ID = uint64(id)
	row := tx.QueryRowContext(ctx, "SELECT "+matchColumns+" FROM matches WHERE id=?", m.ID)
	got, err := scanMatch(row)
	if err != nil {
		return err
	}
	*m = got
	return nil
}

// GetByUUIDTx loads a match by its public identifier and locks the row
// so concurrent agreement and termination serialize on it.
func (r *MatchRepo) GetByUUIDTx(ctx context.Context, tx *sql.Tx, uuid string) (model.Match, error) {
	row := tx.QueryRowContext(ctx,
		"SELECT "+matchColumns+" FROM matches WHERE uuid=? FOR UPDATE", uuid)
	return scanMatch(row)
}

// GetByRequestIDTx loads the match bound to a request, if any.
func (r *MatchRepo) GetByRequestIDTx(ctx context.Context, tx *sql.Tx, requestID uint64) (model.Match, error) {
	row := tx.QueryRowContext(ctx,
		"SELECT "+matchColumns+" FROM matches WHERE seeker_request_id=? OR provider_request_id=? FOR UPDATE",
		requestID, requestID)
	return scanMatch(row)
}

// SetAgreementTx persists one side's agreement flag and returns the
// post-mutation state, from which the engine detects the transition to
// mutual agreement.
func (r *MatchRepo) SetAgreementTx(ctx context.Context, tx *sql.Tx, id uint64, seekerSide, value bool) (model.Match, error) {
	col := "provider_agree"
	if seekerSide {
		col = "seeker_agree"
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE matches SET "+col+"=?, updated_at=NOW() WHERE id=?", value, id); err != nil {
		return model.Match{}, err
	}
	row := tx.QueryRowContext(ctx, "SELECT "+matchColumns+" FROM matches WHERE id=?", id)
	return scanMatch(row)
}

// DeleteTx removes a match, releasing both member requests.
func (r *MatchRepo) DeleteTx(ctx context.Context, tx *sql.Tx, id uint64) error {
	_, err := tx.ExecContext(ctx, "DELETE FROM matches WHERE id=?", id)
	return err
}

// StaleTx returns matches proposed before the cutoff that never
// reached mutual agreement and are not yet promoted to a meeting.
// The engine sweeps these lazily and terminates each with reason
// timeout, the same lazy-expiry pattern used for stale proposals in
// any flow that touches the pool.
func (r *MatchRepo) StaleTx(ctx context.Context, tx *sql.Tx, cutoff time.Time) ([]model.Match, error) {
	const q = `SELECT ` + matchColumns + ` FROM matches
	           WHERE created_at <= ?
	             AND NOT (seeker_agree = 1 AND provider_agree = 1)
	             AND NOT EXISTS (SELECT 1 FROM meetings mt WHERE mt.match_uuid = matches.uuid)
	           FOR UPDATE`
	rows, err := tx.QueryContext(ctx, q, cutoff.UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var stale []model.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		stale = append(stale, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stale, nil
}

// HasMeetingTx reports whether a meeting is already bound to the match.
// Both agreement flags true plus an existing meeting is an impossible
// state under the defined transitions and is surfaced as an invariant
// violation by the engine.
func (r *MatchRepo) HasMeetingTx(ctx context.Context, tx *sql.Tx, matchUUID string) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx,
		"SELECT 1 FROM meetings WHERE match_uuid=? LIMIT 1", matchUUID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
