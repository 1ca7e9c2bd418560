package repository

import (
	"context"
	"database/sql"

	"github.com/studistern/tutor-roulette/internal/model"
)

// ProfileRepo reads and writes the matching attributes of a user
// (region, gender, tutor verification, tutored subjects) and the
// public subject catalogue.  The matching engine only ever reads
// profiles; writes happen through the account endpoints.
type ProfileRepo struct{ DB *sql.DB }

func NewProfileRepo(db *sql.DB) *ProfileRepo { return &ProfileRepo{DB: db} }

// Get loads the profile of a user including the tutored subject set.
// It returns sql.ErrNoRows when no profile row exists yet.
func (r *ProfileRepo) Get(ctx context.Context, userID uint64) (model.Profile, error) {
	var p model.Profile
	err := r.DB.QueryRowContext(ctx,
		"SELECT user_id, region, gender, tutor_verified FROM profiles WHERE user_id=? LIMIT 1",
		userID).Scan(&p.UserID, &p.Region, &p.Gender, &p.TutorVerified)
	if err != nil {
		return model.Profile{}, err
	}
	rows, err := r.DB.QueryContext(ctx,
		"SELECT subject_id FROM tutor_subjects WHERE user_id=? ORDER BY subject_id",
		userID)
	if err != nil {
		return model.Profile{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var sid uint64
		if err := rows.Scan(&sid); err != nil {
			return model.Profile{}, err
		}
		p.SubjectIDs = append(p.SubjectIDs, sid)
	}
	if err := rows.Err(); err != nil {
		return model.Profile{}, err
	}
	return p, nil
}

// Upsert writes the scalar profile attributes. The tutor_verified flag
// is never set through this path; verification is an administrative
// action performed directly against the database.
func (r *ProfileRepo) Upsert(ctx context.Context, userID uint64, region, gender string) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO profiles (user_id, region, gender) VALUES (?,?,?)
		 ON DUPLICATE KEY UPDATE region=VALUES(region), gender=VALUES(gender)`,
		userID, region, gender)
	return err
}

// SetSubjects replaces the tutored subject set of a user.
func (r *ProfileRepo) SetSubjects(ctx context.Context, userID uint64, subjectIDs []uint64) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx, "DELETE FROM tutor_subjects WHERE user_id=?", userID); err != nil {
		return err
	}
	for _, sid := range subjectIDs {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO tutor_subjects (user_id, subject_id) VALUES (?,?)", userID, sid); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// ListSubjects returns the full subject catalogue ordered by name.
func (r *ProfileRepo) ListSubjects(ctx context.Context) ([]model.Subject, error) {
	rows, err := r.DB.QueryContext(ctx, "SELECT id, name FROM subjects ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	subjects := make([]model.Subject, 0)
	for rows.Next() {
		var s model.Subject
		if err := rows.Scan(&s.ID, &s.Name); err != nil {
			return nil, err
		}
		subjects = append(subjects, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return subjects, nil
}

// SubjectExists reports whether a subject id is in the catalogue.
func (r *ProfileRepo) SubjectExists(ctx context.Context, id uint64) (bool, error) {
	var one int
	err := r.DB.QueryRowContext(ctx, "SELECT 1 FROM subjects WHERE id=? LIMIT 1", id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
