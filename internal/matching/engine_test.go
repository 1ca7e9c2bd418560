package matching

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/studistern/tutor-roulette/internal/model"
	"github.com/studistern/tutor-roulette/internal/repository"
)

func newTestEngine(t *testing.T) (*Engine, sqlmock.Sqlmock) {
	t.Helper()
	// MatchTTL of zero disables the stale sweep so most tests do not
	// have to expect its query.
	return newTestEngineTTL(t, 0)
}

func newTestEngineTTL(t *testing.T, ttl time.Duration) (*Engine, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	e := NewEngine(db,
		repository.NewRequestRepo(db),
		repository.NewMatchRepo(db),
		repository.NewMeetingRepo(db),
		repository.NewProfileRepo(db),
		ttl,
		"Tutoring Session")
	return e, mock
}

func q(s string) string { return regexp.QuoteMeta(s) }

var testTime = time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

func requestRows(id, userID uint64, role string, subjectID any) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "user_id", "role", "subject_id", "manually_closed", "created_at"}).
		AddRow(id, userID, role, subjectID, false, testTime)
}

func matchRows(id uint64, uuid string, seekerReq, providerReq uint64, seekerAgree, providerAgree bool) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "uuid", "seeker_request_id", "provider_request_id",
		"seeker_agree", "provider_agree", "created_at", "updated_at"}).
		AddRow(id, uuid, seekerReq, providerReq, seekerAgree, providerAgree, testTime, testTime)
}

func expectProfile(mock sqlmock.Sqlmock, userID uint64, region, gender string, verified bool) {
	mock.ExpectQuery(q("SELECT user_id, region, gender, tutor_verified FROM profiles WHERE user_id=?")).
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "region", "gender", "tutor_verified"}).
			AddRow(userID, region, gender, verified))
	mock.ExpectQuery(q("SELECT subject_id FROM tutor_subjects WHERE user_id=?")).
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"subject_id"}))
}

func candidateRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "user_id", "role", "subject_id", "manually_closed", "created_at",
		"region", "gender", "tutor_verified"})
}

func TestSubmitRequiresSubjectForSeeker(t *testing.T) {
	e, mock := newTestEngine(t)
	_, _, err := e.Submit(context.Background(), 1, model.RoleSeeker, nil)
	if !errors.Is(err, ErrSubjectRequired) {
		t.Fatalf("err = %v, want ErrSubjectRequired", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSubmitRejectsUnknownRole(t *testing.T) {
	e, _ := newTestEngine(t)
	if _, _, err := e.Submit(context.Background(), 1, "OWNER", nil); err == nil {
		t.Fatal("expected error for unknown role")
	}
}

func TestSubmitBindsBestCandidate(t *testing.T) {
	e, mock := newTestEngine(t)
	subject := uint64(7)

	expectProfile(mock, 1, "BY", "FEMALE", false)
	mock.ExpectBegin()
	mock.ExpectExec(q("INSERT INTO requests (user_id, role, subject_id) VALUES (?,?,?)")).
		WithArgs(1, model.RoleSeeker, subject).
		WillReturnResult(sqlmock.NewResult(100, 1))
	mock.ExpectQuery(q("FROM requests WHERE id=?")).
		WithArgs(100).
		WillReturnRows(requestRows(100, 1, model.RoleSeeker, subject))
	// Two open provider requests: the second one shares region and
	// gender with the searcher and must win.
	mock.ExpectQuery(q("WHERE r.role = 'PROVIDER'")).
		WithArgs(1, subject, 100, 1).
		WillReturnRows(candidateRows().
			AddRow(50, 2, model.RoleProvider, nil, false, testTime, "BW", "MALE", true).
			AddRow(51, 3, model.RoleProvider, nil, false, testTime.Add(time.Minute), "BY", "FEMALE", true))
	mock.ExpectExec(q("INSERT INTO matches (uuid, seeker_request_id, provider_request_id) VALUES (?,?,?)")).
		WithArgs(sqlmock.AnyArg(), 100, 51).
		WillReturnResult(sqlmock.NewResult(7, 1))
	mock.ExpectQuery(q("FROM matches WHERE id=?")).
		WithArgs(7).
		WillReturnRows(matchRows(7, "match-uuid", 100, 51, false, false))
	mock.ExpectCommit()

	req, match, err := e.Submit(context.Background(), 1, model.RoleSeeker, &subject)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if req.ID != 100 {
		t.Fatalf("request id = %d, want 100", req.ID)
	}
	if match == nil || match.ProviderRequestID != 51 {
		t.Fatalf("match = %+v, want provider request 51", match)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSubmitLeavesRequestPendingWithoutCandidates(t *testing.T) {
	e, mock := newTestEngine(t)
	subject := uint64(7)

	expectProfile(mock, 1, "BY", "FEMALE", false)
	mock.ExpectBegin()
	mock.ExpectExec(q("INSERT INTO requests")).
		WithArgs(1, model.RoleSeeker, subject).
		WillReturnResult(sqlmock.NewResult(100, 1))
	mock.ExpectQuery(q("FROM requests WHERE id=?")).
		WithArgs(100).
		WillReturnRows(requestRows(100, 1, model.RoleSeeker, subject))
	mock.ExpectQuery(q("WHERE r.role = 'PROVIDER'")).
		WithArgs(1, subject, 100, 1).
		WillReturnRows(candidateRows())
	mock.ExpectCommit()

	_, match, err := e.Submit(context.Background(), 1, model.RoleSeeker, &subject)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if match != nil {
		t.Fatalf("match = %+v, want nil", match)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSubmitRetriesNextCandidateAfterLostBindRace(t *testing.T) {
	e, mock := newTestEngine(t)
	subject := uint64(7)

	expectProfile(mock, 1, "BY", "FEMALE", false)
	mock.ExpectBegin()
	mock.ExpectExec(q("INSERT INTO requests")).
		WithArgs(1, model.RoleSeeker, subject).
		WillReturnResult(sqlmock.NewResult(100, 1))
	mock.ExpectQuery(q("FROM requests WHERE id=?")).
		WithArgs(100).
		WillReturnRows(requestRows(100, 1, model.RoleSeeker, subject))
	mock.ExpectQuery(q("WHERE r.role = 'PROVIDER'")).
		WithArgs(1, subject, 100, 1).
		WillReturnRows(candidateRows().
			AddRow(50, 2, model.RoleProvider, nil, false, testTime, "BW", "MALE", true).
			AddRow(51, 3, model.RoleProvider, nil, false, testTime.Add(time.Minute), "BY", "FEMALE", true))
	// Candidate 51 was bound by a concurrent searcher in the meantime:
	// the unique key rejects the insert and the engine moves on to the
	// next best candidate instead of failing the submission.
	mock.ExpectExec(q("INSERT INTO matches")).
		WithArgs(sqlmock.AnyArg(), 100, 51).
		WillReturnError(errors.New("Error 1062 (23000): Duplicate entry '51' for key 'matches.provider_request_id'"))
	mock.ExpectExec(q("INSERT INTO matches")).
		WithArgs(sqlmock.AnyArg(), 100, 50).
		WillReturnResult(sqlmock.NewResult(8, 1))
	mock.ExpectQuery(q("FROM matches WHERE id=?")).
		WithArgs(8).
		WillReturnRows(matchRows(8, "match-uuid-2", 100, 50, false, false))
	mock.ExpectCommit()

	_, match, err := e.Submit(context.Background(), 1, model.RoleSeeker, &subject)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if match == nil || match.ProviderRequestID != 50 {
		t.Fatalf("match = %+v, want provider request 50", match)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func expectMatchWithParties(mock sqlmock.Sqlmock, uuid string, seekerAgree, providerAgree bool) {
	mock.ExpectQuery(q("FROM matches WHERE uuid=? FOR UPDATE")).
		WithArgs(uuid).
		WillReturnRows(matchRows(7, uuid, 100, 101, seekerAgree, providerAgree))
	mock.ExpectQuery(q("FROM requests WHERE id=? FOR UPDATE")).
		WithArgs(100).
		WillReturnRows(requestRows(100, 1, model.RoleSeeker, 7))
	mock.ExpectQuery(q("FROM requests WHERE id=? FOR UPDATE")).
		WithArgs(101).
		WillReturnRows(requestRows(101, 2, model.RoleProvider, nil))
}

func TestSetAgreementPromotesMatchToMeeting(t *testing.T) {
	e, mock := newTestEngine(t)

	mock.ExpectBegin()
	expectMatchWithParties(mock, "m-1", false, true)
	mock.ExpectExec(q("UPDATE matches SET seeker_agree=?, updated_at=NOW() WHERE id=?")).
		WithArgs(true, 7).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(q("FROM matches WHERE id=?")).
		WithArgs(7).
		WillReturnRows(matchRows(7, "m-1", 100, 101, true, true))
	mock.ExpectQuery(q("SELECT 1 FROM meetings WHERE match_uuid=? LIMIT 1")).
		WithArgs("m-1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(q("INSERT INTO meetings (id, match_uuid, student_user_id, tutor_user_id, name) VALUES (?,?,?,?,?)")).
		WithArgs(sqlmock.AnyArg(), "m-1", 1, 2, "Tutoring Session").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	match, meeting, err := e.SetAgreement(context.Background(), "m-1", 1, true)
	if err != nil {
		t.Fatalf("SetAgreement: %v", err)
	}
	if !match.Agreed() {
		t.Fatalf("match not agreed after promotion: %+v", match)
	}
	if meeting == nil {
		t.Fatal("expected a meeting to be created on mutual agreement")
	}
	if meeting.StudentUserID == nil || *meeting.StudentUserID != 1 {
		t.Fatalf("student user = %v, want 1", meeting.StudentUserID)
	}
	if meeting.TutorUserID == nil || *meeting.TutorUserID != 2 {
		t.Fatalf("tutor user = %v, want 2", meeting.TutorUserID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSetAgreementOneSidedCreatesNoMeeting(t *testing.T) {
	e, mock := newTestEngine(t)

	mock.ExpectBegin()
	expectMatchWithParties(mock, "m-1", false, false)
	mock.ExpectExec(q("UPDATE matches SET provider_agree=?, updated_at=NOW() WHERE id=?")).
		WithArgs(true, 7).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(q("FROM matches WHERE id=?")).
		WithArgs(7).
		WillReturnRows(matchRows(7, "m-1", 100, 101, false, true))
	mock.ExpectCommit()

	match, meeting, err := e.SetAgreement(context.Background(), "m-1", 2, true)
	if err != nil {
		t.Fatalf("SetAgreement: %v", err)
	}
	if meeting != nil {
		t.Fatalf("meeting = %+v, want nil before mutual agreement", meeting)
	}
	if match.Agreed() {
		t.Fatal("match must not be agreed with one answer")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSetAgreementRejectsNonParticipant(t *testing.T) {
	e, mock := newTestEngine(t)

	mock.ExpectBegin()
	expectMatchWithParties(mock, "m-1", false, false)
	mock.ExpectRollback()

	_, _, err := e.SetAgreement(context.Background(), "m-1", 99, true)
	if !errors.Is(err, repository.ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSetAgreementOnSettledMatchIsInvariantViolation(t *testing.T) {
	e, mock := newTestEngine(t)

	mock.ExpectBegin()
	expectMatchWithParties(mock, "m-1", true, true)
	mock.ExpectRollback()

	_, _, err := e.SetAgreement(context.Background(), "m-1", 1, true)
	if !errors.Is(err, ErrInvariantViolation) {
		t.Fatalf("err = %v, want ErrInvariantViolation", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSetAgreementSweepsStaleMatchFirst(t *testing.T) {
	e, mock := newTestEngineTTL(t, 15*time.Minute)

	mock.ExpectBegin()
	// The proposal being answered outlived the TTL, so the sweep
	// terminates it before the answer is even looked at: exclusions in
	// both directions, both sides re-enter search, and the follow-up
	// lookup of the answered match comes back empty.
	mock.ExpectQuery(q("WHERE created_at <= ?")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(matchRows(7, "m-old", 100, 101, false, true))
	mock.ExpectQuery(q("FROM requests WHERE id=? FOR UPDATE")).
		WithArgs(100).
		WillReturnRows(requestRows(100, 1, model.RoleSeeker, 7))
	mock.ExpectQuery(q("FROM requests WHERE id=? FOR UPDATE")).
		WithArgs(101).
		WillReturnRows(requestRows(101, 2, model.RoleProvider, nil))
	mock.ExpectExec(q("DELETE FROM matches WHERE id=?")).
		WithArgs(7).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("INSERT IGNORE INTO failed_matches (request_id, user_id) VALUES (?,?)")).
		WithArgs(100, 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("INSERT IGNORE INTO failed_matches (request_id, user_id) VALUES (?,?)")).
		WithArgs(101, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectProfile(mock, 1, "BY", "FEMALE", false)
	mock.ExpectQuery(q("WHERE r.role = 'PROVIDER'")).
		WithArgs(1, 7, 100, 1).
		WillReturnRows(candidateRows())
	expectProfile(mock, 2, "BY", "MALE", true)
	mock.ExpectQuery(q("WHERE r.role = 'SEEKER'")).
		WithArgs(2, 2, 101, 2).
		WillReturnRows(candidateRows())
	mock.ExpectQuery(q("FROM matches WHERE uuid=? FOR UPDATE")).
		WithArgs("m-old").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, _, err := e.SetAgreement(context.Background(), "m-old", 1, true)
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("err = %v, want sql.ErrNoRows for a swept proposal", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTerminateExcludesBothSidesAndResearches(t *testing.T) {
	e, mock := newTestEngine(t)

	mock.ExpectBegin()
	expectMatchWithParties(mock, "m-1", false, true)
	mock.ExpectExec(q("DELETE FROM matches WHERE id=?")).
		WithArgs(7).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// Exclusions are written in both directions before re-dispatch.
	mock.ExpectExec(q("INSERT IGNORE INTO failed_matches (request_id, user_id) VALUES (?,?)")).
		WithArgs(100, 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("INSERT IGNORE INTO failed_matches (request_id, user_id) VALUES (?,?)")).
		WithArgs(101, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// Both sides re-enter search; no candidates remain.
	expectProfile(mock, 1, "BY", "FEMALE", false)
	mock.ExpectQuery(q("WHERE r.role = 'PROVIDER'")).
		WithArgs(1, 7, 100, 1).
		WillReturnRows(candidateRows())
	expectProfile(mock, 2, "BY", "MALE", true)
	mock.ExpectQuery(q("WHERE r.role = 'SEEKER'")).
		WithArgs(2, 2, 101, 2).
		WillReturnRows(candidateRows())
	mock.ExpectCommit()

	if err := e.Terminate(context.Background(), "m-1"); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTerminateAgreedMatchWritesNoExclusions(t *testing.T) {
	e, mock := newTestEngine(t)

	mock.ExpectBegin()
	expectMatchWithParties(mock, "m-1", true, true)
	mock.ExpectExec(q("DELETE FROM matches WHERE id=?")).
		WithArgs(7).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := e.Terminate(context.Background(), "m-1"); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestConsumeMeetingReleasesPool(t *testing.T) {
	e, mock := newTestEngine(t)

	meetingRows := sqlmock.NewRows([]string{"id", "match_uuid", "student_user_id", "tutor_user_id", "name",
		"attendee_pw", "moderator_pw", "established", "establishing", "ended",
		"time_established", "time_ended", "created_at"}).
		AddRow("meet-1", "m-1", 1, 2, "Tutoring Session", "apw", "mpw", true, false, true, testTime, testTime, testTime)
	mock.ExpectQuery(q("FROM meetings WHERE id=? LIMIT 1")).
		WithArgs("meet-1").
		WillReturnRows(meetingRows)
	mock.ExpectBegin()
	mock.ExpectQuery(q("FROM matches WHERE uuid=? FOR UPDATE")).
		WithArgs("m-1").
		WillReturnRows(matchRows(7, "m-1", 100, 101, true, true))
	mock.ExpectExec(q("DELETE FROM matches WHERE id=?")).
		WithArgs(7).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("DELETE FROM requests WHERE id=?")).
		WithArgs(100).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("DELETE FROM requests WHERE id=?")).
		WithArgs(101).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := e.ConsumeMeeting(context.Background(), "meet-1"); err != nil {
		t.Fatalf("ConsumeMeeting: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestConsumeMeetingWithGoneMatchIsIdempotent(t *testing.T) {
	e, mock := newTestEngine(t)

	meetingRows := sqlmock.NewRows([]string{"id", "match_uuid", "student_user_id", "tutor_user_id", "name",
		"attendee_pw", "moderator_pw", "established", "establishing", "ended",
		"time_established", "time_ended", "created_at"}).
		AddRow("meet-1", "m-1", 1, 2, "Tutoring Session", "apw", "mpw", true, false, true, testTime, testTime, testTime)
	mock.ExpectQuery(q("FROM meetings WHERE id=? LIMIT 1")).
		WithArgs("meet-1").
		WillReturnRows(meetingRows)
	mock.ExpectBegin()
	mock.ExpectQuery(q("FROM matches WHERE uuid=? FOR UPDATE")).
		WithArgs("m-1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	if err := e.ConsumeMeeting(context.Background(), "meet-1"); err != nil {
		t.Fatalf("ConsumeMeeting on consumed meeting: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
