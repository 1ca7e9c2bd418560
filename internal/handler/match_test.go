package handler

import (
	"database/sql"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"

	"github.com/studistern/tutor-roulette/internal/matching"
	"github.com/studistern/tutor-roulette/internal/model"
	"github.com/studistern/tutor-roulette/internal/repository"
)

func newAnswerContext(t *testing.T, userID float64, body string) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/matches/m-1/answer", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("uuid")
	c.SetParamValues("m-1")
	c.Set("user_id", userID)
	return c, rec
}

func newMatchEngine(t *testing.T) (*matching.Engine, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	e := matching.NewEngine(db,
		repository.NewRequestRepo(db),
		repository.NewMatchRepo(db),
		repository.NewMeetingRepo(db),
		repository.NewProfileRepo(db),
		0, "Tutoring Session")
	return e, mock
}

func expectAnswerParties(mock sqlmock.Sqlmock) {
	at := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery("FROM matches WHERE uuid=").
		WillReturnRows(sqlmock.NewRows([]string{"id", "uuid", "seeker_request_id", "provider_request_id",
			"seeker_agree", "provider_agree", "created_at", "updated_at"}).
			AddRow(7, "m-1", 100, 101, false, false, at, at))
	mock.ExpectQuery("FROM requests WHERE id=").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "role", "subject_id", "manually_closed", "created_at"}).
			AddRow(100, 1, model.RoleSeeker, 7, false, at))
	mock.ExpectQuery("FROM requests WHERE id=").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "role", "subject_id", "manually_closed", "created_at"}).
			AddRow(101, 2, model.RoleProvider, nil, false, at))
}

func TestAnswerRejectByNonPartyIsForbidden(t *testing.T) {
	engine, mock := newMatchEngine(t)
	h := NewMatchHandler(engine, nil)

	mock.ExpectBegin()
	expectAnswerParties(mock)
	mock.ExpectRollback()

	c, rec := newAnswerContext(t, 99, `{"agree":false}`)
	if err := h.Answer(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAnswerRejectAfterConcurrentTerminationIsNotFound(t *testing.T) {
	engine, mock := newMatchEngine(t)
	h := NewMatchHandler(engine, nil)

	// The membership check still sees the match, but it is gone by the
	// time termination runs; the caller gets a 404, not a server error.
	mock.ExpectBegin()
	expectAnswerParties(mock)
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectQuery("FROM matches WHERE uuid=").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	c, rec := newAnswerContext(t, 1, `{"agree":false}`)
	if err := h.Answer(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
