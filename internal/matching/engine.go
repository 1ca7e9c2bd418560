package matching

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/studistern/tutor-roulette/internal/model"
	"github.com/studistern/tutor-roulette/internal/repository"
)

// ErrInvariantViolation is returned when the pool reaches a state that
// is impossible under the defined transitions, such as mutating the
// agreement flags of a match that already has a meeting bound. It is
// fatal to the operation and must never be swallowed.
var ErrInvariantViolation = errors.New("invariant violation")

// ErrSubjectRequired is returned when a seeker request is submitted
// without a subject.
var ErrSubjectRequired = errors.New("subject required for seeker requests")

// Engine owns every mutation of the matching pool.  Each public method
// is one synchronous unit of work inside a single transaction; the
// retry dispatch (re-running search after a request mutation) happens
// inline in the same transaction, never as a separately scheduled task.
type Engine struct {
	DB       *sql.DB
	Requests *repository.RequestRepo
	Matches  *repository.MatchRepo
	Meetings *repository.MeetingRepo
	Profiles *repository.ProfileRepo

	// MatchTTL bounds how long a proposal may wait for mutual
	// agreement before the lazy sweep terminates it with reason
	// timeout.
	MatchTTL time.Duration

	// MeetingName is the display name sent to the conferencing
	// service for every provisioned session.
	MeetingName string
}

func NewEngine(db *sql.DB, requests *repository.RequestRepo, matches *repository.MatchRepo,
	meetings *repository.MeetingRepo, profiles *repository.ProfileRepo,
	matchTTL time.Duration, meetingName string) *Engine {
	if db == nil || requests == nil || matches == nil || meetings == nil || profiles == nil {
		panic("nil dependency passed to NewEngine")
	}
	return &Engine{
		DB:          db,
		Requests:    requests,
		Matches:     matches,
		Meetings:    meetings,
		Profiles:    profiles,
		MatchTTL:    matchTTL,
		MeetingName: meetingName,
	}
}

// Submit opens a new request for the user and immediately searches for
// a counterpart.  It returns repository.ErrConflict when the user
// already owns an open request of that role.  The returned match is
// nil when no compatible counterpart exists yet; the request then
// stays pending until a future pool mutation re-evaluates it.
func (e *Engine) Submit(ctx context.Context, userID uint64, role string, subjectID *uint64) (model.Request, *model.Match, error) {
	if role != model.RoleSeeker && role != model.RoleProvider {
		return model.Request{}, nil, errors.New("unknown request role")
	}
	if role == model.RoleSeeker && subjectID == nil {
		return model.Request{}, nil, ErrSubjectRequired
	}
	prof, err := e.Profiles.Get(ctx, userID)
	if err != nil {
		return model.Request{}, nil, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return model.Request{}, nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := e.expireStaleTx(ctx, tx); err != nil {
		return model.Request{}, nil, err
	}
	req := model.Request{UserID: userID, Role: role, SubjectID: subjectID}
	if err := e.Requests.CreateTx(ctx, tx, &req); err != nil {
		return model.Request{}, nil, err
	}
	match, err := e.searchTx(ctx, tx, req, prof)
	if err != nil {
		return model.Request{}, nil, err
	}
	if err := tx.Commit(); err != nil {
		return model.Request{}, nil, err
	}
	committed = true
	return req, match, nil
}

// Withdraw closes the user's open request of the given role.  The
// request is flagged manually closed before anything else so that the
// termination of a bound match neither re-queues it nor writes
// exclusion data on its behalf.  Returns sql.ErrNoRows when the user
// has no open request of that role.
func (e *Engine) Withdraw(ctx context.Context, userID uint64, role string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	req, err := e.Requests.GetOpenByUserTx(ctx, tx, userID, role)
	if err != nil {
		return err
	}
	if err := e.Requests.MarkManuallyClosedTx(ctx, tx, req.ID); err != nil {
		return err
	}
	match, err := e.Matches.GetByRequestIDTx(ctx, tx, req.ID)
	switch {
	case err == nil:
		if err := e.terminateTx(ctx, tx, match); err != nil {
			return err
		}
	case errors.Is(err, sql.ErrNoRows):
		// nothing bound, plain withdrawal
	default:
		return err
	}
	if err := e.Requests.DeleteTx(ctx, tx, req.ID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// SetAgreement records one side's answer to a proposed match.  When
// the post-mutation state has both flags true and no meeting bound
// yet, the match is promoted: a meeting row owned by the two
// participants is created in the same transaction and returned so the
// caller can invoke provisioning after commit.  Both flags true with a
// meeting already bound is impossible under the defined transitions
// and yields ErrInvariantViolation.  Stale proposals are swept first,
// so answering a match that outlived MatchTTL yields sql.ErrNoRows.
func (e *Engine) SetAgreement(ctx context.Context, matchUUID string, userID uint64, agree bool) (model.Match, *model.Meeting, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return model.Match{}, nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := e.expireStaleTx(ctx, tx); err != nil {
		return model.Match{}, nil, err
	}
	match, err := e.Matches.GetByUUIDTx(ctx, tx, matchUUID)
	if err != nil {
		return model.Match{}, nil, err
	}
	seekerReq, err := e.Requests.GetByIDTx(ctx, tx, match.SeekerRequestID)
	if err != nil {
		return model.Match{}, nil, err
	}
	providerReq, err := e.Requests.GetByIDTx(ctx, tx, match.ProviderRequestID)
	if err != nil {
		return model.Match{}, nil, err
	}
	var seekerSide bool
	switch userID {
	case seekerReq.UserID:
		seekerSide = true
	case providerReq.UserID:
		seekerSide = false
	default:
		return model.Match{}, nil, repository.ErrForbidden
	}
	if match.Agreed() {
		// Nothing may mutate the agreement sub-machine after it
		// reached its terminal state.
		return model.Match{}, nil, ErrInvariantViolation
	}
	match, err = e.Matches.SetAgreementTx(ctx, tx, match.ID, seekerSide, agree)
	if err != nil {
		return model.Match{}, nil, err
	}
	var meeting *model.Meeting
	if match.Agreed() {
		bound, err := e.Matches.HasMeetingTx(ctx, tx, match.UUID)
		if err != nil {
			return model.Match{}, nil, err
		}
		if bound {
			return model.Match{}, nil, ErrInvariantViolation
		}
		m := model.Meeting{
			ID:            uuid.NewString(),
			MatchUUID:     &match.UUID,
			StudentUserID: &seekerReq.UserID,
			TutorUserID:   &providerReq.UserID,
			Name:          e.MeetingName,
		}
		if err := e.Meetings.CreateTx(ctx, tx, &m); err != nil {
			return model.Match{}, nil, err
		}
		meeting = &m
	}
	if err := tx.Commit(); err != nil {
		return model.Match{}, nil, err
	}
	committed = true
	return match, meeting, nil
}

// Terminate destroys a match that did not (or should no longer) reach
// a session.  For an unagreed match each side whose request was not
// manually withdrawn gains the opposite party in its failed_matches
// set, and search re-runs for it inside the same transaction.  A match
// that already reached mutual agreement is removed without exclusion
// writes; post-success handling belongs to collaborators.
func (e *Engine) Terminate(ctx context.Context, matchUUID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	match, err := e.Matches.GetByUUIDTx(ctx, tx, matchUUID)
	if err != nil {
		return err
	}
	if err := e.terminateTx(ctx, tx, match); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// MatchForUser loads a match by UUID and verifies the user is one of
// its two parties, returning repository.ErrForbidden otherwise.
func (e *Engine) MatchForUser(ctx context.Context, matchUUID string, userID uint64) (model.Match, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return model.Match{}, err
	}
	defer func() { _ = tx.Rollback() }()
	match, err := e.Matches.GetByUUIDTx(ctx, tx, matchUUID)
	if err != nil {
		return model.Match{}, err
	}
	seekerReq, err := e.Requests.GetByIDTx(ctx, tx, match.SeekerRequestID)
	if err != nil {
		return model.Match{}, err
	}
	providerReq, err := e.Requests.GetByIDTx(ctx, tx, match.ProviderRequestID)
	if err != nil {
		return model.Match{}, err
	}
	if userID != seekerReq.UserID && userID != providerReq.UserID {
		return model.Match{}, repository.ErrForbidden
	}
	if err := tx.Commit(); err != nil {
		return model.Match{}, err
	}
	return match, nil
}

// PoolState is the engine's answer to a participant polling their
// current position: the open request, the proposed match if one is
// bound, and the meeting once the match was promoted.
type PoolState struct {
	Request model.Request
	Match   *model.Match
	Meeting *model.Meeting
}

// Current reports the pool state for the user's open request of the
// given role, sweeping stale proposals first so a timed-out match is
// never reported as still pending.  Returns sql.ErrNoRows when no open
// request exists.
func (e *Engine) Current(ctx context.Context, userID uint64, role string) (PoolState, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return PoolState{}, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := e.expireStaleTx(ctx, tx); err != nil {
		return PoolState{}, err
	}
	req, err := e.Requests.GetOpenByUserTx(ctx, tx, userID, role)
	if err != nil {
		return PoolState{}, err
	}
	state := PoolState{Request: req}
	match, err := e.Matches.GetByRequestIDTx(ctx, tx, req.ID)
	switch {
	case err == nil:
		state.Match = &match
	case errors.Is(err, sql.ErrNoRows):
	default:
		return PoolState{}, err
	}
	if err := tx.Commit(); err != nil {
		return PoolState{}, err
	}
	committed = true
	if state.Match != nil {
		meeting, err := e.Meetings.GetByMatchUUID(ctx, state.Match.UUID)
		switch {
		case err == nil:
			state.Meeting = &meeting
		case errors.Is(err, sql.ErrNoRows):
		default:
			return PoolState{}, err
		}
	}
	return state, nil
}

// ConsumeMeeting releases the requests behind an ended meeting: the
// session was fully consumed, so both member requests and the match
// leave the pool without exclusion writes.  Safe to call more than
// once and for meetings whose match is already gone.
func (e *Engine) ConsumeMeeting(ctx context.Context, meetingID string) error {
	meeting, err := e.Meetings.GetMeeting(ctx, meetingID)
	if err != nil {
		return err
	}
	if meeting.MatchUUID == nil {
		return nil
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	match, err := e.Matches.GetByUUIDTx(ctx, tx, *meeting.MatchUUID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := e.Matches.DeleteTx(ctx, tx, match.ID); err != nil {
		return err
	}
	if err := e.Requests.DeleteTx(ctx, tx, match.SeekerRequestID); err != nil {
		return err
	}
	if err := e.Requests.DeleteTx(ctx, tx, match.ProviderRequestID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// searchTx runs compatibility search for one request and binds at most
// one match.  Candidates arrive pre-filtered (role, verification,
// subject containment, exclusions in both directions, not already
// bound) and ordered by creation time; scoring picks the winner.  A
// bind that loses a commit-time race on the exclusivity keys drops
// that candidate and tries the next best, which is the normal
// "no winner / re-search" path of the losing side.
func (e *Engine) searchTx(ctx context.Context, tx *sql.Tx, req model.Request, prof model.Profile) (*model.Match, error) {
	var (
		cands []repository.Candidate
		err   error
	)
	if req.Role == model.RoleSeeker {
		if req.SubjectID == nil {
			return nil, ErrSubjectRequired
		}
		cands, err = e.Requests.CandidatesForSeekerTx(ctx, tx, req, *req.SubjectID)
	} else {
		cands, err = e.Requests.CandidatesForProviderTx(ctx, tx, req)
	}
	if err != nil {
		return nil, err
	}
	for len(cands) > 0 {
		i := BestCandidate(prof, cands)
		if i < 0 {
			return nil, nil
		}
		match := model.Match{UUID: uuid.NewString()}
		if req.Role == model.RoleSeeker {
			match.SeekerRequestID = req.ID
			match.ProviderRequestID = cands[i].Request.ID
		} else {
			match.SeekerRequestID = cands[i].Request.ID
			match.ProviderRequestID = req.ID
		}
		err := e.Matches.CreateTx(ctx, tx, &match)
		if errors.Is(err, repository.ErrConflict) {
			cands = append(cands[:i], cands[i+1:]...)
			continue
		}
		if err != nil {
			return nil, err
		}
		return &match, nil
	}
	return nil, nil
}

// terminateTx destroys a match inside an existing transaction.  For an
// unagreed match it writes the exclusion lists and re-dispatches search
// for each side that was not manually withdrawn.
func (e *Engine) terminateTx(ctx context.Context, tx *sql.Tx, match model.Match) error {
	seekerReq, err := e.Requests.GetByIDTx(ctx, tx, match.SeekerRequestID)
	if err != nil {
		return err
	}
	providerReq, err := e.Requests.GetByIDTx(ctx, tx, match.ProviderRequestID)
	if err != nil {
		return err
	}
	if err := e.Matches.DeleteTx(ctx, tx, match.ID); err != nil {
		return err
	}
	if match.Agreed() {
		// Late cancellation after success: the session happened (or
		// was at least provisioned), so no exclusions are written and
		// nothing re-enters the pool here.
		return nil
	}
	if !seekerReq.ManuallyClosed {
		if err := e.Requests.AddFailedMatchTx(ctx, tx, seekerReq.ID, providerReq.UserID); err != nil {
			return err
		}
	}
	if !providerReq.ManuallyClosed {
		if err := e.Requests.AddFailedMatchTx(ctx, tx, providerReq.ID, seekerReq.UserID); err != nil {
			return err
		}
	}
	// The exclusion writes are pool mutations, so both surviving
	// requests go through search again within this same unit of work.
	if !seekerReq.ManuallyClosed {
		prof, err := e.Profiles.Get(ctx, seekerReq.UserID)
		if err != nil {
			return err
		}
		if _, err := e.searchTx(ctx, tx, seekerReq, prof); err != nil {
			return err
		}
	}
	if !providerReq.ManuallyClosed {
		prof, err := e.Profiles.Get(ctx, providerReq.UserID)
		if err != nil {
			return err
		}
		if _, err := e.searchTx(ctx, tx, providerReq, prof); err != nil {
			return err
		}
	}
	return nil
}

// expireStaleTx terminates every match that outlived MatchTTL without
// reaching mutual agreement.  The sweep runs lazily at the start of
// pool operations instead of on a background ticker.
func (e *Engine) expireStaleTx(ctx context.Context, tx *sql.Tx) error {
	if e.MatchTTL <= 0 {
		return nil
	}
	cutoff := time.Now().UTC().Add(-e.MatchTTL)
	stale, err := e.Matches.StaleTx(ctx, tx, cutoff)
	if err != nil {
		return err
	}
	for _, m := range stale {
		if err := e.terminateTx(ctx, tx, m); err != nil {
			return err
		}
	}
	return nil
}
