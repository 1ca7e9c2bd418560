package conference

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/studistern/tutor-roulette/internal/model"
)

// meetingStore is the slice of meeting persistence the provisioner
// needs.  *repository.MeetingRepo satisfies it.
type meetingStore interface {
	GetMeeting(ctx context.Context, id string) (model.Meeting, error)
	TryBeginEstablish(ctx context.Context, id string) (bool, error)
	FinishEstablish(ctx context.Context, id, attendeePW, moderatorPW string) error
	AbortEstablish(ctx context.Context, id string) error
	MarkEnded(ctx context.Context, id string) error
}

// Provisioner creates and ends remote sessions, guaranteeing at most
// one remote create call per meeting id no matter how many callers
// race.  Within this process concurrent callers share the first
// caller's result through an in-flight registry; across processes the
// establishing column claimed by a conditional UPDATE serializes them,
// with losers polling the row on a bounded schedule and re-checking
// the established flag rather than assuming the in-flight call
// succeeded.
type Provisioner struct {
	store  meetingStore
	client *Client

	mu       sync.Mutex
	inflight map[string]chan struct{}

	// PollEvery and WaitFor bound how a non-winning caller waits for
	// the in-flight establishment before giving up.
	PollEvery time.Duration
	WaitFor   time.Duration
}

func NewProvisioner(store meetingStore, client *Client) *Provisioner {
	return &Provisioner{
		store:     store,
		client:    client,
		inflight:  make(map[string]chan struct{}),
		PollEvery: 100 * time.Millisecond,
		WaitFor:   15 * time.Second,
	}
}

// Establish makes sure the remote session for the meeting exists and
// returns the meeting with credentials populated.  The call is
// idempotent per meeting id: the first caller performs the remote
// create, every concurrent caller observes that same outcome.  A
// failed remote call leaves the meeting unestablished; retrying means
// calling Establish again.
func (p *Provisioner) Establish(ctx context.Context, meetingID string) (model.Meeting, error) {
	m, err := p.store.GetMeeting(ctx, meetingID)
	if err != nil {
		return model.Meeting{}, err
	}
	if m.Ended {
		return model.Meeting{}, fmt.Errorf("%w: meeting already ended", ErrNotEstablished)
	}
	if m.Established {
		return m, nil
	}
	claimed, err := p.store.TryBeginEstablish(ctx, meetingID)
	if err != nil {
		return model.Meeting{}, err
	}
	if claimed {
		return p.establish(ctx, m)
	}
	// Another caller holds the guard. Wait for it to clear and
	// re-check established; a waiter never performs the remote call
	// itself and never assumes the in-flight call succeeded.
	deadline := time.Now().Add(p.WaitFor)
	for {
		if err := p.await(ctx, meetingID, deadline); err != nil {
			return model.Meeting{}, err
		}
		m, err = p.store.GetMeeting(ctx, meetingID)
		if err != nil {
			return model.Meeting{}, err
		}
		if m.Established {
			return m, nil
		}
		if !m.Establishing {
			// The in-flight attempt failed; the meeting stays
			// unestablished and the whole call may be retried.
			return model.Meeting{}, fmt.Errorf("%w: in-flight establishment did not complete", ErrRemote)
		}
	}
}

// establish performs the remote create call while holding the guard.
// The guard is always released: on success by FinishEstablish, on any
// failure by AbortEstablish.
func (p *Provisioner) establish(ctx context.Context, m model.Meeting) (model.Meeting, error) {
	done := make(chan struct{})
	p.mu.Lock()
	p.inflight[m.ID] = done
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.inflight, m.ID)
		p.mu.Unlock()
		close(done)
	}()

	creds, err := p.client.Create(ctx, m.ID, m.Name)
	if err != nil {
		if abortErr := p.store.AbortEstablish(ctx, m.ID); abortErr != nil {
			return model.Meeting{}, abortErr
		}
		return model.Meeting{}, err
	}
	if err := p.store.FinishEstablish(ctx, m.ID, creds.AttendeePW, creds.ModeratorPW); err != nil {
		return model.Meeting{}, err
	}
	return p.store.GetMeeting(ctx, m.ID)
}

// await blocks until the in-flight establishment for the meeting
// finishes, one poll interval elapses, or the bounded wait runs out.
func (p *Provisioner) await(ctx context.Context, meetingID string, deadline time.Time) error {
	if time.Now().After(deadline) {
		return fmt.Errorf("%w: timed out waiting for in-flight establishment", ErrRemote)
	}
	p.mu.Lock()
	done := p.inflight[meetingID]
	p.mu.Unlock()
	if done != nil {
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	select {
	case <-time.After(p.PollEvery):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// JoinLink returns a signed join URL for a member of the meeting,
// establishing the remote session first when necessary.  The second
// return value reports whether a link exists at all: a non-member or
// an unestablished meeting yields absence, not an error.
func (p *Provisioner) JoinLink(ctx context.Context, meetingID string, user model.User, fullName string, moderator bool) (string, bool, error) {
	m, err := p.Establish(ctx, meetingID)
	if err != nil {
		return "", false, err
	}
	if !m.IsMember(user.ID) || !m.Established {
		return "", false, nil
	}
	password := *m.AttendeePW
	if moderator {
		password = *m.ModeratorPW
	}
	return p.client.JoinURL(m.ID, fullName, user.ID, password), true, nil
}

// End terminates the remote session and marks the meeting ended.  The
// meeting must be established; releasing the consumed requests is the
// engine's job and happens after this returns.
func (p *Provisioner) End(ctx context.Context, meetingID string) error {
	m, err := p.store.GetMeeting(ctx, meetingID)
	if err != nil {
		return err
	}
	if !m.Established || m.ModeratorPW == nil {
		return ErrNotEstablished
	}
	if m.Ended {
		return nil
	}
	if err := p.client.End(ctx, m.ID, *m.ModeratorPW); err != nil {
		return err
	}
	return p.store.MarkEnded(ctx, meetingID)
}

// Info fetches the remote status blob for an established meeting.
func (p *Provisioner) Info(ctx context.Context, meetingID string) ([]byte, error) {
	m, err := p.store.GetMeeting(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if !m.Established {
		return nil, ErrNotEstablished
	}
	return p.client.MeetingInfo(ctx, m.ID)
}
