package handler

import (
	"database/sql"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/studistern/tutor-roulette/internal/conference"
	"github.com/studistern/tutor-roulette/internal/matching"
	"github.com/studistern/tutor-roulette/internal/queue"
	"github.com/studistern/tutor-roulette/internal/repository"
	queue_publisher "github.com/studistern/tutor-roulette/internal/service"
)

// MeetingHandler exposes the lifecycle of provisioned sessions: join
// links, moderator end, raw remote info, and the public end-of-call
// callback the conference server fires.
type MeetingHandler struct {
	Engine      *matching.Engine
	Provisioner *conference.Provisioner
	Users       *repository.UserRepo
	Meetings    *repository.MeetingRepo
}

func NewMeetingHandler(e *matching.Engine, p *conference.Provisioner, u *repository.UserRepo, m *repository.MeetingRepo) *MeetingHandler {
	return &MeetingHandler{Engine: e, Provisioner: p, Users: u, Meetings: m}
}

// Join returns a signed join URL for the caller.  Establishing the
// meeting is lazy: the first join provisions the remote session, later
// joins reuse the stored credentials.  Tutors join as moderators.
// GET /v1/meetings/:id/join
func (h *MeetingHandler) Join(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	meetingID := c.Param("id")
	ctx := c.Request().Context()

	u, err := h.Users.GetByID(ctx, userID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load user failed"})
	}
	meeting, err := h.Meetings.GetMeeting(ctx, meetingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "meeting not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	if !meeting.IsMember(userID) {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "not a member of this meeting"})
	}
	if meeting.Ended {
		return c.JSON(http.StatusGone, echo.Map{"error": "meeting already ended"})
	}

	moderator := meeting.TutorUserID != nil && *meeting.TutorUserID == userID
	link, ok, err := h.Provisioner.JoinLink(ctx, meetingID, u, repository.FullName(u), moderator)
	if err != nil {
		if errors.Is(err, conference.ErrRemote) {
			return c.JSON(http.StatusBadGateway, echo.Map{"error": "conference service unavailable"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "join failed"})
	}
	if !ok {
		return c.JSON(http.StatusConflict, echo.Map{"error": "meeting not ready"})
	}
	return c.JSON(http.StatusOK, echo.Map{"join_url": link, "moderator": moderator})
}

// End lets the tutor end the session explicitly.  The remote meeting
// is torn down first, then an ended event is published so the consumer
// settles the pool the same way the callback path does.
// POST /v1/meetings/:id/end
func (h *MeetingHandler) End(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	meetingID := c.Param("id")
	ctx := c.Request().Context()

	meeting, err := h.Meetings.GetMeeting(ctx, meetingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "meeting not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	if meeting.TutorUserID == nil || *meeting.TutorUserID != userID {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "only the tutor may end the meeting"})
	}
	if meeting.Ended {
		return c.NoContent(http.StatusNoContent)
	}

	if err := h.Provisioner.End(ctx, meetingID); err != nil {
		switch {
		case errors.Is(err, conference.ErrNotEstablished):
			return c.JSON(http.StatusConflict, echo.Map{"error": "meeting was never established"})
		case errors.Is(err, conference.ErrRemote):
			return c.JSON(http.StatusBadGateway, echo.Map{"error": "conference service unavailable"})
		default:
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "end failed"})
		}
	}

	if err := queue_publisher.PublishMeetingEnded(ctx, queue.MeetingEndedEvent{
		MeetingID: meetingID,
		Source:    "moderator",
		EndedAt:   time.Now().UTC(),
	}); err != nil {
		// The meeting is already marked ended locally; settle the pool
		// inline when the broker is unreachable.
		log.Printf("meeting-handler: publish ended event failed, settling inline: %v", err)
		if err := h.Engine.ConsumeMeeting(ctx, meetingID); err != nil {
			log.Printf("meeting-handler: inline settle failed for %s: %v", meetingID, err)
		}
	}
	return c.NoContent(http.StatusNoContent)
}

// Info proxies the raw remote meeting state to a member.
// GET /v1/meetings/:id/info
func (h *MeetingHandler) Info(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	meetingID := c.Param("id")
	ctx := c.Request().Context()

	meeting, err := h.Meetings.GetMeeting(ctx, meetingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "meeting not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	if !meeting.IsMember(userID) {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "not a member of this meeting"})
	}

	raw, err := h.Provisioner.Info(ctx, meetingID)
	if err != nil {
		switch {
		case errors.Is(err, conference.ErrNotEstablished):
			return c.JSON(http.StatusConflict, echo.Map{"error": "meeting not established"})
		case errors.Is(err, conference.ErrRemote):
			return c.JSON(http.StatusBadGateway, echo.Map{"error": "conference service unavailable"})
		default:
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "info failed"})
		}
	}
	return c.Blob(http.StatusOK, "application/xml", raw)
}

// EndCallback is the unauthenticated webhook the conference server
// calls when everyone left the room.  It only enqueues the event;
// settling the pool happens in the queue consumer so a flaky callback
// retry stays idempotent.
// GET /v1/meetings/:id/end-callback
func (h *MeetingHandler) EndCallback(c echo.Context) error {
	meetingID := c.Param("id")

	// Unknown IDs are acknowledged without publishing so the remote
	// server stops retrying.
	if _, err := h.Meetings.GetMeeting(c.Request().Context(), meetingID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c.NoContent(http.StatusNoContent)
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}

	if err := queue_publisher.PublishMeetingEnded(c.Request().Context(), queue.MeetingEndedEvent{
		MeetingID: meetingID,
		Source:    "callback",
		EndedAt:   time.Now().UTC(),
	}); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "enqueue failed"})
	}
	return c.NoContent(http.StatusNoContent)
}
