package handler

import (
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/studistern/tutor-roulette/internal/model"
	"github.com/studistern/tutor-roulette/internal/repository"
)

// FeedbackHandler records post-session ratings between participants.
type FeedbackHandler struct {
	Feedback *repository.FeedbackRepo
	Meetings *repository.MeetingRepo
}

func NewFeedbackHandler(f *repository.FeedbackRepo, m *repository.MeetingRepo) *FeedbackHandler {
	return &FeedbackHandler{Feedback: f, Meetings: m}
}

type feedbackReq struct {
	MeetingID string `json:"meeting_id"`
	Rating    *uint8 `json:"rating"`
	Message   string `json:"message"`
}

// Create stores one rating per (giver, receiver, meeting).  Both
// participants of an ended meeting may rate each other exactly once.
// POST /v1/feedback
func (h *FeedbackHandler) Create(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req feedbackReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if strings.TrimSpace(req.MeetingID) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "meeting_id required"})
	}
	if req.Rating == nil || *req.Rating > 5 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "rating must be between 0 and 5"})
	}

	ctx := c.Request().Context()
	meeting, err := h.Meetings.GetMeeting(ctx, req.MeetingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "meeting not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	if !meeting.IsMember(userID) {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "not a member of this meeting"})
	}

	// The receiver is the other participant.
	var receiver uint64
	switch {
	case meeting.StudentUserID != nil && *meeting.StudentUserID == userID && meeting.TutorUserID != nil:
		receiver = *meeting.TutorUserID
	case meeting.TutorUserID != nil && *meeting.TutorUserID == userID && meeting.StudentUserID != nil:
		receiver = *meeting.StudentUserID
	default:
		return c.JSON(http.StatusConflict, echo.Map{"error": "meeting has no counterpart"})
	}

	fb := model.Feedback{
		ReceiverUserID: receiver,
		ProviderUserID: userID,
		MeetingID:      meeting.ID,
		Rating:         *req.Rating,
		Message:        strings.TrimSpace(req.Message),
	}
	if err := h.Feedback.Create(ctx, &fb); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "feedback already given for this meeting"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "save failed"})
	}
	return c.JSON(http.StatusCreated, fb)
}

// ListMine returns the ratings the caller has received.
// GET /v1/feedback
func (h *FeedbackHandler) ListMine(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	items, err := h.Feedback.ListForUser(c.Request().Context(), userID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}
