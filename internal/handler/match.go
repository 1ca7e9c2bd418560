package handler

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/studistern/tutor-roulette/internal/conference"
	"github.com/studistern/tutor-roulette/internal/matching"
	"github.com/studistern/tutor-roulette/internal/repository"
)

// MatchHandler drives agreement and rejection on proposed matches.
type MatchHandler struct {
	Engine      *matching.Engine
	Provisioner *conference.Provisioner
}

func NewMatchHandler(e *matching.Engine, p *conference.Provisioner) *MatchHandler {
	return &MatchHandler{Engine: e, Provisioner: p}
}

type answerReq struct {
	Agree bool `json:"agree"`
}

// Answer records the caller's side of the agreement handshake. When
// both sides have agreed, a meeting record comes back from the engine
// and provisioning starts in the background so neither caller blocks
// on the remote conference service.
// POST /v1/matches/:uuid/answer
func (h *MatchHandler) Answer(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	matchUUID := c.Param("uuid")
	var req answerReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}

	if !req.Agree {
		// Rejection dissolves the match and re-queues both requests.
		if _, err := h.Engine.MatchForUser(c.Request().Context(), matchUUID, userID); err != nil {
			return h.matchError(c, err)
		}
		// The membership check ran in its own transaction, so the match
		// may already be gone here; matchError turns that into a 404.
		if err := h.Engine.Terminate(c.Request().Context(), matchUUID); err != nil {
			return h.matchError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}

	match, meeting, err := h.Engine.SetAgreement(c.Request().Context(), matchUUID, userID, true)
	if err != nil {
		if errors.Is(err, matching.ErrInvariantViolation) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "match already settled"})
		}
		return h.matchError(c, err)
	}

	resp := echo.Map{"match": toMatchView(match)}
	if meeting != nil {
		go func(id string) {
			if _, err := h.Provisioner.Establish(context.WithoutCancel(c.Request().Context()), id); err != nil {
				log.Printf("match-handler: establish %s failed: %v", id, err)
			}
		}(meeting.ID)
		resp["meeting"] = echo.Map{"id": meeting.ID, "established": meeting.Established}
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *MatchHandler) matchError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "match not found"})
	case errors.Is(err, repository.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "not a party to this match"})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "match operation failed"})
	}
}
