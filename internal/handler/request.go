package handler

import (
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/studistern/tutor-roulette/internal/matching"
	"github.com/studistern/tutor-roulette/internal/model"
	"github.com/studistern/tutor-roulette/internal/repository"
)

// RequestHandler exposes the matching pool over HTTP.
type RequestHandler struct {
	Engine *matching.Engine
}

func NewRequestHandler(e *matching.Engine) *RequestHandler {
	return &RequestHandler{Engine: e}
}

type submitReq struct {
	Role      string  `json:"role"` // SEEKER | PROVIDER
	SubjectID *uint64 `json:"subject_id,omitempty"`
}

type matchView struct {
	UUID          string `json:"uuid"`
	SeekerAgree   bool   `json:"seeker_agree"`
	ProviderAgree bool   `json:"provider_agree"`
	Agreed        bool   `json:"agreed"`
}

func toMatchView(m model.Match) matchView {
	return matchView{
		UUID:          m.UUID,
		SeekerAgree:   m.SeekerAgree,
		ProviderAgree: m.ProviderAgree,
		Agreed:        m.Agreed(),
	}
}

// Submit enters the caller into the pool and runs an immediate search.
// POST /v1/requests
func (h *RequestHandler) Submit(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req submitReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	role := strings.ToUpper(strings.TrimSpace(req.Role))
	if role != model.RoleSeeker && role != model.RoleProvider {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "role must be SEEKER or PROVIDER"})
	}

	request, match, err := h.Engine.Submit(c.Request().Context(), userID, role, req.SubjectID)
	if err != nil {
		switch {
		case errors.Is(err, matching.ErrSubjectRequired):
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "subject_id required"})
		case errors.Is(err, repository.ErrConflict):
			return c.JSON(http.StatusConflict, echo.Map{"error": "open request already exists for this role"})
		case errors.Is(err, sql.ErrNoRows):
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "matching profile required"})
		default:
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "submit failed"})
		}
	}

	resp := echo.Map{"request": request}
	if match != nil {
		resp["match"] = toMatchView(*match)
	}
	return c.JSON(http.StatusCreated, resp)
}

// Withdraw removes the caller's open request for a role.
// DELETE /v1/requests/:role
func (h *RequestHandler) Withdraw(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	role := strings.ToUpper(c.Param("role"))
	if role != model.RoleSeeker && role != model.RoleProvider {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "role must be SEEKER or PROVIDER"})
	}

	if err := h.Engine.Withdraw(c.Request().Context(), userID, role); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "no open request"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "withdraw failed"})
	}
	return c.NoContent(http.StatusNoContent)
}

// Current reports the caller's pool state for a role: the open request,
// a bound match if any, and the meeting once one exists.
// GET /v1/requests/:role
func (h *RequestHandler) Current(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	role := strings.ToUpper(c.Param("role"))
	if role != model.RoleSeeker && role != model.RoleProvider {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "role must be SEEKER or PROVIDER"})
	}

	state, err := h.Engine.Current(c.Request().Context(), userID, role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "no open request"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}

	resp := echo.Map{"request": state.Request}
	if state.Match != nil {
		resp["match"] = toMatchView(*state.Match)
	}
	if state.Meeting != nil {
		resp["meeting"] = echo.Map{
			"id":          state.Meeting.ID,
			"established": state.Meeting.Established,
			"ended":       state.Meeting.Ended,
		}
	}
	return c.JSON(http.StatusOK, resp)
}
