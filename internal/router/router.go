package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"

	"github.com/studistern/tutor-roulette/internal/handler"
	"github.com/studistern/tutor-roulette/internal/middleware"
	"github.com/studistern/tutor-roulette/internal/model"
)

// RegisterRoutes registers routes that do not require authentication:
// the health check, the public subject catalogue, and the end-of-call
// callback the conference server fires without credentials.
func RegisterRoutes(e *echo.Echo, a *handler.AuthHandler, m *handler.MeetingHandler) {
	e.GET("/healthz", handler.Health)
	e.GET("/v1/subjects", a.ListSubjects)
	// The conference server calls back with GET per its API convention.
	e.GET("/v1/meetings/:id/end-callback", m.EndCallback)
}

// RegisterAuth registers authentication routes and the authenticated
// account endpoints.  Unauthenticated operations live under /v1/auth,
// protected ones under /v1.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string) {
	g := e.Group("/v1/auth")
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	g.POST("/refresh", a.Refresh)
	g.POST("/refresh-access", a.RefreshAccess)
	// Logout takes the refresh token in the body, no JWT required.
	g.POST("/logout", a.Logout)

	auth := e.Group("/v1")
	auth.Use(middleware.JWTAuth(jwtSecret))
	auth.Use(middleware.RequireRole(model.RoleStudent, model.RoleTutor))
	auth.GET("/me", a.Me)

	tutor := e.Group("/v1/tutor")
	tutor.Use(middleware.JWTAuth(jwtSecret))
	tutor.Use(middleware.RequireRole(model.RoleTutor))
	tutor.PUT("/subjects", a.SetSubjects)
}

// RegisterMatching registers the pool endpoints: request intake,
// withdrawal and polling, the agreement handshake, session access and
// post-session feedback.  The token bucket wraps the whole group so a
// busy polling client cannot starve the database.
func RegisterMatching(e *echo.Echo, r *handler.RequestHandler, mh *handler.MatchHandler,
	me *handler.MeetingHandler, f *handler.FeedbackHandler,
	jwtSecret string, limiter echo.MiddlewareFunc) {

	g := e.Group("/v1")
	g.Use(middleware.JWTAuth(jwtSecret))
	g.Use(middleware.RequireRole(model.RoleStudent, model.RoleTutor))
	if limiter != nil {
		g.Use(limiter)
	}

	g.POST("/requests", r.Submit)
	g.GET("/requests/:role", r.Current)
	g.DELETE("/requests/:role", r.Withdraw)

	g.POST("/matches/:uuid/answer", mh.Answer)

	g.GET("/meetings/:id/join", me.Join)
	g.GET("/meetings/:id/info", me.Info)
	g.POST("/meetings/:id/end", me.End)

	g.POST("/feedback", f.Create)
	g.GET("/feedback", f.ListMine)
}
