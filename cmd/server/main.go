package main

import (
	"context"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/studistern/tutor-roulette/internal/conference"
	"github.com/studistern/tutor-roulette/internal/config"
	"github.com/studistern/tutor-roulette/internal/database"
	"github.com/studistern/tutor-roulette/internal/handler"
	"github.com/studistern/tutor-roulette/internal/matching"
	mw "github.com/studistern/tutor-roulette/internal/middleware"
	"github.com/studistern/tutor-roulette/internal/queue"
	"github.com/studistern/tutor-roulette/internal/repository"
	"github.com/studistern/tutor-roulette/internal/router"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer func() { _ = db.Close() }()

	users := repository.NewUserRepo(db)
	tokens := repository.NewTokenRepo(db)
	profiles := repository.NewProfileRepo(db)
	requests := repository.NewRequestRepo(db)
	matches := repository.NewMatchRepo(db)
	meetings := repository.NewMeetingRepo(db)
	feedback := repository.NewFeedbackRepo(db)

	engine := matching.NewEngine(db, requests, matches, meetings, profiles,
		time.Duration(cfg.MatchTTLMin)*time.Minute, cfg.MeetingName)

	bbb := conference.NewClient(conference.ClientConfig{
		BaseURL:     cfg.BBBBaseURL,
		Secret:      cfg.BBBSecret,
		CallbackURL: cfg.PublicHost,
		LogoutURL:   cfg.LogoutURL,
		Welcome:     cfg.Welcome,
	})
	provisioner := conference.NewProvisioner(meetings, bbb)

	// Settle ended meetings arriving over the broker: mark the row
	// ended, then release the consumed requests from the pool.
	go func() {
		err := queue.StartMeetingConsumer(func(ctx context.Context, ev queue.MeetingEndedEvent) error {
			if err := meetings.MarkEnded(ctx, ev.MeetingID); err != nil {
				return err
			}
			return engine.ConsumeMeeting(ctx, ev.MeetingID)
		})
		if err != nil {
			log.Printf("meeting-consumer: stopped: %v", err)
		}
	}()

	e := echo.New()
	e.HideBanner = true

	var limiter echo.MiddlewareFunc
	if rdb := config.NewRedisClient(); rdb != nil {
		limiter = mw.NewTokenBucket(config.LoadRateLimitConfig(), rdb)
	} else {
		log.Printf("redis unavailable, rate limiting disabled")
	}

	authH := handler.NewAuthHandler(cfg, users, tokens, profiles)
	requestH := handler.NewRequestHandler(engine)
	matchH := handler.NewMatchHandler(engine, provisioner)
	meetingH := handler.NewMeetingHandler(engine, provisioner, users, meetings)
	feedbackH := handler.NewFeedbackHandler(feedback, meetings)

	router.RegisterRoutes(e, authH, meetingH)
	router.RegisterAuth(e, authH, cfg.JWTSecret)
	router.RegisterMatching(e, requestH, matchH, meetingH, feedbackH, cfg.JWTSecret, limiter)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)
	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}
