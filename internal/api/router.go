package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/opdqueue/token-engine/internal/booking"
	"github.com/opdqueue/token-engine/internal/clock"
)

type RouterConfig struct {
	Service *booking.Service
	Repo    booking.Repository
	Clock   clock.Clock
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	Logger  *zap.Logger
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
	}))
	r.Use(httprate.LimitByIP(120, time.Minute))

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	h := NewHandlers(cfg.Service, cfg.Repo, cfg.Clock)

	r.Post("/appointments", h.createAppointment)
	r.Post("/appointments/{id}/confirm", h.confirmAppointment)
	r.Post("/appointments/{id}/skip", h.skipAppointment)
	r.Post("/appointments/{id}/complete", h.completeAppointment)
	r.Post("/appointments/{id}/cancel", h.cancelAppointment)
	r.Post("/appointments/{id}/rejoin", h.rejoinAppointment)
	r.Post("/appointments/{id}/reschedule", h.rescheduleAppointment)
	r.Post("/appointments/{id}/priority", h.setPriority)
	r.Delete("/appointments/{id}/priority", h.clearPriority)

	r.Post("/walkins/preview", h.previewWalkIn)
	r.Post("/walkins", h.createWalkIn)

	r.Get("/queue", h.getQueue)
	r.Get("/capacity", h.getCapacity)

	r.Post("/clinics/{clinicID}/refresh-statuses", h.refreshStatuses)

	return r
}
