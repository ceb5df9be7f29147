// Package api exposes the parking engine and account service over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Skryldev/parkd/auth"
	"github.com/Skryldev/parkd/parking"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds the collaborators of a Server. Metrics and Observer are
// optional.
type Config struct {
	Engine   *parking.Engine
	Auth     *auth.Service
	Health   Pinger
	Metrics  http.Handler
	Observer RequestObserver
	Logger   *slog.Logger
}

// Server holds the handlers.
type Server struct {
	engine *parking.Engine
	auth   *auth.Service
	health Pinger
	log    *slog.Logger
}

// NewRouter builds the gin engine with every route mounted. gin's global
// mode is left to the caller.
func NewRouter(cfg Config) *gin.Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{
		engine: cfg.Engine,
		auth:   cfg.Auth,
		health: cfg.Health,
		log:    cfg.Logger.With("component", "api"),
	}

	r := gin.New()
	r.Use(requestIDMiddleware(), accessLog(s.log, cfg.Observer), recovery(s.log))
	r.NoRoute(func(c *gin.Context) {
		failure(c, http.StatusNotFound, "ERR_ROUTE_NOT_FOUND", "not found", c.Request.URL.Path)
	})

	r.GET("/healthz", s.healthz)
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics))
	}

	authRoutes := r.Group("/auth")
	{
		authRoutes.POST("/register", s.register)
		authRoutes.POST("/login", s.login)
	}

	v1 := r.Group("/api/v1", s.authenticate())
	{
		lots := v1.Group("/lots")
		lots.GET("", s.listLots)
		lots.GET("/:id", s.getLot)
		lots.GET("/:id/spots", s.listSpots)
		lots.POST("", requireAdmin(), s.createLot)
		lots.PUT("/:id", requireAdmin(), s.updateLot)
		lots.PUT("/:id/capacity", requireAdmin(), s.resizeLot)
		lots.DELETE("/:id", requireAdmin(), s.deleteLot)

		res := v1.Group("/reservations")
		res.POST("", s.openReservation)
		res.GET("", s.listReservations)
		res.GET("/active", s.activeReservation)
		res.GET("/:id", s.getReservation)
		res.POST("/:id/release", s.releaseReservation)
		res.POST("/:id/cancel", requireAdmin(), s.cancelReservation)

		v1.GET("/me", s.me)
		v1.PUT("/me", s.updateMe)
		v1.GET("/me/history", s.myHistory)

		admin := v1.Group("/admin", requireAdmin())
		admin.GET("/stats", s.stats)
		admin.GET("/reports/revenue", s.revenueReport)
		admin.GET("/users", s.listUsers)
		admin.GET("/users/:id", s.getUser)
		admin.GET("/users/:id/history", s.userHistory)
		admin.DELETE("/users/:id", s.deleteUser)
	}
	return r
}

func (s *Server) healthz(c *gin.Context) {
	if s.health != nil {
		if err := s.health.Ping(c.Request.Context()); err != nil {
			s.log.WarnContext(c.Request.Context(), "health check failed", "error", err)
			failure(c, http.StatusServiceUnavailable, "ERR_UNAVAILABLE", "database unreachable", "")
			return
		}
	}
	success(c, http.StatusOK, "ok", nil)
}
