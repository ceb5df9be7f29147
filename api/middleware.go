package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Skryldev/parkd/models"
)

const (
	// RequestIDHeader carries the request id in and out.
	RequestIDHeader = "X-Request-ID"

	requestIDKey = "request_id"
	actorKey     = "actor"
)

// RequestObserver receives one call per finished request. route is the
// matched pattern, or "unmatched".
type RequestObserver interface {
	ObserveRequest(method, route string, status int, d time.Duration)
}

// requestIDMiddleware reuses a well-formed incoming X-Request-ID or mints one.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

func requestID(c *gin.Context) string { return c.GetString(requestIDKey) }

// accessLog writes one structured line per request and feeds obs.
func accessLog(log *slog.Logger, obs RequestObserver) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		if obs != nil {
			obs.ObserveRequest(c.Request.Method, route, status, elapsed)
		}

		level := slog.LevelInfo
		switch {
		case status >= 500:
			level = slog.LevelError
		case status >= 400:
			level = slog.LevelWarn
		}
		attrs := []any{
			"request_id", requestID(c),
			"method", c.Request.Method,
			"route", route,
			"status", status,
			"duration", elapsed,
		}
		if a, ok := actorFrom(c); ok {
			attrs = append(attrs, "user_id", a.UserID)
		}
		log.Log(c.Request.Context(), level, "http request", attrs...)
	}
}

// recovery turns a panic into a 500 envelope.
func recovery(log *slog.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, rec any) {
		log.ErrorContext(c.Request.Context(), "panic in handler",
			"request_id", requestID(c), "route", c.FullPath(), "panic", rec)
		failure(c, http.StatusInternalServerError, "ERR_INTERNAL", "internal error", "")
	})
}

// authenticate requires a valid bearer token and stores the actor it names.
func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			failure(c, http.StatusUnauthorized, "ERR_NO_AUTH_HEADER",
				"authorization required", "Authorization header is required")
			return
		}
		fields := strings.Fields(header)
		if len(fields) != 2 || !strings.EqualFold(fields[0], "Bearer") {
			failure(c, http.StatusUnauthorized, "ERR_INVALID_AUTH_FORMAT",
				"authorization required", "Authorization header must be 'Bearer <token>'")
			return
		}
		actor, err := s.auth.ParseToken(fields[1])
		if err != nil {
			s.fail(c, err)
			return
		}
		c.Set(actorKey, actor)
		c.Next()
	}
}

// requireAdmin must run after authenticate.
func requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if a, ok := actorFrom(c); !ok || !a.IsAdmin() {
			failure(c, http.StatusForbidden, "ERR_FORBIDDEN", "forbidden", "admin role required")
			return
		}
		c.Next()
	}
}

func actorFrom(c *gin.Context) (models.Actor, bool) {
	v, ok := c.Get(actorKey)
	if !ok {
		return models.Actor{}, false
	}
	a, ok := v.(models.Actor)
	return a, ok
}

// mustActor is for handlers mounted behind authenticate.
func mustActor(c *gin.Context) models.Actor {
	a, _ := actorFrom(c)
	return a
}
