package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Skryldev/parkd/auth"
)

type loginRequest struct {
	Login    string `json:"login" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// POST /auth/register
func (s *Server) register(c *gin.Context) {
	var p auth.RegisterParams
	if err := c.ShouldBindJSON(&p); err != nil {
		badRequest(c, err.Error())
		return
	}
	u, err := s.auth.Register(c.Request.Context(), p)
	if err != nil {
		s.fail(c, err)
		return
	}
	success(c, http.StatusCreated, "registered", u)
}

// POST /auth/login
func (s *Server) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	sess, err := s.auth.Login(c.Request.Context(), req.Login, req.Password)
	if err != nil {
		s.fail(c, err)
		return
	}
	success(c, http.StatusOK, "logged in", sess)
}

// GET /api/v1/me
func (s *Server) me(c *gin.Context) {
	a := mustActor(c)
	u, err := s.auth.GetUser(c.Request.Context(), a, a.UserID)
	if err != nil {
		s.fail(c, err)
		return
	}
	success(c, http.StatusOK, "current user", u)
}

// PUT /api/v1/me
func (s *Server) updateMe(c *gin.Context) {
	var p auth.ProfileParams
	if err := c.ShouldBindJSON(&p); err != nil {
		badRequest(c, err.Error())
		return
	}
	u, err := s.auth.UpdateProfile(c.Request.Context(), mustActor(c), p)
	if err != nil {
		s.fail(c, err)
		return
	}
	success(c, http.StatusOK, "profile updated", u)
}

// GET /api/v1/me/history
func (s *Server) myHistory(c *gin.Context) {
	h, err := s.engine.UserHistory(c.Request.Context(), mustActor(c).UserID)
	if err != nil {
		s.fail(c, err)
		return
	}
	success(c, http.StatusOK, "history", h)
}

// ─────────────────────────────────────────────────────────────────────────────
// Admin
// ─────────────────────────────────────────────────────────────────────────────

// GET /api/v1/admin/stats
func (s *Server) stats(c *gin.Context) {
	st, err := s.engine.DashboardStats(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	success(c, http.StatusOK, "dashboard", st)
}

// GET /api/v1/admin/reports/revenue?days=7
func (s *Server) revenueReport(c *gin.Context) {
	days, err := queryInt(c, "days")
	if err != nil {
		return
	}
	if days == 0 {
		days = 7
	}
	report, err := s.engine.DailyRevenue(c.Request.Context(), days)
	if err != nil {
		s.fail(c, err)
		return
	}
	success(c, http.StatusOK, "daily revenue", report)
}

// GET /api/v1/admin/users?limit=&offset=
func (s *Server) listUsers(c *gin.Context) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		return
	}
	offset, err := queryInt(c, "offset")
	if err != nil {
		return
	}
	users, err := s.auth.ListUsers(c.Request.Context(), mustActor(c), limit, offset)
	if err != nil {
		s.fail(c, err)
		return
	}
	success(c, http.StatusOK, "users", users)
}

// GET /api/v1/admin/users/:id
func (s *Server) getUser(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	u, err := s.auth.GetUser(c.Request.Context(), mustActor(c), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	success(c, http.StatusOK, "user", u)
}

// GET /api/v1/admin/users/:id/history
func (s *Server) userHistory(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	h, err := s.engine.UserHistory(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	success(c, http.StatusOK, "history", h)
}

// DELETE /api/v1/admin/users/:id
func (s *Server) deleteUser(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := s.engine.DeleteUser(c.Request.Context(), mustActor(c), id); err != nil {
		s.fail(c, err)
		return
	}
	success(c, http.StatusOK, "user deleted", nil)
}
