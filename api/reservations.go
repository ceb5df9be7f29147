package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Skryldev/parkd/models"
)

type openRequest struct {
	LotID         int64  `json:"lot_id" binding:"required"`
	VehicleNumber string `json:"vehicle_number" binding:"required"`
}

// POST /api/v1/reservations
func (s *Server) openReservation(c *gin.Context) {
	var req openRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	res, err := s.engine.OpenReservation(c.Request.Context(), mustActor(c).UserID, req.LotID, req.VehicleNumber)
	if err != nil {
		s.fail(c, err)
		return
	}
	success(c, http.StatusCreated, "spot reserved", res)
}

// GET /api/v1/reservations?status=&user_id=&lot_id=&limit=&offset=
func (s *Server) listReservations(c *gin.Context) {
	var (
		f   models.ReservationFilter
		err error
	)
	if q := c.Query("status"); q != "" {
		st, err := models.ParseReservationStatus(q)
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		f.Status = &st
	}
	if f.UserID, err = optionalID(c, "user_id"); err != nil {
		return
	}
	if f.LotID, err = optionalID(c, "lot_id"); err != nil {
		return
	}
	if f.Limit, err = queryInt(c, "limit"); err != nil {
		return
	}
	if f.Offset, err = queryInt(c, "offset"); err != nil {
		return
	}

	list, err := s.engine.ListReservations(c.Request.Context(), mustActor(c), f)
	if err != nil {
		s.fail(c, err)
		return
	}
	success(c, http.StatusOK, "reservations", list)
}

// GET /api/v1/reservations/active
func (s *Server) activeReservation(c *gin.Context) {
	res, err := s.engine.ActiveReservation(c.Request.Context(), mustActor(c).UserID)
	if err != nil {
		s.fail(c, err)
		return
	}
	success(c, http.StatusOK, "active reservation", res)
}

// GET /api/v1/reservations/:id
func (s *Server) getReservation(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	res, err := s.engine.GetReservation(c.Request.Context(), mustActor(c), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	success(c, http.StatusOK, "reservation", res)
}

// POST /api/v1/reservations/:id/release
func (s *Server) releaseReservation(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	res, err := s.engine.CloseReservation(c.Request.Context(), id, mustActor(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	success(c, http.StatusOK, "spot released", res)
}

// POST /api/v1/reservations/:id/cancel
func (s *Server) cancelReservation(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	res, err := s.engine.CancelReservation(c.Request.Context(), id, mustActor(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	success(c, http.StatusOK, "reservation cancelled", res)
}

// optionalID parses an optional positive id query parameter. On error the
// response has already been written.
func optionalID(c *gin.Context, name string) (*int64, error) {
	q := c.Query(name)
	if q == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(q, 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, name+" must be a positive integer")
		if err == nil {
			err = strconv.ErrRange
		}
		return nil, err
	}
	return &id, nil
}

// queryInt parses an optional integer query parameter, 0 when absent. On
// error the response has already been written.
func queryInt(c *gin.Context, name string) (int, error) {
	q := c.Query(name)
	if q == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(q)
	if err != nil {
		badRequest(c, name+" must be an integer")
		return 0, err
	}
	return n, nil
}
