package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Skryldev/parkd/models"
)

type lotView struct {
	*models.LotSummary
	OccupancyPercent float64 `json:"occupancy_percent"`
}

func viewLot(s *models.LotSummary) lotView {
	return lotView{LotSummary: s, OccupancyPercent: s.OccupancyPercent()}
}

type resizeRequest struct {
	Capacity int `json:"capacity" binding:"required"`
}

// pathID parses the named path parameter as a positive id.
func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, name+" must be a positive integer")
		return 0, false
	}
	return id, true
}

// GET /api/v1/lots?all=true&q=
func (s *Server) listLots(c *gin.Context) {
	lots, err := s.engine.ListLots(c.Request.Context(), models.LotFilter{
		IncludeInactive: c.Query("all") == "true" && mustActor(c).IsAdmin(),
		Search:          c.Query("q"),
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	out := make([]lotView, 0, len(lots))
	for _, l := range lots {
		out = append(out, viewLot(l))
	}
	success(c, http.StatusOK, "lots", out)
}

// GET /api/v1/lots/:id
func (s *Server) getLot(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	lot, err := s.engine.GetLot(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	success(c, http.StatusOK, "lot", viewLot(lot))
}

// GET /api/v1/lots/:id/spots?status=free
func (s *Server) listSpots(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var status *models.SpotStatus
	if q := c.Query("status"); q != "" {
		st, err := models.ParseSpotStatus(q)
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		status = &st
	}
	spots, err := s.engine.ListSpots(c.Request.Context(), id, status)
	if err != nil {
		s.fail(c, err)
		return
	}
	success(c, http.StatusOK, "spots", spots)
}

// POST /api/v1/lots
func (s *Server) createLot(c *gin.Context) {
	var p models.CreateLotParams
	if err := c.ShouldBindJSON(&p); err != nil {
		badRequest(c, err.Error())
		return
	}
	lot, err := s.engine.CreateLot(c.Request.Context(), mustActor(c), p)
	if err != nil {
		s.fail(c, err)
		return
	}
	success(c, http.StatusCreated, "lot created", lot)
}

// PUT /api/v1/lots/:id
func (s *Server) updateLot(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var p models.UpdateLotParams
	if err := c.ShouldBindJSON(&p); err != nil {
		badRequest(c, err.Error())
		return
	}
	p.ID = id
	lot, err := s.engine.UpdateLot(c.Request.Context(), mustActor(c), p)
	if err != nil {
		s.fail(c, err)
		return
	}
	success(c, http.StatusOK, "lot updated", lot)
}

// PUT /api/v1/lots/:id/capacity
func (s *Server) resizeLot(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req resizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	lot, err := s.engine.ResizeLot(c.Request.Context(), mustActor(c), id, req.Capacity)
	if err != nil {
		s.fail(c, err)
		return
	}
	success(c, http.StatusOK, "lot resized", lot)
}

// DELETE /api/v1/lots/:id
func (s *Server) deleteLot(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := s.engine.DeleteLot(c.Request.Context(), mustActor(c), id); err != nil {
		s.fail(c, err)
		return
	}
	success(c, http.StatusOK, "lot deleted", nil)
}
