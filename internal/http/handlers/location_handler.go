// README: Location handler: partners push their position for live tracking.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"hometaste/internal/modules/location"
	"hometaste/internal/types"
)

type LocationHandler struct {
	location *location.Service
}

func NewLocationHandler(svc *location.Service) *LocationHandler {
	return &LocationHandler{location: svc}
}

type locationReq struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

func (h *LocationHandler) Update(c *gin.Context) {
	var req locationReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Latitude == nil || req.Longitude == nil {
		badJSON(c)
		return
	}
	res, err := h.location.Update(c.Request.Context(), location.Update{
		PartnerID: callerID(c),
		Position:  types.Point{Lat: *req.Latitude, Lng: *req.Longitude},
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{
		"message":     "Location updated",
		"recordedAt":  res.RecordedAt,
		"broadcasted": res.Broadcasted,
	})
}
