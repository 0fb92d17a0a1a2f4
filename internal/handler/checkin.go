package handler

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tadamon-org/backend/internal/model"
)

// CheckIn godoc
// @Summary Event check-in (not yet implemented)
// @Description Accepts the scan and reports success without persisting.
// @Tags events
// @Produce json
// @Param id path string true "Event ID"
// @Success 200 {object} model.CheckInResponse
// @Router /api/events/{id}/check-in [post]
func CheckIn(c *gin.Context) {
	// TODO: persist attendance once the QR badge format is finalized with
	// the events team; until then the scan is acknowledged and discarded.
	log.Printf("[CheckIn] Scan received for event %s (not persisted)", c.Param("id"))
	c.JSON(http.StatusOK, model.CheckInResponse{
		Status:  "ok",
		Message: "check-in received",
	})
}
