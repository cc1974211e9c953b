package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthHandler checks the health status of the service
// @Summary      Health check
// @Description  Reports service status and how many data sources are registered
// @Tags         Health
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "Service health status"
// @Router       /health [get]
func (h *Handlers) HealthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"sources": len(h.core.Sources()),
	})
}

// ListSourcesHandler lists registered data sources
// @Summary      List data sources
// @Tags         Sources
// @Produce      json
// @Success      200  {array}  models.SourceInfo
// @Router       /api/sources [get]
func (h *Handlers) ListSourcesHandler(c *gin.Context) {
	c.JSON(http.StatusOK, h.core.Sources())
}
