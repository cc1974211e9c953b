package handlers

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"reportpilot/models"
	"reportpilot/service"
)

// RunInteractionHandler runs one conversational turn.
// @Summary      Ask a question in a session
// @Description  Routes the query to a strategy, runs it and returns the committed interaction with its redacted rows. The session is created if it does not exist.
// @Tags         Interactions
// @Accept       json
// @Produce      json
// @Param        id       path      string                      true  "Session ID"
// @Param        request  body      models.InteractionRequest  true  "Query text"
// @Success      200      {object}  models.InteractionResult
// @Failure      400      {object}  map[string]string  "Invalid request"
// @Failure      422      {object}  map[string]string  "Invalid plan or session id"
// @Failure      502      {object}  map[string]string  "Source failure"
// @Failure      504      {object}  map[string]string  "Timed out"
// @Router       /api/sessions/{id}/interactions [post]
func (h *Handlers) RunInteractionHandler(c *gin.Context) {
	var req models.InteractionRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Query) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	sessionID := c.Param("id")
	log.Printf("[API] Interaction for session %s: %q", sessionID, req.Query)

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.interactionTimeout)
	defer cancel()
	result, err := h.core.RunInteraction(ctx, sessionID, req.Query)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ChartHandler renders an interaction's chart against its rows.
// @Summary      Render an interaction's chart
// @Tags         Interactions
// @Produce      json
// @Param        id   path      string  true  "Session ID"
// @Param        seq  path      int     true  "Interaction sequence number"
// @Success      200  {object}  models.RenderedChart
// @Failure      404  {object}  map[string]string
// @Failure      409  {object}  map[string]string  "Chart binds a column the rows no longer have"
// @Router       /api/sessions/{id}/interactions/{seq}/chart [get]
func (h *Handlers) ChartHandler(c *gin.Context) {
	seq, ok := seqParam(c)
	if !ok {
		return
	}
	rendered, err := h.core.RenderChart(c.Request.Context(), c.Param("id"), seq)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rendered)
}

// RowsHandler returns an interaction's working-set rows.
// @Summary      Get an interaction's rows
// @Tags         Interactions
// @Produce      json
// @Produce      text/csv
// @Param        id      path      string  true   "Session ID"
// @Param        seq     path      int     true   "Interaction sequence number"
// @Param        format  query     string  false  "json (default) or csv"
// @Success      200     {object}  models.TabularResult
// @Failure      404     {object}  map[string]string
// @Router       /api/sessions/{id}/interactions/{seq}/rows [get]
func (h *Handlers) RowsHandler(c *gin.Context) {
	seq, ok := seqParam(c)
	if !ok {
		return
	}
	sessionID := c.Param("id")
	_, rows, err := h.core.Rows(c.Request.Context(), sessionID, seq)
	if err != nil {
		respondError(c, err)
		return
	}

	switch strings.ToLower(c.DefaultQuery("format", "json")) {
	case "csv":
		c.Header("Content-Type", "text/csv; charset=utf-8")
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", service.ExportFileName(sessionID, seq, "csv")))
		c.Status(http.StatusOK)
		if err := service.WriteCSV(c.Writer, rows); err != nil {
			log.Printf("[API] Failed to write CSV for %s/%d: %v", sessionID, seq, err)
		}
	case "json":
		c.JSON(http.StatusOK, rows)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "format must be json or csv"})
	}
}

// UpdateSummaryHandler edits an interaction's summary text.
// @Summary      Edit an interaction's summary
// @Tags         Interactions
// @Accept       json
// @Produce      json
// @Param        id    path      string                      true  "Session ID"
// @Param        seq   path      int                         true  "Interaction sequence number"
// @Param        body  body      models.SummaryUpdateRequest  true  "New summary"
// @Success      200   {object}  models.Interaction
// @Failure      404   {object}  map[string]string
// @Router       /api/sessions/{id}/interactions/{seq}/summary [patch]
func (h *Handlers) UpdateSummaryHandler(c *gin.Context) {
	seq, ok := seqParam(c)
	if !ok {
		return
	}
	var body models.SummaryUpdateRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "summary required"})
		return
	}
	updated, err := h.core.UpdateSummary(c.Request.Context(), c.Param("id"), seq, body.Summary)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func seqParam(c *gin.Context) (int, bool) {
	seq, err := strconv.Atoi(c.Param("seq"))
	if err != nil || seq < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "seq must be a positive integer"})
		return 0, false
	}
	return seq, true
}
