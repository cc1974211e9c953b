package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"reportpilot/models"
)

// ListSessionsHandler returns all sessions, most recently active first.
// @Summary      List sessions
// @Tags         Sessions
// @Produce      json
// @Success      200  {array}   models.Session
// @Failure      500  {object}  map[string]string
// @Router       /api/sessions [get]
func (h *Handlers) ListSessionsHandler(c *gin.Context) {
	sessions, err := h.core.ListSessions()
	if err != nil {
		respondError(c, err)
		return
	}
	if sessions == nil {
		sessions = []*models.Session{}
	}
	c.JSON(http.StatusOK, sessions)
}

// CreateSessionHandler creates a new session.
// @Summary      Create a session
// @Tags         Sessions
// @Accept       json
// @Produce      json
// @Param        body  body      models.CreateSessionRequest  false  "Optional title"
// @Success      201   {object}  models.Session
// @Failure      500   {object}  map[string]string
// @Router       /api/sessions [post]
func (h *Handlers) CreateSessionHandler(c *gin.Context) {
	var body models.CreateSessionRequest
	_ = c.ShouldBindJSON(&body)
	s, err := h.core.CreateSession(body.Title)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, s)
}

// GetSessionHandler returns one session with its interactions.
// @Summary      Get a session with its interactions
// @Tags         Sessions
// @Produce      json
// @Param        id   path      string  true  "Session ID"
// @Success      200  {object}  models.SessionDetail
// @Failure      404  {object}  map[string]string
// @Router       /api/sessions/{id} [get]
func (h *Handlers) GetSessionHandler(c *gin.Context) {
	detail, err := h.core.GetSession(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// DeleteSessionHandler ends a session and reclaims its working set.
// @Summary      End a session
// @Tags         Sessions
// @Param        id   path  string  true  "Session ID"
// @Success      204  "No Content"
// @Failure      422  {object}  map[string]string
// @Router       /api/sessions/{id} [delete]
func (h *Handlers) DeleteSessionHandler(c *gin.Context) {
	if err := h.core.EndSession(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
