package http

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

const maxUploadBytes = 50 << 20

// CreateSession handles POST /api/v1/sessions. The document arrives as a
// multipart upload under the "file" field; the response carries the new
// session, typically still in building state.
func (h *Handler) CreateSession(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		sendError(c, http.StatusBadRequest, fmt.Errorf("file field is required"))
		return
	}
	if fileHeader.Size > maxUploadBytes {
		sendError(c, http.StatusBadRequest, fmt.Errorf("file exceeds the %d MB upload limit", maxUploadBytes>>20))
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		sendError(c, http.StatusInternalServerError, err)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		sendError(c, http.StatusInternalServerError, err)
		return
	}

	session, err := h.service.Ingest(c.Request.Context(), fileHeader.Filename, data)
	if err != nil {
		sendError(c, http.StatusInternalServerError, err)
		return
	}

	sendJSON(c, http.StatusCreated, session)
}

// ListSessions handles GET /api/v1/sessions
func (h *Handler) ListSessions(c *gin.Context) {
	sessions, err := h.service.ListSessions(c.Request.Context())
	if err != nil {
		sendError(c, http.StatusInternalServerError, err)
		return
	}

	sendJSON(c, http.StatusOK, gin.H{"items": sessions})
}

// GetSession handles GET /api/v1/sessions/:id
func (h *Handler) GetSession(c *gin.Context) {
	session, err := h.service.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		sendError(c, http.StatusInternalServerError, err)
		return
	}

	sendJSON(c, http.StatusOK, session)
}

// DeleteSession handles DELETE /api/v1/sessions/:id
func (h *Handler) DeleteSession(c *gin.Context) {
	if err := h.service.DeleteSession(c.Request.Context(), c.Param("id")); err != nil {
		sendError(c, http.StatusInternalServerError, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// CleanupSessions handles POST /api/v1/admin/cleanup. The optional "days"
// query parameter sets the retention window, defaulting to 30.
func (h *Handler) CleanupSessions(c *gin.Context) {
	days := 30
	if raw := c.Query("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			sendError(c, http.StatusBadRequest, fmt.Errorf("days must be a positive integer"))
			return
		}
		days = parsed
	}

	deleted, err := h.service.CleanupSessions(c.Request.Context(), time.Duration(days)*24*time.Hour)
	if err != nil {
		sendError(c, http.StatusInternalServerError, err)
		return
	}

	sendJSON(c, http.StatusOK, gin.H{"deleted": deleted, "days": days})
}

// CheckHealth handles GET /api/v1/health
func (h *Handler) CheckHealth(c *gin.Context) {
	if err := h.service.Health(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
