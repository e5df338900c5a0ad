package http

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"docchat/src/core/docchat"
)

type postMessageRequest struct {
	Question string `json:"question" binding:"required"`
}

// PostMessage handles POST /api/v1/sessions/:id/messages. The answer is
// streamed back as server-sent events: "token" per fragment, then exactly
// one of "complete", "stopped" or "error".
func (h *Handler) PostMessage(c *gin.Context) {
	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, err)
		return
	}

	stream, err := h.service.Ask(c.Request.Context(), c.Param("id"), req.Question)
	if err != nil {
		sendError(c, http.StatusInternalServerError, err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	c.Stream(func(w io.Writer) bool {
		fragment, ok := <-stream.Fragments()
		if !ok {
			h.sendTerminalEvent(c, stream)
			return false
		}

		c.SSEvent("token", gin.H{"text": fragment})
		return true
	})
}

func (h *Handler) sendTerminalEvent(c *gin.Context, stream *docchat.Stream) {
	switch stream.Status() {
	case docchat.StreamCompleted:
		c.SSEvent("complete", gin.H{"answer": stream.Answer()})
	case docchat.StreamCancelled:
		c.SSEvent("stopped", gin.H{"answer": stream.Answer()})
	default:
		msg := "generation failed"
		if err := stream.Err(); err != nil {
			msg = err.Error()
		}
		c.SSEvent("error", gin.H{"message": msg})
	}
}

// GetMessages handles GET /api/v1/sessions/:id/messages
func (h *Handler) GetMessages(c *gin.Context) {
	messages, err := h.service.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		sendError(c, http.StatusInternalServerError, err)
		return
	}

	sendJSON(c, http.StatusOK, gin.H{"items": messages})
}

// StopGeneration handles POST /api/v1/sessions/:id/stop. Stopping an idle
// session succeeds and reports stopped=false.
func (h *Handler) StopGeneration(c *gin.Context) {
	sessionID := c.Param("id")

	if _, err := h.service.GetSession(c.Request.Context(), sessionID); err != nil {
		sendError(c, http.StatusInternalServerError, err)
		return
	}

	wasActive := h.service.Active(sessionID)
	h.service.Stop(sessionID)

	sendJSON(c, http.StatusOK, gin.H{"stopped": wasActive})
}
