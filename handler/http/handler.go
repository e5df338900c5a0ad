package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"docchat/src/core/docchat"
	"docchat/src/core/extract"
	"docchat/src/core/taskctrl"
)

type Handler struct {
	service *docchat.Service
}

func NewHandler(service *docchat.Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	v1 := r.Group("/api/v1")

	v1.POST("/sessions", h.CreateSession)
	v1.GET("/sessions", h.ListSessions)
	v1.GET("/sessions/:id", h.GetSession)
	v1.DELETE("/sessions/:id", h.DeleteSession)

	v1.GET("/sessions/:id/messages", h.GetMessages)
	v1.POST("/sessions/:id/messages", h.PostMessage)
	v1.POST("/sessions/:id/stop", h.StopGeneration)

	v1.POST("/admin/cleanup", h.CleanupSessions)

	v1.GET("/health", h.CheckHealth)
}

// Common error response structure
type ErrorResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func sendError(c *gin.Context, status int, err error) {
	code := "INTERNAL_ERROR"

	var providerErr *docchat.ProviderError
	switch {
	case errors.Is(err, docchat.ErrSessionNotFound):
		code = "NOT_FOUND"
		status = http.StatusNotFound
	case errors.Is(err, taskctrl.ErrBusy):
		code = "GENERATION_IN_PROGRESS"
		status = http.StatusConflict
	case errors.Is(err, docchat.ErrSessionNotReady):
		code = "SESSION_NOT_READY"
		status = http.StatusConflict
	case errors.Is(err, docchat.ErrInvalidRequest),
		errors.Is(err, docchat.ErrEmptyDocument),
		errors.Is(err, extract.ErrUnsupportedFormat),
		errors.Is(err, extract.ErrCorruptFile):
		code = "INVALID_REQUEST"
		status = http.StatusBadRequest
	case errors.As(err, &providerErr):
		code = "UPSTREAM_ERROR"
		status = http.StatusBadGateway
	case status == http.StatusBadRequest:
		code = "BAD_REQUEST"
	default:
		status = http.StatusInternalServerError
	}

	c.JSON(status, ErrorResponse{
		Code:    code,
		Message: err.Error(),
	})
}

func sendJSON(c *gin.Context, status int, data interface{}) {
	c.JSON(status, data)
}
