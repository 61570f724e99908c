package relay

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/mevguard/internal/logging"
	"github.com/mbd888/mevguard/internal/metrics"
	"github.com/mbd888/mevguard/internal/validation"
)

// Handler provides HTTP endpoints for private relay submission.
type Handler struct {
	client Client
}

// NewHandler creates a new relay handler.
func NewHandler(client Client) *Handler {
	return &Handler{client: client}
}

// RegisterRoutes sets up relay routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/relay/send", h.Send)
}

type sendRequest struct {
	RawTransaction string `json:"rawTransaction"`
}

// Send handles POST /relay/send
func (h *Handler) Send(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if errs := validation.Check(
		validation.Required("rawTransaction", req.RawTransaction),
		validation.Hex("rawTransaction", req.RawTransaction),
	); len(errs) > 0 {
		validation.Respond(c, errs)
		return
	}

	sub, err := h.client.Submit(c.Request.Context(), req.RawTransaction)
	if err != nil {
		if errors.Is(err, ErrInvalidTransaction) {
			validation.Respond(c, validation.Errors{{Field: "rawTransaction", Message: "must be a signed RLP-encoded transaction"}})
			return
		}
		metrics.RelaySubmissionsTotal.WithLabelValues(StatusError).Inc()
		logging.L(c.Request.Context()).Error("relay submission failed", "error", err)
		if sub == nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "relay failed",
			})
			return
		}
		c.JSON(http.StatusBadGateway, sub)
		return
	}

	metrics.RelaySubmissionsTotal.WithLabelValues(sub.Status).Inc()
	c.JSON(http.StatusOK, sub)
}
