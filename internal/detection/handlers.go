package detection

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/mevguard/internal/logging"
	"github.com/mbd888/mevguard/internal/threat"
	"github.com/mbd888/mevguard/internal/validation"
)

// Handler provides HTTP endpoints for detection sessions.
type Handler struct {
	manager *Manager
}

// NewHandler creates a new detection handler.
func NewHandler(manager *Manager) *Handler {
	return &Handler{manager: manager}
}

// RegisterRoutes sets up detection routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/detect/start", h.StartDetection)
	r.POST("/detect/stop", h.StopDetection)
	r.GET("/detect/status", h.GetStatus)
	r.GET("/detect/sessions", h.ListSessions)
	r.GET("/detect/history", h.GetHistory)
}

type contractRequest struct {
	ContractAddress string `json:"contractAddress"`
}

// bindOptional accepts an empty body.
func bindOptional(c *gin.Context, req *contractRequest) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return false
	}
	req.ContractAddress = validation.Clean(req.ContractAddress, 128)
	return true
}

// StartDetection handles POST /detect/start
func (h *Handler) StartDetection(c *gin.Context) {
	var req contractRequest
	if !bindOptional(c, &req) {
		return
	}

	snap, err := h.manager.Start(c.Request.Context(), req.ContractAddress)
	if err != nil {
		if errors.Is(err, ErrAdapterFailure) {
			logging.L(c.Request.Context()).Error("feed subscription failed", "error", err)
			c.JSON(http.StatusBadGateway, gin.H{
				"error":   "adapter_failure",
				"message": "Transaction feed unavailable",
			})
			return
		}
		logging.L(c.Request.Context()).Error("detection start failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "detection failed",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "MEV detection started",
		"state": gin.H{
			"active":          snap.Active,
			"contractAddress": snap.ContractAddress,
			"stats":           snap.Stats,
			"recentThreats":   snap.RecentThreats,
			"sessionId":       snap.SessionID,
		},
	})
}

// StopDetection handles POST /detect/stop
func (h *Handler) StopDetection(c *gin.Context) {
	var req contractRequest
	if !bindOptional(c, &req) {
		return
	}

	snap := h.manager.Stop(c.Request.Context(), req.ContractAddress)

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "MEV detection stopped",
		"state": gin.H{
			"active":              snap.Active,
			"contractAddress":     snap.ContractAddress,
			"stats":               snap.Stats,
			"totalThreats":        snap.TotalThreats,
			"totalThreatsAllTime": snap.Stats.TotalDetected,
		},
	})
}

// GetStatus handles GET /detect/status
func (h *Handler) GetStatus(c *gin.Context) {
	snap := h.manager.Status(c.Query("contractAddress"))

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"state": gin.H{
			"active":          snap.Active,
			"contractAddress": snap.ContractAddress,
			"stats":           snap.Stats,
			"recentThreats":   snap.RecentThreats,
			"stale":           snap.Stale,
			"lastSignalAt":    snap.LastSignalAt,
		},
	})
}

// ListSessions handles GET /detect/sessions
func (h *Handler) ListSessions(c *gin.Context) {
	sessions := h.manager.Sessions()
	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// GetHistory handles GET /detect/history
func (h *Handler) GetHistory(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 500 {
				limit = 500
			}
		}
	}

	threats, err := h.manager.History(c.Request.Context(), c.Query("contractAddress"), limit)
	if err != nil {
		logging.L(c.Request.Context()).Error("threat history failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load threat history",
		})
		return
	}
	if threats == nil {
		threats = []*threat.Threat{}
	}

	c.JSON(http.StatusOK, gin.H{
		"threats": threats,
		"count":   len(threats),
	})
}
