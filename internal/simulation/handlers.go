package simulation

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/mevguard/internal/logging"
	"github.com/mbd888/mevguard/internal/validation"
)

// Handler provides HTTP endpoints for transaction simulation.
type Handler struct {
	service *Service
}

// NewHandler creates a new simulation handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up simulation routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/simulate/transaction", h.SimulateTransaction)
	r.GET("/simulate/history", h.GetHistory)
}

// SimulateTransaction handles POST /simulate/transaction
func (h *Handler) SimulateTransaction(c *gin.Context) {
	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	result, err := h.service.Simulate(c.Request.Context(), req)
	if err != nil {
		var verrs validation.Errors
		if errors.As(err, &verrs) {
			validation.Respond(c, verrs)
			return
		}
		logging.L(c.Request.Context()).Error("simulation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "simulation failed",
		})
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetHistory handles GET /simulate/history
func (h *Handler) GetHistory(c *gin.Context) {
	address := c.Query("contractAddress")
	if errs := validation.Check(validation.Required("contractAddress", address)); len(errs) > 0 {
		validation.Respond(c, errs)
		return
	}

	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 200 {
				limit = 200
			}
		}
	}

	page, err := h.service.History(c.Request.Context(), address, c.Query("cursor"), limit)
	if err != nil {
		var verrs validation.Errors
		if errors.As(err, &verrs) {
			validation.Respond(c, verrs)
			return
		}
		logging.L(c.Request.Context()).Error("assessment history failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load assessment history",
		})
		return
	}

	c.JSON(http.StatusOK, page)
}
