package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/irfndi/celebrum-trends/internal/middleware"
	"github.com/irfndi/celebrum-trends/internal/models"
	"github.com/irfndi/celebrum-trends/internal/services"
	"github.com/irfndi/celebrum-trends/internal/utils"
)

// TrendProvider is the part of MarketTrendService the handlers use.
type TrendProvider interface {
	GetMarketTrends(ctx context.Context, opts services.TrendOptions) (*models.TrendReport, bool, error)
	InvalidateCache(ctx context.Context) (int, error)
}

type TrendHandler struct {
	trends TrendProvider
}

func NewTrendHandler(trends TrendProvider) *TrendHandler {
	return &TrendHandler{trends: trends}
}

// GetMarketTrends serves GET /api/v1/analytics/trends?refresh=&seed=
func (h *TrendHandler) GetMarketTrends(c *gin.Context) {
	opts, err := parseTrendOptions(c)
	if utils.IsValidationError(err) {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": err.Error()})
		return
	}
	middleware.AddSpanAttribute(c, "trends.refresh", opts.Refresh)

	report, cached, err := h.trends.GetMarketTrends(c.Request.Context(), opts)
	if err != nil {
		middleware.RecordError(c, err, "market trend analysis failed")
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		c.JSON(status, gin.H{"status": "error", "error": err.Error()})
		return
	}
	middleware.AddSpanAttribute(c, "trends.cached", cached)

	c.JSON(http.StatusOK, models.TrendsResponse{
		Status: "success",
		Data:   report.Markets,
		RunID:  report.RunID,
		Cached: cached,
	})
}

// InvalidateCache serves DELETE /api/v1/analytics/trends/cache
func (h *TrendHandler) InvalidateCache(c *gin.Context) {
	removed, err := h.trends.InvalidateCache(c.Request.Context())
	if err != nil {
		middleware.RecordError(c, err, "cache invalidation failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "removed": removed})
}

func parseTrendOptions(c *gin.Context) (services.TrendOptions, error) {
	var opts services.TrendOptions
	if raw := c.Query("refresh"); raw != "" {
		refresh, err := strconv.ParseBool(raw)
		if err != nil {
			return opts, utils.NewValidationErrorf("refresh", "must be a boolean, got %q", raw)
		}
		opts.Refresh = refresh
	}
	seed, err := services.ParseSeed(c.Query("seed"))
	if err != nil {
		return opts, utils.NewValidationError("seed", err.Error())
	}
	opts.Seed = seed
	return opts, nil
}
