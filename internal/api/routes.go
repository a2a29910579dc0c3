package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/irfndi/celebrum-trends/internal/api/handlers"
	"github.com/irfndi/celebrum-trends/internal/middleware"
)

// RouteDeps holds what the HTTP surface needs. DB and Redis may be nil when
// the deployment runs without them.
type RouteDeps struct {
	DB       handlers.HealthChecker
	Redis    handlers.HealthChecker
	Trends   handlers.TrendProvider
	Gatherer prometheus.Gatherer
	Auth     *middleware.AuthMiddleware
	Version  string
}

func SetupRoutes(router *gin.Engine, deps RouteDeps) {
	healthHandler := handlers.NewHealthHandler(deps.DB, deps.Redis, deps.Version)
	router.GET("/health", healthHandler.HealthCheck)

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	trendHandler := handlers.NewTrendHandler(deps.Trends)

	v1 := router.Group("/api/v1")
	{
		analytics := v1.Group("/analytics")
		{
			analytics.GET("/trends", trendHandler.GetMarketTrends)
			analytics.DELETE("/trends/cache", deps.Auth.RequireAdmin(), trendHandler.InvalidateCache)
		}
	}
}
