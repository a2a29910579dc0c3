package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/celebrum-trends/internal/models"
	"github.com/irfndi/celebrum-trends/internal/services"
)

type MockTrendProvider struct {
	mock.Mock
}

func (m *MockTrendProvider) GetMarketTrends(ctx context.Context, opts services.TrendOptions) (*models.TrendReport, bool, error) {
	args := m.Called(ctx, opts)
	report, _ := args.Get(0).(*models.TrendReport)
	return report, args.Bool(1), args.Error(2)
}

func (m *MockTrendProvider) InvalidateCache(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type MockHealthChecker struct {
	mock.Mock
}

func (m *MockHealthChecker) HealthCheck(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func sampleTrendReport() *models.TrendReport {
	rmse := 1.5e-9
	return &models.TrendReport{
		RunID: uuid.MustParse("5f0c5a4e-8c43-4b52-9b7e-2d8d7b7c9a10"),
		Seed:  42,
		Markets: []models.MarketTrend{{
			City:          "Casablanca",
			MarketID:      "casablanca",
			ModelUsed:     "Statistical",
			RMSEError:     &rmse,
			MarketCluster: "Cluster 1",
			ClusterID:     1,
			Trend:         "rising",
			Forecast: []models.ForecastPoint{
				{Date: "2024-04-01", Price: decimal.RequireFromString("0.000000123")},
			},
		}},
	}
}

func trendRouter(provider TrendProvider) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewTrendHandler(provider)
	router := gin.New()
	router.GET("/trends", h.GetMarketTrends)
	router.DELETE("/trends/cache", h.InvalidateCache)
	return router
}

func serve(router http.Handler, method, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(method, target, nil))
	return w
}

func TestTrendHandler_GetMarketTrends(t *testing.T) {
	provider := &MockTrendProvider{}
	provider.On("GetMarketTrends", mock.Anything, services.TrendOptions{}).Return(sampleTrendReport(), true, nil)

	w := serve(trendRouter(provider), http.MethodGet, "/trends")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Status string           `json:"status"`
		Cached bool             `json:"cached"`
		Data   []map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "success", body.Status)
	assert.True(t, body.Cached)
	require.Len(t, body.Data, 1)

	market := body.Data[0]
	assert.Equal(t, "Casablanca", market["city"])
	assert.Equal(t, "Statistical", market["model_used"])
	assert.Equal(t, "Cluster 1", market["market_cluster"])
	assert.InDelta(t, 1.5e-9, market["rmse_error"], 1e-18)
	forecast := market["forecast"].([]any)
	point := forecast[0].(map[string]any)
	assert.Equal(t, "2024-04-01", point["date"])
	assert.Equal(t, "0.000000123", point["price"])
	provider.AssertExpectations(t)
}

func TestTrendHandler_QueryParameters(t *testing.T) {
	provider := &MockTrendProvider{}
	seed := uint64(7)
	provider.On("GetMarketTrends", mock.Anything, services.TrendOptions{Refresh: true, Seed: &seed}).
		Return(sampleTrendReport(), false, nil)

	w := serve(trendRouter(provider), http.MethodGet, "/trends?refresh=true&seed=7")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"cached":false`)
	provider.AssertExpectations(t)
}

func TestTrendHandler_RejectsBadParameters(t *testing.T) {
	provider := &MockTrendProvider{}
	router := trendRouter(provider)

	for _, target := range []string{"/trends?refresh=maybe", "/trends?seed=-3", "/trends?seed=abc"} {
		w := serve(router, http.MethodGet, target)
		assert.Equal(t, http.StatusBadRequest, w.Code, target)
		assert.Contains(t, w.Body.String(), `"status":"error"`, target)
	}
	provider.AssertNotCalled(t, "GetMarketTrends", mock.Anything, mock.Anything)
}

func TestTrendHandler_ServiceErrors(t *testing.T) {
	provider := &MockTrendProvider{}
	provider.On("GetMarketTrends", mock.Anything, services.TrendOptions{}).
		Return(nil, false, errors.New("load history: backend down")).Once()
	provider.On("GetMarketTrends", mock.Anything, services.TrendOptions{}).
		Return(nil, false, context.DeadlineExceeded).Once()
	router := trendRouter(provider)

	w := serve(router, http.MethodGet, "/trends")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "backend down")

	w = serve(router, http.MethodGet, "/trends")
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
}

func TestTrendHandler_InvalidateCache(t *testing.T) {
	provider := &MockTrendProvider{}
	provider.On("InvalidateCache", mock.Anything).Return(2, nil).Once()
	provider.On("InvalidateCache", mock.Anything).Return(0, errors.New("circuit breaker is open")).Once()
	router := trendRouter(provider)

	w := serve(router, http.MethodDelete, "/trends/cache")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"success","removed":2}`, w.Body.String())

	w = serve(router, http.MethodDelete, "/trends/cache")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func healthRouter(h *HealthHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/health", h.HealthCheck)
	return router
}

func fixedMemory(context.Context) (*mem.VirtualMemoryStat, error) {
	return &mem.VirtualMemoryStat{UsedPercent: 42.5, Available: 512 * 1024 * 1024}, nil
}

func TestHealthHandler_Healthy(t *testing.T) {
	db := &MockHealthChecker{}
	db.On("HealthCheck", mock.Anything).Return(nil)
	redis := &MockHealthChecker{}
	redis.On("HealthCheck", mock.Anything).Return(nil)

	h := NewHealthHandler(db, redis, "1.2.3")
	h.memory = fixedMemory

	w := serve(healthRouter(h), http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "healthy", resp.Services["database"])
	assert.Equal(t, "healthy", resp.Services["redis"])
	assert.Equal(t, "1.2.3", resp.Version)
	require.NotNil(t, resp.Memory)
	assert.Equal(t, uint64(512), resp.Memory.AvailableMB)
}

func TestHealthHandler_Degraded(t *testing.T) {
	db := &MockHealthChecker{}
	db.On("HealthCheck", mock.Anything).Return(errors.New("connection refused"))

	h := NewHealthHandler(db, nil, "dev")
	h.memory = func(context.Context) (*mem.VirtualMemoryStat, error) { return nil, errors.New("unsupported") }

	w := serve(healthRouter(h), http.MethodGet, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "unhealthy", resp.Status)
	assert.Equal(t, "unhealthy: connection refused", resp.Services["database"])
	assert.Equal(t, "not configured", resp.Services["redis"])
	assert.Nil(t, resp.Memory)
}

func TestHealthHandler_OptionalDependencies(t *testing.T) {
	h := NewHealthHandler(nil, nil, "dev")
	h.memory = fixedMemory

	w := serve(healthRouter(h), http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
}
