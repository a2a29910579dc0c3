package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/mem"
)

var startTime = time.Now()

// HealthChecker is implemented by the Postgres and Redis clients.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// MemoryStatus is the host memory snapshot included in health responses.
type MemoryStatus struct {
	UsedPercent float64 `json:"used_percent"`
	AvailableMB uint64  `json:"available_mb"`
}

type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]string `json:"services"`
	Memory    *MemoryStatus     `json:"memory,omitempty"`
	Version   string            `json:"version"`
	Uptime    string            `json:"uptime"`
}

type HealthHandler struct {
	db      HealthChecker
	redis   HealthChecker
	version string
	memory  func(ctx context.Context) (*mem.VirtualMemoryStat, error)
}

// NewHealthHandler creates a health handler. A nil checker reports the
// dependency as not configured without failing the check, since both
// Postgres and Redis are optional.
func NewHealthHandler(db, redis HealthChecker, version string) *HealthHandler {
	return &HealthHandler{
		db:      db,
		redis:   redis,
		version: version,
		memory:  mem.VirtualMemoryWithContext,
	}
}

func (h *HealthHandler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	services := map[string]string{
		"database": checkDependency(ctx, h.db),
		"redis":    checkDependency(ctx, h.redis),
	}

	overallStatus := "healthy"
	for _, status := range services {
		if status != "healthy" && status != "not configured" {
			overallStatus = "unhealthy"
			break
		}
	}

	response := HealthResponse{
		Status:    overallStatus,
		Timestamp: time.Now(),
		Services:  services,
		Version:   h.version,
		Uptime:    time.Since(startTime).String(),
	}
	if vm, err := h.memory(ctx); err == nil {
		response.Memory = &MemoryStatus{
			UsedPercent: vm.UsedPercent,
			AvailableMB: vm.Available / (1024 * 1024),
		}
	}

	statusCode := http.StatusOK
	if overallStatus != "healthy" {
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, response)
}

func checkDependency(ctx context.Context, checker HealthChecker) string {
	if checker == nil {
		return "not configured"
	}
	if err := checker.HealthCheck(ctx); err != nil {
		return "unhealthy: " + err.Error()
	}
	return "healthy"
}
