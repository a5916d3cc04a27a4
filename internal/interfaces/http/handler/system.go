package handler

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/storefront/backend/internal/interfaces/http/dto"
)

// HealthCheck reports whether one dependency is usable
type HealthCheck func(ctx context.Context) error

// SystemHandler serves liveness information
type SystemHandler struct {
	BaseHandler
	version   string
	startTime time.Time
	checks    map[string]HealthCheck
	timeout   time.Duration
}

// NewSystemHandler creates a new SystemHandler
func NewSystemHandler(version string) *SystemHandler {
	return &SystemHandler{
		version:   version,
		startTime: time.Now(),
		checks:    make(map[string]HealthCheck),
		timeout:   2 * time.Second,
	}
}

// AddCheck registers a named dependency check
func (h *SystemHandler) AddCheck(name string, check HealthCheck) *SystemHandler {
	h.checks[name] = check
	return h
}

// Health runs every check. Any failure answers 503.
// GET /health
func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	resp := dto.HealthResponse{
		Status:  "healthy",
		Version: h.version,
		Uptime:  time.Since(h.startTime).Round(time.Second).String(),
		Checks:  make(map[string]string, len(names)),
	}
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			resp.Status = "unhealthy"
			resp.Checks[name] = err.Error()
			continue
		}
		resp.Checks[name] = "ok"
	}

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, dto.Response{Success: status == http.StatusOK, Data: resp})
}
