package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// ReadinessProbe checks one backing dependency. Only the dependencies
// actually wired for the configured store backend are probed; a pure
// in-memory deployment has none.
type ReadinessProbe struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthHandler serves the liveness and readiness endpoints
type HealthHandler struct {
	storeBackend string
	probes       []ReadinessProbe
	startedAt    time.Time
}

// NewHealthHandler creates a HealthHandler for the given store backend
func NewHealthHandler(storeBackend string, probes ...ReadinessProbe) *HealthHandler {
	return &HealthHandler{
		storeBackend: storeBackend,
		probes:       probes,
		startedAt:    time.Now().UTC(),
	}
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status        string `json:"status"`
	StoreBackend  string `json:"store_backend"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Timestamp     string `json:"timestamp"`
}

// ReadyResponse represents readiness check response
type ReadyResponse struct {
	Status     string            `json:"status"`
	Timestamp  string            `json:"timestamp"`
	Components map[string]string `json:"components"`
}

// Health returns a simple health check (liveness probe)
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:        "healthy",
		StoreBackend:  h.storeBackend,
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready returns a readiness check (readiness probe)
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	components := make(map[string]string, len(h.probes))
	ready := true

	for _, probe := range h.probes {
		if err := probe.Check(ctx); err != nil {
			components[probe.Name] = "unhealthy: " + err.Error()
			ready = false
		} else {
			components[probe.Name] = "healthy"
		}
	}

	response := ReadyResponse{
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Components: components,
	}

	if ready {
		response.Status = "ready"
		c.JSON(http.StatusOK, response)
	} else {
		response.Status = "not ready"
		c.JSON(http.StatusServiceUnavailable, response)
	}
}
