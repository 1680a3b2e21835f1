// Package health exposes liveness and readiness probes for the fabric.
package health

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// StatusReporter lets protocol cores contribute counters to the health body.
type StatusReporter interface {
	Service() string
	Counts() (workspaces int, rooms int, connections int)
}

// Handler manages health check endpoints
type Handler struct {
	reporters []StatusReporter
	startedAt time.Time
}

// NewHandler creates a new health check handler
func NewHandler(reporters ...StatusReporter) *Handler {
	return &Handler{
		reporters: reporters,
		startedAt: time.Now().UTC(),
	}
}

// HealthResponse is the body of the top-level health endpoint.
type HealthResponse struct {
	Status        string `json:"status"`
	ServerRunning bool   `json:"server_running"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Timestamp     string `json:"timestamp"`
}

// LivenessResponse represents the liveness probe response
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse represents the readiness probe response
type ReadinessResponse struct {
	Status    string           `json:"status"`
	Services  []map[string]any `json:"services"`
	Timestamp string           `json:"timestamp"`
}

// Health handles GET /health. Returns 200 whenever the process is serving;
// the fabric has no external dependencies to degrade on.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:        "healthy",
		ServerRunning: true,
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	})
}

// Liveness handles GET /health/live.
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness handles GET /health/ready. All state is in-process, so readiness
// reports per-service counters rather than dependency checks.
func (h *Handler) Readiness(c *gin.Context) {
	services := make([]map[string]any, 0, len(h.reporters))
	for _, r := range h.reporters {
		workspaces, rooms, connections := r.Counts()
		services = append(services, map[string]any{
			"service":     r.Service(),
			"workspaces":  workspaces,
			"rooms":       rooms,
			"connections": connections,
		})
	}

	c.JSON(http.StatusOK, ReadinessResponse{
		Status:    "ready",
		Services:  services,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
