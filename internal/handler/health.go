package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]string `json:"services"`
	Scheduler SchedulerStatus   `json:"scheduler"`
}

// SchedulerStatus represents the scheduler status
type SchedulerStatus struct {
	Running bool       `json:"running"`
	NextRun *time.Time `json:"next_run,omitempty"`
	LastRun *time.Time `json:"last_run,omitempty"`
}

// HealthCheck returns service health
func (h *Handlers) HealthCheck(c *gin.Context) {
	services := make(map[string]string)
	status := "healthy"

	sqlDB, err := h.db.DB()
	if err != nil || sqlDB.Ping() != nil {
		services["database"] = "unhealthy"
		status = "unhealthy"
	} else {
		services["database"] = "healthy"
	}

	schedStatus := SchedulerStatus{Running: h.scheduler.IsRunning()}
	if schedStatus.Running {
		if next := h.scheduler.GetNextRun(); !next.IsZero() {
			schedStatus.NextRun = &next
		}
		if last := h.scheduler.GetLastRun(); !last.IsZero() {
			schedStatus.LastRun = &last
		}
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, HealthResponse{
		Status:    status,
		Timestamp: time.Now(),
		Services:  services,
		Scheduler: schedStatus,
	})
}
