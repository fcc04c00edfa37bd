// Package handler exposes the HTTP surface: trigger entry points for the
// scheduler and the push providers, and read endpoints for the dashboard.
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"bill-relay-go/internal/config"
	"bill-relay-go/internal/pipeline"
	"bill-relay-go/internal/repository"
	"bill-relay-go/internal/scheduler"
)

type Handlers struct {
	db         *gorm.DB
	repo       *repository.Repository
	pipeline   *pipeline.Pipeline
	scheduler  *scheduler.Scheduler
	cronSecret string
}

func New(db *gorm.DB, repo *repository.Repository, p *pipeline.Pipeline, s *scheduler.Scheduler, cfg *config.Config) *Handlers {
	return &Handlers{
		db:         db,
		repo:       repo,
		pipeline:   p,
		scheduler:  s,
		cronSecret: cfg.Cron.Secret,
	}
}

// SetupRoutes registers all routes
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	router.GET("/health", h.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		api.GET("/cron", h.CronTrigger)

		api.POST("/gmail/webhook", h.GmailWebhook)
		api.POST("/telegram/webhook", h.TelegramWebhook)

		api.GET("/rules", h.GetRules)
		api.POST("/rules", h.CreateRule)
		api.GET("/rules/:id", h.GetRule)
		api.PUT("/rules/:id", h.UpdateRule)
		api.DELETE("/rules/:id", h.DeleteRule)

		api.GET("/activity", h.GetActivity)
		api.GET("/accounts", h.GetAccounts)
		api.GET("/debug/logs", h.GetDebugLogs)
	}
}

// CronTrigger runs the full sweep on behalf of the external scheduler. The
// caller authenticates with a shared-secret bearer token; everything past the
// auth check acknowledges success so the scheduler never retries a run whose
// side effects already happened.
func (h *Handlers) CronTrigger(c *gin.Context) {
	if c.GetHeader("Authorization") != "Bearer "+h.cronSecret {
		c.String(http.StatusUnauthorized, "Unauthorized")
		return
	}

	result := h.scheduler.RunOnce(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"result":  result,
	})
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
