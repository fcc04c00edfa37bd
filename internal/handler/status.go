package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"bill-relay-go/internal/gmailrelay"
	"bill-relay-go/internal/model"
)

// GetActivity returns the newest forwarding audit records. Supports ?limit=
// and ?rule_id= filters.
func (h *Handlers) GetActivity(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	ruleID, _ := strconv.Atoi(c.Query("rule_id"))

	activities, err := h.repo.Activities(limit, uint(ruleID))
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch activity",
			Code:    http.StatusInternalServerError,
		})
		return
	}
	c.JSON(http.StatusOK, activities)
}

// accountStatus is the per-mailbox view returned by GetAccounts. Tokens are
// never exposed here.
type accountStatus struct {
	ID                  uint              `json:"id"`
	Email               string            `json:"email"`
	IsActive            bool              `json:"is_active"`
	LastSuccessfulCheck *time.Time        `json:"last_successful_check"`
	WatchExpiration     *time.Time        `json:"watch_expiration"`
	HistoryID           uint64            `json:"history_id"`
	Credential          gmailrelay.Health `json:"credential"`
}

// GetAccounts lists connected mailboxes with their credential health.
func (h *Handlers) GetAccounts(c *gin.Context) {
	var accounts []model.MailAccount
	if err := h.db.Order("id asc").Find(&accounts).Error; err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch accounts",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	now := time.Now()
	statuses := make([]accountStatus, 0, len(accounts))
	for i := range accounts {
		a := &accounts[i]
		statuses = append(statuses, accountStatus{
			ID:                  a.ID,
			Email:               a.Email,
			IsActive:            a.IsActive,
			LastSuccessfulCheck: a.LastSuccessfulCheck,
			WatchExpiration:     a.WatchExpiration,
			HistoryID:           a.HistoryID,
			Credential:          gmailrelay.CheckHealth(a, now),
		})
	}
	c.JSON(http.StatusOK, statuses)
}

// GetDebugLogs returns the newest rows of the capped debug log.
func (h *Handlers) GetDebugLogs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	logs, err := h.repo.DebugLogs(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch debug logs",
			Code:    http.StatusInternalServerError,
		})
		return
	}
	c.JSON(http.StatusOK, logs)
}
