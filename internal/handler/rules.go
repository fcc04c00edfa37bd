package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"bill-relay-go/internal/model"
)

// ForwardRuleRequest represents the request structure for creating/updating rules
type ForwardRuleRequest struct {
	Name             string   `json:"name" binding:"required"`
	EmailSender      string   `json:"email_sender"`
	EmailKeywords    []string `json:"email_keywords"`
	AutoForwardTo    string   `json:"auto_forward_to" binding:"required,email"`
	IsChatForwarding *bool    `json:"is_chat_forwarding"`
	Enabled          *bool    `json:"enabled"`
	UserID           string   `json:"user_id"`
}

// GetRules returns all forwarding rules
func (h *Handlers) GetRules(c *gin.Context) {
	var rules []model.ForwardRule
	if err := h.db.Order("id asc").Find(&rules).Error; err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch rules",
			Code:    http.StatusInternalServerError,
		})
		return
	}
	c.JSON(http.StatusOK, rules)
}

// CreateRule creates a new forwarding rule
func (h *Handlers) CreateRule(c *gin.Context) {
	var req ForwardRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "Invalid request body",
			Code:    http.StatusBadRequest,
		})
		return
	}

	if req.EmailSender == "" && len(req.EmailKeywords) == 0 && (req.IsChatForwarding == nil || !*req.IsChatForwarding) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "A rule needs a sender or at least one keyword",
			Code:    http.StatusBadRequest,
		})
		return
	}

	rule := model.ForwardRule{
		Name:          req.Name,
		EmailSender:   req.EmailSender,
		EmailKeywords: strings.Join(req.EmailKeywords, ","),
		AutoForwardTo: req.AutoForwardTo,
		Enabled:       true,
		UserID:        req.UserID,
	}
	if rule.UserID == "" {
		rule.UserID = "admin"
	}
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}
	if req.IsChatForwarding != nil && *req.IsChatForwarding {
		// At most one chat-forwarding rule per owner.
		var count int64
		h.db.Model(&model.ForwardRule{}).Where("user_id = ? AND is_chat_forwarding = ?", rule.UserID, true).Count(&count)
		if count > 0 {
			c.JSON(http.StatusConflict, ErrorResponse{
				Error:   "conflict",
				Message: "A chat-forwarding rule already exists",
				Code:    http.StatusConflict,
			})
			return
		}
		rule.IsChatForwarding = true
	}

	if err := h.db.Create(&rule).Error; err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to create rule",
			Code:    http.StatusInternalServerError,
		})
		return
	}
	c.JSON(http.StatusCreated, rule)
}

// GetRule returns a single rule by ID
func (h *Handlers) GetRule(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_id", Message: "Invalid rule ID", Code: http.StatusBadRequest})
		return
	}
	var rule model.ForwardRule
	if err := h.db.First(&rule, id).Error; err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "Rule not found", Code: http.StatusNotFound})
		return
	}
	c.JSON(http.StatusOK, rule)
}

// UpdateRule updates an existing rule
func (h *Handlers) UpdateRule(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_id", Message: "Invalid rule ID", Code: http.StatusBadRequest})
		return
	}
	var rule model.ForwardRule
	if err := h.db.First(&rule, id).Error; err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "Rule not found", Code: http.StatusNotFound})
		return
	}
	var req ForwardRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: "Invalid request body", Code: http.StatusBadRequest})
		return
	}
	if req.Name != "" {
		rule.Name = req.Name
	}
	rule.EmailSender = req.EmailSender
	rule.EmailKeywords = strings.Join(req.EmailKeywords, ",")
	if req.AutoForwardTo != "" {
		rule.AutoForwardTo = req.AutoForwardTo
	}
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}
	if err := h.db.Save(&rule).Error; err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "database_error", Message: "Failed to update rule", Code: http.StatusInternalServerError})
		return
	}
	c.JSON(http.StatusOK, rule)
}

// DeleteRule deletes a rule by ID
func (h *Handlers) DeleteRule(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_id", Message: "Invalid rule ID", Code: http.StatusBadRequest})
		return
	}
	if err := h.db.Delete(&model.ForwardRule{}, id).Error; err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "database_error", Message: "Failed to delete rule", Code: http.StatusInternalServerError})
		return
	}
	c.Status(http.StatusNoContent)
}
