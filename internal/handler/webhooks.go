package handler

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"bill-relay-go/internal/model"
)

// pubSubEnvelope is the push-delivery wrapper around a mailbox change
// notification.
type pubSubEnvelope struct {
	Message struct {
		Data      string `json:"data"`
		MessageID string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// pushPayload is the decoded notification body.
type pushPayload struct {
	EmailAddress string      `json:"emailAddress"`
	HistoryID    json.Number `json:"historyId"`
}

// GmailWebhook handles mailbox push notifications. It always acknowledges
// with 200: the push provider interprets anything else as "retry", and a
// retry would replay side effects the duplicate guard has already absorbed.
func (h *Handlers) GmailWebhook(c *gin.Context) {
	var envelope pubSubEnvelope
	if err := c.ShouldBindJSON(&envelope); err != nil || envelope.Message.Data == "" {
		logrus.Warn("Push notification without message data, ignoring")
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}

	data, err := base64.StdEncoding.DecodeString(envelope.Message.Data)
	if err != nil {
		logrus.Warnf("Failed to decode push envelope: %v", err)
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}

	var payload pushPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.EmailAddress == "" {
		logrus.Warnf("Malformed push payload, ignoring: %v", err)
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}

	historyID, _ := strconv.ParseUint(payload.HistoryID.String(), 10, 64)
	logrus.Infof("Push notification for %s, historyId %d", payload.EmailAddress, historyID)

	h.repo.AddDebugLog("gmail", "Push notification received", string(data))

	if err := h.pipeline.HandlePushNotification(c.Request.Context(), payload.EmailAddress, historyID); err != nil {
		logrus.Errorf("Push notification handling failed: %v", err)
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// TelegramWebhook enqueues an inbound chat message for the next sweep's
// drain. Telegram treats non-200 as retry, so the handler always
// acknowledges.
func (h *Handlers) TelegramWebhook(c *gin.Context) {
	var update models.Update
	if err := c.ShouldBindJSON(&update); err != nil || update.Message == nil {
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}

	msg := update.Message
	pending := &model.PendingChatMessage{
		ChatID:     strconv.FormatInt(msg.Chat.ID, 10),
		MessageID:  msg.ID,
		Text:       msg.Text,
		ReceivedAt: time.Now(),
	}
	if len(msg.Photo) > 0 {
		// Telegram sends photos in ascending resolutions; keep the largest.
		pending.PhotoFileID = msg.Photo[len(msg.Photo)-1].FileID
	}
	if msg.Document != nil {
		pending.DocumentFileID = msg.Document.FileID
		pending.FileName = msg.Document.FileName
	}

	h.repo.AddDebugLog("telegram", "Chat message received", msg.Text)

	if err := h.repo.EnqueueChatMessage(pending); err != nil {
		logrus.Errorf("Failed to enqueue chat message: %v", err)
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
