package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"bill-relay-go/internal/config"
	"bill-relay-go/internal/metrics"
	"bill-relay-go/internal/model"
	"bill-relay-go/internal/pipeline"
	"bill-relay-go/internal/repository"
	"bill-relay-go/internal/scheduler"
)

// Prometheus metrics register once per process.
var testMetrics = metrics.NewMetrics()

func setupTest(t *testing.T) (*gin.Engine, *gorm.DB, *repository.Repository) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:handler_%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&model.MailAccount{},
		&model.ForwardRule{},
		&model.ForwardingActivity{},
		&model.PendingChatMessage{},
		&model.Bill{},
		&model.DebugLog{},
	))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	repo := repository.New(db)
	providerFunc := func(ctx context.Context, account *model.MailAccount) (pipeline.Provider, error) {
		return nil, fmt.Errorf("no provider in tests")
	}
	cfg := &config.Config{
		Backfill: config.BackfillConfig{MaxDays: 30, MaxMessages: 500},
		Cron:     config.CronConfig{Secret: "s3cret"},
	}
	pipe := pipeline.New(repo, providerFunc, nil, nil, testMetrics, cfg)
	sched := scheduler.NewScheduler(&config.SchedulerConfig{IntervalMinutes: 59}, pipe)

	router := gin.New()
	New(db, repo, pipe, sched, cfg).SetupRoutes(router)
	return router, db, repo
}

func TestCronTriggerAuth(t *testing.T) {
	router, _, _ := setupTest(t)

	// No token.
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/cron", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Wrong token.
	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/cron", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Correct token runs the sweep and reports its result.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/cron", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"success":true`)
}

func TestGmailWebhookAlwaysAcknowledges(t *testing.T) {
	router, _, _ := setupTest(t)

	// Garbage body.
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/gmail/webhook", strings.NewReader("not json")))
	assert.Equal(t, http.StatusOK, w.Code)

	// Valid envelope for a mailbox nobody connected: still 200.
	payload, _ := json.Marshal(map[string]interface{}{
		"emailAddress": "stranger@gmail.com",
		"historyId":    12345,
	})
	envelope, _ := json.Marshal(map[string]interface{}{
		"message": map[string]string{
			"data":      base64.StdEncoding.EncodeToString(payload),
			"messageId": "pub-1",
		},
	})
	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/gmail/webhook", strings.NewReader(string(envelope)))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTelegramWebhookEnqueues(t *testing.T) {
	router, _, repo := setupTest(t)

	update := `{"update_id":1,"message":{"message_id":7,"text":"rent bill","chat":{"id":42}}}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/telegram/webhook", strings.NewReader(update))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	pending, err := repo.PendingChatMessages(10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "42", pending[0].ChatID)
	assert.Equal(t, 7, pending[0].MessageID)
	assert.Equal(t, "rent bill", pending[0].Text)
}

func TestRulesCRUD(t *testing.T) {
	router, _, _ := setupTest(t)

	// Create.
	body := `{"name":"acme","email_sender":"billing@acme.com","email_keywords":["invoice"],"auto_forward_to":"archive@example.com"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/rules", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	var created model.ForwardRule
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "invoice", created.EmailKeywords)
	assert.True(t, created.Enabled)

	// An inert rule is rejected.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/rules", strings.NewReader(`{"name":"inert","auto_forward_to":"a@b.com"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// List.
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/rules", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var rules []model.ForwardRule
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rules))
	assert.Len(t, rules, 1)

	// Update: disable the rule.
	update := `{"name":"acme","email_sender":"billing@acme.com","email_keywords":["invoice"],"auto_forward_to":"archive@example.com","enabled":false}`
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPut, fmt.Sprintf("/api/rules/%d", created.ID), strings.NewReader(update))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var updated model.ForwardRule
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	assert.False(t, updated.Enabled)

	// Delete.
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/api/rules/%d", created.ID), nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/rules/%d", created.ID), nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSecondChatForwardingRuleConflicts(t *testing.T) {
	router, _, _ := setupTest(t)

	body := `{"name":"chat","auto_forward_to":"archive@example.com","is_chat_forwarding":true}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/rules", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/rules", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestGetActivityAndDebugLogs(t *testing.T) {
	router, _, repo := setupTest(t)

	require.NoError(t, repo.RecordActivity(&model.ForwardingActivity{
		EmailID: "m1", RuleID: 1, ForwardedTo: "a@b.com", Status: model.StatusSuccess,
	}))
	require.NoError(t, repo.AddDebugLog("gmail", "push received", "{}"))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/activity", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var activities []model.ForwardingActivity
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &activities))
	assert.Len(t, activities, 1)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/debug/logs", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "push received")
}
