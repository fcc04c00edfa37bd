package repository

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"bill-relay-go/internal/model"
)

// debugLogCap bounds the persisted debug-log table.
const debugLogCap = 1000

type Repository struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// ActiveAccounts returns all mailboxes eligible for ingestion.
func (r *Repository) ActiveAccounts() ([]model.MailAccount, error) {
	var accounts []model.MailAccount
	result := r.db.Where("is_active = ?", true).Order("id asc").Find(&accounts)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to get active accounts: %w", result.Error)
	}
	return accounts, nil
}

// AccountByEmail resolves a mailbox address to its account record. Returns
// nil without error when no account is connected for that address.
func (r *Repository) AccountByEmail(email string) (*model.MailAccount, error) {
	var account model.MailAccount
	result := r.db.Where("email = ? AND is_active = ?", email, true).First(&account)
	if result.Error == nil {
		return &account, nil
	}
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return nil, fmt.Errorf("failed to find account: %w", result.Error)
}

// UpdateCredential persists a refreshed access token. The token manager is
// the only caller; no other component writes credential fields.
func (r *Repository) UpdateCredential(accountID uint, accessToken string, expiresAt time.Time) error {
	result := r.db.Model(&model.MailAccount{}).Where("id = ?", accountID).
		Updates(map[string]interface{}{"access_token": accessToken, "expires_at": expiresAt})
	if result.Error != nil {
		return fmt.Errorf("failed to update credential: %w", result.Error)
	}
	return nil
}

// DeactivateAccount soft-deactivates a mailbox whose grant was revoked.
func (r *Repository) DeactivateAccount(accountID uint) error {
	result := r.db.Model(&model.MailAccount{}).Where("id = ?", accountID).Update("is_active", false)
	if result.Error != nil {
		return fmt.Errorf("failed to deactivate account: %w", result.Error)
	}
	return nil
}

// AdvanceHistoryID moves the incremental-sync cursor forward. The update is
// conditional so a slow concurrent run cannot regress a newer cursor.
func (r *Repository) AdvanceHistoryID(accountID uint, historyID uint64) error {
	result := r.db.Model(&model.MailAccount{}).
		Where("id = ? AND history_id < ?", accountID, historyID).
		Update("history_id", historyID)
	if result.Error != nil {
		return fmt.Errorf("failed to advance history id: %w", result.Error)
	}
	return nil
}

// TouchLastCheck records a completed fetch-and-process loop, advance-if-newer.
func (r *Repository) TouchLastCheck(accountID uint, checkedAt time.Time) error {
	result := r.db.Model(&model.MailAccount{}).
		Where("id = ? AND (last_successful_check IS NULL OR last_successful_check < ?)", accountID, checkedAt).
		Update("last_successful_check", checkedAt)
	if result.Error != nil {
		return fmt.Errorf("failed to update last check: %w", result.Error)
	}
	return nil
}

// UpdateWatch stores a renewed push subscription's expiry and asserted cursor.
func (r *Repository) UpdateWatch(accountID uint, expiration time.Time, historyID uint64) error {
	result := r.db.Model(&model.MailAccount{}).Where("id = ?", accountID).
		Update("watch_expiration", expiration)
	if result.Error != nil {
		return fmt.Errorf("failed to update watch expiration: %w", result.Error)
	}
	if historyID > 0 {
		return r.AdvanceHistoryID(accountID, historyID)
	}
	return nil
}

// ForwardingRules returns the owner's enabled rules in creation order, the
// stable order the matcher iterates in.
func (r *Repository) ForwardingRules(userID string) ([]model.ForwardRule, error) {
	var rules []model.ForwardRule
	result := r.db.Where("user_id = ? AND enabled = ?", userID, true).Order("id asc").Find(&rules)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to get rules: %w", result.Error)
	}
	return rules, nil
}

// ChatForwardingRule returns the rule flagged for chat-bot forwarding, nil if
// none is configured.
func (r *Repository) ChatForwardingRule() (*model.ForwardRule, error) {
	var rule model.ForwardRule
	result := r.db.Where("is_chat_forwarding = ? AND enabled = ?", true, true).First(&rule)
	if result.Error == nil {
		return &rule, nil
	}
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return nil, fmt.Errorf("failed to get chat forwarding rule: %w", result.Error)
}

// AlreadyForwarded is the fast-path duplicate check for a (message, rule)
// pair. The unique index behind RecordActivity remains the authoritative
// guard under concurrent runs.
func (r *Repository) AlreadyForwarded(emailID string, ruleID uint) (bool, error) {
	var activity model.ForwardingActivity
	result := r.db.Where("email_id = ? AND rule_id = ?", emailID, ruleID).First(&activity)
	if result.Error == nil {
		return true, nil
	}
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("failed to check forwarding activity: %w", result.Error)
}

// RecordActivity appends one audit record. A duplicate-key violation means a
// concurrent run already handled this (message, rule) pair and is swallowed
// as success.
func (r *Repository) RecordActivity(activity *model.ForwardingActivity) error {
	result := r.db.Create(activity)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			logrus.Debugf("Activity for email %s rule %d already recorded by a concurrent run", activity.EmailID, activity.RuleID)
			return nil
		}
		return fmt.Errorf("failed to record forwarding activity: %w", result.Error)
	}
	return nil
}

// Activities returns the newest audit records, optionally filtered by rule.
func (r *Repository) Activities(limit int, ruleID uint) ([]model.ForwardingActivity, error) {
	if limit <= 0 {
		limit = 100
	}
	query := r.db.Order("created_at desc").Limit(limit)
	if ruleID > 0 {
		query = query.Where("rule_id = ?", ruleID)
	}
	var activities []model.ForwardingActivity
	if err := query.Find(&activities).Error; err != nil {
		return nil, fmt.Errorf("failed to get activities: %w", err)
	}
	return activities, nil
}

// PendingChatMessages returns queued unprocessed inbound chat messages.
func (r *Repository) PendingChatMessages(limit int) ([]model.PendingChatMessage, error) {
	var pending []model.PendingChatMessage
	result := r.db.Where("processed = ?", false).Order("id asc").Limit(limit).Find(&pending)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to get pending chat messages: %w", result.Error)
	}
	return pending, nil
}

// EnqueueChatMessage stores an inbound chat message for the next sweep.
func (r *Repository) EnqueueChatMessage(msg *model.PendingChatMessage) error {
	if err := r.db.Create(msg).Error; err != nil {
		return fmt.Errorf("failed to enqueue chat message: %w", err)
	}
	return nil
}

// MarkChatMessageProcessed finalizes one drained message. On failure the
// processed flag stays false and the error is recorded so the next sweep
// retries.
func (r *Repository) MarkChatMessageProcessed(id uint, drainErr error) error {
	now := time.Now()
	updates := map[string]interface{}{"processed_at": now}
	if drainErr != nil {
		updates["processed"] = false
		updates["error"] = drainErr.Error()
	} else {
		updates["processed"] = true
		updates["error"] = ""
	}
	result := r.db.Model(&model.PendingChatMessage{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to mark chat message: %w", result.Error)
	}
	return nil
}

// DueBills returns pending bills due within the given horizon.
func (r *Repository) DueBills(within time.Duration) ([]model.Bill, error) {
	now := time.Now()
	var bills []model.Bill
	result := r.db.Preload("Rule").
		Where("status = ? AND due_date >= ? AND due_date <= ?", "Pending", now, now.Add(within)).
		Find(&bills)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to get due bills: %w", result.Error)
	}
	return bills, nil
}

// AddDebugLog appends one debug row, then trims the table back to its cap so
// the log cannot grow without bound.
func (r *Repository) AddDebugLog(logType, message, data string) error {
	if err := r.db.Create(&model.DebugLog{Type: logType, Message: message, Data: data}).Error; err != nil {
		return fmt.Errorf("failed to add debug log: %w", err)
	}

	var count int64
	if err := r.db.Model(&model.DebugLog{}).Count(&count).Error; err != nil {
		return nil
	}
	if count > debugLogCap {
		var cutoff model.DebugLog
		if err := r.db.Order("id desc").Offset(debugLogCap - 1).First(&cutoff).Error; err == nil {
			r.db.Where("id < ?", cutoff.ID).Delete(&model.DebugLog{})
		}
	}
	return nil
}

// DebugLogs returns the newest debug rows.
func (r *Repository) DebugLogs(limit int) ([]model.DebugLog, error) {
	if limit <= 0 {
		limit = 100
	}
	var logs []model.DebugLog
	if err := r.db.Order("id desc").Limit(limit).Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("failed to get debug logs: %w", err)
	}
	return logs, nil
}
