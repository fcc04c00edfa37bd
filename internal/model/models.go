package model

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// MailAccount represents one connected mailbox. Credential fields are written
// only by the token manager; cursor and last-check only by the ingestion
// pipeline.
type MailAccount struct {
	ID                  uint           `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID              string         `json:"user_id" gorm:"type:varchar(64);not null;uniqueIndex:idx_owner_mailbox"`
	Email               string         `json:"email" gorm:"type:varchar(255);not null;uniqueIndex:idx_owner_mailbox"`
	AccessToken         string         `json:"-" gorm:"type:text;not null"`
	RefreshToken        string         `json:"-" gorm:"type:text;not null"`
	ExpiresAt           time.Time      `json:"expires_at"`
	IsActive            bool           `json:"is_active" gorm:"default:true"`
	HistoryID           uint64         `json:"history_id"`
	WatchExpiration     *time.Time     `json:"watch_expiration"`
	LastSuccessfulCheck *time.Time     `json:"last_successful_check"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
	DeletedAt           gorm.DeletedAt `json:"-" gorm:"index"`
}

// TableName specifies the table name for MailAccount
func (MailAccount) TableName() string {
	return "mail_accounts"
}

// ForwardRule is a user-defined forwarding condition paired with a destination
// address. A rule with neither sender nor keywords is inert and never matches.
type ForwardRule struct {
	ID               uint           `json:"id" gorm:"primaryKey;autoIncrement"`
	Name             string         `json:"name" gorm:"type:varchar(255);not null"`
	EmailSender      string         `json:"email_sender" gorm:"type:varchar(255)"`
	EmailKeywords    string         `json:"email_keywords" gorm:"type:text"`
	AutoForwardTo    string         `json:"auto_forward_to" gorm:"type:varchar(255)"`
	IsChatForwarding bool           `json:"is_chat_forwarding" gorm:"default:false"`
	Enabled          bool           `json:"enabled" gorm:"default:true"`
	UserID           string         `json:"user_id" gorm:"type:varchar(64);not null;index"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	DeletedAt        gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// TableName specifies the table name for ForwardRule
func (ForwardRule) TableName() string {
	return "forward_rules"
}

// KeywordList splits the stored comma-separated keywords, dropping blanks.
func (r *ForwardRule) KeywordList() []string {
	if r.EmailKeywords == "" {
		return nil
	}
	var keywords []string
	for _, k := range strings.Split(r.EmailKeywords, ",") {
		k = strings.TrimSpace(k)
		if k != "" {
			keywords = append(keywords, k)
		}
	}
	return keywords
}

// ForwardingActivity is the immutable audit record for one forward attempt.
// The (email_id, rule_id) unique index is the authoritative duplicate guard.
type ForwardingActivity struct {
	ID           uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	EmailID      string    `json:"email_id" gorm:"type:varchar(255);not null;uniqueIndex:idx_email_rule"`
	RuleID       uint      `json:"rule_id" gorm:"not null;uniqueIndex:idx_email_rule"`
	AccountID    uint      `json:"account_id" gorm:"index"`
	EmailFrom    string    `json:"email_from" gorm:"type:varchar(255)"`
	EmailSubject string    `json:"email_subject" gorm:"type:varchar(512)"`
	ForwardedTo  string    `json:"forwarded_to" gorm:"type:varchar(255);not null"`
	Status       string    `json:"status" gorm:"type:varchar(50);not null"` // success, failed
	ErrorMessage string    `json:"error_message" gorm:"type:text"`
	CreatedAt    time.Time `json:"created_at"`
}

// TableName specifies the table name for ForwardingActivity
func (ForwardingActivity) TableName() string {
	return "forwarding_activities"
}

// Activity status values.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// PendingChatMessage is a queued inbound chat-bot message awaiting the next
// sweep. A failed drain keeps processed=false and records the error so the
// message is retried.
type PendingChatMessage struct {
	ID             uint       `json:"id" gorm:"primaryKey;autoIncrement"`
	ChatID         string     `json:"chat_id" gorm:"type:varchar(64);not null"`
	MessageID      int        `json:"message_id" gorm:"not null"`
	Text           string     `json:"text" gorm:"type:text"`
	PhotoFileID    string     `json:"photo_file_id" gorm:"type:varchar(255)"`
	DocumentFileID string     `json:"document_file_id" gorm:"type:varchar(255)"`
	FileName       string     `json:"file_name" gorm:"type:varchar(255)"`
	ReceivedAt     time.Time  `json:"received_at"`
	Processed      bool       `json:"processed" gorm:"default:false;index"`
	ProcessedAt    *time.Time `json:"processed_at"`
	Error          string     `json:"error" gorm:"type:text"`
	CreatedAt      time.Time  `json:"created_at"`
}

// TableName specifies the table name for PendingChatMessage
func (PendingChatMessage) TableName() string {
	return "pending_chat_messages"
}

// Bill is a tracked payable used by the due-date reminder sweep step. Amount
// and due-date extraction from email content is out of scope; rows are
// created via the dashboard.
type Bill struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	RuleID    uint      `json:"rule_id" gorm:"index"`
	Amount    float64   `json:"amount"`
	DueDate   time.Time `json:"due_date" gorm:"index"`
	Status    string    `json:"status" gorm:"type:varchar(50);default:'Pending'"` // Pending, Paid
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Rule *ForwardRule `json:"rule,omitempty" gorm:"foreignKey:RuleID"`
}

// TableName specifies the table name for Bill
func (Bill) TableName() string {
	return "bills"
}

// DebugLog is a persisted, capacity-trimmed log row written by the webhook
// entry points and read by the dashboard.
type DebugLog struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	Type      string    `json:"type" gorm:"type:varchar(50);index"`
	Message   string    `json:"message" gorm:"type:varchar(512)"`
	Data      string    `json:"data" gorm:"type:text"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName specifies the table name for DebugLog
func (DebugLog) TableName() string {
	return "debug_logs"
}

// EmailMessage is the in-flight representation of one candidate email: just
// enough metadata to run matching, plus the raw transfer-encoded form when the
// fetch path already has it.
type EmailMessage struct {
	ID      string `json:"id"`
	From    string `json:"from"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Snippet string `json:"snippet"`
	Raw     []byte `json:"-"`
}

// Attachment is one outbound attachment for composed (chat-drain) sends.
type Attachment struct {
	Filename string `json:"filename"`
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"data"`
}
