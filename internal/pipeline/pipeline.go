// Package pipeline is the ingestion core: the fetch→match→guard→forward
// sequence shared by the scheduled sweep and the push-notification path, so
// the two triggers cannot drift apart.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"bill-relay-go/internal/backfill"
	"bill-relay-go/internal/config"
	"bill-relay-go/internal/gmailrelay"
	"bill-relay-go/internal/matcher"
	"bill-relay-go/internal/metrics"
	"bill-relay-go/internal/model"
	"bill-relay-go/internal/repository"
)

const (
	// negligibleWindow skips windowed fetches when push notifications are
	// already current.
	negligibleWindow = 5 * time.Minute

	// watchRenewAhead renews push subscriptions expiring within a day.
	watchRenewAhead = 24 * time.Hour

	// pendingBatch bounds how many queued chat messages one sweep drains.
	pendingBatch = 100

	// reminderHorizon is how far ahead due-bill reminders look.
	reminderHorizon = 72 * time.Hour
)

// Provider is the per-account mailbox handle the pipeline runs against.
type Provider interface {
	FetchWindow(ctx context.Context, from, to time.Time, max int64) ([]model.EmailMessage, error)
	FetchHistory(ctx context.Context, startHistoryID uint64) ([]model.EmailMessage, uint64, error)
	Forward(ctx context.Context, email model.EmailMessage, to string) error
	Send(ctx context.Context, to, subject, body string, attachments []model.Attachment) error
	RenewWatch(ctx context.Context, topic string) (time.Time, uint64, error)
}

// ProviderFunc builds a Provider for one account, ensuring its credential is
// valid; a revoked grant surfaces as gmailrelay.ErrCredentialInvalid.
type ProviderFunc func(ctx context.Context, account *model.MailAccount) (Provider, error)

// Notifier delivers out-of-band owner alerts. May be nil when no chat bot is
// configured.
type Notifier interface {
	CredentialAlert(ctx context.Context, accountEmail, reason string) error
	BillReminder(ctx context.Context, name string, amount float64, due time.Time) error
}

// FileDownloader resolves chat-bot file references to bytes.
type FileDownloader interface {
	DownloadFile(ctx context.Context, fileID string) ([]byte, error)
}

// Pipeline wires the ingestion core together.
type Pipeline struct {
	repo     *repository.Repository
	provider ProviderFunc
	notifier Notifier
	files    FileDownloader
	metrics  *metrics.Metrics

	maxDays     int
	maxMessages int64
	pubSubTopic string
}

func New(repo *repository.Repository, provider ProviderFunc, notifier Notifier, files FileDownloader, m *metrics.Metrics, cfg *config.Config) *Pipeline {
	return &Pipeline{
		repo:        repo,
		provider:    provider,
		notifier:    notifier,
		files:       files,
		metrics:     m,
		maxDays:     cfg.Backfill.MaxDays,
		maxMessages: cfg.Backfill.MaxMessages,
		pubSubTopic: cfg.Google.PubSubTopic,
	}
}

// SweepResult summarizes one full sweep for the trigger's acknowledgment.
type SweepResult struct {
	AccountsChecked int `json:"accounts_checked"`
	EmailsProcessed int `json:"emails_processed"`
	EmailsForwarded int `json:"emails_forwarded"`
	PendingDrained  int `json:"pending_drained"`
	RemindersSent   int `json:"reminders_sent"`
}

// Sweep runs the full catch-all pass: per-account credential health, backfill
// window fetch and processing, queued chat-message drain, push-subscription
// renewal, and due-bill reminders. Nothing here escalates to the caller;
// every failure is logged and the sweep moves on.
func (p *Pipeline) Sweep(ctx context.Context) SweepResult {
	start := time.Now()
	p.metrics.SweepCount.Inc()

	var result SweepResult

	accounts, err := p.repo.ActiveAccounts()
	if err != nil {
		logrus.Errorf("Failed to load accounts: %v", err)
		return result
	}

	for i := range accounts {
		p.sweepAccount(ctx, &accounts[i], &result)
	}

	p.drainPending(ctx, &result)
	p.sendReminders(ctx, &result)

	p.metrics.SweepDuration.Observe(time.Since(start).Seconds())
	logrus.Infof("Sweep completed in %v: %d accounts, %d emails processed, %d forwarded, %d chat messages drained",
		time.Since(start), result.AccountsChecked, result.EmailsProcessed, result.EmailsForwarded, result.PendingDrained)
	return result
}

func (p *Pipeline) sweepAccount(ctx context.Context, account *model.MailAccount, result *SweepResult) {
	result.AccountsChecked++

	prov, err := p.provider(ctx, account)
	if err != nil {
		p.handleProviderError(ctx, account, err)
		return
	}

	if health := gmailrelay.CheckHealth(account, time.Now()); !health.Healthy {
		logrus.Warnf("Credential for %s unhealthy: %s", account.Email, health.Reason)
		if p.notifier != nil {
			p.notifier.CredentialAlert(ctx, account.Email, health.Reason)
		}
	}

	window := backfill.ComputeWindow(account.LastSuccessfulCheck, p.maxDays, time.Now())
	if window.Span() >= negligibleWindow {
		p.processWindow(ctx, prov, account, window, result)
	}

	p.renewWatch(ctx, prov, account)
}

// processWindow fetches and processes one account's window. The last-check
// timestamp advances only after the per-message loop completes; per-message
// failures are recorded and do not block that advancement.
func (p *Pipeline) processWindow(ctx context.Context, prov Provider, account *model.MailAccount, window backfill.Window, result *SweepResult) {
	emails, err := prov.FetchWindow(ctx, window.From, window.To, p.maxMessages)
	if err != nil {
		logrus.Errorf("Failed to fetch window for %s: %v", account.Email, err)
		return
	}
	logrus.Infof("Fetched %d emails for %s in window %s..%s",
		len(emails), account.Email, window.From.Format(time.RFC3339), window.To.Format(time.RFC3339))

	rules, err := p.repo.ForwardingRules(account.UserID)
	if err != nil {
		logrus.Errorf("Failed to load rules for %s: %v", account.Email, err)
		return
	}

	for _, email := range emails {
		result.EmailsProcessed++
		forwarded, err := p.ProcessMessage(ctx, prov, account, rules, email)
		if err != nil {
			logrus.Errorf("Failed to process email %s: %v", email.ID, err)
		}
		if forwarded {
			result.EmailsForwarded++
		}
	}

	if err := p.repo.TouchLastCheck(account.ID, window.To); err != nil {
		logrus.Errorf("Failed to update last check for %s: %v", account.Email, err)
		return
	}
	checked := window.To
	account.LastSuccessfulCheck = &checked
}

// ProcessMessage runs the match→guard→forward sequence for one candidate
// email. An activity record is written for every forward attempt, success or
// failure; the original message is never mutated.
func (p *Pipeline) ProcessMessage(ctx context.Context, prov Provider, account *model.MailAccount, rules []model.ForwardRule, email model.EmailMessage) (bool, error) {
	rule := matcher.Match(email, account.Email, rules)
	if rule == nil {
		return false, nil
	}
	p.metrics.MatchCount.Inc()

	processed, err := p.repo.AlreadyForwarded(email.ID, rule.ID)
	if err != nil {
		return false, err
	}
	if processed {
		p.metrics.DuplicateSkips.Inc()
		logrus.Debugf("Email %s already forwarded under rule %d, skipping", email.ID, rule.ID)
		return false, nil
	}

	forwardErr := prov.Forward(ctx, email, rule.AutoForwardTo)

	activity := &model.ForwardingActivity{
		EmailID:      email.ID,
		RuleID:       rule.ID,
		AccountID:    account.ID,
		EmailFrom:    email.From,
		EmailSubject: email.Subject,
		ForwardedTo:  rule.AutoForwardTo,
		Status:       model.StatusSuccess,
	}
	if forwardErr != nil {
		activity.Status = model.StatusFailed
		activity.ErrorMessage = forwardErr.Error()
		p.metrics.ForwardFailures.Inc()
	} else {
		p.metrics.ForwardSuccesses.Inc()
	}

	if err := p.repo.RecordActivity(activity); err != nil {
		logrus.Errorf("Failed to record activity for email %s: %v", email.ID, err)
	}

	if forwardErr != nil {
		return false, fmt.Errorf("failed to forward email %s: %w", email.ID, forwardErr)
	}
	logrus.Infof("Forwarded email %s to %s (rule %q)", email.ID, rule.AutoForwardTo, rule.Name)
	return true, nil
}

// HandlePushNotification is the near-real-time path: resolve the mailbox,
// fetch what changed since the stored cursor, process it, and advance the
// cursor. An unknown mailbox address is silently ignored. The cursor advances
// only after the per-message loop completes.
func (p *Pipeline) HandlePushNotification(ctx context.Context, emailAddress string, notifiedHistoryID uint64) error {
	p.metrics.PushCount.Inc()

	account, err := p.repo.AccountByEmail(emailAddress)
	if err != nil {
		return err
	}
	if account == nil {
		logrus.Debugf("No connected account for %s, ignoring push", emailAddress)
		return nil
	}

	prov, err := p.provider(ctx, account)
	if err != nil {
		p.handleProviderError(ctx, account, err)
		return nil
	}

	start := account.HistoryID
	if start == 0 {
		start = notifiedHistoryID
	}

	emails, latest, err := prov.FetchHistory(ctx, start)
	if errors.Is(err, gmailrelay.ErrHistoryExpired) {
		logrus.Warnf("History cursor %d for %s expired, resetting to %d (accepting possible gap)",
			start, emailAddress, notifiedHistoryID)
		return p.repo.AdvanceHistoryID(account.ID, notifiedHistoryID)
	}
	if err != nil {
		return fmt.Errorf("failed to fetch history for %s: %w", emailAddress, err)
	}

	rules, err := p.repo.ForwardingRules(account.UserID)
	if err != nil {
		return err
	}

	for _, email := range emails {
		if _, err := p.ProcessMessage(ctx, prov, account, rules, email); err != nil {
			logrus.Errorf("Failed to process email %s: %v", email.ID, err)
		}
	}

	cursor := latest
	if notifiedHistoryID > cursor {
		cursor = notifiedHistoryID
	}
	if cursor > 0 {
		return p.repo.AdvanceHistoryID(account.ID, cursor)
	}
	return nil
}

// handleProviderError deactivates and alerts on revoked credentials; other
// provider failures are transient and only logged.
func (p *Pipeline) handleProviderError(ctx context.Context, account *model.MailAccount, err error) {
	if errors.Is(err, gmailrelay.ErrCredentialInvalid) {
		logrus.Warnf("Credential for %s rejected, deactivating: %v", account.Email, err)
		if p.notifier != nil {
			p.notifier.CredentialAlert(ctx, account.Email, "credential refresh rejected; reconnect required")
		}
		if dbErr := p.repo.DeactivateAccount(account.ID); dbErr != nil {
			logrus.Errorf("Failed to deactivate account %s: %v", account.Email, dbErr)
		}
		return
	}
	logrus.Errorf("Failed to build provider for %s: %v", account.Email, err)
}

func (p *Pipeline) renewWatch(ctx context.Context, prov Provider, account *model.MailAccount) {
	if p.pubSubTopic == "" {
		return
	}
	if account.WatchExpiration != nil && time.Until(*account.WatchExpiration) > watchRenewAhead {
		return
	}

	expiration, historyID, err := prov.RenewWatch(ctx, p.pubSubTopic)
	if err != nil {
		logrus.Errorf("Failed to renew watch for %s: %v", account.Email, err)
		return
	}
	if err := p.repo.UpdateWatch(account.ID, expiration, historyID); err != nil {
		logrus.Errorf("Failed to store watch for %s: %v", account.Email, err)
		return
	}
	logrus.Infof("Renewed watch for %s, expires %s", account.Email, expiration.Format(time.RFC3339))
}

// drainPending forwards queued inbound chat messages to the chat-flagged
// rule's destination. A failed message keeps processed=false with the error
// recorded and is retried by the next sweep.
func (p *Pipeline) drainPending(ctx context.Context, result *SweepResult) {
	pending, err := p.repo.PendingChatMessages(pendingBatch)
	if err != nil {
		logrus.Errorf("Failed to load pending chat messages: %v", err)
		return
	}
	if len(pending) == 0 {
		return
	}

	rule, err := p.repo.ChatForwardingRule()
	if err != nil {
		logrus.Errorf("Failed to load chat forwarding rule: %v", err)
		return
	}
	if rule == nil || rule.AutoForwardTo == "" {
		logrus.Debug("Chat forwarding not configured, leaving pending messages queued")
		return
	}

	accounts, err := p.repo.ActiveAccounts()
	if err != nil || len(accounts) == 0 {
		logrus.Warn("No active mailbox available for chat-message drain")
		return
	}
	prov, err := p.provider(ctx, &accounts[0])
	if err != nil {
		p.handleProviderError(ctx, &accounts[0], err)
		return
	}

	for _, msg := range pending {
		drainErr := p.forwardChatMessage(ctx, prov, rule, msg)
		if drainErr != nil {
			logrus.Errorf("Failed to drain chat message %d: %v", msg.ID, drainErr)
		} else {
			result.PendingDrained++
			p.metrics.PendingDrained.Inc()
		}
		if err := p.repo.MarkChatMessageProcessed(msg.ID, drainErr); err != nil {
			logrus.Errorf("Failed to mark chat message %d: %v", msg.ID, err)
		}
	}
}

func (p *Pipeline) forwardChatMessage(ctx context.Context, prov Provider, rule *model.ForwardRule, msg model.PendingChatMessage) error {
	body := "Forwarded from Telegram\n\n" + msg.Text

	var attachments []model.Attachment
	fileID := msg.DocumentFileID
	if fileID == "" {
		fileID = msg.PhotoFileID
	}
	if fileID != "" {
		if p.files == nil {
			return fmt.Errorf("chat file download is not configured")
		}
		data, err := p.files.DownloadFile(ctx, fileID)
		if err != nil {
			return err
		}
		name := msg.FileName
		if name == "" {
			name = fmt.Sprintf("image_%d.jpg", msg.MessageID)
		}
		attachments = append(attachments, model.Attachment{Filename: name, Data: data})
	}

	return prov.Send(ctx, rule.AutoForwardTo, "Telegram Message", body, attachments)
}

func (p *Pipeline) sendReminders(ctx context.Context, result *SweepResult) {
	if p.notifier == nil {
		return
	}

	bills, err := p.repo.DueBills(reminderHorizon)
	if err != nil {
		logrus.Errorf("Failed to load due bills: %v", err)
		return
	}

	for _, bill := range bills {
		if bill.Rule == nil {
			continue
		}
		if err := p.notifier.BillReminder(ctx, bill.Rule.Name, bill.Amount, bill.DueDate); err != nil {
			logrus.Errorf("Failed to send reminder for bill %d: %v", bill.ID, err)
			continue
		}
		result.RemindersSent++
	}
}
