package gmailrelay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"

	"bill-relay-go/internal/config"
	"bill-relay-go/internal/model"
	"bill-relay-go/internal/repository"
)

const (
	// refreshAhead is the just-in-time window: tokens expiring within it are
	// refreshed before use.
	refreshAhead = 5 * time.Minute

	// healthyWindow is the proactive-alert threshold, wide enough to warn the
	// owner well before the just-in-time refresh starts failing.
	healthyWindow = 3 * 24 * time.Hour
)

// ErrCredentialInvalid marks a rejected refresh (e.g. revoked grant). Callers
// deactivate and alert rather than crash the batch.
var ErrCredentialInvalid = errors.New("mailbox credential invalid")

// TokenManager owns the credential lifecycle for connected mailboxes. It is
// the exclusive writer of credential fields on the account record.
type TokenManager struct {
	cfg      *config.GoogleConfig
	repo     *repository.Repository
	endpoint oauth2.Endpoint
}

func NewTokenManager(cfg *config.GoogleConfig, repo *repository.Repository) *TokenManager {
	return &TokenManager{cfg: cfg, repo: repo, endpoint: google.Endpoint}
}

func (m *TokenManager) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     m.cfg.ClientID,
		ClientSecret: m.cfg.ClientSecret,
		RedirectURL:  m.cfg.RedirectURL,
		Scopes:       []string{gmail.GmailReadonlyScope, gmail.GmailSendScope},
		Endpoint:     m.endpoint,
	}
}

// EnsureValidCredential returns a usable access token for the account,
// refreshing and persisting it when it expires within the just-in-time
// window. Refresh is idempotent; concurrent runs racing here are safe.
func (m *TokenManager) EnsureValidCredential(ctx context.Context, account *model.MailAccount) (*oauth2.Token, error) {
	if time.Until(account.ExpiresAt) > refreshAhead {
		return &oauth2.Token{
			AccessToken:  account.AccessToken,
			RefreshToken: account.RefreshToken,
			Expiry:       account.ExpiresAt,
		}, nil
	}

	source := m.oauthConfig().TokenSource(ctx, &oauth2.Token{RefreshToken: account.RefreshToken})
	token, err := source.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCredentialInvalid, err)
	}

	if err := m.repo.UpdateCredential(account.ID, token.AccessToken, token.Expiry); err != nil {
		return nil, err
	}
	account.AccessToken = token.AccessToken
	account.ExpiresAt = token.Expiry

	if token.RefreshToken == "" {
		token.RefreshToken = account.RefreshToken
	}

	logrus.Infof("Refreshed credential for %s, valid until %s", account.Email, token.Expiry.Format(time.RFC3339))
	return token, nil
}

// Health describes a mailbox credential's remaining lifetime.
type Health struct {
	Healthy         bool   `json:"healthy"`
	DaysUntilExpiry int    `json:"days_until_expiry"`
	Reason          string `json:"reason,omitempty"`
}

// CheckHealth flags an account whose credential has no recorded expiry or
// expires within three days, so the owner can reconnect before forwarding
// stops.
func CheckHealth(account *model.MailAccount, now time.Time) Health {
	if account.ExpiresAt.IsZero() {
		return Health{Healthy: false, Reason: "no expiry recorded"}
	}

	remaining := account.ExpiresAt.Sub(now)
	days := int(remaining.Hours() / 24)
	if remaining < healthyWindow {
		return Health{
			Healthy:         false,
			DaysUntilExpiry: days,
			Reason:          fmt.Sprintf("credential expires in %d days", days),
		}
	}
	return Health{Healthy: true, DaysUntilExpiry: days}
}
