// Package gmailrelay is the mailbox-provider adapter: credential lifecycle,
// windowed and incremental message fetching, push-subscription renewal, and
// raw-MIME-preserving forwarding over the Gmail API, with an IMAP fallback
// for windowed fetches.
package gmailrelay

import (
	"context"
	"encoding/base64"
	"fmt"

	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"bill-relay-go/internal/config"
	"bill-relay-go/internal/model"
	"bill-relay-go/internal/repository"
)

// Client builds per-account providers. Constructing a provider ensures the
// account's credential is valid, so callers see ErrCredentialInvalid here and
// nowhere else.
type Client struct {
	google *config.GoogleConfig
	imap   *config.IMAPConfig
	tokens *TokenManager
}

func NewClient(google *config.GoogleConfig, imap *config.IMAPConfig, repo *repository.Repository) *Client {
	return &Client{
		google: google,
		imap:   imap,
		tokens: NewTokenManager(google, repo),
	}
}

// Tokens exposes the token manager for health checks.
func (c *Client) Tokens() *TokenManager {
	return c.tokens
}

// Provider is the per-account mailbox handle: one authenticated Gmail service
// bound to one mailbox address.
type Provider struct {
	svc  *gmail.Service
	self string
	imap *config.IMAPConfig // non-nil switches windowed fetches to IMAP
}

// ForAccount refreshes the account credential if needed and returns a bound
// provider.
func (c *Client) ForAccount(ctx context.Context, account *model.MailAccount) (*Provider, error) {
	token, err := c.tokens.EnsureValidCredential(ctx, account)
	if err != nil {
		return nil, err
	}

	source := c.tokens.oauthConfig().TokenSource(ctx, token)
	svc, err := gmail.NewService(ctx, option.WithTokenSource(source))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}

	p := &Provider{svc: svc, self: account.Email}
	if c.imap != nil && c.imap.Enabled {
		p.imap = c.imap
	}
	return p, nil
}

// decodeBase64URL tolerates both padded and unpadded URL-safe base64, which
// the provider mixes between endpoints.
func decodeBase64URL(s string) ([]byte, error) {
	if data, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	return base64.URLEncoding.DecodeString(s)
}
