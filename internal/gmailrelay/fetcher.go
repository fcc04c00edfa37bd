package gmailrelay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/api/googleapi"

	"bill-relay-go/internal/mimetext"
	"bill-relay-go/internal/model"
)

// ErrHistoryExpired signals that the provider no longer retains history at
// the requested cursor. The caller resets the cursor to the notification's
// asserted value, accepting a possible gap rather than an unbounded re-fetch.
var ErrHistoryExpired = errors.New("history cursor expired")

// FetchWindow lists messages dated within [from, to), bounded by max results.
// An empty mailbox window is an empty slice, never an error; errors are
// transport or auth failures only.
func (p *Provider) FetchWindow(ctx context.Context, from, to time.Time, max int64) ([]model.EmailMessage, error) {
	if p.imap != nil {
		return p.fetchWindowIMAP(from, to, max)
	}

	query := fmt.Sprintf("after:%d before:%d", from.Unix(), to.Unix())
	resp, err := p.svc.Users.Messages.List(p.self).Q(query).MaxResults(max).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	var emails []model.EmailMessage
	for _, ref := range resp.Messages {
		email, err := p.getMessage(ctx, ref.Id)
		if err != nil {
			logrus.Warnf("Failed to get message %s: %v", ref.Id, err)
			continue
		}
		emails = append(emails, email)
	}
	return emails, nil
}

// FetchHistory retrieves messages added since the cursor, returning them with
// the provider's new cursor. A 404 from the provider means the start point
// expired and surfaces as ErrHistoryExpired.
func (p *Provider) FetchHistory(ctx context.Context, startHistoryID uint64) ([]model.EmailMessage, uint64, error) {
	if p.imap != nil {
		return nil, 0, fmt.Errorf("incremental fetch is not supported over IMAP")
	}

	seen := make(map[string]bool)
	var ids []string
	var latest uint64
	pageToken := ""

	for {
		call := p.svc.Users.History.List(p.self).
			StartHistoryId(startHistoryID).
			HistoryTypes("messageAdded").
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		resp, err := call.Do()
		if err != nil {
			var apiErr *googleapi.Error
			if errors.As(err, &apiErr) && apiErr.Code == 404 {
				return nil, 0, ErrHistoryExpired
			}
			return nil, 0, fmt.Errorf("failed to list history: %w", err)
		}

		for _, record := range resp.History {
			for _, added := range record.MessagesAdded {
				if added.Message != nil && !seen[added.Message.Id] {
					seen[added.Message.Id] = true
					ids = append(ids, added.Message.Id)
				}
			}
		}
		if resp.HistoryId > latest {
			latest = resp.HistoryId
		}

		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	var emails []model.EmailMessage
	for _, id := range ids {
		email, err := p.getMessage(ctx, id)
		if err != nil {
			logrus.Warnf("Failed to get message %s: %v", id, err)
			continue
		}
		emails = append(emails, email)
	}
	return emails, latest, nil
}

// getMessage retrieves one message in parsed form with enough metadata to run
// matching. Missing headers and bodies degrade to empty strings.
func (p *Provider) getMessage(ctx context.Context, id string) (model.EmailMessage, error) {
	msg, err := p.svc.Users.Messages.Get(p.self, id).Format("full").Context(ctx).Do()
	if err != nil {
		return model.EmailMessage{}, fmt.Errorf("failed to get message: %w", err)
	}

	email := model.EmailMessage{ID: id, Snippet: msg.Snippet}
	if msg.Payload != nil {
		for _, header := range msg.Payload.Headers {
			switch header.Name {
			case "From":
				email.From = header.Value
			case "Subject":
				email.Subject = header.Value
			}
		}
		email.Body = mimetext.FromGmailPart(msg.Payload).Text()
	}
	if email.Body == "" {
		email.Body = msg.Snippet
	}
	return email, nil
}
