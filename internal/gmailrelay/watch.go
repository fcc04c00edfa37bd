package gmailrelay

import (
	"context"
	"fmt"
	"time"

	gmail "google.golang.org/api/gmail/v1"
)

// RenewWatch re-registers the push subscription on the mailbox's INBOX label
// and returns the new expiry together with the cursor the provider asserts
// for it.
func (p *Provider) RenewWatch(ctx context.Context, topic string) (time.Time, uint64, error) {
	resp, err := p.svc.Users.Watch(p.self, &gmail.WatchRequest{
		TopicName: topic,
		LabelIds:  []string{"INBOX"},
	}).Context(ctx).Do()
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("failed to renew watch: %w", err)
	}

	return time.UnixMilli(resp.Expiration), resp.HistoryId, nil
}
