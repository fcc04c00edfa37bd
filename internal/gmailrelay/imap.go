package gmailrelay

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message"
	"github.com/sirupsen/logrus"

	"bill-relay-go/internal/mimetext"
	"bill-relay-go/internal/model"
)

// fetchWindowIMAP implements the windowed fetch contract over IMAP for
// mailboxes polled without the Gmail API. The raw body is kept on each
// message so the forwarder can rewrite it without a second fetch.
func (p *Provider) fetchWindowIMAP(from, to time.Time, max int64) ([]model.EmailMessage, error) {
	c, err := client.DialTLS(fmt.Sprintf("%s:%d", p.imap.Host, p.imap.Port), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server: %w", err)
	}
	defer c.Logout()

	if err := c.Login(p.imap.User, p.imap.Password); err != nil {
		return nil, fmt.Errorf("failed to login to IMAP server: %w", err)
	}

	if _, err := c.Select("INBOX", true); err != nil {
		return nil, fmt.Errorf("failed to select INBOX: %w", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.Since = from
	criteria.Before = to

	seqNums, err := c.Search(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	if len(seqNums) == 0 {
		return []model.EmailMessage{}, nil
	}
	if int64(len(seqNums)) > max {
		seqNums = seqNums[:max]
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(seqNums...)

	section := &imap.BodySectionName{Peek: true}
	messages := make(chan *imap.Message, len(seqNums))
	done := make(chan error, 1)

	go func() {
		done <- c.Fetch(seqset, []imap.FetchItem{imap.FetchEnvelope, section.FetchItem(), imap.FetchUid}, messages)
	}()

	var emails []model.EmailMessage
	for msg := range messages {
		email, err := parseIMAPMessage(msg, section)
		if err != nil {
			logrus.Warnf("Failed to parse IMAP message: %v", err)
			continue
		}
		emails = append(emails, email)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	return emails, nil
}

func parseIMAPMessage(msg *imap.Message, section *imap.BodySectionName) (model.EmailMessage, error) {
	email := model.EmailMessage{}

	if msg.Envelope != nil {
		email.ID = msg.Envelope.MessageId
		email.Subject = msg.Envelope.Subject
		if len(msg.Envelope.From) > 0 {
			email.From = msg.Envelope.From[0].Address()
		}
	}
	if email.ID == "" {
		email.ID = fmt.Sprintf("imap-%d", msg.Uid)
	}

	r := msg.GetBody(section)
	if r == nil {
		return email, fmt.Errorf("failed to get message body")
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return email, fmt.Errorf("failed to read message body: %w", err)
	}
	email.Raw = raw

	entity, err := message.Read(strings.NewReader(string(raw)))
	if err != nil {
		return email, nil // raw is enough for forwarding; matching degrades to subject only
	}
	email.Body = extractEntityText(entity)

	return email, nil
}

// extractEntityText walks a parsed entity for the first text part, preferring
// plain over HTML.
func extractEntityText(entity *message.Entity) string {
	if mr := entity.MultipartReader(); mr != nil {
		var html string
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				break
			}

			content, err := io.ReadAll(part.Body)
			if err != nil {
				continue
			}

			contentType := part.Header.Get("Content-Type")
			if strings.Contains(contentType, "text/plain") {
				return string(content)
			}
			if strings.Contains(contentType, "text/html") && html == "" {
				html = string(content)
			}
		}
		return mimetext.HTMLToText(html)
	}

	content, err := io.ReadAll(entity.Body)
	if err != nil {
		return ""
	}
	if strings.Contains(entity.Header.Get("Content-Type"), "text/html") {
		return mimetext.HTMLToText(string(content))
	}
	return string(content)
}
