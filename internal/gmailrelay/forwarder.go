package gmailrelay

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	gmail "google.golang.org/api/gmail/v1"

	"bill-relay-go/internal/model"
)

// strippedHeaders are removed from the original message before forwarding:
// routing headers that would misdeliver the re-send, and delivery-trace
// headers that risk loops. MIME structural headers are left untouched so
// attachments and encoding survive byte-for-byte.
var strippedHeaders = map[string]bool{
	"to":           true,
	"subject":      true,
	"cc":           true,
	"bcc":          true,
	"delivered-to": true,
	"return-path":  true,
}

// Forward re-sends the original message to the destination with rewritten
// routing headers. The raw transfer-encoded form is used so body, boundaries,
// and attachments are preserved exactly; the underlying API has no forward
// primitive, so every forward is a new send.
func (p *Provider) Forward(ctx context.Context, email model.EmailMessage, to string) error {
	raw := email.Raw
	if len(raw) == 0 {
		msg, err := p.svc.Users.Messages.Get(p.self, email.ID).Format("raw").Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("failed to get raw message: %w", err)
		}
		raw, err = decodeBase64URL(msg.Raw)
		if err != nil {
			return fmt.Errorf("failed to decode raw message: %w", err)
		}
	}

	rewritten := RewriteForForward(raw, to, email.Subject)
	return p.send(ctx, rewritten)
}

// RewriteForForward strips routing and trace headers (including their folded
// continuation lines) from a raw RFC-822 message and prepends new To and
// Fwd-subject headers, leaving everything else — MIME structure and body —
// byte-for-byte intact.
func RewriteForForward(raw []byte, to, subject string) []byte {
	nl := "\r\n"
	sep := []byte("\r\n\r\n")
	idx := bytes.Index(raw, sep)
	if idx < 0 {
		nl = "\n"
		sep = []byte("\n\n")
		idx = bytes.Index(raw, sep)
	}

	var headerBlock, body string
	if idx < 0 {
		headerBlock = string(raw)
	} else {
		headerBlock = string(raw[:idx])
		body = string(raw[idx+len(sep):])
	}

	kept := []string{
		"To: " + to,
		"Subject: Fwd: " + subject,
	}

	dropping := false
	for _, line := range strings.Split(headerBlock, nl) {
		if strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") {
			// Folded continuation of the previous header.
			if !dropping {
				kept = append(kept, line)
			}
			continue
		}

		name := line
		if colon := strings.IndexByte(line, ':'); colon >= 0 {
			name = line[:colon]
		}
		dropping = strippedHeaders[strings.ToLower(strings.TrimSpace(name))]
		if !dropping {
			kept = append(kept, line)
		}
	}

	return []byte(strings.Join(kept, nl) + string(sep) + body)
}

// Send composes and sends a new message, used by the chat-message drain. An
// attachment turns the message into multipart/mixed with a base64 part.
func (p *Provider) Send(ctx context.Context, to, subject, body string, attachments []model.Attachment) error {
	return p.send(ctx, composeMessage(p.self, to, subject, body, attachments))
}

// send submits a raw RFC-822 payload, retrying rate-limit failures with
// backoff as the provider's quota errors are transient.
func (p *Provider) send(ctx context.Context, raw []byte) error {
	message := &gmail.Message{Raw: base64.RawURLEncoding.EncodeToString(raw)}

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		_, err := p.svc.Users.Messages.Send(p.self, message).Context(ctx).Do()
		if err == nil {
			return nil
		}

		lastErr = err
		logrus.Warnf("Failed to send message (attempt %d/%d): %v", attempt, 3, err)

		if strings.Contains(err.Error(), "quota") || strings.Contains(err.Error(), "rate") {
			wait := time.Duration(attempt*attempt) * time.Second
			logrus.Infof("Rate limited, waiting %v before retry", wait)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
		} else {
			break
		}
	}

	return fmt.Errorf("failed to send message: %w", lastErr)
}

// composeMessage builds a new RFC-822 message from scratch.
func composeMessage(from, to, subject, body string, attachments []model.Attachment) []byte {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("From: %s\r\n", from))
	b.WriteString(fmt.Sprintf("To: %s\r\n", to))
	b.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	b.WriteString(fmt.Sprintf("Date: %s\r\n", time.Now().Format(time.RFC1123Z)))
	b.WriteString("MIME-Version: 1.0\r\n")

	if len(attachments) == 0 {
		b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
		b.WriteString("Content-Transfer-Encoding: 7bit\r\n\r\n")
		b.WriteString(body)
		return []byte(b.String())
	}

	boundary := fmt.Sprintf("bill-relay-%d", time.Now().UnixNano())
	b.WriteString(fmt.Sprintf("Content-Type: multipart/mixed; boundary=\"%s\"\r\n\r\n", boundary))

	b.WriteString(fmt.Sprintf("--%s\r\n", boundary))
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("Content-Transfer-Encoding: 7bit\r\n\r\n")
	b.WriteString(body)

	for _, att := range attachments {
		mimeType := att.MIMEType
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		b.WriteString(fmt.Sprintf("\r\n--%s\r\n", boundary))
		b.WriteString(fmt.Sprintf("Content-Type: %s; name=\"%s\"\r\n", mimeType, att.Filename))
		b.WriteString("Content-Transfer-Encoding: base64\r\n")
		b.WriteString(fmt.Sprintf("Content-Disposition: attachment; filename=\"%s\"\r\n\r\n", att.Filename))
		b.WriteString(base64.StdEncoding.EncodeToString(att.Data))
	}
	b.WriteString(fmt.Sprintf("\r\n--%s--\r\n", boundary))

	return []byte(b.String())
}
