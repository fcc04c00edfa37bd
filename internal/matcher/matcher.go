// Package matcher evaluates one email against the set of forwarding rules.
package matcher

import (
	"net/mail"
	"strings"

	"bill-relay-go/internal/model"
)

// Match returns the first rule the email satisfies, or nil. Rules are
// evaluated in the order given (creation order); an email matches a rule when
// the rule's sender substring appears in the From header or any keyword
// appears in subject+body, both case-insensitively. At most one rule wins per
// email per run.
//
// Loop guards: emails whose subject already carries a "Fwd:" prefix and
// emails sent from the ingesting mailbox itself are never matched. Rules
// flagged for chat forwarding, rules without a destination, and inert rules
// (no sender, no keywords) are skipped.
func Match(email model.EmailMessage, selfAddress string, rules []model.ForwardRule) *model.ForwardRule {
	subject := strings.TrimSpace(email.Subject)
	if strings.HasPrefix(strings.ToLower(subject), "fwd:") {
		return nil
	}
	if isSelfSender(email.From, selfAddress) {
		return nil
	}

	from := strings.ToLower(email.From)
	content := strings.ToLower(email.Subject + " " + email.Body)

	for i := range rules {
		rule := &rules[i]

		if !rule.Enabled || rule.IsChatForwarding || rule.AutoForwardTo == "" {
			continue
		}

		keywords := rule.KeywordList()
		if rule.EmailSender == "" && len(keywords) == 0 {
			// Inert rule: nothing to match on.
			continue
		}

		if rule.EmailSender != "" && strings.Contains(from, strings.ToLower(rule.EmailSender)) {
			return rule
		}

		for _, keyword := range keywords {
			if strings.Contains(content, strings.ToLower(keyword)) {
				return rule
			}
		}
	}

	return nil
}

// isSelfSender reports whether the From header resolves to the ingesting
// mailbox's own address.
func isSelfSender(from, selfAddress string) bool {
	if selfAddress == "" || from == "" {
		return false
	}

	addr := from
	if parsed, err := mail.ParseAddress(from); err == nil {
		addr = parsed.Address
	}
	return strings.EqualFold(strings.TrimSpace(addr), strings.TrimSpace(selfAddress))
}
