// Package mimetext extracts matchable text from MIME message payloads. The
// part structure is modeled as an explicit tree so body extraction is a plain
// traversal instead of recursion over provider types.
package mimetext

import (
	"encoding/base64"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
	gmail "google.golang.org/api/gmail/v1"
)

// Part is one node of a MIME message: either a leaf carrying decoded data or
// a multipart container with children.
type Part struct {
	MIMEType string
	Filename string
	Data     []byte
	Children []Part
}

// IsMultipart reports whether the part is a container.
func (p Part) IsMultipart() bool {
	return len(p.Children) > 0
}

// FromGmailPart converts a Gmail API message payload into a Part tree,
// decoding inline body data. Attachment bodies referenced by attachmentId are
// left empty; forwarding works off the raw message and never needs them.
func FromGmailPart(src *gmail.MessagePart) Part {
	if src == nil {
		return Part{}
	}

	p := Part{
		MIMEType: src.MimeType,
		Filename: src.Filename,
	}

	if src.Body != nil && src.Body.Data != "" {
		data, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(src.Body.Data, "="))
		if err != nil {
			logrus.Warnf("Failed to decode body data for part %s: %v", src.MimeType, err)
		} else {
			p.Data = data
		}
	}

	for _, child := range src.Parts {
		p.Children = append(p.Children, FromGmailPart(child))
	}

	return p
}

// Text returns the best plain-text rendering of the message body: the first
// text/plain leaf, falling back to the first text/html leaf converted to
// text. Missing bodies degrade to the empty string.
func (p Part) Text() string {
	if plain := p.findLeaf("text/plain"); plain != "" {
		return plain
	}
	if html := p.findLeaf("text/html"); html != "" {
		return HTMLToText(html)
	}
	return ""
}

func (p Part) findLeaf(mimeType string) string {
	if !p.IsMultipart() {
		if strings.HasPrefix(p.MIMEType, mimeType) && len(p.Data) > 0 {
			return string(p.Data)
		}
		return ""
	}
	for _, child := range p.Children {
		if found := child.findLeaf(mimeType); found != "" {
			return found
		}
	}
	return ""
}

var collapseSpace = regexp.MustCompile(`[^\S\n]+`)

// HTMLToText strips an HTML body down to its visible text for keyword
// matching. Unparseable HTML falls back to the input unchanged.
func HTMLToText(html string) string {
	if html == "" {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html
	}

	doc.Find("script, style, head, meta, link").Remove()
	doc.Find("p, div, br, h1, h2, h3, h4, h5, h6, li, tr").Each(func(_ int, s *goquery.Selection) {
		s.PrependHtml("\n")
	})

	text := collapseSpace.ReplaceAllString(doc.Text(), " ")

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
