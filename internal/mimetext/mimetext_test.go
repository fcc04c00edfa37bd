package mimetext

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	gmail "google.golang.org/api/gmail/v1"
)

func encode(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

func TestFromGmailPartBuildsTree(t *testing.T) {
	src := &gmail.MessagePart{
		MimeType: "multipart/alternative",
		Parts: []*gmail.MessagePart{
			{
				MimeType: "text/plain",
				Body:     &gmail.MessagePartBody{Data: encode("plain body")},
			},
			{
				MimeType: "text/html",
				Body:     &gmail.MessagePartBody{Data: encode("<p>html body</p>")},
			},
		},
	}

	part := FromGmailPart(src)
	assert.True(t, part.IsMultipart())
	assert.Len(t, part.Children, 2)
	assert.Equal(t, "plain body", string(part.Children[0].Data))
}

func TestTextPrefersPlainOverHTML(t *testing.T) {
	part := Part{
		MIMEType: "multipart/alternative",
		Children: []Part{
			{MIMEType: "text/html", Data: []byte("<p>html body</p>")},
			{MIMEType: "text/plain", Data: []byte("plain body")},
		},
	}
	assert.Equal(t, "plain body", part.Text())
}

func TestTextFallsBackToHTML(t *testing.T) {
	part := Part{
		MIMEType: "text/html",
		Data:     []byte("<html><body><p>Your invoice of <b>$42</b> is due.</p></body></html>"),
	}
	assert.Equal(t, "Your invoice of $42 is due.", part.Text())
}

func TestTextEmptyMessage(t *testing.T) {
	assert.Equal(t, "", Part{}.Text())
}

func TestHTMLToText(t *testing.T) {
	html := `<html><head><style>p { color: red }</style></head>
<body><h1>Statement</h1><p>Amount due: $10</p><script>alert(1)</script></body></html>`

	text := HTMLToText(html)
	assert.Contains(t, text, "Statement")
	assert.Contains(t, text, "Amount due: $10")
	assert.NotContains(t, text, "alert")
	assert.NotContains(t, text, "color")
}

func TestHTMLToTextSeparatesBlocks(t *testing.T) {
	text := HTMLToText("<div>first</div><div>second</div>")
	assert.Equal(t, "first\nsecond", text)
}
