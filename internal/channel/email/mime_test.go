package email

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMessageMultipartPrefersPlainText(t *testing.T) {
	raw := "From: Human <human@example.com>\r\n" +
		"Subject: =?UTF-8?Q?Re:_Support_request:_[#t-1]?=\r\n" +
		"Message-Id: <abc@example.com>\r\n" +
		"Content-Type: multipart/alternative; boundary=XYZ\r\n" +
		"\r\n" +
		"--XYZ\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		"<p>html version</p>\r\n" +
		"--XYZ\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"plain version\r\n" +
		"--XYZ--\r\n"

	msg, err := parseMessage(7, []byte(raw))
	require.NoError(t, err)

	assert.Equal(t, uint32(7), msg.UID)
	assert.Equal(t, "Re: Support request: [#t-1]", msg.Subject)
	assert.Equal(t, "abc@example.com", msg.MessageID)
	assert.Equal(t, "human@example.com", msg.From)
	assert.Equal(t, "plain version", msg.Content())
	assert.Equal(t, "<p>html version</p>", msg.HTMLBody)
}

func TestParseMessageSkipsAttachments(t *testing.T) {
	raw := "From: human@example.com\r\n" +
		"Subject: Support request: [#t-2]\r\n" +
		"Content-Type: multipart/mixed; boundary=B\r\n" +
		"\r\n" +
		"--B\r\n" +
		"Content-Type: application/pdf\r\n" +
		"Content-Disposition: attachment; filename=a.pdf\r\n" +
		"\r\n" +
		"%PDF-1.4\r\n" +
		"--B\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"Looks good\r\n" +
		"--B--\r\n"

	msg, err := parseMessage(1, []byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "Looks good", msg.Content())
}

func TestParseMessageUntypedBodyIsText(t *testing.T) {
	raw := "From: human@example.com\r\nSubject: Support request: [#t-3]\r\n\r\nok"

	msg, err := parseMessage(1, []byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "ok", msg.Content())
}

func TestParseMessageRejectsGarbage(t *testing.T) {
	_, err := parseMessage(9, []byte("this line has no colon\r\n\r\nbody"))
	require.ErrorContains(t, err, "UID 9")
}

func TestHTMLToText(t *testing.T) {
	got := htmlToText("<div>Line one</div><div>Fish &amp; chips<br>three</div><script>x()</script>")
	assert.Equal(t, "Line one\nFish & chips\nthree", got)
}
