package email

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"io"
	"regexp"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/microcosm-cc/bluemonday"
)

// parseMessage parses a raw RFC 5322 message into its decoded subject,
// sender and text/HTML bodies. Attachments are skipped.
func parseMessage(uid uint32, raw []byte) (*ParsedMessage, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if mr == nil || (err != nil && !message.IsUnknownCharset(err)) {
		if err == nil {
			err = errors.New("empty message")
		}
		return nil, fmt.Errorf("parsing message UID %d: %w", uid, err)
	}
	defer mr.Close()

	parsed := &ParsedMessage{UID: uid}

	if subject, err := mr.Header.Subject(); err == nil {
		parsed.Subject = subject
	} else {
		parsed.Subject = mr.Header.Get("Subject")
	}
	parsed.MessageID, _ = mr.Header.MessageID()
	parsed.Date, _ = mr.Header.Date()
	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		parsed.From = from[0].Address
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && part == nil {
			if parsed.TextBody != "" || parsed.HTMLBody != "" {
				break
			}
			return nil, fmt.Errorf("reading parts of message UID %d: %w", uid, err)
		}
		// A part with an unknown charset or encoding is still returned and
		// read as-is.

		contentType := strings.ToLower(part.Header.Get("Content-Type"))
		if _, ok := part.Header.(*mail.AttachmentHeader); ok {
			// Untyped parts default to text/plain unless explicitly attached.
			if contentType != "" || strings.HasPrefix(strings.ToLower(part.Header.Get("Content-Disposition")), "attachment") {
				continue
			}
		}

		body, readErr := io.ReadAll(part.Body)
		if readErr != nil {
			continue
		}

		switch {
		case strings.HasPrefix(contentType, "text/plain") && parsed.TextBody == "":
			parsed.TextBody = string(body)
		case strings.HasPrefix(contentType, "text/html") && parsed.HTMLBody == "":
			parsed.HTMLBody = string(body)
		case contentType == "" && parsed.TextBody == "":
			parsed.TextBody = string(body)
		}
	}

	return parsed, nil
}

var (
	textPolicy   = bluemonday.StrictPolicy()
	blockTags    = regexp.MustCompile(`(?i)<\s*(br\s*/?|/p|/div|/li|/tr|/h[1-6])\s*>`)
	blankRuns    = regexp.MustCompile(`\n{3,}`)
	trailingWSRE = regexp.MustCompile(`[ \t]+\n`)
)

// htmlToText renders an HTML body as plain text: block boundaries become
// line breaks, all markup is stripped and entities are decoded.
func htmlToText(body string) string {
	if body == "" {
		return ""
	}

	text := blockTags.ReplaceAllString(body, "\n")
	text = textPolicy.Sanitize(text)
	text = html.UnescapeString(text)
	text = trailingWSRE.ReplaceAllString(text, "\n")
	text = blankRuns.ReplaceAllString(text, "\n\n")

	return strings.TrimSpace(text)
}
