package email

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// truncationNotice is appended to content cut at the character ceiling.
func truncationNotice(limit int) string {
	return fmt.Sprintf("\n\n[Message truncated: exceeded %d characters]", limit)
}

// NormalizeContent replaces invalid UTF-8, applies NFC normalization and
// truncates the result to limit characters plus a truncation notice.
func NormalizeContent(content string, limit int) string {
	if !utf8.ValidString(content) {
		content = strings.ToValidUTF8(content, "\uFFFD")
	}
	content = norm.NFC.String(content)

	if limit <= 0 || utf8.RuneCountInString(content) <= limit {
		return content
	}

	cut := 0
	for i := range content {
		if cut == limit {
			return content[:i] + truncationNotice(limit)
		}
		cut++
	}
	return content
}
