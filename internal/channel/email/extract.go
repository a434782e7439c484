package email

import (
	"mime"
	"net/url"
	"regexp"
	"strings"

	"github.com/emersion/go-message/charset"
)

// SubjectPrefix is the fixed prefix of every outbound subject.
const SubjectPrefix = "Support request"

// Subject returns the outbound subject carrying identifier.
func Subject(identifier string) string {
	return SubjectPrefix + ": [#" + identifier + "]"
}

// subjectPatterns are tried in order, most specific first. Each captures the
// raw text between "[#" and "]".
var subjectPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\s*(?:(?:re|fwd?|aw|wg)\s*:\s*)*support request:\s*\[#([^\]]*)\]`),
	regexp.MustCompile(`(?i)^\s*(?:(?:re|fwd?|aw|wg)\s*:\s*)*support request\s*\[#([^\]]*)\]`),
	regexp.MustCompile(`(?i)support request:\s*\[#([^\]]*)\]`),
	regexp.MustCompile(`(?i)support request\s*\[#([^\]]*)\]`),
	regexp.MustCompile(`\[#([^\]]*)\]`),
}

var validIdentifier = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

var wordDecoder = &mime.WordDecoder{CharsetReader: charset.Reader}

// ExtractIdentifier returns the correlation identifier embedded in subject.
// The first pattern yielding a valid identifier wins; ok is false when none
// does.
func ExtractIdentifier(subject string) (id string, ok bool) {
	subject = decodeSubject(subject)

	for _, pattern := range subjectPatterns {
		for _, m := range pattern.FindAllStringSubmatch(subject, -1) {
			candidate := strings.TrimSpace(m[1])
			if validIdentifier.MatchString(candidate) {
				return candidate, true
			}
		}
	}
	return "", false
}

// decodeSubject undoes percent-encoding and RFC 2047 encoded words, keeping
// the input unchanged for any step that fails.
func decodeSubject(subject string) string {
	if unescaped, err := url.PathUnescape(subject); err == nil {
		subject = unescaped
	}
	if strings.Contains(subject, "=?") {
		if decoded, err := wordDecoder.DecodeHeader(subject); err == nil {
			subject = decoded
		}
	}
	return subject
}
