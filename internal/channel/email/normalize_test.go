package email

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func TestNormalizeContentComposes(t *testing.T) {
	decomposed := "Cafe\u0301"
	require.Equal(t, "Caf\u00e9", NormalizeContent(decomposed, 100))
}

func TestNormalizeContentReplacesInvalidUTF8(t *testing.T) {
	got := NormalizeContent("ok\xffok", 100)
	require.True(t, utf8.ValidString(got))
	require.Equal(t, "ok\ufffdok", got)
}

func TestNormalizeContentUnderLimitUnchanged(t *testing.T) {
	body := strings.Repeat("a", DefaultMaxContentChars)
	require.Equal(t, body, NormalizeContent(body, DefaultMaxContentChars))
}

func TestNormalizeContentTruncatesAtCeiling(t *testing.T) {
	body := strings.Repeat("a", DefaultMaxContentChars+10)
	got := NormalizeContent(body, DefaultMaxContentChars)

	notice := truncationNotice(DefaultMaxContentChars)
	require.True(t, strings.HasSuffix(got, notice))
	require.Equal(t, DefaultMaxContentChars, utf8.RuneCountInString(strings.TrimSuffix(got, notice)))
	require.Contains(t, got, "exceeded 1000000 characters")
}

func TestNormalizeContentCountsRunesNotBytes(t *testing.T) {
	body := strings.Repeat("\u00e9", 6)
	got := NormalizeContent(body, 4)
	require.Equal(t, strings.Repeat("\u00e9", 4)+truncationNotice(4), got)
}
