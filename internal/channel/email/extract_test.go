package email

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractIdentifier(t *testing.T) {
	cases := []struct {
		name    string
		subject string
		want    string
		ok      bool
	}{
		{"plain", "Support request: [#abc123]", "abc123", true},
		{"reply prefix", "Re: Support request: [#task-42]", "task-42", true},
		{"forward prefix", "Fwd: Support request: [#task_7]", "task_7", true},
		{"stacked prefixes", "RE: Fw: re: Support request: [#a-b_c]", "a-b_c", true},
		{"missing colon", "Re: Support request [#nocolon]", "nocolon", true},
		{"missing colon no prefix", "Support request [#x1]", "x1", true},
		{"lower case", "re: support request: [#lc]", "lc", true},
		{"not at start", "[EXT] Support request: [#inner]", "inner", true},
		{"bare token", "Please see [#bare-1] for details", "bare-1", true},
		{"padded token", "Support request: [# spaced ]", "spaced", true},
		{"percent encoded", "Re%3A%20Support%20request%3A%20%5B%23enc-9%5D", "enc-9", true},
		{"bad percent escape keeps raw", "100% sure [#pct]", "pct", true},
		{"rfc2047 subject", "=?UTF-8?Q?Re=3A_Support_request=3A_[#q-1]?=", "q-1", true},
		{"no token", "Meeting notes", "", false},
		{"empty token", "Support request: [#]", "", false},
		{"invalid characters", "Support request: [#bad id!]", "", false},
		{"empty subject", "", "", false},
		{"hash without bracket", "Support request: #abc", "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ExtractIdentifier(tc.subject)
			require.Equal(t, tc.ok, ok)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestExtractIdentifierPatternPriority(t *testing.T) {
	// The support-request token wins over an earlier bare token.
	got, ok := ExtractIdentifier("[#first] Support request: [#second]")
	require.True(t, ok)
	require.Equal(t, "second", got)

	// An invalid capture falls through to the next valid candidate.
	got, ok = ExtractIdentifier("Support request: [#not valid] see [#fallback]")
	require.True(t, ok)
	require.Equal(t, "fallback", got)
}

func TestExtractIdentifierIsPure(t *testing.T) {
	subject := "Re: Support request: [#same]"
	first, ok1 := ExtractIdentifier(subject)
	second, ok2 := ExtractIdentifier(subject)
	require.Equal(t, ok1, ok2)
	require.Equal(t, first, second)
}

func TestSubjectRoundTrip(t *testing.T) {
	for _, id := range []string{"abc123", "task-42", "A_b-9"} {
		got, ok := ExtractIdentifier(Subject(id))
		require.True(t, ok)
		require.Equal(t, id, got)
	}
}
