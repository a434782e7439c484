package email

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/emersion/go-message/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSendConnector(t *testing.T, tr *fakeTransport) *Connector {
	t.Helper()
	c, err := New(validSettings(), WithLogger(discardLogger()), withTransport(tr))
	require.NoError(t, err)
	return c
}

func readSent(t *testing.T, raw []byte) (*mail.Header, string) {
	t.Helper()
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	require.NoError(t, err)
	part, err := mr.NextPart()
	require.NoError(t, err)
	body, err := io.ReadAll(part.Body)
	require.NoError(t, err)
	return &mr.Header, string(body)
}

func TestSendEmailBuildsSupportRequest(t *testing.T) {
	tr := &fakeTransport{}
	c := newSendConnector(t, tr)

	require.NoError(t, c.SendEmail(context.Background(), "task-42", "Can I deploy?"))
	require.Len(t, tr.sent, 1)

	sent := tr.sent[0]
	assert.Equal(t, "agent@example.com", sent.from)
	assert.Equal(t, []string{"human@example.com"}, sent.to)

	h, body := readSent(t, sent.raw)
	subject, err := h.Subject()
	require.NoError(t, err)
	assert.Equal(t, "Support request: [#task-42]", subject)
	assert.Equal(t, "Can I deploy?", body)

	id, ok := ExtractIdentifier("Re: " + subject)
	require.True(t, ok)
	assert.Equal(t, "task-42", id)

	msgID, err := h.MessageID()
	require.NoError(t, err)
	assert.Contains(t, msgID, "@example.com")
}

func TestSendEmailOptionsOverrideEnvelope(t *testing.T) {
	tr := &fakeTransport{}
	c := newSendConnector(t, tr)

	err := c.SendEmail(context.Background(), "t1", "hello",
		WithRecipient("ops@example.com"),
		WithFrom("Bot <bot@example.com>"),
		WithCc("lead@example.com"),
		WithReplyTo("replies@example.com"),
		WithHeader("X-Priority", "1"),
		WithHeader("Subject", "overridden"),
	)
	require.NoError(t, err)

	sent := tr.sent[0]
	assert.Equal(t, "bot@example.com", sent.from)
	assert.Equal(t, []string{"ops@example.com", "lead@example.com"}, sent.to)

	h, _ := readSent(t, sent.raw)
	subject, _ := h.Subject()
	assert.Equal(t, "Support request: [#t1]", subject)
	assert.Equal(t, "1", h.Get("X-Priority"))

	replyTo, err := h.AddressList("Reply-To")
	require.NoError(t, err)
	require.Len(t, replyTo, 1)
	assert.Equal(t, "replies@example.com", replyTo[0].Address)
}

func TestSendEmailWrapsTransportFailure(t *testing.T) {
	cause := errors.New("550 mailbox unavailable")
	c := newSendConnector(t, &fakeTransport{err: cause})

	err := c.SendEmail(context.Background(), "task-7", "hi")

	var sendErr *SendError
	require.ErrorAs(t, err, &sendErr)
	assert.Equal(t, "task-7", sendErr.Identifier)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "task-7")
}

func TestSendEmailRejectsInvalidIdentifier(t *testing.T) {
	tr := &fakeTransport{}
	c := newSendConnector(t, tr)

	err := c.SendEmail(context.Background(), "not valid", "hi")
	require.ErrorIs(t, err, ErrInvalidIdentifier)
	assert.Empty(t, tr.sent)
}

func TestSendEmailWithoutRecipientFails(t *testing.T) {
	s := validSettings()
	s.Recipient = ""
	tr := &fakeTransport{}
	c, err := New(s, WithLogger(discardLogger()), withTransport(tr))
	require.NoError(t, err)

	err = c.Send(context.Background(), "t2", "hi")
	var sendErr *SendError
	require.ErrorAs(t, err, &sendErr)
	assert.Empty(t, tr.sent)
}
