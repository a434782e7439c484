package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"
)

// ErrInvalidIdentifier is returned for identifiers that replies could not
// be correlated back to.
var ErrInvalidIdentifier = errors.New("identifier must match [a-zA-Z0-9_-]+")

// envelope is the outbound message before SendOptions are applied.
type envelope struct {
	from    string
	to      []string
	cc      []string
	replyTo string
	headers [][2]string
	body    string
}

// SendOption overrides a field of the outbound envelope. The subject is
// always derived from the identifier and cannot be overridden.
type SendOption func(*envelope)

// WithRecipient replaces the configured recipient.
func WithRecipient(addrs ...string) SendOption {
	return func(e *envelope) { e.to = addrs }
}

// WithFrom replaces the sender address.
func WithFrom(addr string) SendOption {
	return func(e *envelope) { e.from = addr }
}

// WithCc adds carbon-copy recipients.
func WithCc(addrs ...string) SendOption {
	return func(e *envelope) { e.cc = append(e.cc, addrs...) }
}

// WithReplyTo sets the Reply-To header.
func WithReplyTo(addr string) SendOption {
	return func(e *envelope) { e.replyTo = addr }
}

// WithHeader sets an arbitrary header. Subject and the address headers are
// owned by the envelope and are ignored here.
func WithHeader(key, value string) SendOption {
	return func(e *envelope) {
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "subject", "from", "to", "cc", "reply-to":
			return
		}
		e.headers = append(e.headers, [2]string{key, value})
	}
}

// mailTransport delivers an already-encoded message.
type mailTransport interface {
	Send(ctx context.Context, from string, to []string, msg []byte) error
}

// SendEmail sends message to the configured recipient with the subject
// "Support request: [#identifier]". It is a single attempt: failures are
// returned as *SendError and never retried.
func (c *Connector) SendEmail(ctx context.Context, identifier, message string, opts ...SendOption) error {
	err := c.sendEmail(ctx, identifier, message, opts)
	if err != nil {
		sendsTotal.WithLabelValues("failure").Inc()
		c.logger.Warn("email send failed", "identifier", identifier, "error", err)
		return &SendError{Identifier: identifier, Err: err}
	}

	sendsTotal.WithLabelValues("success").Inc()
	c.logger.Info("email sent", "identifier", identifier)
	return nil
}

func (c *Connector) sendEmail(ctx context.Context, identifier, message string, opts []SendOption) error {
	if !validIdentifier.MatchString(identifier) {
		return ErrInvalidIdentifier
	}

	env := &envelope{
		from: c.settings.From,
		body: message,
	}
	if env.from == "" {
		env.from = c.settings.SMTP.Username
	}
	if c.settings.Recipient != "" {
		env.to = []string{c.settings.Recipient}
	}
	for _, opt := range opts {
		opt(env)
	}

	out, err := buildMessage(identifier, env, c.now())
	if err != nil {
		return err
	}
	return c.transport.Send(ctx, out.from, out.rcpts, out.raw)
}

// outbound is an encoded message with its SMTP envelope.
type outbound struct {
	from  string
	rcpts []string
	raw   []byte
}

// buildMessage encodes env as a single-part text/plain message.
func buildMessage(identifier string, env *envelope, now time.Time) (*outbound, error) {
	from, err := mail.ParseAddress(env.from)
	if err != nil {
		return nil, fmt.Errorf("parsing sender %q: %w", env.from, err)
	}

	to, err := parseAddresses(env.to)
	if err != nil {
		return nil, err
	}
	if len(to) == 0 {
		return nil, errors.New("no recipient")
	}
	cc, err := parseAddresses(env.cc)
	if err != nil {
		return nil, err
	}

	var h mail.Header
	h.SetDate(now)
	h.SetAddressList("From", []*mail.Address{from})
	h.SetAddressList("To", to)
	if len(cc) > 0 {
		h.SetAddressList("Cc", cc)
	}
	if env.replyTo != "" {
		replyTo, err := mail.ParseAddress(env.replyTo)
		if err != nil {
			return nil, fmt.Errorf("parsing reply-to %q: %w", env.replyTo, err)
		}
		h.SetAddressList("Reply-To", []*mail.Address{replyTo})
	}
	h.SetSubject(Subject(identifier))
	h.SetMessageID(uuid.NewString() + "@" + messageIDDomain(from.Address))
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	for _, kv := range env.headers {
		h.Set(kv[0], kv[1])
	}

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("creating message writer: %w", err)
	}
	if _, err := w.Write([]byte(env.body)); err != nil {
		return nil, fmt.Errorf("writing message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("closing message body: %w", err)
	}

	rcpts := make([]string, 0, len(to)+len(cc))
	for _, a := range append(to, cc...) {
		rcpts = append(rcpts, a.Address)
	}
	return &outbound{from: from.Address, rcpts: rcpts, raw: buf.Bytes()}, nil
}

func parseAddresses(addrs []string) ([]*mail.Address, error) {
	out := make([]*mail.Address, 0, len(addrs))
	for _, raw := range addrs {
		a, err := mail.ParseAddress(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing address %q: %w", raw, err)
		}
		out = append(out, a)
	}
	return out, nil
}

func messageIDDomain(addr string) string {
	if i := strings.LastIndexByte(addr, '@'); i >= 0 && i < len(addr)-1 {
		return addr[i+1:]
	}
	return "localhost"
}

// smtpTransport sends through an SMTP server with PLAIN auth over implicit
// TLS or STARTTLS.
type smtpTransport struct {
	cfg SMTPConfig
}

func (t *smtpTransport) Send(ctx context.Context, from string, to []string, msg []byte) error {
	addr := t.cfg.Addr()
	tlsConfig := &tls.Config{ServerName: t.cfg.Host, MinVersion: tls.VersionTLS12}

	var conn net.Conn
	var err error
	if t.cfg.Secure {
		d := &tls.Dialer{NetDialer: &net.Dialer{Timeout: dialTimeout}, Config: tlsConfig}
		conn, err = d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return fmt.Errorf("TLS dial to %s: %w", addr, err)
		}
	} else {
		d := &net.Dialer{Timeout: dialTimeout}
		conn, err = d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return fmt.Errorf("dial to %s: %w", addr, err)
		}
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, t.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("creating SMTP client: %w", err)
	}
	defer client.Close()

	if !t.cfg.Secure {
		if err := client.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("SMTP STARTTLS: %w", err)
		}
	}

	auth := smtp.PlainAuth("", t.cfg.Username, t.cfg.Password, t.cfg.Host)
	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("SMTP auth: %w", err)
	}

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("SMTP MAIL FROM: %w", err)
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("SMTP RCPT TO %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("SMTP DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("writing email body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing email body: %w", err)
	}

	return client.Quit()
}
