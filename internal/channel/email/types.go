package email

import (
	"crypto/tls"
	"fmt"
	"strconv"
	"time"
)

// Listener defaults.
const (
	DefaultPollInterval         = 10 * time.Second
	DefaultReconnectDelay       = 5 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultMaxContentChars      = 1_000_000
	DefaultMailbox              = "INBOX"
)

// SMTPConfig holds the SMTP server settings for outbound messages.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	// Secure selects implicit TLS; otherwise STARTTLS is negotiated.
	Secure bool
}

// Addr returns host:port.
func (c SMTPConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// TLSOptions tunes the TLS handshake of the inbound connection.
type TLSOptions struct {
	ServerName         string
	InsecureSkipVerify bool
}

// IMAPConfig holds the IMAP server settings for the inbound listener.
type IMAPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	// TLS selects implicit TLS. When false STARTTLS is used unless Insecure
	// is set, in which case the connection stays in plain text.
	TLS        bool
	Insecure   bool
	Mailbox    string
	TLSOptions TLSOptions
}

// Addr returns host:port.
func (c IMAPConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// TLSConfig builds the client TLS configuration.
func (c IMAPConfig) TLSConfig() *tls.Config {
	serverName := c.TLSOptions.ServerName
	if serverName == "" {
		serverName = c.Host
	}
	return &tls.Config{
		ServerName:         serverName,
		InsecureSkipVerify: c.TLSOptions.InsecureSkipVerify,
		MinVersion:         tls.VersionTLS12,
	}
}

// ListenerConfig controls detection and processing behavior. Zero values
// select the package defaults.
type ListenerConfig struct {
	PollInterval         time.Duration
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	MaxContentChars      int

	// MarkUnmatchedSeen flags messages without a correlation identifier as
	// read. When false they stay unread and are rescanned on every pass.
	MarkUnmatchedSeen bool
}

func (c ListenerConfig) withDefaults() ListenerConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.MaxContentChars <= 0 {
		c.MaxContentChars = DefaultMaxContentChars
	}
	return c
}

// Settings is the complete connector configuration.
type Settings struct {
	SMTP SMTPConfig
	IMAP IMAPConfig

	// Recipient is the default destination of outbound messages.
	Recipient string
	// From overrides the sender address; defaults to the SMTP username.
	From string

	Listener ListenerConfig
}

// State is the lifecycle state of a mailbox session.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateReady
	StateDegraded
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// active reports whether a listener owning a session in this state is
// still running.
func (s State) active() bool {
	return s == StateConnecting || s == StateReady || s == StateDegraded
}

// ParsedMessage holds the decoded content of an inbound message.
type ParsedMessage struct {
	UID       uint32
	MessageID string
	Subject   string
	From      string
	Date      time.Time
	TextBody  string
	HTMLBody  string
}

// Content returns the plain-text body, falling back to the HTML body
// rendered as text.
func (m ParsedMessage) Content() string {
	if m.TextBody != "" {
		return m.TextBody
	}
	return htmlToText(m.HTMLBody)
}
