package email

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotReady is returned when a mailbox command is issued while the
// session is not connected.
var ErrNotReady = errors.New("mailbox session not ready")

// ErrSessionClosed is returned when a session is used after Close.
var ErrSessionClosed = errors.New("mailbox session closed")

// ConfigError reports invalid connector settings. It is returned by New and
// never retried.
type ConfigError struct {
	Problems []string
}

func (e *ConfigError) Error() string {
	return "invalid email configuration: " + strings.Join(e.Problems, "; ")
}

// SendError wraps an outbound transmission failure with the identifier of
// the message that could not be sent.
type SendError struct {
	Identifier string
	Err        error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("sending email for %s: %v", e.Identifier, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// ReconnectError is the terminal error of a listener that exhausted its
// reconnect attempts.
type ReconnectError struct {
	Attempts int
	Err      error
}

func (e *ReconnectError) Error() string {
	return fmt.Sprintf("imap reconnect gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ReconnectError) Unwrap() error { return e.Err }
