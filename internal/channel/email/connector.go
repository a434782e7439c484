package email

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/nhle/humanloop/internal/channel"
	hsync "github.com/nhle/humanloop/internal/sync"
)

// Connector sends questions by SMTP and listens on an IMAP mailbox for
// replies whose subject carries the correlation identifier.
type Connector struct {
	settings  Settings
	logger    *slog.Logger
	dial      dialFunc
	transport mailTransport
	now       func() time.Time

	mu      sync.Mutex
	session *session
	poller  *hsync.Poller
}

var _ channel.Connector = (*Connector)(nil)

// Option configures a Connector.
type Option func(*Connector)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Connector) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func withDialer(dial dialFunc) Option {
	return func(c *Connector) { c.dial = dial }
}

func withTransport(t mailTransport) Option {
	return func(c *Connector) { c.transport = t }
}

// New validates settings and returns a connector. Nothing is dialed until
// a message is sent or the listener is started.
func New(settings Settings, opts ...Option) (*Connector, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	settings.Listener = settings.Listener.withDefaults()
	if settings.IMAP.Mailbox == "" {
		settings.IMAP.Mailbox = DefaultMailbox
	}

	c := &Connector{
		settings: settings,
		logger:   slog.Default(),
		dial:     dialIMAP,
		now:      time.Now,
	}
	c.transport = &smtpTransport{cfg: settings.SMTP}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("channel", string(channel.TypeEmail))
	return c, nil
}

// StartEmailListener connects to the mailbox and delivers replies to
// handler until StopEmailListener is called or reconnecting gives up. It
// returns once the first connection is ready, or with the connection error.
//
// ctx governs only the initial connect. Handler calls receive a context
// that carries ctx's values but is never canceled.
func (c *Connector) StartEmailListener(ctx context.Context, handler channel.Handler) error {
	if handler == nil {
		return errors.New("email listener: nil handler")
	}

	c.mu.Lock()
	if c.session != nil && c.session.State() != StateClosed {
		c.mu.Unlock()
		return channel.ErrListenerActive
	}

	lc := c.settings.Listener
	sess := newSession(c.settings.IMAP, c.dial, lc, c.logger)
	proc := &processor{
		handler:           handler,
		logger:            c.logger,
		maxContentChars:   lc.MaxContentChars,
		markUnmatchedSeen: lc.MarkUnmatchedSeen,
	}
	poller := hsync.New(lc.PollInterval, func(ctx context.Context) {
		c.scan(ctx, sess, proc)
	})
	sess.notify = poller.Trigger
	sess.onReconnect = poller.Trigger
	sess.onTerminal = func(error) { poller.Stop() }

	c.session = sess
	c.poller = poller
	c.mu.Unlock()

	if err := sess.Open(ctx); err != nil {
		poller.Stop()
		c.logger.Error("email listener failed to start", "error", err)
		return err
	}

	poller.Start(context.WithoutCancel(ctx))
	c.logger.Info("email listener started",
		"mailbox", c.settings.IMAP.Mailbox, "poll_interval", lc.PollInterval)
	return nil
}

// StopEmailListener stops polling and closes the mailbox connection. A scan
// already in progress finishes first. Safe to call repeatedly, and before
// the listener was ever started.
func (c *Connector) StopEmailListener() {
	c.mu.Lock()
	sess, poller := c.session, c.poller
	c.mu.Unlock()

	if poller != nil {
		poller.Stop()
	}
	if sess != nil {
		sess.Close()
	}
}

// State reports the state of the current listener session.
func (c *Connector) State() State {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()

	if sess == nil {
		return StateDisconnected
	}
	return sess.State()
}

// Err returns the error that closed the listener, if any.
func (c *Connector) Err() error {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()

	if sess == nil {
		return nil
	}
	return sess.Err()
}

func (c *Connector) scan(ctx context.Context, sess *session, proc *processor) {
	err := sess.Do(ctx, proc.scan)
	switch {
	case err == nil:
		scansTotal.WithLabelValues("ok").Inc()
	case errors.Is(err, ErrNotReady):
		scansTotal.WithLabelValues("skipped").Inc()
		c.logger.Debug("scan skipped, mailbox not ready", "state", sess.State())
	default:
		scansTotal.WithLabelValues("error").Inc()
		c.logger.Warn("mailbox scan failed", "error", err)
	}
}

// Type implements channel.Connector.
func (c *Connector) Type() channel.Type {
	return channel.TypeEmail
}

// Send implements channel.Connector by mailing text to the configured
// recipient.
func (c *Connector) Send(ctx context.Context, identifier, text string) error {
	return c.SendEmail(ctx, identifier, text)
}

// StartListener implements channel.Connector.
func (c *Connector) StartListener(ctx context.Context, handler channel.Handler) error {
	return c.StartEmailListener(ctx, handler)
}

// StopListener implements channel.Connector.
func (c *Connector) StopListener() {
	c.StopEmailListener()
}
