package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// session owns one authenticated IMAP connection and keeps it alive with a
// bounded number of reconnect attempts.
type session struct {
	cfg            IMAPConfig
	dial           dialFunc
	logger         *slog.Logger
	reconnectDelay time.Duration
	maxAttempts    int

	// notify is the push trigger, onReconnect runs after a successful
	// reconnect and onTerminal after the attempt ceiling is reached.
	notify      func()
	onReconnect func()
	onTerminal  func(error)

	mu       sync.Mutex
	state    State
	attempts int
	err      error

	// cmdMu serializes use of client and idle.
	cmdMu  sync.Mutex
	client mailboxClient
	idle   idler

	stopCh   chan struct{}
	stopOnce sync.Once
}

func newSession(cfg IMAPConfig, dial dialFunc, lc ListenerConfig, logger *slog.Logger) *session {
	return &session{
		cfg:            cfg,
		dial:           dial,
		logger:         logger,
		reconnectDelay: lc.ReconnectDelay,
		maxAttempts:    lc.MaxReconnectAttempts,
		notify:         func() {},
		onReconnect:    func() {},
		onTerminal:     func(error) {},
		state:          StateDisconnected,
		stopCh:         make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (s *session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the terminal error, if any.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *session) setState(state State) {
	s.mu.Lock()
	prev := s.state
	if prev != StateClosed {
		s.state = state
	}
	s.mu.Unlock()

	if prev != state && prev != StateClosed {
		s.logger.Debug("imap session state changed", "from", prev, "to", state)
	}
}

// Open performs the initial connect. A failure closes the session.
func (s *session) Open(ctx context.Context) error {
	if err := s.connect(ctx); err != nil {
		s.mu.Lock()
		s.state = StateClosed
		s.err = err
		s.mu.Unlock()
		return err
	}
	return nil
}

// connect dials, authenticates and selects the mailbox, then marks the
// session ready and starts watching the connection.
func (s *session) connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.setState(StateConnecting)

	client, err := s.dial(s.cfg, s.notify)
	if err != nil {
		return fmt.Errorf("imap connect: %w", err)
	}

	if err := client.Login(s.cfg.Username, s.cfg.Password); err != nil {
		_ = client.Close()
		return fmt.Errorf("imap auth: %w", err)
	}

	mailbox := s.cfg.Mailbox
	if mailbox == "" {
		mailbox = DefaultMailbox
	}
	if err := client.Select(mailbox); err != nil {
		_ = client.Logout()
		_ = client.Close()
		return fmt.Errorf("imap select %s: %w", mailbox, err)
	}

	s.cmdMu.Lock()
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		s.cmdMu.Unlock()
		_ = client.Logout()
		_ = client.Close()
		return ErrSessionClosed
	}
	s.state = StateReady
	s.attempts = 0
	s.mu.Unlock()

	s.client = client
	s.startIdleLocked()
	s.cmdMu.Unlock()

	// Close may have skipped teardown while cmdMu was held here.
	if s.State() == StateClosed {
		s.cmdMu.Lock()
		s.teardownLocked()
		s.cmdMu.Unlock()
		return ErrSessionClosed
	}

	s.logger.Info("imap session ready", "addr", s.cfg.Addr(), "mailbox", mailbox)

	go s.watch(client)
	return nil
}

// watch waits for the connection to drop and starts the reconnect loop.
func (s *session) watch(client mailboxClient) {
	select {
	case <-s.stopCh:
		return
	case <-client.Closed():
	}

	s.mu.Lock()
	if s.state != StateReady {
		s.mu.Unlock()
		return
	}
	s.state = StateDegraded
	s.mu.Unlock()

	s.cmdMu.Lock()
	if s.client == client {
		s.client = nil
		s.idle = nil
	}
	s.cmdMu.Unlock()
	_ = client.Close()

	s.logger.Warn("imap connection lost", "addr", s.cfg.Addr())
	go s.reconnect()
}

// reconnect retries connect after a fixed delay until it succeeds, the
// session is closed, or maxAttempts consecutive attempts have failed.
func (s *session) reconnect() {
	for {
		s.mu.Lock()
		if s.state == StateClosed {
			s.mu.Unlock()
			return
		}
		s.attempts++
		attempt := s.attempts
		s.mu.Unlock()

		select {
		case <-s.stopCh:
			return
		case <-time.After(s.reconnectDelay):
		}

		err := s.connect(context.Background())
		if err == nil {
			reconnectsTotal.WithLabelValues("success").Inc()
			s.logger.Info("imap reconnected", "attempt", attempt)
			s.onReconnect()
			return
		}
		if errors.Is(err, ErrSessionClosed) {
			return
		}

		reconnectsTotal.WithLabelValues("failure").Inc()
		s.logger.Warn("imap reconnect failed",
			"attempt", attempt, "max_attempts", s.maxAttempts, "error", err)

		if attempt >= s.maxAttempts {
			terminal := &ReconnectError{Attempts: attempt, Err: err}
			s.mu.Lock()
			if s.state == StateClosed {
				s.mu.Unlock()
				return
			}
			s.state = StateClosed
			s.err = terminal
			s.mu.Unlock()

			s.stopOnce.Do(func() { close(s.stopCh) })
			s.logger.Error("imap listener stopped", "error", terminal)
			s.onTerminal(terminal)
			return
		}
		s.setState(StateDegraded)
	}
}

// Do runs fn against the live client with IDLE paused. Calls are
// serialized. If the session is closed while fn runs, the connection is
// torn down once fn returns.
func (s *session) Do(ctx context.Context, fn func(ctx context.Context, client mailboxClient) error) error {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	if s.State() != StateReady || s.client == nil {
		return ErrNotReady
	}

	s.stopIdleLocked()
	err := fn(ctx, s.client)

	if s.State() == StateClosed {
		s.teardownLocked()
		return err
	}
	s.startIdleLocked()
	return err
}

// Close stops the session. The connection is released immediately unless
// cmdMu is held by a scan or a connect, in which case it is released as soon
// as the holder lets go. Safe to call repeatedly.
func (s *session) Close() {
	s.mu.Lock()
	wasClosed := s.state == StateClosed
	s.state = StateClosed
	s.mu.Unlock()

	s.stopOnce.Do(func() { close(s.stopCh) })

	if s.cmdMu.TryLock() {
		s.teardownLocked()
		s.cmdMu.Unlock()
	} else {
		go func() {
			s.cmdMu.Lock()
			defer s.cmdMu.Unlock()
			s.teardownLocked()
		}()
	}

	if !wasClosed {
		s.logger.Info("imap session closed", "addr", s.cfg.Addr())
	}
}

func (s *session) startIdleLocked() {
	if s.client == nil || !s.client.SupportsIdle() {
		return
	}
	idle, err := s.client.Idle()
	if err != nil {
		s.logger.Debug("imap idle unavailable, relying on polling", "error", err)
		return
	}
	s.idle = idle
}

func (s *session) stopIdleLocked() {
	if s.idle == nil {
		return
	}
	if err := s.idle.Close(); err != nil {
		s.logger.Debug("imap idle close", "error", err)
	}
	if err := s.idle.Wait(); err != nil {
		s.logger.Debug("imap idle wait", "error", err)
	}
	s.idle = nil
}

func (s *session) teardownLocked() {
	if s.client == nil {
		return
	}
	s.stopIdleLocked()
	if err := s.client.Logout(); err != nil {
		s.logger.Debug("imap logout", "error", err)
	}
	if err := s.client.Close(); err != nil {
		s.logger.Debug("imap close", "error", err)
	}
	s.client = nil
}
