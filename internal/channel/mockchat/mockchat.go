// Package mockchat is a chat channel simulator. Questions and replies are
// kept as a per-task transcript in the store, and replies are posted
// through Reply, typically from the HTTP relay.
package mockchat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/nhle/humanloop/internal/channel"
	"github.com/nhle/humanloop/internal/model"
	"github.com/nhle/humanloop/internal/store"
)

// ErrNotListening is returned by Reply when no listener is running. The
// reply is still recorded in the transcript.
var ErrNotListening = errors.New("mock chat listener not running")

// Connector implements channel.Connector on top of the chat transcript.
type Connector struct {
	store  store.Store
	logger *slog.Logger

	mu      sync.Mutex
	handler channel.Handler
	ctx     context.Context
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

// New returns a connector writing transcripts to st.
func New(st store.Store, opts ...Option) *Connector {
	c := &Connector{store: st, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("channel", string(channel.TypeMockChat))
	return c
}

func (c *Connector) Type() channel.Type {
	return channel.TypeMockChat
}

// Send posts text to the transcript of task identifier as the agent.
func (c *Connector) Send(ctx context.Context, identifier, text string) error {
	err := c.store.AppendChatMessage(ctx, model.ChatMessage{
		ID:     uuid.NewString(),
		TaskID: identifier,
		Role:   model.RoleAgent,
		Body:   text,
	})
	if err != nil {
		return fmt.Errorf("posting question for %s: %w", identifier, err)
	}
	c.logger.Info("question posted", "task_id", identifier)
	return nil
}

// StartListener routes subsequent replies to handler.
func (c *Connector) StartListener(ctx context.Context, handler channel.Handler) error {
	if handler == nil {
		return errors.New("mock chat listener: nil handler")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handler != nil {
		return channel.ErrListenerActive
	}
	c.handler = handler
	c.ctx = context.WithoutCancel(ctx)
	c.logger.Info("mock chat listener started")
	return nil
}

// StopListener stops routing replies. Safe to call repeatedly.
func (c *Connector) StopListener() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handler != nil {
		c.logger.Info("mock chat listener stopped")
	}
	c.handler = nil
	c.ctx = nil
}

// Reply records a human reply for task identifier and hands it to the
// listener. Handler errors and panics are returned, not propagated.
func (c *Connector) Reply(ctx context.Context, identifier, text string) error {
	err := c.store.AppendChatMessage(ctx, model.ChatMessage{
		ID:     uuid.NewString(),
		TaskID: identifier,
		Role:   model.RoleHuman,
		Body:   text,
	})
	if err != nil {
		return fmt.Errorf("recording reply for %s: %w", identifier, err)
	}

	c.mu.Lock()
	handler, hctx := c.handler, c.ctx
	c.mu.Unlock()
	if handler == nil {
		return ErrNotListening
	}

	return invoke(hctx, handler, identifier, text)
}

// Transcript returns the messages exchanged for task identifier.
func (c *Connector) Transcript(ctx context.Context, identifier string) ([]model.ChatMessage, error) {
	return c.store.GetChatMessages(ctx, identifier)
}

func invoke(ctx context.Context, h channel.Handler, identifier, text string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, identifier, text)
}
