package channel

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrListenerActive is returned when a listener is started on a connector
// that already has one running.
var ErrListenerActive = errors.New("listener already active")

// ErrUnknownChannel is returned when no connector is registered for a type.
var ErrUnknownChannel = errors.New("unknown channel")

// Type identifies a messaging channel.
type Type string

const (
	TypeEmail    Type = "email"
	TypeMockChat Type = "mockchat"
)

// Handler receives a correlation identifier and the human's reply. It may be
// invoked any number of times for the lifetime of a listener, and possibly
// more than once for the same identifier.
type Handler func(ctx context.Context, identifier, content string) error

// Connector is the capability every channel implements: send a question
// tagged with an identifier, and listen for replies carrying it.
type Connector interface {
	// Type returns the channel type identifier.
	Type() Type

	// Send transmits text for the given correlation identifier.
	Send(ctx context.Context, identifier, text string) error

	// StartListener begins delivering replies to handler. It fails with
	// ErrListenerActive when a listener is already running.
	StartListener(ctx context.Context, handler Handler) error

	// StopListener tears the listener down. Safe to call repeatedly.
	StopListener()
}

// Registry maps channel types to connectors. It is populated once at
// startup and read afterwards.
type Registry struct {
	mu         sync.RWMutex
	connectors map[Type]Connector
}

// NewRegistry builds a registry holding the given connectors.
func NewRegistry(connectors ...Connector) *Registry {
	r := &Registry{connectors: make(map[Type]Connector)}
	for _, c := range connectors {
		r.Register(c)
	}
	return r
}

// Register adds or replaces the connector for its type.
func (r *Registry) Register(c Connector) {
	if c == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectors[ParseType(string(c.Type()))] = c
}

// Resolve returns the connector registered for t.
func (r *Registry) Resolve(t Type) (Connector, error) {
	r.mu.RLock()
	c, ok := r.connectors[ParseType(string(t))]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownChannel, t)
	}
	return c, nil
}

// Types lists the registered channel types in sorted order.
func (r *Registry) Types() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]Type, 0, len(r.connectors))
	for t := range r.connectors {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// ParseType turns a configured channel name into a Type, ignoring case and
// surrounding space.
func ParseType(s string) Type {
	return Type(strings.ToLower(strings.TrimSpace(s)))
}
