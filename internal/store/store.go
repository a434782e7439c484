package store

import (
	"context"
	"errors"
	"time"

	"github.com/nhle/humanloop/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// TaskFilter controls filtering and pagination for task queries.
type TaskFilter struct {
	Status  *model.TaskStatus
	Channel *string
	Limit   int
	Offset  int
}

// Store defines the persistence interface for tasks and their chat
// transcripts.
type Store interface {
	// === Tasks ===

	PutTask(ctx context.Context, task model.Task) error
	GetTask(ctx context.Context, id string) (*model.Task, error)
	// UpdateTask applies fn to the stored task inside a transaction and
	// persists the result. Returning an error from fn aborts the update.
	UpdateTask(ctx context.Context, id string, fn func(*model.Task) error) (*model.Task, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]model.Task, error)
	// PurgeTasks deletes finished tasks last updated before cutoff.
	PurgeTasks(ctx context.Context, cutoff time.Time) (int64, error)

	// === Chat transcript ===

	AppendChatMessage(ctx context.Context, msg model.ChatMessage) error
	GetChatMessages(ctx context.Context, taskID string) ([]model.ChatMessage, error)
}
