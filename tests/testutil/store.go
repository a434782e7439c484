package testutil

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/nhle/humanloop/internal/model"
	"github.com/nhle/humanloop/internal/store"
)

// NewTestStore creates an in-memory SQLiteStore with all migrations applied.
// It automatically closes the store when the test completes.
func NewTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}

// SeedTask stores a pending task for question on channel and returns it.
func SeedTask(t *testing.T, s store.Store, channel, question string) model.Task {
	t.Helper()

	task := model.Task{
		ID:       uuid.NewString(),
		Channel:  channel,
		Question: question,
		Status:   model.TaskPending,
	}
	if err := s.PutTask(context.Background(), task); err != nil {
		t.Fatalf("seeding task: %v", err)
	}
	return task
}
