// Package loop ties outbound questions to inbound replies: it records each
// question as a task, sends it through a channel and suspends the caller
// until the reply carrying the task ID arrives.
package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/humanloop/internal/await"
	"github.com/nhle/humanloop/internal/channel"
	"github.com/nhle/humanloop/internal/model"
	"github.com/nhle/humanloop/internal/store"
)

// ErrUnknownTask is returned when a reply references no stored task.
var ErrUnknownTask = errors.New("unknown task")

// ErrTaskFinished is returned by Ask when the task was failed or canceled
// by another process while waiting.
var ErrTaskFinished = errors.New("task finished without answer")

var errNotPending = errors.New("task not pending")

// DefaultAnswerPollInterval is how often Ask checks the store for answers
// recorded by other processes.
const DefaultAnswerPollInterval = 2 * time.Second

// Coordinator correlates questions and answers for one channel.
type Coordinator struct {
	store        store.Store
	conn         channel.Connector
	logger       *slog.Logger
	pollInterval time.Duration
	now          func() time.Time

	// waiters holds one future per blocked Ask or Wait call, keyed by task.
	mu      sync.Mutex
	waiters map[string]map[*await.Future[string]]struct{}
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithAnswerPollInterval sets how often Ask rereads the task from the store.
func WithAnswerPollInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// New creates a Coordinator sending through conn and persisting to st.
func New(st store.Store, conn channel.Connector, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:        st,
		conn:         conn,
		logger:       slog.Default(),
		pollInterval: DefaultAnswerPollInterval,
		now:          time.Now,
		waiters:      make(map[string]map[*await.Future[string]]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("channel", string(conn.Type()))
	return c
}

// Start begins listening for replies on the channel.
func (c *Coordinator) Start(ctx context.Context) error {
	return c.conn.StartListener(ctx, c.Deliver)
}

// Stop stops listening. Pending Ask calls keep waiting on the store.
func (c *Coordinator) Stop() {
	c.conn.StopListener()
}

// Ask records question as a new task, sends it and blocks until it is
// answered or ctx ends. A ctx that ends first cancels the task.
func (c *Coordinator) Ask(ctx context.Context, question string) (*model.Task, error) {
	task := model.Task{
		ID:       uuid.NewString(),
		Channel:  string(c.conn.Type()),
		Question: question,
		Status:   model.TaskPending,
	}
	if err := c.store.PutTask(ctx, task); err != nil {
		return nil, fmt.Errorf("recording task: %w", err)
	}

	fut := c.register(task.ID)
	defer c.unregister(task.ID, fut)

	if err := c.conn.Send(ctx, task.ID, question); err != nil {
		c.finish(task.ID, model.TaskFailed, err.Error())
		return nil, fmt.Errorf("sending question for task %s: %w", task.ID, err)
	}
	c.logger.Info("question sent, awaiting answer", "task_id", task.ID)

	return c.wait(ctx, task.ID, fut)
}

// Wait blocks until the existing task id is answered or ctx ends, without
// canceling it on return.
func (c *Coordinator) Wait(ctx context.Context, id string) (*model.Task, error) {
	fut := c.register(id)
	defer c.unregister(id, fut)

	t, err := c.store.GetTask(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}
	if err != nil {
		return nil, err
	}
	if done, err := settled(t); done {
		return t, err
	}

	return c.poll(ctx, id, fut)
}

func (c *Coordinator) wait(ctx context.Context, id string, fut *await.Future[string]) (*model.Task, error) {
	t, err := c.poll(ctx, id, fut)
	if err != nil && ctx.Err() != nil {
		c.finish(id, model.TaskCanceled, ctx.Err().Error())
	}
	return t, err
}

// poll waits for the future or for the store to show the task settled.
func (c *Coordinator) poll(ctx context.Context, id string, fut *await.Future[string]) (*model.Task, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	// Set to nil once fired so a failed store read falls back to the ticker.
	woken := fut.Done()
	for {
		select {
		case <-woken:
			woken = nil
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		t, err := c.store.GetTask(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Warn("reading task while waiting", "task_id", id, "error", err)
			continue
		}
		if done, err := settled(t); done {
			return t, err
		}
	}
}

func settled(t *model.Task) (bool, error) {
	switch t.Status {
	case model.TaskAnswered:
		return true, nil
	case model.TaskFailed, model.TaskCanceled:
		return true, fmt.Errorf("%w: %s (%s)", ErrTaskFinished, t.Status, t.Error)
	default:
		return false, nil
	}
}

// Deliver records content as the answer to task identifier and wakes every
// Ask or Wait call blocked on it. Replies for tasks that are already settled are
// ignored, so repeated deliveries are harmless.
func (c *Coordinator) Deliver(ctx context.Context, identifier, content string) error {
	_, err := c.store.UpdateTask(ctx, identifier, func(t *model.Task) error {
		if t.Status != model.TaskPending {
			return errNotPending
		}
		answeredAt := c.now().UTC()
		t.Status = model.TaskAnswered
		t.Answer = content
		t.AnsweredAt = &answeredAt
		return nil
	})
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.logger.Warn("reply for unknown task", "task_id", identifier)
		return fmt.Errorf("%w: %s", ErrUnknownTask, identifier)
	case errors.Is(err, errNotPending):
		c.logger.Debug("duplicate reply ignored", "task_id", identifier)
		return nil
	case err != nil:
		return fmt.Errorf("recording answer for task %s: %w", identifier, err)
	}

	c.logger.Info("answer recorded", "task_id", identifier)

	c.mu.Lock()
	for fut := range c.waiters[identifier] {
		fut.Resolve(content)
	}
	c.mu.Unlock()
	return nil
}

func (c *Coordinator) register(id string) *await.Future[string] {
	c.mu.Lock()
	defer c.mu.Unlock()
	fut := await.New[string]()
	if c.waiters[id] == nil {
		c.waiters[id] = make(map[*await.Future[string]]struct{})
	}
	c.waiters[id][fut] = struct{}{}
	return fut
}

func (c *Coordinator) unregister(id string, fut *await.Future[string]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fut.Cancel()
	delete(c.waiters[id], fut)
	if len(c.waiters[id]) == 0 {
		delete(c.waiters, id)
	}
}

// finish moves a pending task to a terminal status. It runs detached from
// the caller's context, which may already be done.
func (c *Coordinator) finish(id string, status model.TaskStatus, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := c.store.UpdateTask(ctx, id, func(t *model.Task) error {
		if t.Status != model.TaskPending {
			return errNotPending
		}
		t.Status = status
		t.Error = reason
		return nil
	})
	if err != nil && !errors.Is(err, errNotPending) {
		c.logger.Warn("updating task status", "task_id", id, "status", status, "error", err)
	}
}
