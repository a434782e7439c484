package model

import "time"

// TaskStatus is the lifecycle state of a question awaiting a human answer.
type TaskStatus string

const (
	TaskPending  TaskStatus = "pending"
	TaskAnswered TaskStatus = "answered"
	TaskFailed   TaskStatus = "failed"
	TaskCanceled TaskStatus = "canceled"
)

// Terminal reports whether no further transition is possible.
func (s TaskStatus) Terminal() bool {
	return s == TaskAnswered || s == TaskFailed || s == TaskCanceled
}

// Task is a question sent to a human through a channel, correlated with
// the reply by its ID.
type Task struct {
	// ID is the correlation identifier embedded in outbound messages.
	ID string `json:"id"`

	// Channel is the channel type the question was sent through.
	Channel string `json:"channel"`

	Question string     `json:"question"`
	Answer   string     `json:"answer,omitempty"`
	Status   TaskStatus `json:"status"`

	// Error holds the failure reason for failed tasks.
	Error string `json:"error,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	AnsweredAt *time.Time `json:"answered_at,omitempty"`
}
