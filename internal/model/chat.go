package model

import "time"

// ChatRole identifies who wrote a chat message.
type ChatRole string

const (
	RoleAgent ChatRole = "agent"
	RoleHuman ChatRole = "human"
)

// ChatMessage is one entry of the mock chat transcript for a task.
type ChatMessage struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	Role      ChatRole  `json:"role"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}
