package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPayload is returned when a webhook body matches neither accepted
// shape.
var ErrInvalidPayload = errors.New("invalid webhook payload")

// TaskState is the state reported by a full task update.
type TaskState string

const (
	StateSubmitted     TaskState = "submitted"
	StateWorking       TaskState = "working"
	StateInputRequired TaskState = "input-required"
	StateCompleted     TaskState = "completed"
	StateCanceled      TaskState = "canceled"
	StateFailed        TaskState = "failed"
	StateRejected      TaskState = "rejected"
)

// Payload is a decoded webhook body: either PayloadAnswer or PayloadTask.
type Payload interface {
	payload()
}

// PayloadAnswer is the simplified {"taskId","answer"} form.
type PayloadAnswer struct {
	TaskID string
	Answer string
}

// PayloadTask is a full task update. Text joins the text parts of the
// status message.
type PayloadTask struct {
	TaskID string
	State  TaskState
	Text   string
}

func (PayloadAnswer) payload() {}
func (PayloadTask) payload()   {}

type wirePart struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}

type wireTask struct {
	ID     string `json:"id"`
	Status struct {
		State   TaskState `json:"state"`
		Message *struct {
			Parts []wirePart `json:"parts"`
		} `json:"message"`
	} `json:"status"`
}

type wireBody struct {
	TaskID *string   `json:"taskId"`
	Answer *string   `json:"answer"`
	Task   *wireTask `json:"task"`
}

// DecodePayload decodes a webhook body. Exactly one of the two shapes must
// be present.
func DecodePayload(data []byte) (Payload, error) {
	var body wireBody
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	simple := body.TaskID != nil || body.Answer != nil
	switch {
	case body.Task != nil && simple:
		return nil, fmt.Errorf("%w: both task and taskId/answer given", ErrInvalidPayload)
	case body.Task != nil:
		return decodeTask(body.Task)
	case body.TaskID != nil && body.Answer != nil:
		if strings.TrimSpace(*body.TaskID) == "" {
			return nil, fmt.Errorf("%w: empty taskId", ErrInvalidPayload)
		}
		return PayloadAnswer{TaskID: *body.TaskID, Answer: *body.Answer}, nil
	case simple:
		return nil, fmt.Errorf("%w: taskId and answer are both required", ErrInvalidPayload)
	default:
		return nil, fmt.Errorf("%w: expected task or taskId/answer", ErrInvalidPayload)
	}
}

func decodeTask(t *wireTask) (Payload, error) {
	if strings.TrimSpace(t.ID) == "" {
		return nil, fmt.Errorf("%w: task.id is required", ErrInvalidPayload)
	}
	if t.Status.State == "" {
		return nil, fmt.Errorf("%w: task.status.state is required", ErrInvalidPayload)
	}

	var texts []string
	if t.Status.Message != nil {
		for _, p := range t.Status.Message.Parts {
			if p.Kind == "text" && p.Text != "" {
				texts = append(texts, p.Text)
			}
		}
	}
	return PayloadTask{
		TaskID: t.ID,
		State:  t.Status.State,
		Text:   strings.Join(texts, "\n"),
	}, nil
}
