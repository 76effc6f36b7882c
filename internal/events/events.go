package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/redaction-api/internal/domain"
)

// Event types.
const (
	// TaskCreated is emitted after new tasks are committed.
	TaskCreated = "task.created"

	// TaskReady is emitted when an existing task becomes eligible for a
	// processor again, e.g. after a hand-off or an orphan reset.
	TaskReady = "task.ready"
)

// TaskEvent describes a change to one task.
type TaskEvent struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	Type           string          `json:"type"`
	TaskID         uuid.UUID       `json:"task_id"`
	JurisdictionID string          `json:"jurisdiction_id"`
	CaseID         string          `json:"case_id"`
	Mode           domain.TaskMode `json:"mode"`

	// CreatedAt is the timestamp when the event was created
	CreatedAt time.Time `json:"created_at"`
}

// NewTaskEvent builds an event of eventType for task.
func NewTaskEvent(eventType string, task *domain.Task) *TaskEvent {
	return &TaskEvent{
		ID:             domain.NewID(),
		Type:           eventType,
		TaskID:         task.ID,
		JurisdictionID: task.JurisdictionID,
		CaseID:         task.CaseID,
		Mode:           task.Mode,
		CreatedAt:      time.Now().UTC(),
	}
}

// EventHandler defines an interface for components that can handle events.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	HandleEvent(ctx context.Context, event *TaskEvent) error
}

// EventEmitter defines an interface for components that can emit events.
// This allows services to publish events without direct knowledge of handlers.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	EmitEvent(ctx context.Context, event *TaskEvent) error
}

// HandlerFunc adapts a function to EventHandler.
type HandlerFunc func(ctx context.Context, event *TaskEvent) error

func (f HandlerFunc) HandleEvent(ctx context.Context, event *TaskEvent) error {
	return f(ctx, event)
}
