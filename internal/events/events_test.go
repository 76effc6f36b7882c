package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/redaction-api/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTaskEvent(t *testing.T) {
	target := domain.RedactionTarget{Document: domain.NewTextDocument("d1", "text")}
	task, err := domain.NewTask("j1", "c1", target, domain.RendererText, domain.TaskModeProcessor)
	require.NoError(t, err)

	event := NewTaskEvent(TaskCreated, task)

	assert.NotEqual(t, uuid.Nil, event.ID)
	assert.Equal(t, TaskCreated, event.Type)
	assert.Equal(t, task.ID, event.TaskID)
	assert.Equal(t, "j1", event.JurisdictionID)
	assert.Equal(t, "c1", event.CaseID)
	assert.Equal(t, domain.TaskModeProcessor, event.Mode)
	assert.WithinDuration(t, time.Now(), event.CreatedAt, 2*time.Second)
}

// MockEventHandler implements the EventHandler interface for testing
type MockEventHandler struct {
	// The last event received by this handler
	LastEvent *TaskEvent
	// Error to return from HandleEvent
	HandlerError error
	// Count of events handled
	HandledCount int
}

// HandleEvent implements the EventHandler interface
func (h *MockEventHandler) HandleEvent(ctx context.Context, event *TaskEvent) error {
	h.LastEvent = event
	h.HandledCount++
	return h.HandlerError
}

func TestHandlerFunc(t *testing.T) {
	var got *TaskEvent
	h := HandlerFunc(func(_ context.Context, e *TaskEvent) error {
		got = e
		return errors.New("handler error")
	})

	event := &TaskEvent{ID: uuid.New(), Type: TaskReady}
	err := h.HandleEvent(context.Background(), event)

	assert.EqualError(t, err, "handler error")
	assert.Same(t, event, got)
}
