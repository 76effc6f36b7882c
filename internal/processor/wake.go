package processor

import (
	"context"

	"github.com/phrazzld/redaction-api/internal/domain"
	"github.com/phrazzld/redaction-api/internal/events"
)

// WakeHandler turns task events into processor wake-ups.
type WakeHandler struct {
	scheduler *Scheduler
}

var _ events.EventHandler = (*WakeHandler)(nil)

func NewWakeHandler(scheduler *Scheduler) *WakeHandler {
	return &WakeHandler{scheduler: scheduler}
}

// WakeEvents are the event types a WakeHandler subscribes to.
var WakeEvents = []string{events.TaskCreated, events.TaskReady}

// HandleEvent wakes the redaction processors for processor-mode tasks.
// Chain-mode tasks are driven by the queue.
func (h *WakeHandler) HandleEvent(_ context.Context, event *events.TaskEvent) error {
	if event.Mode == domain.TaskModeProcessor {
		h.scheduler.Check(RedactionProcessor)
	}
	return nil
}
