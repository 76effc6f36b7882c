package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ExecutionStatus is the lifecycle of one Job or Callback attempt.
type ExecutionStatus string

const (
	ExecutionCreated ExecutionStatus = "created"
	ExecutionStarted ExecutionStatus = "started"
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionError   ExecutionStatus = "error"
)

// CanTransitionTo reports whether next is a legal forward move from s.
// An attempt that never started may still be failed when it is abandoned.
func (s ExecutionStatus) CanTransitionTo(next ExecutionStatus) bool {
	switch s {
	case ExecutionCreated:
		return next == ExecutionStarted || next == ExecutionError
	case ExecutionStarted:
		return next == ExecutionSuccess || next == ExecutionError
	default:
		return false
	}
}

// IsTerminal reports whether the attempt has finished.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionSuccess || s == ExecutionError
}

func transition(current *ExecutionStatus, next ExecutionStatus, updated *time.Time) error {
	if !current.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, *current, next)
	}
	*current = next
	*updated = time.Now().UTC()
	return nil
}

// Job is one execution attempt of a Task's redaction stage.
type Job struct {
	ID           uuid.UUID       `json:"id"`
	TaskID       uuid.UUID       `json:"task_id"`
	Status       ExecutionStatus `json:"status"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// NewJob creates a Job in the created state.
func NewJob(taskID uuid.UUID) (*Job, error) {
	if taskID == uuid.Nil {
		return nil, ErrEmptyTaskID
	}
	now := time.Now().UTC()
	return &Job{
		ID:        NewID(),
		TaskID:    taskID,
		Status:    ExecutionCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (j *Job) Start() error {
	return transition(&j.Status, ExecutionStarted, &j.UpdatedAt)
}

func (j *Job) Succeed() error {
	return transition(&j.Status, ExecutionSuccess, &j.UpdatedAt)
}

// Fail records the error message and moves the job to the error state.
func (j *Job) Fail(message string) error {
	if err := transition(&j.Status, ExecutionError, &j.UpdatedAt); err != nil {
		return err
	}
	j.ErrorMessage = message
	return nil
}

// Callback is one execution attempt of webhook delivery for a Task. It is
// only created once a Job for the same Task has succeeded.
type Callback struct {
	ID           uuid.UUID       `json:"id"`
	TaskID       uuid.UUID       `json:"task_id"`
	Status       ExecutionStatus `json:"status"`
	ResponseCode int             `json:"response_code"`
	Response     string          `json:"response,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// NewCallback creates a Callback in the created state.
func NewCallback(taskID uuid.UUID) (*Callback, error) {
	if taskID == uuid.Nil {
		return nil, ErrEmptyTaskID
	}
	now := time.Now().UTC()
	return &Callback{
		ID:        NewID(),
		TaskID:    taskID,
		Status:    ExecutionCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (c *Callback) Start() error {
	return transition(&c.Status, ExecutionStarted, &c.UpdatedAt)
}

// Fail records the error message and moves the callback to the error state.
func (c *Callback) Fail(message string) error {
	if err := transition(&c.Status, ExecutionError, &c.UpdatedAt); err != nil {
		return err
	}
	c.ErrorMessage = message
	return nil
}

// Complete records the webhook response. Any 2xx code is a success; every
// other code, including 0 for transport failures, is an error. A callback
// with nothing to deliver completes with code 0 and succeeds when ok is set.
func (c *Callback) Complete(code int, response string, ok bool) error {
	next := ExecutionError
	if ok {
		next = ExecutionSuccess
	}
	if err := transition(&c.Status, next, &c.UpdatedAt); err != nil {
		return err
	}
	c.ResponseCode = code
	c.Response = response
	if !ok {
		c.ErrorMessage = fmt.Sprintf("callback returned status %d", code)
	}
	return nil
}

// IsSuccessCode reports whether an HTTP status code counts as delivered.
func IsSuccessCode(code int) bool {
	return code >= 200 && code < 300
}
