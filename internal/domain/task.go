package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents where a Task sits in the claim protocol.
type TaskStatus string

// Possible task status values
const (
	TaskStatusPending TaskStatus = "pending"
	TaskStatusClaimed TaskStatus = "claimed"
	TaskStatusDone    TaskStatus = "done"
	TaskStatusError   TaskStatus = "error"
)

// TaskMode selects which machinery drives a Task: the queued stage chain or
// the claim/execute processors.
type TaskMode string

const (
	TaskModeChain     TaskMode = "chain"
	TaskModeProcessor TaskMode = "processor"
)

// Common validation errors for Task
var (
	ErrEmptyTaskID         = errors.New("task ID cannot be empty")
	ErrEmptyJurisdictionID = errors.New("jurisdiction ID cannot be empty")
	ErrEmptyCaseID         = errors.New("case ID cannot be empty")
	ErrEmptyDocumentID     = errors.New("document ID cannot be empty")
	ErrInvalidTaskStatus   = errors.New("invalid task status")
	ErrInvalidTaskMode     = errors.New("invalid task mode")
)

// Task is one redaction line item: a single document in a single case.
// Rows are never deleted; they are the audit trail of every request.
type Task struct {
	ID             uuid.UUID  `json:"id"`
	JurisdictionID string     `json:"jurisdiction_id"`
	CaseID         string     `json:"case_id"`
	DocumentID     string     `json:"document_id"`
	Document       Document   `json:"document"`
	CallbackURL    string     `json:"callback_url,omitempty"`
	TargetBlobURL  string     `json:"target_blob_url,omitempty"`
	Renderer       Renderer   `json:"renderer"`
	Mode           TaskMode   `json:"mode"`
	Status         TaskStatus `json:"status"`
	RetryAfter     *time.Time `json:"retry_after,omitempty"`
	ClaimedAt      *time.Time `json:"claimed_at,omitempty"`
	DispatchedAt   *time.Time `json:"dispatched_at,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// NewTask creates a pending Task for one redaction target.
func NewTask(jurisdictionID, caseID string, target RedactionTarget, renderer Renderer, mode TaskMode) (*Task, error) {
	now := time.Now().UTC()
	task := &Task{
		ID:             NewID(),
		JurisdictionID: jurisdictionID,
		CaseID:         caseID,
		DocumentID:     target.Document.DocumentID,
		Document:       target.Document,
		CallbackURL:    target.CallbackURL,
		TargetBlobURL:  target.TargetBlobURL,
		Renderer:       renderer,
		Mode:           mode,
		Status:         TaskStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}

	return task, nil
}

// Validate checks if the Task has valid data.
func (t *Task) Validate() error {
	if t.ID == uuid.Nil {
		return ErrEmptyTaskID
	}
	if t.JurisdictionID == "" {
		return ErrEmptyJurisdictionID
	}
	if t.CaseID == "" {
		return ErrEmptyCaseID
	}
	if t.DocumentID == "" {
		return ErrEmptyDocumentID
	}
	if !t.Renderer.Valid() {
		return ErrInvalidRenderer
	}
	if t.Mode != TaskModeChain && t.Mode != TaskModeProcessor {
		return ErrInvalidTaskMode
	}
	switch t.Status {
	case TaskStatusPending, TaskStatusClaimed, TaskStatusDone, TaskStatusError:
	default:
		return ErrInvalidTaskStatus
	}
	return t.Document.Validate()
}

// Target rebuilds the redaction target the task was created from.
func (t *Task) Target() RedactionTarget {
	return RedactionTarget{
		Document:      t.Document,
		CallbackURL:   t.CallbackURL,
		TargetBlobURL: t.TargetBlobURL,
	}
}

// IsTerminal reports whether no further processing will happen for the task.
func (t *Task) IsTerminal() bool {
	return t.Status == TaskStatusDone || t.Status == TaskStatusError
}
