package domain

import (
	"time"

	"github.com/google/uuid"
)

// File records fetched input bytes. Content lives in the blob store under
// StorageID; ContentHash is the blake3 digest of the raw bytes.
type File struct {
	ID          uuid.UUID `json:"id"`
	TaskID      uuid.UUID `json:"task_id"`
	ContentHash string    `json:"content_hash"`
	MimeType    string    `json:"mime_type"`
	Size        int64     `json:"size"`
	StorageID   string    `json:"storage_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// Redaction is the produced output for a task: either inline content in the
// blob store or a link to an uploaded blob.
type Redaction struct {
	ID               uuid.UUID `json:"id"`
	TaskID           uuid.UUID `json:"task_id"`
	JobID            uuid.UUID `json:"job_id"`
	FileID           uuid.UUID `json:"file_id"`
	Renderer         Renderer  `json:"renderer"`
	ExternalLink     string    `json:"external_link,omitempty"`
	ContentStorageID string    `json:"content_storage_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// DocumentStatus is the experiment log entry written when a chain finishes.
type DocumentStatus struct {
	ID             uuid.UUID    `json:"id"`
	JurisdictionID string       `json:"jurisdiction_id"`
	CaseID         string       `json:"case_id"`
	DocumentID     string       `json:"document_id"`
	Status         ResultStatus `json:"status"`
	Error          string       `json:"error,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// NewDocumentStatus records COMPLETE when errs is empty and ERROR with the
// serialised error list otherwise.
func NewDocumentStatus(jurisdictionID, caseID, documentID string, errs ProcessingErrors) *DocumentStatus {
	ds := &DocumentStatus{
		ID:             NewID(),
		JurisdictionID: jurisdictionID,
		CaseID:         caseID,
		DocumentID:     documentID,
		Status:         ResultComplete,
		CreatedAt:      time.Now().UTC(),
	}
	if len(errs) > 0 {
		ds.Status = ResultError
		ds.Error = errs.JSON()
	}
	return ds
}

// RetryState is the retry bookkeeping for one stage of one task.
type RetryState struct {
	TaskID         uuid.UUID `json:"task_id"`
	Stage          string    `json:"stage"`
	Attempts       int       `json:"attempts"`
	LastError      string    `json:"last_error"`
	NextEligibleAt time.Time `json:"next_eligible_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
