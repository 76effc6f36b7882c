package pipeline

import (
	"github.com/phrazzld/redaction-api/internal/domain"
)

// Stage names as registered with the queue.
const (
	StageFetch    = "fetch"
	StageRedact   = "redact"
	StageFormat   = "format"
	StageCallback = "callback"
	StageFinalize = "finalize"
)

// NothingToDo is the response recorded when a task has no callback URL.
const NothingToDo = "[nothing to do]"

type FetchParams struct {
	Document domain.Document `json:"document"`
}

type FetchResult struct {
	DocumentID string                  `json:"document_id"`
	StorageID  string                  `json:"storage_id,omitempty"`
	Errors     domain.ProcessingErrors `json:"errors,omitempty"`
}

type RedactParams struct {
	JurisdictionID string          `json:"jurisdiction_id"`
	CaseID         string          `json:"case_id"`
	DocumentID     string          `json:"document_id"`
	Renderer       domain.Renderer `json:"renderer"`
}

type RedactResult struct {
	JurisdictionID string                  `json:"jurisdiction_id"`
	CaseID         string                  `json:"case_id"`
	DocumentID     string                  `json:"document_id"`
	StorageID      string                  `json:"storage_id,omitempty"`
	Renderer       domain.Renderer         `json:"renderer"`
	Errors         domain.ProcessingErrors `json:"errors,omitempty"`
}

type FormatParams struct {
	TargetBlobURL string `json:"target_blob_url,omitempty"`
}

type FormatResult struct {
	JurisdictionID string                  `json:"jurisdiction_id"`
	CaseID         string                  `json:"case_id"`
	DocumentID     string                  `json:"document_id"`
	Document       *domain.Document        `json:"document,omitempty"`
	Errors         domain.ProcessingErrors `json:"errors,omitempty"`
}

type CallbackParams struct {
	CallbackURL string `json:"callback_url,omitempty"`
}

type CallbackResult struct {
	Formatted  FormatResult `json:"formatted"`
	StatusCode int          `json:"status_code"`
	Response   string       `json:"response"`
}

type FinalizeParams struct {
	JurisdictionID string          `json:"jurisdiction_id"`
	CaseID         string          `json:"case_id"`
	SubjectIDs     []string        `json:"subject_ids,omitempty"`
	Renderer       domain.Renderer `json:"renderer"`
}

type FinalizeResult struct {
	Document    *domain.Document        `json:"document,omitempty"`
	Errors      domain.ProcessingErrors `json:"errors,omitempty"`
	NextChainID string                  `json:"next_chain_id,omitempty"`
}
