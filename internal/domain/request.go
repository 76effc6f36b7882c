package domain

import "strings"

// Renderer selects the output format of the redaction engine.
type Renderer string

const (
	RendererPDF  Renderer = "PDF"
	RendererText Renderer = "TEXT"
	RendererHTML Renderer = "HTML"
	RendererJSON Renderer = "JSON"
)

// Valid reports whether r names a known renderer.
func (r Renderer) Valid() bool {
	switch r {
	case RendererPDF, RendererText, RendererHTML, RendererJSON:
		return true
	}
	return false
}

// ParseRenderer accepts renderer names case-insensitively.
func ParseRenderer(s string) (Renderer, error) {
	r := Renderer(strings.ToUpper(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", ErrInvalidRenderer
	}
	return r, nil
}

// RedactionTarget is one document to redact plus where to deliver it.
type RedactionTarget struct {
	Document      Document `json:"document" validate:"required"`
	CallbackURL   string   `json:"callbackUrl,omitempty" validate:"omitempty,url"`
	TargetBlobURL string   `json:"targetBlobUrl,omitempty" validate:"omitempty,url"`
}

// RedactionRequest is the body of a redaction submission.
type RedactionRequest struct {
	JurisdictionID string            `json:"jurisdictionId" validate:"required,max=256"`
	CaseID         string            `json:"caseId" validate:"required,max=256"`
	Subjects       []Subject         `json:"subjects" validate:"required,min=1,dive"`
	Objects        []RedactionTarget `json:"objects" validate:"required,min=1,dive"`
	Renderer       Renderer          `json:"renderer,omitempty" validate:"omitempty,oneof=PDF TEXT HTML JSON"`
}

// SubjectIDs lists the subject ids of the request in submission order.
func (r RedactionRequest) SubjectIDs() []string {
	ids := make([]string, len(r.Subjects))
	for i, s := range r.Subjects {
		ids[i] = s.Subject.SubjectID
	}
	return ids
}

// ResultStatus is the caller-visible state of one document.
type ResultStatus string

const (
	ResultComplete   ResultStatus = "COMPLETE"
	ResultError      ResultStatus = "ERROR"
	ResultQueued     ResultStatus = "QUEUED"
	ResultProcessing ResultStatus = "PROCESSING"
)

// RedactionResult is the webhook body and the per-document entry of the
// status endpoint. RedactedDocument is set only when Status is COMPLETE and
// Error only when it is ERROR.
type RedactionResult struct {
	JurisdictionID   string          `json:"jurisdictionId"`
	CaseID           string          `json:"caseId"`
	InputDocumentID  string          `json:"inputDocumentId"`
	MaskedSubjects   []MaskedSubject `json:"maskedSubjects"`
	RedactedDocument *Document       `json:"redactedDocument,omitempty"`
	Error            string          `json:"error,omitempty"`
	Status           ResultStatus    `json:"status"`
}

// RedactionStatus lists the results for every document of a case.
type RedactionStatus struct {
	JurisdictionID string            `json:"jurisdictionId"`
	CaseID         string            `json:"caseId"`
	Requests       []RedactionResult `json:"requests"`
}
