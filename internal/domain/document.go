package domain

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// AttachmentType discriminates the Document union.
type AttachmentType string

const (
	AttachmentLink   AttachmentType = "LINK"
	AttachmentText   AttachmentType = "TEXT"
	AttachmentBase64 AttachmentType = "BASE64"
	AttachmentJSON   AttachmentType = "JSON"
)

// Document is an input or output document. LINK documents carry a URL; the
// other types carry inline content. On the wire the content of a JSON
// document is an object, every other content is a string.
type Document struct {
	AttachmentType AttachmentType `json:"attachmentType" validate:"required,oneof=LINK TEXT BASE64 JSON"`
	DocumentID     string         `json:"documentId" validate:"required"`
	URL            string         `json:"url,omitempty"`
	Content        string         `json:"content,omitempty"`
}

func NewLinkDocument(documentID, url string) Document {
	return Document{AttachmentType: AttachmentLink, DocumentID: documentID, URL: url}
}

func NewTextDocument(documentID, content string) Document {
	return Document{AttachmentType: AttachmentText, DocumentID: documentID, Content: content}
}

func NewBase64Document(documentID string, content []byte) Document {
	return Document{
		AttachmentType: AttachmentBase64,
		DocumentID:     documentID,
		Content:        base64.StdEncoding.EncodeToString(content),
	}
}

// NewJSONDocument wraps raw JSON produced by the JSON renderer.
func NewJSONDocument(documentID string, raw []byte) Document {
	return Document{AttachmentType: AttachmentJSON, DocumentID: documentID, Content: string(raw)}
}

// Validate checks the per-type required fields.
func (d Document) Validate() error {
	if d.DocumentID == "" {
		return ErrEmptyDocumentID
	}
	switch d.AttachmentType {
	case AttachmentLink:
		if d.URL == "" {
			return fmt.Errorf("%w: link document requires a url", ErrValidation)
		}
	case AttachmentText, AttachmentBase64:
	case AttachmentJSON:
		if !json.Valid([]byte(d.Content)) {
			return fmt.Errorf("%w: json document content is not valid JSON", ErrInvalidFormat)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedAttachment, d.AttachmentType)
	}
	return nil
}

type documentWire struct {
	AttachmentType AttachmentType  `json:"attachmentType"`
	DocumentID     string          `json:"documentId"`
	URL            string          `json:"url,omitempty"`
	Content        json.RawMessage `json:"content,omitempty"`
}

func (d Document) MarshalJSON() ([]byte, error) {
	w := documentWire{AttachmentType: d.AttachmentType, DocumentID: d.DocumentID, URL: d.URL}
	switch {
	case d.AttachmentType == AttachmentJSON && d.Content != "":
		w.Content = json.RawMessage(d.Content)
	case d.Content != "":
		raw, err := json.Marshal(d.Content)
		if err != nil {
			return nil, err
		}
		w.Content = raw
	}
	return json.Marshal(w)
}

func (d *Document) UnmarshalJSON(data []byte) error {
	var w documentWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*d = Document{AttachmentType: w.AttachmentType, DocumentID: w.DocumentID, URL: w.URL}
	if len(w.Content) == 0 || string(w.Content) == "null" {
		return nil
	}
	if w.AttachmentType == AttachmentJSON {
		d.Content = string(w.Content)
		return nil
	}
	return json.Unmarshal(w.Content, &d.Content)
}
