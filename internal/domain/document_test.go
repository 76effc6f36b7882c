package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentJSON(t *testing.T) {
	t.Run("json document content is an object on the wire", func(t *testing.T) {
		doc := NewJSONDocument("d1", []byte(`{"redacted":"x"}`))
		b, err := json.Marshal(doc)
		require.NoError(t, err)
		assert.JSONEq(t, `{"attachmentType":"JSON","documentId":"d1","content":{"redacted":"x"}}`, string(b))

		var back Document
		require.NoError(t, json.Unmarshal(b, &back))
		assert.Equal(t, AttachmentJSON, back.AttachmentType)
		assert.JSONEq(t, `{"redacted":"x"}`, back.Content)
	})

	t.Run("text content is a string", func(t *testing.T) {
		var doc Document
		require.NoError(t, json.Unmarshal([]byte(`{"attachmentType":"TEXT","documentId":"d","content":"hi"}`), &doc))
		assert.Equal(t, "hi", doc.Content)
		require.NoError(t, doc.Validate())
	})

	t.Run("link omits content", func(t *testing.T) {
		b, err := json.Marshal(NewLinkDocument("d", "https://x/y"))
		require.NoError(t, err)
		assert.JSONEq(t, `{"attachmentType":"LINK","documentId":"d","url":"https://x/y"}`, string(b))
	})
}

func TestDocumentValidate(t *testing.T) {
	tests := []struct {
		name    string
		doc     Document
		wantErr error
	}{
		{"base64", NewBase64Document("d", []byte("abc")), nil},
		{"unknown type", Document{AttachmentType: "DOCX", DocumentID: "d"}, ErrUnsupportedAttachment},
		{"missing id", Document{AttachmentType: AttachmentText}, ErrEmptyDocumentID},
		{"invalid json", Document{AttachmentType: AttachmentJSON, DocumentID: "d", Content: "{"}, ErrInvalidFormat},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.doc.Validate()
			if tc.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestProcessingErrorsJSON(t *testing.T) {
	assert.Equal(t, "[]", ProcessingErrors(nil).JSON())

	errs := ProcessingErrors{{Message: "not found", Task: "fetch", Exception: "HTTPError"}}
	assert.JSONEq(t, `[{"message":"not found","task":"fetch","exception":"HTTPError"}]`, errs.JSON())
	assert.Contains(t, errs.Error(), "fetch failed (HTTPError)")
}

func TestNewDocumentStatus(t *testing.T) {
	ok := NewDocumentStatus("j", "c", "d", nil)
	assert.Equal(t, ResultComplete, ok.Status)
	assert.Empty(t, ok.Error)

	failed := NewDocumentStatus("j", "c", "d", ProcessingErrors{{Message: "m", Task: "redact", Exception: "ValueError"}})
	assert.Equal(t, ResultError, failed.Status)
	assert.JSONEq(t, `[{"message":"m","task":"redact","exception":"ValueError"}]`, failed.Error)
}
