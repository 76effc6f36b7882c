package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/phrazzld/redaction-api/internal/casestore"
	"github.com/phrazzld/redaction-api/internal/domain"
	"github.com/phrazzld/redaction-api/internal/kv"
	"github.com/phrazzld/redaction-api/internal/queue"
	"github.com/tidwall/gjson"
)

// ContentType is the MIME type of a renderer's output.
func ContentType(r domain.Renderer) string {
	switch r {
	case domain.RendererPDF:
		return "application/pdf"
	case domain.RendererHTML:
		return "text/html; charset=utf-8"
	case domain.RendererJSON:
		return "application/json"
	default:
		return "text/plain; charset=utf-8"
	}
}

// FormatDocument builds the output document. With a target the URL is
// validated before load runs, the content is uploaded and a LINK document
// pointing at the target is returned. Without one the content is returned
// inline: as a JSON document for the JSON renderer, as BASE64 otherwise.
func (p *Pipeline) FormatDocument(ctx context.Context, documentID string, renderer domain.Renderer, target string, load func(context.Context) ([]byte, error)) (*domain.Document, error) {
	if target != "" {
		if err := ValidateBlobURL(target); err != nil {
			return nil, err
		}
	}

	content, err := load(ctx)
	if err != nil {
		return nil, err
	}
	if len(content) == 0 {
		return nil, invalidInput("Missing redacted content")
	}

	if target != "" {
		if p.uploader == nil {
			return nil, invalidInput("blob uploads are not configured")
		}
		if err := p.uploader.Upload(ctx, target, content, ContentType(renderer)); err != nil {
			return nil, err
		}
		doc := domain.NewLinkDocument(documentID, target)
		return &doc, nil
	}

	if renderer == domain.RendererJSON {
		raw, err := normalizeJSON(content)
		if err != nil {
			return nil, err
		}
		doc := domain.NewJSONDocument(documentID, raw)
		return &doc, nil
	}
	doc := domain.NewBase64Document(documentID, content)
	return &doc, nil
}

// normalizeJSON re-renders engine output as {original, redacted,
// annotations}, defaulting missing annotations to an empty list.
func normalizeJSON(content []byte) ([]byte, error) {
	if !gjson.ValidBytes(content) {
		return nil, invalidInput("redacted content is not valid JSON")
	}
	result := gjson.ParseBytes(content)
	redacted := result.Get("redacted")
	if !redacted.Exists() {
		return nil, invalidInput("Missing redacted content")
	}
	var annotations json.RawMessage
	if a := result.Get("annotations"); a.IsArray() {
		annotations = json.RawMessage(a.Raw)
	}
	return renderJSON(result.Get("original").String(), redacted.String(), annotations)
}

// SaveResult stores the formatted document under the case so status
// queries can return it.
func (p *Pipeline) SaveResult(ctx context.Context, jurisdictionID, caseID string, doc *domain.Document) error {
	return p.cases.Tx(ctx, func(sess kv.Session) error {
		cs := casestore.New(sess, jurisdictionID, caseID)
		if err := cs.Init(ctx, p.cfg.CaseTTL); err != nil {
			return err
		}
		return cs.SaveResult(ctx, doc.DocumentID, *doc)
	})
}

func (p *Pipeline) formatStage(ctx context.Context, job queue.Job) (json.RawMessage, error) {
	var params FormatParams
	if err := json.Unmarshal(job.Params, &params); err != nil {
		return nil, fmt.Errorf("invalid format params: %w", err)
	}
	var in RedactResult
	if err := json.Unmarshal(job.Input, &in); err != nil {
		return nil, fmt.Errorf("invalid format input: %w", err)
	}

	res := FormatResult{
		JurisdictionID: in.JurisdictionID,
		CaseID:         in.CaseID,
		DocumentID:     in.DocumentID,
		Errors:         in.Errors,
	}
	if len(in.Errors) > 0 {
		return json.Marshal(res)
	}

	doc, pe, err := Capture(StageFormat, job, func() (*domain.Document, error) {
		doc, err := p.FormatDocument(ctx, in.DocumentID, in.Renderer, params.TargetBlobURL, func(ctx context.Context) ([]byte, error) {
			return p.blobs.Load(ctx, in.StorageID)
		})
		if err != nil {
			return nil, err
		}
		if err := p.SaveResult(ctx, in.JurisdictionID, in.CaseID, doc); err != nil {
			return nil, fmt.Errorf("failed to save result: %w", err)
		}
		return doc, nil
	})
	if err != nil {
		return nil, err
	}
	if pe != nil {
		p.logger.WarnContext(ctx, "format failed",
			"task_id", job.TaskID, "document_id", in.DocumentID, "error", pe.Message)
		res.Errors = append(res.Errors, *pe)
	}
	res.Document = doc
	return json.Marshal(res)
}
