package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"

	"github.com/google/uuid"
	"github.com/phrazzld/redaction-api/internal/casestore"
	"github.com/phrazzld/redaction-api/internal/domain"
	"github.com/phrazzld/redaction-api/internal/kv"
	"github.com/phrazzld/redaction-api/internal/queue"
	"github.com/phrazzld/redaction-api/internal/store"
)

// RedactDocument runs the engine over content with the case's masks and
// saves any masks assigned along the way.
func (p *Pipeline) RedactDocument(ctx context.Context, jurisdictionID, caseID, documentID string, content []byte, renderer domain.Renderer) ([]byte, error) {
	var out *RedactOutput
	err := p.cases.Tx(ctx, func(sess kv.Session) error {
		cs := casestore.New(sess, jurisdictionID, caseID)
		if err := cs.Init(ctx, p.cfg.CaseTTL); err != nil {
			return err
		}
		info, err := cs.GetMaskInfo(ctx)
		if err != nil {
			return err
		}

		out, err = p.redactor.Redact(ctx, RedactInput{
			DocumentID: documentID,
			Content:    content,
			Renderer:   renderer,
			Masks:      info,
		})
		if err != nil {
			return err
		}

		assigned := make(map[string]string, len(info.Assigned))
		maps.Copy(assigned, info.Assigned)
		for subject, m := range out.Masks {
			if _, known := info.Masks[subject]; !known {
				assigned[subject] = m
			}
		}
		if len(assigned) == 0 {
			return nil
		}
		return cs.SaveMasks(ctx, assigned)
	})
	if err != nil {
		return nil, err
	}
	return out.Content, nil
}

// WebhookBody builds the result delivered for one document.
func (p *Pipeline) WebhookBody(ctx context.Context, jurisdictionID, caseID, documentID string, doc *domain.Document, errs domain.ProcessingErrors) (*domain.RedactionResult, error) {
	var masked []domain.MaskedSubject
	err := p.cases.Tx(ctx, func(sess kv.Session) error {
		var err error
		masked, err = casestore.New(sess, jurisdictionID, caseID).GetAliases(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read masked subjects: %w", err)
	}

	res := &domain.RedactionResult{
		JurisdictionID:  jurisdictionID,
		CaseID:          caseID,
		InputDocumentID: documentID,
		MaskedSubjects:  masked,
		Status:          domain.ResultComplete,
	}
	if len(errs) > 0 || doc == nil {
		res.Status = domain.ResultError
		res.Error = errs.JSON()
		return res, nil
	}
	res.RedactedDocument = doc
	return res, nil
}

func decodeJob(job queue.Job, params, input any) error {
	if err := json.Unmarshal(job.Params, params); err != nil {
		return fmt.Errorf("invalid %s params: %w", job.Stage, err)
	}
	if input == nil {
		return nil
	}
	if err := json.Unmarshal(job.Input, input); err != nil {
		return fmt.Errorf("invalid %s input: %w", job.Stage, err)
	}
	return nil
}

func (p *Pipeline) redactStage(ctx context.Context, job queue.Job) (json.RawMessage, error) {
	var params RedactParams
	var in FetchResult
	if err := decodeJob(job, &params, &in); err != nil {
		return nil, err
	}

	res := RedactResult{
		JurisdictionID: params.JurisdictionID,
		CaseID:         params.CaseID,
		DocumentID:     params.DocumentID,
		Renderer:       params.Renderer,
		Errors:         in.Errors,
	}
	if len(in.Errors) > 0 {
		return json.Marshal(res)
	}

	storageID, pe, err := Capture(StageRedact, job, func() (string, error) {
		content, err := p.blobs.Load(ctx, in.StorageID)
		if err != nil {
			return "", err
		}
		out, err := p.RedactDocument(ctx, params.JurisdictionID, params.CaseID, params.DocumentID, content, params.Renderer)
		if err != nil {
			return "", err
		}
		return p.blobs.Save(ctx, out)
	})
	if err != nil {
		return nil, err
	}
	if pe != nil {
		p.logger.WarnContext(ctx, "redact failed",
			"task_id", job.TaskID, "document_id", params.DocumentID, "error", pe.Message)
		res.Errors = append(res.Errors, *pe)
	}
	res.StorageID = storageID
	return json.Marshal(res)
}

func (p *Pipeline) callbackStage(ctx context.Context, job queue.Job) (json.RawMessage, error) {
	var params CallbackParams
	var in FormatResult
	if err := decodeJob(job, &params, &in); err != nil {
		return nil, err
	}

	res := CallbackResult{Formatted: in}
	if params.CallbackURL == "" {
		res.Response = NothingToDo
		return json.Marshal(res)
	}

	type delivery struct {
		code     int
		response string
	}
	d, pe, err := Capture(StageCallback, job, func() (delivery, error) {
		body, err := p.WebhookBody(ctx, in.JurisdictionID, in.CaseID, in.DocumentID, in.Document, in.Errors)
		if err != nil {
			return delivery{}, err
		}
		code, response, err := p.notifier.Post(ctx, params.CallbackURL, body)
		return delivery{code: code, response: response}, err
	})
	if err != nil {
		return nil, err
	}
	if pe != nil {
		p.logger.WarnContext(ctx, "callback failed",
			"task_id", job.TaskID, "document_id", in.DocumentID, "error", pe.Message)
		res.Response = pe.Message
		return json.Marshal(res)
	}
	res.StatusCode = d.code
	res.Response = d.response
	if !domain.IsSuccessCode(d.code) {
		p.logger.WarnContext(ctx, "callback not delivered",
			"task_id", job.TaskID, "document_id", in.DocumentID, "status_code", d.code)
	}
	return json.Marshal(res)
}

// FinishTask records the outcome of a chain-mode task. It reports false
// without writing anything when the task has already been finished or was
// handed off to the processors, so a repeated Finalize does not log the
// document twice.
func (p *Pipeline) FinishTask(ctx context.Context, taskID uuid.UUID, jurisdictionID, caseID, documentID string, errs domain.ProcessingErrors) (bool, error) {
	task, err := p.tasks.GetByID(ctx, taskID)
	if err != nil {
		return false, err
	}
	if task.Mode != domain.TaskModeChain || task.IsTerminal() {
		return false, nil
	}

	if p.cfg.Experiments {
		status := domain.NewDocumentStatus(jurisdictionID, caseID, documentID, errs)
		if err := p.statuses.Save(ctx, status); err != nil {
			return false, fmt.Errorf("failed to save document status: %w", err)
		}
	}

	next, lastError := domain.TaskStatusDone, ""
	if len(errs) > 0 {
		next, lastError = domain.TaskStatusError, errs.Error()
	}
	if err := p.tasks.UpdateStatus(ctx, taskID, next, nil, lastError); err != nil {
		return false, fmt.Errorf("failed to finish task %s: %w", taskID, err)
	}
	return true, nil
}

func (p *Pipeline) finalizeStage(ctx context.Context, job queue.Job) (json.RawMessage, error) {
	var params FinalizeParams
	var in CallbackResult
	if err := decodeJob(job, &params, &in); err != nil {
		return nil, err
	}
	taskID, err := uuid.Parse(job.TaskID)
	if err != nil {
		return nil, fmt.Errorf("invalid task id %q: %w", job.TaskID, err)
	}

	errs := in.Formatted.Errors
	res := FinalizeResult{Document: in.Formatted.Document, Errors: errs}

	next, pe, err := Capture(StageFinalize, job, func() (string, error) {
		_, err := p.FinishTask(ctx, taskID, params.JurisdictionID, params.CaseID, in.Formatted.DocumentID, errs)
		if errors.Is(err, store.ErrTaskNotFound) {
			return "", invalidInput("task %s does not exist", taskID)
		}
		if err != nil {
			return "", err
		}
		// Also on a repeated Finalize: an earlier attempt may have finished
		// the task and then failed to start the next chain.
		return p.advancer.AdvanceCase(ctx, params.JurisdictionID, params.CaseID)
	})
	if err != nil {
		return nil, err
	}
	if pe != nil {
		p.logger.ErrorContext(ctx, "finalize failed",
			"task_id", job.TaskID, "document_id", in.Formatted.DocumentID, "error", pe.Message)
		res.Errors = append(res.Errors, *pe)
	}
	res.NextChainID = next
	if next != "" {
		p.logger.InfoContext(ctx, "advanced case",
			"jurisdiction_id", params.JurisdictionID, "case_id", params.CaseID, "chain_id", next)
	}
	return json.Marshal(res)
}
