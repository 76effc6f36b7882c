package pipeline

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/phrazzld/redaction-api/internal/domain"
	"github.com/phrazzld/redaction-api/internal/queue"
)

// maxDocumentSize caps how much of a linked document is read.
const maxDocumentSize = 256 << 20

// FetcherConfig bounds link downloads.
type FetcherConfig struct {
	// Timeout applies to each GET.
	Timeout time.Duration
	// MaxTries counts GETs per fetch, including the first.
	MaxTries uint
	// BaseDelay is the first backoff interval between GETs.
	BaseDelay time.Duration
}

// Fetcher turns a document descriptor into its raw bytes.
type Fetcher struct {
	client *http.Client
	cfg    FetcherConfig
}

func NewFetcher(client *http.Client, cfg FetcherConfig) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if cfg.MaxTries == 0 {
		cfg.MaxTries = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	return &Fetcher{client: client, cfg: cfg}
}

// Fetch reads the document's content. LINK documents are downloaded, inline
// documents are decoded.
func (f *Fetcher) Fetch(ctx context.Context, doc domain.Document) ([]byte, error) {
	switch doc.AttachmentType {
	case domain.AttachmentLink:
		return f.download(ctx, doc.URL)
	case domain.AttachmentText, domain.AttachmentJSON:
		return []byte(doc.Content), nil
	case domain.AttachmentBase64:
		data, err := base64.StdEncoding.DecodeString(doc.Content)
		if err != nil {
			return nil, invalidInput("document %s is not valid base64: %v", doc.DocumentID, err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("%w: Unsupported attachment type: %s", domain.ErrUnsupportedAttachment, doc.AttachmentType)
	}
}

func (f *Fetcher) download(ctx context.Context, url string) ([]byte, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.cfg.BaseDelay
	b.MaxInterval = 8 * f.cfg.BaseDelay

	op := func() ([]byte, error) {
		data, err := f.get(ctx, url)
		if err != nil && IsTerminal(err) {
			return nil, backoff.Permanent(err)
		}
		return data, err
	}
	return backoff.Retry(ctx, op, backoff.WithBackOff(b), backoff.WithMaxTries(f.cfg.MaxTries))
}

func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	if f.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.Timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, invalidInput("invalid document url: %v", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, URL: url}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read document body: %w", err)
	}
	return data, nil
}

func (p *Pipeline) fetchStage(ctx context.Context, job queue.Job) (json.RawMessage, error) {
	var params FetchParams
	if err := json.Unmarshal(job.Params, &params); err != nil {
		return nil, fmt.Errorf("invalid fetch params: %w", err)
	}

	res := FetchResult{DocumentID: params.Document.DocumentID}
	storageID, pe, err := Capture(StageFetch, job, func() (string, error) {
		data, err := p.fetcher.Fetch(ctx, params.Document)
		if err != nil {
			return "", err
		}
		return p.blobs.Save(ctx, data)
	})
	if err != nil {
		return nil, err
	}
	if pe != nil {
		p.logger.WarnContext(ctx, "fetch failed",
			"task_id", job.TaskID, "document_id", res.DocumentID, "error", pe.Message)
		res.Errors = append(res.Errors, *pe)
	}
	res.StorageID = storageID
	return json.Marshal(res)
}
