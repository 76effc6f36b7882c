package pipeline

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/phrazzld/redaction-api/internal/casestore"
	"github.com/phrazzld/redaction-api/internal/domain"
	"github.com/tidwall/gjson"
)

// RedactInput is one document plus what the case knows about its subjects.
type RedactInput struct {
	DocumentID string
	Content    []byte
	Renderer   domain.Renderer
	Masks      *casestore.MaskInfo
}

// RedactOutput is the rendered document. Masks holds any subject masks the
// engine assigned on its own; they are saved alongside the case's masks.
type RedactOutput struct {
	Content []byte
	Masks   map[string]string
}

// Redactor replaces subject names in a document with their masks.
type Redactor interface {
	Redact(ctx context.Context, in RedactInput) (*RedactOutput, error)
}

// Annotation marks one replaced span of the original text.
type Annotation struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Text  string `json:"text"`
	Mask  string `json:"mask"`
}

type renderedJSON struct {
	Original    string          `json:"original"`
	Redacted    string          `json:"redacted"`
	Annotations json.RawMessage `json:"annotations"`
}

func renderJSON(original, redacted string, annotations json.RawMessage) ([]byte, error) {
	if len(annotations) == 0 {
		annotations = json.RawMessage("[]")
	}
	return json.Marshal(renderedJSON{Original: original, Redacted: redacted, Annotations: annotations})
}

// PlaceholderRedactor swaps every known name and alias of the case's
// subjects for the subject's mask. Matching ignores case and prefers the
// longest name where names overlap. It only renders text formats.
type PlaceholderRedactor struct{}

func NewPlaceholderRedactor() *PlaceholderRedactor {
	return &PlaceholderRedactor{}
}

func (r *PlaceholderRedactor) Redact(_ context.Context, in RedactInput) (*RedactOutput, error) {
	if in.Renderer == domain.RendererPDF {
		return nil, invalidInput("renderer %s is not supported by the placeholder redactor", in.Renderer)
	}
	if !utf8.Valid(in.Content) {
		return nil, invalidInput("document %s is not UTF-8 text", in.DocumentID)
	}

	original := string(in.Content)
	var nameMasks map[string]string
	if in.Masks != nil {
		nameMasks = in.Masks.NameMasks
	}
	redacted, annotations := replaceNames(original, nameMasks)

	if in.Renderer != domain.RendererJSON {
		return &RedactOutput{Content: []byte(redacted)}, nil
	}
	raw, err := json.Marshal(annotations)
	if err != nil {
		return nil, fmt.Errorf("failed to encode annotations: %w", err)
	}
	out, err := renderJSON(original, redacted, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to render json document: %w", err)
	}
	return &RedactOutput{Content: out}, nil
}

// replaceNames returns text with every name replaced by its mask and the
// spans that were replaced, in order of appearance.
func replaceNames(text string, nameMasks map[string]string) (string, []Annotation) {
	annotations := []Annotation{}
	if len(nameMasks) == 0 {
		return text, annotations
	}

	names := make([]string, 0, len(nameMasks))
	for n := range nameMasks {
		if strings.TrimSpace(n) != "" {
			names = append(names, n)
		}
	}
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}
		return names[i] < names[j]
	})

	lower := make(map[string]string, len(names))
	quoted := make([]string, 0, len(names))
	for _, n := range names {
		k := strings.ToLower(n)
		if _, dup := lower[k]; dup {
			continue
		}
		lower[k] = nameMasks[n]
		quoted = append(quoted, regexp.QuoteMeta(n))
	}
	if len(quoted) == 0 {
		return text, annotations
	}
	// RE2 alternation is leftmost-first, so listing longer names first makes
	// them win over their own prefixes.
	re := regexp.MustCompile(`(?i)` + strings.Join(quoted, "|"))

	var b strings.Builder
	last := 0
	for _, loc := range re.FindAllStringIndex(text, -1) {
		match := text[loc[0]:loc[1]]
		m := lower[strings.ToLower(match)]
		b.WriteString(text[last:loc[0]])
		b.WriteString(m)
		last = loc[1]
		annotations = append(annotations, Annotation{Start: loc[0], End: loc[1], Text: match, Mask: m})
	}
	b.WriteString(text[last:])
	return b.String(), annotations
}

// HTTPRedactor delegates to an external redaction service.
type HTTPRedactor struct {
	client *http.Client
	url    string
}

func NewHTTPRedactor(client *http.Client, url string) *HTTPRedactor {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPRedactor{client: client, url: url}
}

type httpRedactRequest struct {
	DocumentID string            `json:"documentId"`
	Document   string            `json:"document"`
	Renderer   domain.Renderer   `json:"renderer"`
	Masks      map[string]string `json:"masks"`
	Subjects   map[string]string `json:"subjects"`
}

// Redact sends the base64 document with the case's name to mask table. The
// response carries "redacted" (base64 for PDF, text otherwise), optional
// "annotations" and optional "masks" for subjects the service assigned.
func (r *HTTPRedactor) Redact(ctx context.Context, in RedactInput) (*RedactOutput, error) {
	body := httpRedactRequest{
		DocumentID: in.DocumentID,
		Document:   base64.StdEncoding.EncodeToString(in.Content),
		Renderer:   in.Renderer,
		Masks:      map[string]string{},
		Subjects:   map[string]string{},
	}
	if in.Masks != nil {
		body.Masks = in.Masks.NameMasks
		body.Subjects = in.Masks.Masks
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode redaction request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build redaction request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, URL: r.url}
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read redaction response: %w", err)
	}
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: redaction service returned invalid JSON", domain.ErrInvalidFormat)
	}

	result := gjson.ParseBytes(raw)
	redacted := result.Get("redacted")
	if !redacted.Exists() {
		return nil, fmt.Errorf("%w: redaction service response has no redacted content", domain.ErrInvalidFormat)
	}

	out := &RedactOutput{Masks: map[string]string{}}
	result.Get("masks").ForEach(func(k, v gjson.Result) bool {
		out.Masks[k.String()] = v.String()
		return true
	})

	switch in.Renderer {
	case domain.RendererPDF:
		out.Content, err = base64.StdEncoding.DecodeString(redacted.String())
		if err != nil {
			return nil, fmt.Errorf("%w: redacted PDF is not valid base64", domain.ErrInvalidFormat)
		}
	case domain.RendererJSON:
		var annotations json.RawMessage
		if a := result.Get("annotations"); a.IsArray() {
			annotations = json.RawMessage(a.Raw)
		}
		out.Content, err = renderJSON(string(in.Content), redacted.String(), annotations)
		if err != nil {
			return nil, fmt.Errorf("failed to render json document: %w", err)
		}
	default:
		out.Content = []byte(redacted.String())
	}
	return out, nil
}
