package pipeline

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/phrazzld/redaction-api/internal/casestore"
	"github.com/phrazzld/redaction-api/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestReplaceNames(t *testing.T) {
	nameMasks := map[string]string{
		"John":       "Accused 1",
		"John Smith": "Accused 1",
		"Smith":      "Accused 1",
		"Jane Roe":   "Witness 1",
	}

	out, annotations := replaceNames("JOHN SMITH told jane roe that john left.", nameMasks)

	assert.Equal(t, "Accused 1 told Witness 1 that Accused 1 left.", out)
	require.Len(t, annotations, 3)
	assert.Equal(t, Annotation{Start: 0, End: 10, Text: "JOHN SMITH", Mask: "Accused 1"}, annotations[0])
	assert.Equal(t, "jane roe", annotations[1].Text)
}

func TestReplaceNames_NoNames(t *testing.T) {
	out, annotations := replaceNames("nothing to see", nil)
	assert.Equal(t, "nothing to see", out)
	assert.Empty(t, annotations)
}

func TestPlaceholderRedactor(t *testing.T) {
	info := &casestore.MaskInfo{NameMasks: map[string]string{"John Smith": "Accused 1"}}
	r := NewPlaceholderRedactor()
	ctx := context.Background()

	t.Run("text", func(t *testing.T) {
		out, err := r.Redact(ctx, RedactInput{Content: []byte("John Smith was here"), Renderer: domain.RendererText, Masks: info})
		require.NoError(t, err)
		assert.Equal(t, "Accused 1 was here", string(out.Content))
	})

	t.Run("json", func(t *testing.T) {
		out, err := r.Redact(ctx, RedactInput{Content: []byte("John Smith was here"), Renderer: domain.RendererJSON, Masks: info})
		require.NoError(t, err)
		doc := gjson.ParseBytes(out.Content)
		assert.Equal(t, "John Smith was here", doc.Get("original").String())
		assert.Equal(t, "Accused 1 was here", doc.Get("redacted").String())
		assert.Equal(t, int64(10), doc.Get("annotations.0.end").Int())
	})

	t.Run("pdf is rejected", func(t *testing.T) {
		_, err := r.Redact(ctx, RedactInput{Content: []byte("%PDF"), Renderer: domain.RendererPDF, Masks: info})
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("binary is rejected", func(t *testing.T) {
		_, err := r.Redact(ctx, RedactInput{Content: []byte{0xff, 0xfe, 0x00}, Renderer: domain.RendererText, Masks: info})
		assert.ErrorIs(t, err, ErrInvalidInput)
	})
}

func TestHTTPRedactor(t *testing.T) {
	requests := make(chan httpRedactRequest, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var got httpRedactRequest
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		requests <- got
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"redacted":"Accused 1 was here","annotations":[{"start":0,"end":10}],"masks":{"s9":"Witness 4"}}`))
	}))
	defer srv.Close()

	r := NewHTTPRedactor(srv.Client(), srv.URL)
	info := &casestore.MaskInfo{
		Masks:     map[string]string{"s1": "Accused 1"},
		NameMasks: map[string]string{"John Smith": "Accused 1"},
	}
	out, err := r.Redact(context.Background(), RedactInput{
		DocumentID: "d1",
		Content:    []byte("John Smith was here"),
		Renderer:   domain.RendererJSON,
		Masks:      info,
	})
	require.NoError(t, err)

	got := <-requests
	assert.Equal(t, "d1", got.DocumentID)
	assert.Equal(t, domain.RendererJSON, got.Renderer)
	assert.Equal(t, "Accused 1", got.Masks["John Smith"])
	assert.Equal(t, map[string]string{"s9": "Witness 4"}, out.Masks)
	doc := gjson.ParseBytes(out.Content)
	assert.Equal(t, "Accused 1 was here", doc.Get("redacted").String())
	assert.Equal(t, int64(10), doc.Get("annotations.0.end").Int())
}

func TestHTTPRedactor_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewHTTPRedactor(srv.Client(), srv.URL).Redact(context.Background(), RedactInput{Renderer: domain.RendererText})
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.False(t, IsTerminal(err))
}

func TestRedactStage(t *testing.T) {
	f := newFixture(t, Config{})
	f.seedSubjects(t)
	ctx := context.Background()

	storageID, err := f.blobs.Save(ctx, []byte("John Smith (JOHNNY) met Jane Roe."))
	require.NoError(t, err)

	params := RedactParams{JurisdictionID: testJurisdiction, CaseID: testCase, DocumentID: "d1", Renderer: domain.RendererText}
	out, err := f.pipeline.redactStage(ctx, newJob(t, StageRedact, 1, 3, params, FetchResult{DocumentID: "d1", StorageID: storageID}))
	require.NoError(t, err)

	res := decode[RedactResult](t, out)
	require.Empty(t, res.Errors)
	redacted, err := f.blobs.Load(ctx, res.StorageID)
	require.NoError(t, err)
	assert.Equal(t, "Accused 1 (Accused 1) met Witness 1.", string(redacted))

	f.caseStore(t, func(cs *casestore.CaseStore) {
		masked, err := cs.GetAliases(ctx)
		require.NoError(t, err)
		assert.Equal(t, []domain.MaskedSubject{
			{SubjectID: "s1", Alias: "Accused 1"},
			{SubjectID: "s2", Alias: "Witness 1"},
		}, masked)
	})
}

func TestRedactStage_PassesEarlierErrorsThrough(t *testing.T) {
	f := newFixture(t, Config{})
	earlier := domain.ProcessingErrors{{Message: "404", Task: StageFetch, Exception: ClassHTTPError}}

	params := RedactParams{JurisdictionID: testJurisdiction, CaseID: testCase, DocumentID: "d1", Renderer: domain.RendererText}
	out, err := f.pipeline.redactStage(context.Background(), newJob(t, StageRedact, 1, 3, params, FetchResult{DocumentID: "d1", Errors: earlier}))
	require.NoError(t, err)

	res := decode[RedactResult](t, out)
	assert.Equal(t, earlier, res.Errors)
	assert.Empty(t, res.StorageID)
}
