package pipeline

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/phrazzld/redaction-api/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetcher_InlineDocuments(t *testing.T) {
	f := NewFetcher(nil, FetcherConfig{})
	ctx := context.Background()

	tests := []struct {
		name      string
		doc       domain.Document
		want      string
		wantClass string
	}{
		{"text", domain.NewTextDocument("d1", "hello"), "hello", ""},
		{"base64", domain.NewBase64Document("d1", []byte("hello")), "hello", ""},
		{"json", domain.NewJSONDocument("d1", []byte(`{"a":1}`)), `{"a":1}`, ""},
		{"invalid base64", domain.Document{AttachmentType: domain.AttachmentBase64, DocumentID: "d1", Content: "%%%"}, "", ClassValueError},
		{"unsupported", domain.Document{AttachmentType: "ZIP", DocumentID: "d1"}, "", ClassValueError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := f.Fetch(ctx, tt.doc)
			if tt.wantClass != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantClass, ErrorClass(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(data))
		})
	}
}

func TestFetcher_UnsupportedTypeMessage(t *testing.T) {
	_, err := NewFetcher(nil, FetcherConfig{}).Fetch(context.Background(), domain.Document{AttachmentType: "ZIP", DocumentID: "d1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unsupported attachment type")
}

func TestFetcher_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("linked content"))
	}))
	defer srv.Close()

	f := NewFetcher(srv.Client(), FetcherConfig{Timeout: time.Second, MaxTries: 3, BaseDelay: time.Millisecond})
	data, err := f.Fetch(context.Background(), domain.NewLinkDocument("d1", srv.URL))

	require.NoError(t, err)
	assert.Equal(t, "linked content", string(data))
	assert.Equal(t, int32(3), hits.Load())
}

func TestFetchStage_NotFoundIsCapturedOnFirstAttempt(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := newFixture(t, Config{})
	params := FetchParams{Document: domain.NewLinkDocument("d1", srv.URL+"/missing.pdf")}
	out, err := f.pipeline.fetchStage(context.Background(), newJob(t, StageFetch, 1, 3, params, nil))
	require.NoError(t, err)

	res := decode[FetchResult](t, out)
	assert.Equal(t, "d1", res.DocumentID)
	assert.Empty(t, res.StorageID)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, StageFetch, res.Errors[0].Task)
	assert.Equal(t, ClassHTTPError, res.Errors[0].Exception)
	assert.Contains(t, res.Errors[0].Message, "404")
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetchStage_ServerErrorRetriesUntilLastAttempt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f := newFixture(t, Config{})
	params := FetchParams{Document: domain.NewLinkDocument("d1", srv.URL)}

	_, err := f.pipeline.fetchStage(context.Background(), newJob(t, StageFetch, 1, 3, params, nil))
	require.Error(t, err, "attempts remain, so the queue should retry")

	out, err := f.pipeline.fetchStage(context.Background(), newJob(t, StageFetch, 3, 3, params, nil))
	require.NoError(t, err)
	res := decode[FetchResult](t, out)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, ClassHTTPError, res.Errors[0].Exception)
}

func TestFetchStage_StoresContent(t *testing.T) {
	f := newFixture(t, Config{})
	content := []byte("%PDF-1.7 binary")
	params := FetchParams{Document: domain.Document{
		AttachmentType: domain.AttachmentBase64,
		DocumentID:     "d1",
		Content:        base64.StdEncoding.EncodeToString(content),
	}}

	out, err := f.pipeline.fetchStage(context.Background(), newJob(t, StageFetch, 1, 3, params, nil))
	require.NoError(t, err)

	res := decode[FetchResult](t, out)
	require.Empty(t, res.Errors)
	stored, err := f.blobs.Load(context.Background(), res.StorageID)
	require.NoError(t, err)
	assert.Equal(t, content, stored)
}
