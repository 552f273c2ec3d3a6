package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/cv-screening-pipeline/internal/domain"
)

func docs() []domain.IndexDocument {
	return []domain.IndexDocument{
		{ID: "12-345-0", Content: "chunk one", Vector: []float32{0.1}, CandidateName: "Ada", RankID: "12", CandidateID: "345", AverageScore: 68.33},
		{ID: "12-345-1", Content: "chunk two", Vector: []float32{0.2}, CandidateName: "Ada", RankID: "12", CandidateID: "345", AverageScore: 68.33},
	}
}

func TestUpsertAllAccepted(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/indexes/cv-chunks/docs/index", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("api-key"))

		var batch struct {
			Value []map[string]any `json:"value"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&batch))
		require.Len(t, batch.Value, 2)
		assert.Equal(t, "mergeOrUpload", batch.Value[0]["@search.action"])
		assert.Equal(t, "12-345-0", batch.Value[0]["id"])

		_, _ = w.Write([]byte(`{"value":[{"key":"12-345-0","status":true,"statusCode":201},{"key":"12-345-1","status":true,"statusCode":201}]}`))
	}))
	defer srv.Close()

	got, err := New(srv.URL, "key", "cv-chunks").Upsert(context.Background(), docs())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].Succeeded)
	assert.True(t, got[1].Succeeded)
}

func TestUpsertMixedBatch(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusMultiStatus)
		_, _ = w.Write([]byte(`{"value":[{"key":"12-345-0","status":true,"statusCode":201},{"key":"12-345-1","status":false,"statusCode":422,"errorMessage":"field too large"}]}`))
	}))
	defer srv.Close()

	got, err := New(srv.URL, "key", "cv-chunks").Upsert(context.Background(), docs())
	require.NoError(t, err, "a mixed batch is a result, not an error")
	require.Len(t, got, 2)
	assert.True(t, got[0].Succeeded)
	assert.False(t, got[1].Succeeded)
	assert.Equal(t, 422, got[1].StatusCode)
	assert.Equal(t, "field too large", got[1].Message)
}

func TestUpsertAuthFailure(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := New(srv.URL, "key", "cv-chunks").Upsert(context.Background(), docs())
	assert.ErrorIs(t, err, domain.ErrAuthentication)
}

func TestUpsertThrottleIsTransient(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "throttled", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := New(srv.URL, "key", "cv-chunks").Upsert(context.Background(), docs())
	assert.ErrorIs(t, err, domain.ErrTransientService)
}

func TestUpsertEmptyBatch(t *testing.T) {
	t.Parallel()
	got, err := New("http://unused", "key", "idx").Upsert(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}
