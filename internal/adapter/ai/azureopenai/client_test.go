package azureopenai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/cv-screening-pipeline/internal/domain"
)

func fastRetry() domain.RetryPolicy {
	p := domain.DefaultRetryPolicy()
	p.InitialDelay = time.Millisecond
	p.MaxDelay = 5 * time.Millisecond
	return p
}

func TestCompleteSuccess(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("api-key"))
		assert.Contains(t, r.URL.Path, "/openai/deployments/gpt-4o/chat/completions")
		assert.Equal(t, "2024-02-01", r.URL.Query().Get("api-version"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "user", req.Messages[1].Role)
		require.NotNil(t, req.ResponseFormat)
		assert.Equal(t, "json_object", req.ResponseFormat.Type)

		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"  {\"cvScore\":{\"A\":1}}  "},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "secret", "2024-02-01", "gpt-4o", fastRetry())
	got, err := c.Complete(context.Background(), "sys", "cv text")
	require.NoError(t, err)
	assert.Equal(t, `{"cvScore":{"A":1}}`, got, "content is trimmed")
}

func TestCompleteEmptyContentIsError(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":""}}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "k", "v", "d", fastRetry())
	_, err := c.Complete(context.Background(), "s", "u")
	assert.ErrorIs(t, err, domain.ErrAPI)
	assert.Equal(t, int32(1), calls.Load(), "empty content is not retried")
}

func TestCompleteTransientFailureNotRetried(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "upstream overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(srv.URL, "k", "v", "d", fastRetry())
	_, err := c.Complete(context.Background(), "s", "u")
	assert.ErrorIs(t, err, domain.ErrTransientService)
	assert.Equal(t, int32(1), calls.Load(), "a timed-out completion may have been billed; never replay")
}

func TestCompleteRateLimitRetried(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "throttled", http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "k", "v", "d", fastRetry())
	got, err := c.Complete(context.Background(), "s", "u")
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCompleteAuthFailure(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(srv.URL, "k", "v", "d", fastRetry())
	_, err := c.Complete(context.Background(), "s", "u")
	assert.ErrorIs(t, err, domain.ErrAuthentication)
}

func TestEmbedSuccessOrdersByIndex(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/openai/deployments/text-embedding-3-small/embeddings")
		var req embeddingsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Input, 2)
		// Out-of-order response; the client must reorder by index.
		_, _ = w.Write([]byte(`{"data":[{"index":1,"embedding":[0.3,0.4]},{"index":0,"embedding":[0.1,0.2]}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "k", "v", "d", fastRetry(), WithEmbeddings("text-embedding-3-small", "v"))
	got, err := c.Embed(context.Background(), []string{"chunk one", "chunk two"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []float32{0.1, 0.2}, got[0])
	assert.Equal(t, []float32{0.3, 0.4}, got[1])
}

func TestEmbedCountMismatch(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[0.1]}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "k", "v", "d", fastRetry(), WithEmbeddings("e", "v"))
	_, err := c.Embed(context.Background(), []string{"a", "b"})
	assert.ErrorIs(t, err, domain.ErrAPI)
}

func TestEmbedTransientRetried(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 2 {
			http.Error(w, "busy", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[0.5]}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "k", "v", "d", fastRetry(), WithEmbeddings("e", "v"))
	got, err := c.Embed(context.Background(), []string{"a"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int32(2), calls.Load(), "embeddings are idempotent and retried on transient failures")
}

func TestEmbedWithoutDeployment(t *testing.T) {
	t.Parallel()
	c := New("http://unused", "k", "v", "d", fastRetry())
	_, err := c.Embed(context.Background(), []string{"a"})
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestEmbedNoChunks(t *testing.T) {
	t.Parallel()
	c := New("http://unused", "k", "v", "d", fastRetry(), WithEmbeddings("e", "v"))
	got, err := c.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}
