package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/cv-screening-pipeline/internal/config"
	"github.com/fairyhunter13/cv-screening-pipeline/internal/domain"
)

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	listErr error
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}}
}

func (s *memStore) Download(_ context.Context, _, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, key)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (s *memStore) Upload(_ context.Context, _, key string, r io.Reader, _ string) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = b
	return nil
}

func (s *memStore) Delete(_ context.Context, _, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *memStore) Move(_ context.Context, _, srcKey, dstKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[dstKey] = s.objects[srcKey]
	delete(s.objects, srcKey)
	return nil
}

func (s *memStore) Exists(_ context.Context, _, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok, nil
}

func (s *memStore) List(_ context.Context, _, prefix string) ([]domain.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var infos []domain.ObjectInfo
	for k, b := range s.objects {
		if strings.HasPrefix(k, prefix) {
			infos = append(infos, domain.ObjectInfo{Key: k, Size: int64(len(b))})
		}
	}
	return infos, nil
}

func (s *memStore) get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.objects[key]
	return b, ok
}

func testConfig() config.Config {
	return config.Config{
		CandidatesContainer: "candidates",
		MaxUploadMB:         1,
		RateLimitPerMin:     100,
		CORSAllowOrigins:    "*",
	}
}

func newTestRouter(store *memStore) http.Handler {
	cfg := testConfig()
	return BuildRouter(cfg, NewServer(cfg, store))
}

func multipartBody(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestUploadMultipart(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	router := newTestRouter(store)

	body, contentType := multipartBody(t, "file", "12_345.txt", []byte("Curriculum of Ada Lovelace, engineer."))
	req := httptest.NewRequest(http.MethodPost, "/v1/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "12_345.txt", resp["key"])
	assert.NotEmpty(t, resp["upload_id"])
	assert.Equal(t, "12", resp["rank_id"])
	assert.Equal(t, "345", resp["candidate_id"])

	stored, ok := store.get("12_345.txt")
	require.True(t, ok)
	assert.Equal(t, "Curriculum of Ada Lovelace, engineer.", string(stored))
}

func TestUploadRawBody(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	router := newTestRouter(store)

	req := httptest.NewRequest(http.MethodPost, "/v1/upload", strings.NewReader("plain text resume"))
	req.Header.Set("X-Filename", "7_9.txt")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	_, ok := store.get("7_9.txt")
	assert.True(t, ok)
}

func TestUploadRawBodyWithoutFilename(t *testing.T) {
	t.Parallel()
	router := newTestRouter(newMemStore())

	req := httptest.NewRequest(http.MethodPost, "/v1/upload", strings.NewReader("text"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadUnidentifiableFilename(t *testing.T) {
	t.Parallel()
	router := newTestRouter(newMemStore())

	body, contentType := multipartBody(t, "file", "resume.txt", []byte("text content"))
	req := httptest.NewRequest(http.MethodPost, "/v1/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "UNIDENTIFIABLE_NAME")
}

func TestUploadMissingFileField(t *testing.T) {
	t.Parallel()
	router := newTestRouter(newMemStore())

	body, contentType := multipartBody(t, "document", "12_345.txt", []byte("text"))
	req := httptest.NewRequest(http.MethodPost, "/v1/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadEmptyFile(t *testing.T) {
	t.Parallel()
	router := newTestRouter(newMemStore())

	body, contentType := multipartBody(t, "file", "12_345.txt", nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadUnsupportedExtension(t *testing.T) {
	t.Parallel()
	router := newTestRouter(newMemStore())

	body, contentType := multipartBody(t, "file", "12_345.exe", []byte("text content"))
	req := httptest.NewRequest(http.MethodPost, "/v1/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestUploadUnsupportedContent(t *testing.T) {
	t.Parallel()
	router := newTestRouter(newMemStore())

	// ZIP magic bytes with a harmless extension: the content sniff wins.
	body, contentType := multipartBody(t, "file", "12_345.txt", []byte("PK\x03\x04\x14\x00\x00\x00\x08\x00"))
	req := httptest.NewRequest(http.MethodPost, "/v1/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestUploadTooLarge(t *testing.T) {
	t.Parallel()
	router := newTestRouter(newMemStore())

	big := bytes.Repeat([]byte("a"), 2<<20) // 2 MiB against a 1 MiB cap
	body, contentType := multipartBody(t, "file", "12_345.txt", big)
	req := httptest.NewRequest(http.MethodPost, "/v1/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	router := newTestRouter(newMemStore())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyz(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	router := newTestRouter(store)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	store.listErr = fmt.Errorf("%w: storage unreachable", domain.ErrTransientService)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestParseOrigins(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"*"}, ParseOrigins(""))
	assert.Equal(t, []string{"*"}, ParseOrigins("*"))
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, ParseOrigins(" https://a.example , https://b.example "))
}
