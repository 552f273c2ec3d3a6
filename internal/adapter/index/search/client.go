// Package search implements the chunk index on the Azure AI Search REST
// surface using mergeOrUpload document batches.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fairyhunter13/cv-screening-pipeline/internal/domain"
	"github.com/fairyhunter13/cv-screening-pipeline/internal/observability"
)

const defaultAPIVersion = "2023-11-01"

// Client implements domain.SearchIndex.
type Client struct {
	endpoint   string
	apiKey     string
	indexName  string
	apiVersion string
	httpClient *http.Client
}

// New constructs a search client for one index.
func New(endpoint, apiKey, indexName string) *Client {
	return &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		apiKey:     apiKey,
		indexName:  indexName,
		apiVersion: defaultAPIVersion,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type indexAction struct {
	Action string `json:"@search.action"`
	domain.IndexDocument
}

type indexBatch struct {
	Value []indexAction `json:"value"`
}

type batchResponse struct {
	Value []struct {
		Key        string `json:"key"`
		Status     bool   `json:"status"`
		Message    string `json:"errorMessage"`
		StatusCode int    `json:"statusCode"`
	} `json:"value"`
}

// Upsert sends the documents as one mergeOrUpload batch and reports the
// per-document results. The caller decides how many acceptances are enough;
// this client only fails the batch as a whole on transport or auth errors.
func (c *Client) Upsert(ctx context.Context, docs []domain.IndexDocument) ([]domain.IndexResult, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	start := time.Now()
	defer observability.ObserveCollaborator("search", "upsert", start)

	actions := make([]indexAction, len(docs))
	for i, d := range docs {
		actions[i] = indexAction{Action: "mergeOrUpload", IndexDocument: d}
	}
	b, err := json.Marshal(indexBatch{Value: actions})
	if err != nil {
		return nil, fmt.Errorf("op=search.Upsert: marshal batch: %w", err)
	}

	u := fmt.Sprintf("%s/indexes/%s/docs/index?api-version=%s", c.endpoint, c.indexName, c.apiVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("op=search.Upsert: %w: %v", domain.ErrTransientService, err)
	}
	defer func() { _ = resp.Body.Close() }()

	// 200 means every document was accepted; 207 means a mixed batch. Both
	// carry per-document results in the body.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusMultiStatus {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		detail := strings.TrimSpace(string(snippet))
		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return nil, fmt.Errorf("op=search.Upsert: %w: status %d: %s", domain.ErrAuthentication, resp.StatusCode, detail)
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return nil, fmt.Errorf("op=search.Upsert: %w: status %d: %s", domain.ErrTransientService, resp.StatusCode, detail)
		default:
			return nil, fmt.Errorf("op=search.Upsert: %w: status %d: %s", domain.ErrAPI, resp.StatusCode, detail)
		}
	}

	var out batchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("op=search.Upsert: %w: decode batch response: %v", domain.ErrAPI, err)
	}

	results := make([]domain.IndexResult, len(out.Value))
	for i, v := range out.Value {
		results[i] = domain.IndexResult{
			Key:        v.Key,
			Succeeded:  v.Status,
			StatusCode: v.StatusCode,
			Message:    v.Message,
		}
	}
	return results, nil
}
