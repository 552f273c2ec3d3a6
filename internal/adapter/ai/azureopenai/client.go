// Package azureopenai provides Azure OpenAI clients for chat completion and
// embeddings. Both speak the deployments REST surface with api-key auth.
package azureopenai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fairyhunter13/cv-screening-pipeline/internal/domain"
	"github.com/fairyhunter13/cv-screening-pipeline/internal/observability"
)

// Client implements domain.CompletionClient and domain.Embedder.
type Client struct {
	endpoint   string
	apiKey     string
	apiVersion string
	deployment string

	embeddingDeployment string
	embeddingAPIVersion string

	httpClient *http.Client
	retry      domain.RetryPolicy
}

// Option mutates the client during construction.
type Option func(*Client)

// WithEmbeddings enables the Embed method against a separate deployment.
func WithEmbeddings(deployment, apiVersion string) Option {
	return func(c *Client) {
		c.embeddingDeployment = deployment
		c.embeddingAPIVersion = apiVersion
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// New constructs a client. The retry policy is narrowed so completion calls
// are replayed only when the service throttles: a timed-out completion may
// still have been billed, and replaying it doubles the cost for a result the
// caller cannot deduplicate.
func New(endpoint, apiKey, apiVersion, deployment string, retry domain.RetryPolicy, opts ...Option) *Client {
	retry.Retryable = func(err error) bool {
		_, ok := domain.IsRateLimited(err)
		return ok
	}
	c := &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		apiKey:     apiKey,
		apiVersion: apiVersion,
		deployment: deployment,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		retry:      retry,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chatRequest struct {
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Complete runs one chat completion and returns the raw assistant content.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	start := time.Now()
	defer observability.ObserveCollaborator("openai", "complete", start)

	payload := chatRequest{
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature:    0,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}
	u := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s", c.endpoint, c.deployment, c.apiVersion)

	var content string
	attempts, err := c.retry.Do(ctx, func(ctx context.Context) error {
		out, err := doJSON[chatResponse](ctx, c, u, payload)
		if err != nil {
			return err
		}
		if len(out.Choices) == 0 {
			return fmt.Errorf("%w: completion returned no choices", domain.ErrAPI)
		}
		content = strings.TrimSpace(out.Choices[0].Message.Content)
		if content == "" {
			return fmt.Errorf("%w: completion returned empty content", domain.ErrAPI)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("op=azureopenai.Complete: after %d attempt(s): %w", attempts, err)
	}
	return content, nil
}

type embeddingsRequest struct {
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns one vector per chunk, in chunk order. Unlike completions,
// embedding calls are idempotent and cheap, so transient failures are
// retried as well.
func (c *Client) Embed(ctx context.Context, chunks []string) ([][]float32, error) {
	if c.embeddingDeployment == "" {
		return nil, fmt.Errorf("op=azureopenai.Embed: %w: embedding deployment not configured", domain.ErrConfiguration)
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	start := time.Now()
	defer observability.ObserveCollaborator("openai", "embed", start)

	retry := c.retry
	retry.Retryable = func(err error) bool {
		if _, ok := domain.IsRateLimited(err); ok {
			return true
		}
		return errors.Is(err, domain.ErrTransientService)
	}

	u := fmt.Sprintf("%s/openai/deployments/%s/embeddings?api-version=%s", c.endpoint, c.embeddingDeployment, c.embeddingAPIVersion)

	var out embeddingsResponse
	attempts, err := retry.Do(ctx, func(ctx context.Context) error {
		resp, err := doJSON[embeddingsResponse](ctx, c, u, embeddingsRequest{Input: chunks})
		if err != nil {
			return err
		}
		out = resp
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("op=azureopenai.Embed: after %d attempt(s): %w", attempts, err)
	}
	if len(out.Data) != len(chunks) {
		return nil, fmt.Errorf("op=azureopenai.Embed: %w: %d inputs but %d embeddings", domain.ErrAPI, len(chunks), len(out.Data))
	}

	sort.Slice(out.Data, func(i, j int) bool { return out.Data[i].Index < out.Data[j].Index })
	vectors := make([][]float32, len(out.Data))
	for i, d := range out.Data {
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

func doJSON[T any](ctx context.Context, c *Client, url string, payload any) (T, error) {
	var zero T
	b, err := json.Marshal(payload)
	if err != nil {
		return zero, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return zero, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return zero, fmt.Errorf("%w: %v", domain.ErrTransientService, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return zero, classifyStatus(resp)
	}
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return zero, fmt.Errorf("%w: decode response: %v", domain.ErrAPI, err)
	}
	return out, nil
}

func classifyStatus(resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	detail := strings.TrimSpace(string(snippet))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: status %d: %s", domain.ErrAuthentication, resp.StatusCode, detail)
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("openai status 429: %s: %w", detail, &domain.RateLimitError{Hint: retryAfter(resp)})
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d: %s", domain.ErrTransientService, resp.StatusCode, detail)
	default:
		return fmt.Errorf("%w: status %d: %s", domain.ErrAPI, resp.StatusCode, detail)
	}
}

func retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
