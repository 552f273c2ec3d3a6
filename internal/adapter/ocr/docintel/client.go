// Package docintel provides an Azure Document Intelligence client used for
// text extraction. It submits the document to the prebuilt read model and
// polls the returned operation until the analysis completes.
package docintel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fairyhunter13/cv-screening-pipeline/internal/domain"
	"github.com/fairyhunter13/cv-screening-pipeline/internal/observability"
	"github.com/fairyhunter13/cv-screening-pipeline/pkg/textx"
)

const (
	defaultPollInterval = 2 * time.Second
	maxPollAttempts     = 60
)

// Client implements domain.TextExtractor against the Document Intelligence
// REST API (documentModels/{model}:analyze + operation polling).
type Client struct {
	endpoint   string
	apiKey     string
	apiVersion string
	model      string
	httpClient *http.Client
	retry      domain.RetryPolicy

	pollInterval time.Duration
}

// New constructs a client for the given endpoint and model (usually
// "prebuilt-read"). The retry policy covers the submit call; polling has its
// own bounded loop.
func New(endpoint, apiKey, apiVersion, model string, retry domain.RetryPolicy) *Client {
	return &Client{
		endpoint:     strings.TrimRight(endpoint, "/"),
		apiKey:       apiKey,
		apiVersion:   apiVersion,
		model:        model,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		retry:        retry,
		pollInterval: defaultPollInterval,
	}
}

// Analyze uploads the document and returns the extracted plain text. The
// whole document is buffered so the submit call can be retried on transient
// failures.
func (c *Client) Analyze(ctx context.Context, r io.Reader) (string, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("op=docintel.Analyze: read document: %w", err)
	}
	if len(body) == 0 {
		return "", fmt.Errorf("op=docintel.Analyze: %w: document is empty", domain.ErrMalformedInput)
	}

	start := time.Now()
	defer observability.ObserveCollaborator("docintel", "analyze", start)

	var opLocation string
	attempts, err := c.retry.Do(ctx, func(ctx context.Context) error {
		loc, err := c.submit(ctx, body)
		if err != nil {
			return err
		}
		opLocation = loc
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("op=docintel.Analyze: submit after %d attempt(s): %w", attempts, err)
	}

	text, err := c.poll(ctx, opLocation)
	if err != nil {
		return "", fmt.Errorf("op=docintel.Analyze: %w", err)
	}

	text = textx.SanitizeText(text)
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("op=docintel.Analyze: %w", domain.ErrNoContent)
	}
	return text, nil
}

func (c *Client) submit(ctx context.Context, body []byte) (string, error) {
	u := fmt.Sprintf("%s/documentintelligence/documentModels/%s:analyze?api-version=%s", c.endpoint, c.model, c.apiVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Ocp-Apim-Subscription-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrTransientService, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusAccepted {
		return "", classifyStatus(resp)
	}
	loc := resp.Header.Get("Operation-Location")
	if loc == "" {
		return "", fmt.Errorf("%w: analyze accepted without Operation-Location", domain.ErrTransientService)
	}
	return loc, nil
}

func (c *Client) poll(ctx context.Context, opLocation string) (string, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for attempt := 0; attempt < maxPollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}

		status, content, err := c.pollOnce(ctx, opLocation)
		if err != nil {
			return "", err
		}
		switch status {
		case "succeeded":
			return content, nil
		case "failed":
			return "", fmt.Errorf("%w: analysis reported failed", domain.ErrMalformedInput)
		case "running", "notStarted":
			slog.Debug("document analysis still running", slog.Int("attempt", attempt+1))
		default:
			return "", fmt.Errorf("%w: unexpected analysis status %q", domain.ErrTransientService, status)
		}
	}
	return "", fmt.Errorf("%w: analysis did not complete after %d polls", domain.ErrTransientService, maxPollAttempts)
}

func (c *Client) pollOnce(ctx context.Context, opLocation string) (status, content string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, opLocation, nil)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", domain.ErrTransientService, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", "", classifyStatus(resp)
	}

	var out struct {
		Status        string `json:"status"`
		AnalyzeResult struct {
			Content string `json:"content"`
		} `json:"analyzeResult"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", "", fmt.Errorf("%w: decode poll response: %v", domain.ErrTransientService, err)
	}
	return out.Status, out.AnalyzeResult.Content, nil
}

// classifyStatus maps an HTTP failure onto the error taxonomy. The body is
// read (bounded) so upstream diagnostics survive into logs.
func classifyStatus(resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	detail := strings.TrimSpace(string(snippet))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: status %d: %s", domain.ErrAuthentication, resp.StatusCode, detail)
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("docintel status 429: %s: %w", detail, &domain.RateLimitError{Hint: retryAfter(resp)})
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return fmt.Errorf("%w: status %d: %s", domain.ErrMalformedInput, resp.StatusCode, detail)
	default:
		return fmt.Errorf("%w: status %d: %s", domain.ErrTransientService, resp.StatusCode, detail)
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
