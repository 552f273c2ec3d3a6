// Package recordapi is the client for the candidate system of record. It
// logs in with username/password to obtain a bearer token, caches it for its
// lifetime, and exposes the context lookup and result publication calls.
package recordapi

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
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/fairyhunter13/cv-screening-pipeline/internal/domain"
	"github.com/fairyhunter13/cv-screening-pipeline/internal/observability"
)

const (
	// tokenTTL is how long a login token stays valid server-side.
	tokenTTL = 20 * time.Minute
	// tokenSafetyMargin is subtracted from the TTL so a token is never used
	// in the last seconds of its life.
	tokenSafetyMargin = time.Minute
)

// Credentials identifies this service to the record API.
type Credentials struct {
	Username        string
	Password        string
	Role            string
	UserApplication string
}

// Client implements domain.RecordAPI.
type Client struct {
	baseURL    string
	creds      Credentials
	httpClient *http.Client
	retry      domain.RetryPolicy

	// now is the clock; tests override it.
	now func() time.Time

	mu       sync.Mutex
	token    string
	tokenExp time.Time
	group    singleflight.Group
}

// New constructs a record API client.
func New(baseURL string, creds Credentials, retry domain.RetryPolicy) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		creds:      creds,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		retry:      retry,
		now:        time.Now,
	}
}

type loginRequest struct {
	Username        string `json:"username"`
	Password        string `json:"password"`
	Role            string `json:"role,omitempty"`
	UserApplication string `json:"userApplication,omitempty"`
}

// bearerToken returns a cached token or performs a login. Concurrent callers
// share one login via singleflight so a token expiry never causes a stampede.
func (c *Client) bearerToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.token != "" && c.now().Before(c.tokenExp) {
		tok := c.token
		c.mu.Unlock()
		return tok, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do("login", func() (any, error) {
		// Re-check under the group: the winner of a previous flight may
		// already have refreshed the token.
		c.mu.Lock()
		if c.token != "" && c.now().Before(c.tokenExp) {
			tok := c.token
			c.mu.Unlock()
			return tok, nil
		}
		c.mu.Unlock()

		tok, err := c.login(ctx)
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.token = tok
		c.tokenExp = c.now().Add(tokenTTL - tokenSafetyMargin)
		c.mu.Unlock()
		return tok, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// login posts the credentials and returns the raw token. The endpoint
// answers with the token as plain text, not JSON.
func (c *Client) login(ctx context.Context) (string, error) {
	start := time.Now()
	defer observability.ObserveCollaborator("recordapi", "login", start)

	b, err := json.Marshal(loginRequest{
		Username:        c.creds.Username,
		Password:        c.creds.Password,
		Role:            c.creds.Role,
		UserApplication: c.creds.UserApplication,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/Account", bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: login: %v", domain.ErrTransientService, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", fmt.Errorf("%w: login rejected with status %d", domain.ErrAuthentication, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: login status %d", domain.ErrTransientService, resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("%w: read login response: %v", domain.ErrTransientService, err)
	}
	token := strings.TrimSpace(strings.Trim(strings.TrimSpace(string(raw)), `"`))
	if token == "" {
		return "", fmt.Errorf("%w: login returned an empty token", domain.ErrAuthentication)
	}
	return token, nil
}

// invalidateToken drops the cached token so the next call logs in again.
func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.tokenExp = time.Time{}
	c.mu.Unlock()
}

type contextResponse struct {
	ProfileDescription string `json:"profileDescription"`
	VariablesContent   string `json:"variablesContent"`
}

// GetContext fetches the evaluation context for a rank. Both fields must be
// present: an evaluation without criteria would produce an unscorable
// analysis, so a half-filled context is an API contract violation.
func (c *Client) GetContext(ctx context.Context, rankID string) (domain.EvaluationContext, error) {
	start := time.Now()
	defer observability.ObserveCollaborator("recordapi", "get_context", start)

	var out contextResponse
	err := c.doWithAuth(ctx, http.MethodGet, "/Resumen/"+rankID, nil, &out)
	if err != nil {
		return domain.EvaluationContext{}, fmt.Errorf("op=recordapi.GetContext: %w", err)
	}
	if strings.TrimSpace(out.ProfileDescription) == "" {
		return domain.EvaluationContext{}, fmt.Errorf("op=recordapi.GetContext: %w: profileDescription empty for rank %s", domain.ErrAPI, rankID)
	}
	if strings.TrimSpace(out.VariablesContent) == "" {
		return domain.EvaluationContext{}, fmt.Errorf("op=recordapi.GetContext: %w: variablesContent empty for rank %s", domain.ErrAPI, rankID)
	}
	return domain.EvaluationContext{
		ProfileDescription: out.ProfileDescription,
		CriteriaText:       out.VariablesContent,
	}, nil
}

type scoreEntry struct {
	Variable string `json:"variable"`
	Score    int    `json:"score"`
}

type addScoresRequest struct {
	CandidateID string       `json:"candidateId"`
	Scores      []scoreEntry `json:"scores"`
}

// AddScores publishes the per-criterion scores, sorted by criterion letter
// so the payload is deterministic.
func (c *Client) AddScores(ctx context.Context, candidateID string, scores map[string]int) error {
	start := time.Now()
	defer observability.ObserveCollaborator("recordapi", "add_scores", start)

	keys := make([]string, 0, len(scores))
	for k := range scores {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	entries := make([]scoreEntry, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, scoreEntry{Variable: k, Score: scores[k]})
	}

	if err := c.doWithAuth(ctx, http.MethodPost, "/Resumen/AddScores", addScoresRequest{CandidateID: candidateID, Scores: entries}, nil); err != nil {
		return fmt.Errorf("op=recordapi.AddScores: %w", err)
	}
	return nil
}

type saveSummaryRequest struct {
	CandidateID   string  `json:"candidateId"`
	Transcription string  `json:"transcription"`
	Score         float64 `json:"score"`
	Analysis      string  `json:"analysis"`
	NameCandidate string  `json:"nameCandidate"`
}

// SaveSummary publishes the transcription, aggregate score and analysis.
func (c *Client) SaveSummary(ctx context.Context, candidateID, transcription string, score float64, analysis, candidateName string) error {
	start := time.Now()
	defer observability.ObserveCollaborator("recordapi", "save_summary", start)

	payload := saveSummaryRequest{
		CandidateID:   candidateID,
		Transcription: transcription,
		Score:         score,
		Analysis:      analysis,
		NameCandidate: candidateName,
	}
	if err := c.doWithAuth(ctx, http.MethodPost, "/Resumen/Save", payload, nil); err != nil {
		return fmt.Errorf("op=recordapi.SaveSummary: %w", err)
	}
	return nil
}

type updateStatusRequest struct {
	CandidateID  string  `json:"candidateId"`
	Processed    bool    `json:"processed"`
	ErrorMessage *string `json:"errorMessage,omitempty"`
}

// UpdateStatus marks the candidate processed. A nil errMsg reports success;
// a non-nil one carries the (already truncated) failure description.
func (c *Client) UpdateStatus(ctx context.Context, candidateID string, errMsg *string) error {
	start := time.Now()
	defer observability.ObserveCollaborator("recordapi", "update_status", start)

	payload := updateStatusRequest{CandidateID: candidateID, Processed: true, ErrorMessage: errMsg}
	if err := c.doWithAuth(ctx, http.MethodPut, "/Resumen", payload, nil); err != nil {
		return fmt.Errorf("op=recordapi.UpdateStatus: %w", err)
	}
	return nil
}

// doWithAuth performs one authenticated call with retries. A 401 on an
// otherwise valid token invalidates the cache and is retried once with a
// fresh login before being surfaced as an authentication failure.
func (c *Client) doWithAuth(ctx context.Context, method, path string, payload, out any) error {
	refreshed := false
	op := func(ctx context.Context) error {
		err := c.doOnce(ctx, method, path, payload, out)
		if err != nil && !refreshed && isStatus(err, http.StatusUnauthorized) {
			refreshed = true
			c.invalidateToken()
			err = c.doOnce(ctx, method, path, payload, out)
		}
		return err
	}
	_, err := c.retry.Do(ctx, op)
	return err
}

type statusError struct {
	code   int
	detail string
	cause  error
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.code, e.detail)
}

func (e *statusError) Unwrap() error { return e.cause }

func isStatus(err error, code int) bool {
	var se *statusError
	return errors.As(err, &se) && se.code == code
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

func (c *Client) doOnce(ctx context.Context, method, path string, payload, out any) error {
	token, err := c.bearerToken(ctx)
	if err != nil {
		return err
	}

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransientService, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		detail := strings.TrimSpace(string(snippet))
		se := &statusError{code: resp.StatusCode, detail: detail}
		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			se.cause = domain.ErrAuthentication
		case resp.StatusCode == http.StatusTooManyRequests:
			se.cause = &domain.RateLimitError{Hint: retryAfter(resp)}
		case resp.StatusCode >= 500:
			se.cause = domain.ErrTransientService
		default:
			se.cause = domain.ErrAPI
		}
		return se
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decode response: %v", domain.ErrAPI, err)
		}
	}
	return nil
}
