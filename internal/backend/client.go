// Package backend is the REST client for the visite backend
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/visite/visite-admin/internal/config"
	"github.com/visite/visite-admin/internal/models"
)

// APIError is a non-2xx answer, or a 2xx answer whose envelope says error
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Message)
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  zerolog.Logger
}

func NewClient(cfg config.BackendConfig, logger zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    &http.Client{Timeout: timeout},
		logger:  logger.With().Str("component", "backend").Logger(),
	}
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal %s %s body: %w", method, path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: reading body: %w", method, path, err)
	}

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("backend call")

	var env envelope
	_ = json.Unmarshal(data, &env)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(env, data, resp.Status)}
	}
	if env.Status == "error" {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(env, data, "error")}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if len(env.Data) > 0 && !bytes.Equal(env.Data, []byte("null")) {
		data = env.Data
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s %s: decoding response: %w", method, path, err)
	}
	return nil
}

func errorMessage(env envelope, raw []byte, fallback string) string {
	switch {
	case env.Message != "":
		return env.Message
	case env.Error != "":
		return env.Error
	}
	if s := strings.TrimSpace(string(raw)); s != "" && len(s) < 200 && !strings.HasPrefix(s, "{") {
		return s
	}
	return fallback
}

// ListForms returns every form known to the backend
func (c *Client) ListForms(ctx context.Context) ([]models.Form, error) {
	var forms []models.Form
	if err := c.do(ctx, http.MethodGet, "/forms/all", nil, &forms); err != nil {
		return nil, err
	}
	return forms, nil
}

// FormItems returns the items of one form
func (c *Client) FormItems(ctx context.Context, formUUID string) ([]models.FormItem, error) {
	var items []models.FormItem
	path := "/public/forms/" + url.PathEscape(formUUID) + "/items"
	if err := c.do(ctx, http.MethodGet, path, nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// CreateSubmission creates the VisiteHarder record of a form-fill
func (c *Client) CreateSubmission(ctx context.Context, req models.SubmissionRequest) (*models.Submission, error) {
	var sub models.Submission
	if err := c.do(ctx, http.MethodPost, "/public/form-submissions", req, &sub); err != nil {
		return nil, err
	}
	if sub.UUID == "" {
		return nil, fmt.Errorf("create submission: backend returned no uuid")
	}
	return &sub, nil
}

// BulkResponses sends every response of a submission in one call
func (c *Client) BulkResponses(ctx context.Context, req models.BulkResponseRequest) (*models.BulkResponseResult, error) {
	var res models.BulkResponseResult
	if err := c.do(ctx, http.MethodPost, "/public/form-responses/bulk", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// CreateResponse sends a single response
func (c *Client) CreateResponse(ctx context.Context, entry models.ResponseEntry) error {
	return c.do(ctx, http.MethodPost, "/form-responses", entry, nil)
}

// MapMarkers returns the geo-tagged records shown on the map
func (c *Client) MapMarkers(ctx context.Context) ([]models.VisitRecord, error) {
	var records []models.VisitRecord
	if err := c.do(ctx, http.MethodGet, "/visite-data/map-markers", nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}
