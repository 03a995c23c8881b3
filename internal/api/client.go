// Package api is the HTTP client for the nest backend. The backend is an
// external collaborator; this package covers only the profile-setup surface
// the client needs.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// IdempotencyKeyHeader carries the client-generated key on child creates so
// a retried commit cannot double-create.
const IdempotencyKeyHeader = "Idempotency-Key"

// Client talks to the nest backend. A zero token sends unauthenticated
// requests; the backend answers those GETs with 401, which the fetch
// methods translate to "no existing profile".
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New creates a Client for the given base URL. Token may be empty.
func New(baseURL, token string) *Client {
	return NewWithHTTPClient(baseURL, token, &http.Client{Timeout: 30 * time.Second})
}

// NewWithHTTPClient creates a Client with a caller-supplied *http.Client
// (for testing and custom transports).
func NewWithHTTPClient(baseURL, token string, httpClient *http.Client) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: httpClient,
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshalling request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.httpClient.Do(req)
}

// checkStatus converts a non-2xx response into an *APIError, surfacing the
// body's "detail" field when present.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var body struct {
		Detail string `json:"detail"`
	}
	if data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)); err == nil {
		if json.Unmarshal(data, &body) == nil {
			apiErr.Detail = body.Detail
		}
	}
	return apiErr
}

func decodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// FetchParent returns the existing parent profile, or (nil, nil) when the
// backend answers 401, meaning no profile exists yet for this session.
func (c *Client) FetchParent(ctx context.Context) (*Parent, error) {
	resp, err := c.do(ctx, http.MethodGet, "/profile/parent", nil)
	if err != nil {
		return nil, fmt.Errorf("fetching parent profile: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		return nil, nil
	}
	var p Parent
	if err := decodeJSON(resp, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// FetchChildren returns the existing child records. A 401 yields an empty
// list, mirroring FetchParent.
func (c *Client) FetchChildren(ctx context.Context) ([]Child, error) {
	resp, err := c.do(ctx, http.MethodGet, "/profile/children", nil)
	if err != nil {
		return nil, fmt.Errorf("fetching children: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		return nil, nil
	}
	var children []Child
	if err := decodeJSON(resp, &children); err != nil {
		return nil, err
	}
	return children, nil
}

// SaveParent creates or updates the parent profile from the merged payload.
func (c *Client) SaveParent(ctx context.Context, payload ParentPayload) (*Parent, error) {
	resp, err := c.do(ctx, http.MethodPost, "/profile/parent", payload)
	if err != nil {
		return nil, fmt.Errorf("saving parent profile: %w", err)
	}
	var p Parent
	if err := decodeJSON(resp, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateChild submits one child. The caller must have stripped any
// temporary identifier; idempotencyKey travels in a header so the backend
// can deduplicate retries.
func (c *Client) CreateChild(ctx context.Context, child Child, idempotencyKey string) (*Child, error) {
	child.ID = ""
	data, err := json.Marshal(child)
	if err != nil {
		return nil, fmt.Errorf("marshalling child: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/profile/children", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if idempotencyKey != "" {
		req.Header.Set(IdempotencyKeyHeader, idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("creating child: %w", err)
	}
	var created Child
	if err := decodeJSON(resp, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateChild updates one existing child by its persisted identifier.
func (c *Client) UpdateChild(ctx context.Context, id string, child Child) (*Child, error) {
	resp, err := c.do(ctx, http.MethodPut, "/profile/children/"+id, child)
	if err != nil {
		return nil, fmt.Errorf("updating child %s: %w", id, err)
	}
	var updated Child
	if err := decodeJSON(resp, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteChild deletes one existing child by its persisted identifier.
func (c *Client) DeleteChild(ctx context.Context, id string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/profile/children/"+id, nil)
	if err != nil {
		return fmt.Errorf("deleting child %s: %w", id, err)
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}
