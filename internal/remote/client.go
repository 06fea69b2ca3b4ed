package remote

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

	"github.com/gridpoint-io/meterwms/internal/models"
)

// Client talks to the central inventory server's record API over HTTP.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a remote client. baseURL may be empty, in which
// case every call reports ErrNotConfigured and the agent runs offline.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// RequestError is a structured error response from the remote service.
type RequestError struct {
	StatusCode int
	Message    string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("remote: HTTP %d: %s", e.StatusCode, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	if c.baseURL == "" {
		return ErrNotConfigured
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("remote request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		msg := strings.TrimSpace(string(raw))
		var wrapped struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &wrapped) == nil && wrapped.Error != "" {
			msg = wrapped.Error
		}
		return &RequestError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// List fetches all records of a collection, optionally filtered by
// exact field matches passed as query parameters.
func (c *Client) List(ctx context.Context, collection string, filter map[string]string) ([]models.Record, error) {
	path := "/api/v1/" + collection
	if len(filter) > 0 {
		q := url.Values{}
		for k, v := range filter {
			q.Set(k, v)
		}
		path += "?" + q.Encode()
	}

	var records []models.Record
	if err := c.do(ctx, http.MethodGet, path, nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// Get fetches a single record by id.
func (c *Client) Get(ctx context.Context, collection, id string) (models.Record, error) {
	var rec models.Record
	if err := c.do(ctx, http.MethodGet, "/api/v1/"+collection+"/"+id, nil, &rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Insert creates a record and returns the authoritative server copy
// (including the server-assigned id).
func (c *Client) Insert(ctx context.Context, collection string, rec models.Record) (models.Record, error) {
	var created models.Record
	if err := c.do(ctx, http.MethodPost, "/api/v1/"+collection, rec, &created); err != nil {
		return nil, err
	}
	return created, nil
}

// Update patches a record by id and returns the updated server copy.
func (c *Client) Update(ctx context.Context, collection, id string, patch models.Record) (models.Record, error) {
	var updated models.Record
	if err := c.do(ctx, http.MethodPut, "/api/v1/"+collection+"/"+id, patch, &updated); err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes a record by id.
func (c *Client) Delete(ctx context.Context, collection, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/"+collection+"/"+id, nil, nil)
}

// Ping issues the minimal health read the connectivity monitor uses.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}
