// Package canvas calls the Canvas LMS REST endpoints the card reads and writes.
package canvas

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/canvastodo/card-server-go/internal/config"
	"github.com/canvastodo/card-server-go/internal/model"
)

// maxErrorBody caps how much of a failed response is kept for diagnostics.
const maxErrorBody = 4 << 10

// APIError is a non-2xx Canvas response. Body holds the diagnostic text Canvas sent.
type APIError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("canvas %s %s: status %d", e.Method, e.Path, e.Status)
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.CanvasRequestTimeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// Todo lists the user's to-do items (assignments, quizzes, discussions needing action).
func (c *Client) Todo(ctx context.Context, token string) ([]model.TodoItem, error) {
	var items []model.TodoItem
	if err := c.do(ctx, token, http.MethodGet, "/api/v1/users/self/todo", nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *Client) PlannerItems(ctx context.Context, token string) ([]model.PlannerItem, error) {
	var items []model.PlannerItem
	if err := c.do(ctx, token, http.MethodGet, "/api/v1/planner/items", nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// UpdatePlannerNote sets the completion flag of a personal planner note.
func (c *Client) UpdatePlannerNote(ctx context.Context, token, noteID string, completed bool) error {
	path := "/api/v1/planner_notes/" + noteID
	return c.do(ctx, token, http.MethodPut, path, model.PlannerNoteUpdate{MarkedComplete: completed}, nil)
}

func (c *Client) do(ctx context.Context, token, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{Method: method, Path: path, Status: resp.StatusCode, Body: string(text)}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
