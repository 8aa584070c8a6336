package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/canvastodo/card-server-go/internal/card"
	apperrors "github.com/canvastodo/card-server-go/internal/errors"
	"github.com/canvastodo/card-server-go/internal/httputil"
	"github.com/canvastodo/card-server-go/internal/middleware"
	"github.com/canvastodo/card-server-go/internal/todo"
)

const requestTimeout = 30 * time.Second

// Client talks to the card server's HTTP API for one profile.
type Client struct {
	base  string
	token string
	http  *http.Client
	csrf  string
}

// NewClient targets profileID's card. token is the profile token issued for it.
func NewClient(serverURL, profileID, token string) (*Client, error) {
	if _, err := url.ParseRequestURI(serverURL); err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &Client{
		base:  strings.TrimRight(serverURL, "/") + "/v1/profiles/" + url.PathEscape(profileID),
		token: token,
		http: &http.Client{
			Jar:     jar,
			Timeout: requestTimeout,
			// The login redirect points at Canvas; it is printed, not followed.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}, nil
}

// LoginURL returns the Canvas authorize URL to open in a browser.
func (c *Client) LoginURL(ctx context.Context) (string, error) {
	resp, err := c.send(ctx, http.MethodGet, "/login", nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusFound {
		return "", readError(resp)
	}
	return resp.Header.Get("Location"), nil
}

func (c *Client) Status(ctx context.Context) (*card.Snapshot, error) {
	var snap card.Snapshot
	return &snap, c.call(ctx, http.MethodGet, "/", nil, &snap)
}

func (c *Client) Tasks(ctx context.Context) (*todo.Snapshot, error) {
	var snap todo.Snapshot
	return &snap, c.call(ctx, http.MethodGet, "/tasks", nil, &snap)
}

func (c *Client) Refresh(ctx context.Context) (*todo.Snapshot, error) {
	var snap todo.Snapshot
	return &snap, c.call(ctx, http.MethodPost, "/tasks/refresh", nil, &snap)
}

func (c *Client) Toggle(ctx context.Context, taskID string) (*todo.ToggleResult, error) {
	var result todo.ToggleResult
	return &result, c.call(ctx, http.MethodPost, "/tasks/"+url.PathEscape(taskID)+"/toggle", nil, &result)
}

func (c *Client) SetVisible(ctx context.Context, visible bool) (*todo.Snapshot, error) {
	var snap todo.Snapshot
	body := fmt.Sprintf(`{"visible":%t}`, visible)
	return &snap, c.call(ctx, http.MethodPut, "/visibility", strings.NewReader(body), &snap)
}

func (c *Client) Logout(ctx context.Context) (*card.Snapshot, error) {
	var snap card.Snapshot
	return &snap, c.call(ctx, http.MethodPost, "/logout", nil, &snap)
}

func (c *Client) call(ctx context.Context, method, path string, body io.Reader, out any) error {
	if method != http.MethodGet {
		if err := c.ensureCSRF(ctx); err != nil {
			return err
		}
	}

	resp, err := c.send(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return readError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) send(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.csrf != "" {
		req.Header.Set(middleware.CSRFHeaderName, c.csrf)
	}
	return c.http.Do(req)
}

// ensureCSRF picks up the double-submit cookie the server sets on safe requests.
func (c *Client) ensureCSRF(ctx context.Context) error {
	if c.csrf != "" {
		return nil
	}
	resp, err := c.send(ctx, http.MethodGet, "/tasks", nil)
	if err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	u, _ := url.Parse(c.base + "/")
	for _, cookie := range c.http.Jar.Cookies(u) {
		if cookie.Name == middleware.CSRFCookieName {
			c.csrf = cookie.Value
			return nil
		}
	}
	return fmt.Errorf("server did not issue a %s cookie", middleware.CSRFCookieName)
}

func readError(resp *http.Response) error {
	var body httputil.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Code == "" {
		return fmt.Errorf("unexpected response: %s", resp.Status)
	}
	return apperrors.New(body.Code, body.Error)
}
