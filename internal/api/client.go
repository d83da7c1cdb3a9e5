// Package api is the HTTP client for the chirp backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lfelipe/chirp/internal/token"
)

// ErrUnauthorized is returned when the backend rejects our credentials and
// a token refresh did not help.
var ErrUnauthorized = errors.New("api: unauthorized")

const defaultRequestTimeout = 15 * time.Second

// Client talks to the chirp REST API. Requests carry a Bearer token from
// the token store; a 401 triggers a single refresh-and-retry.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  *token.Store
	logger  *zap.Logger

	refresher refresher
}

// NewClient creates an API client for the given base URL.
func NewClient(baseURL string, tokens *token.Store, logger *zap.Logger) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("api: invalid base URL %q", baseURL)
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultRequestTimeout},
		tokens:  tokens,
		logger:  logger,
	}
	c.refresher.client = c
	return c, nil
}

// doJSON performs an authenticated request and decodes the response into out.
// out may be nil when the body is not needed.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.doAuthed(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("api: decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) doAuthed(ctx context.Context, method, path string, body any) (*http.Response, error) {
	pair, err := c.tokens.Load()
	if err != nil {
		return nil, fmt.Errorf("api: %w", ErrUnauthorized)
	}

	if token.Expired(pair.AccessToken, 30*time.Second) {
		if pair, err = c.refresher.refresh(ctx, pair.RefreshToken); err != nil {
			return nil, err
		}
	}

	resp, err := c.send(ctx, method, path, body, pair.AccessToken)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	// The server disagreed about token validity. Refresh once and replay.
	_ = resp.Body.Close()
	if pair, err = c.refresher.refresh(ctx, pair.RefreshToken); err != nil {
		return nil, err
	}
	return c.send(ctx, method, path, body, pair.AccessToken)
}

func (c *Client) send(ctx context.Context, method, path string, body any, accessToken string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("api: marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("api: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api: %s %s: %w", method, path, err)
	}
	return resp, nil
}

func decodeInto(resp *http.Response, out any) error {
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("api: decode response: %w", err)
	}
	return nil
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func decodeError(resp *http.Response) error {
	defer func() { _, _ = io.Copy(io.Discard, resp.Body) }()
	var e apiError
	if err := json.NewDecoder(resp.Body).Decode(&e); err == nil && e.Message != "" {
		return fmt.Errorf("api: %s (%s)", e.Message, resp.Status)
	}
	return fmt.Errorf("api: unexpected status %s", resp.Status)
}
