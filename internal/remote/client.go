// Package remote implements the HTTP client side of the remote authority
// contract: idempotent push, incremental pull, and an error taxonomy that
// lets the sync engine tell transient failures from credential failures.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/chinyang09/pilotlog/internal/models"
)

// Client talks to a remote authority over HTTP+JSON
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a Client. The API token is attached to every request
// through an oauth2 token source so credential handling stays uniform.
func NewClient(baseURL, apiToken string, timeout time.Duration) *Client {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: apiToken, TokenType: "Bearer"})
	httpClient := oauth2.NewClient(context.Background(), src)
	httpClient.Timeout = timeout

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

// Push transmits one queued operation. Pushing the same create twice
// resolves to the same remote id (idempotent per local id).
func (c *Client) Push(ctx context.Context, collection string, req *models.PushRequest) (*models.PushResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/api/sync/%s/push", c.baseURL, url.PathEscape(collection))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var resp models.PushResponse
	if err := c.do(httpReq, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Pull fetches records changed since the checkpoint, plus tombstones for
// remote-side deletions. since=0 requests everything.
func (c *Client) Pull(ctx context.Context, collection string, since int64) (*models.PullResponse, error) {
	endpoint := fmt.Sprintf("%s/api/sync/%s/pull?since=%s",
		c.baseURL, url.PathEscape(collection), strconv.FormatInt(since, 10))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var resp models.PullResponse
	if err := c.do(httpReq, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Ping probes reachability for the connectivity watcher
func (c *Client) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	return c.do(httpReq, nil)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		// A deadline on the pass context must surface as the context error,
		// not as a retriable network failure.
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return ctxErr
		}
		return &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		io.Copy(io.Discard, resp.Body)
		return &AuthError{StatusCode: resp.StatusCode}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &ServerError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ServerError{StatusCode: resp.StatusCode, Body: fmt.Sprintf("malformed response: %v", err)}
	}
	return nil
}
