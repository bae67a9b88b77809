// Package transport provides the HTTP transport for the NoteVerse sync core.
//
// The core depends only on the generic request/response contract implemented
// here: request(method, path, body) -> response. Responses distinguish
// transport failures (returned as errors, wrapped in ErrUnavailable) from
// server-reported outcomes (the Response struct, including the conflict
// branch, which is an expected state and never an error).
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/noteverse/noteverse/internal/schema"
)

// ErrUnavailable wraps network or HTTP-level failures. Callers treat any
// such failure identically: leave the work pending and retry next cycle.
var ErrUnavailable = errors.New("remote unavailable")

// HealthPath is the remote liveness endpoint polled by the connectivity
// probe. Requests to it are never captured into the offline queue.
const HealthPath = "/health"

// Settings is the slice of the local store the transport needs: the bearer
// token and the persisted offline request queue live in settings.
type Settings interface {
	GetSetting(key string) (string, bool, error)
	SetSetting(key, value string) error
}

// Response is the decoded server reply for both push and pull requests.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`

	// Conflict reports that the server holds a diverged version of the
	// pushed note; RemoteNote carries that version.
	Conflict   bool         `json:"conflict,omitempty"`
	RemoteNote *schema.Note `json:"remoteNote,omitempty"`

	// Changes is populated by the pull request.
	Changes []schema.Change `json:"changes,omitempty"`
}

// Client performs authenticated HTTP requests against the remote store.
type Client struct {
	baseURL  string
	http     *http.Client
	settings Settings

	// offline, when set, reports whether the device is known to be
	// offline. Requests failing while offline are captured into the
	// persisted queue for replay on reconnect.
	offline func() bool
}

// New creates a transport client for the given API base URL.
//
// The bearer token is read from settings on every request, so a token
// refresh takes effect without rebuilding the client. If httpClient is nil a
// default with a 15 second timeout is used.
func New(baseURL string, settings Settings, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL:  baseURL,
		http:     httpClient,
		settings: settings,
	}
}

// BaseURL returns the configured API base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// QueueWhenOffline installs the connectivity gate. With a gate installed,
// any request that fails with ErrUnavailable while the gate reports offline
// is appended to the persisted queue before the error is returned, so the
// work is replayed on reconnect instead of lost.
func (c *Client) QueueWhenOffline(offline func() bool) {
	c.offline = offline
}

// deferIfOffline captures a failed request into the offline queue when the
// device is known to be offline. Queue persistence is best effort; the
// caller acts on the original transport error either way.
func (c *Client) deferIfOffline(method, path string, body interface{}) {
	if c.offline == nil || !c.offline() {
		return
	}
	// The probe is what detects the offline state; queuing it would replay
	// a pile of stale health checks on reconnect.
	if path == HealthPath {
		return
	}
	_ = c.Enqueue(method, path, body)
}

// Request performs an HTTP request and decodes the server's response.
//
// method is GET or POST; path is appended to the base URL; a non-nil body is
// JSON-encoded. Network failures and non-2xx statuses return an error
// wrapping ErrUnavailable.
func (c *Client) Request(ctx context.Context, method, path string, body interface{}) (*Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if token := c.authToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.deferIfOffline(method, path, body)
		return nil, fmt.Errorf("%w: %s %s: %v", ErrUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.deferIfOffline(method, path, body)
		return nil, fmt.Errorf("%w: %s %s: HTTP %d", ErrUnavailable, method, path, resp.StatusCode)
	}

	var decoded Response
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &decoded, nil
}

// authToken reads the bearer token from settings; missing token means
// unauthenticated requests, which the server is free to reject.
func (c *Client) authToken() string {
	token, _, err := c.settings.GetSetting(schema.SettingAuthToken)
	if err != nil {
		return ""
	}
	return token
}
