// Package twitter publishes scheduled tweets through the X API v2 with
// OAuth 2.0 user-context tokens.
//
// Image tweets go through the chunked media upload pipeline first:
//
//	INIT (declare size and type) -> APPEND x N (1 MiB chunks) -> FINALIZE
//	-> STATUS polling while the upload is processed asynchronously
//
// and the resulting media id is attached to the tweet.
package twitter

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/fpang/social-post-scheduler/internal/publish"
)

const (
	// DefaultAPIURL is the X API v2 base URL.
	DefaultAPIURL = "https://api.x.com"

	// DefaultUploadURL is the v1.1 chunked media upload endpoint.
	DefaultUploadURL = "https://upload.twitter.com/1.1/media/upload.json"

	// DefaultTokenURL is the OAuth 2.0 token endpoint used for refresh.
	DefaultTokenURL = "https://api.x.com/2/oauth2/token"

	// ChunkSize is the APPEND segment size.
	ChunkSize = 1 << 20

	// Asynchronous processing poll settings.
	statusInterval = 2 * time.Second
	statusAttempts = 30

	defaultTimeout = 30 * time.Second
)

// Client calls the X API on behalf of a connected user.
type Client struct {
	httpClient   *http.Client
	apiURL       string
	uploadURL    string
	tokenURL     string
	clientID     string
	clientSecret string
	sleep        func(context.Context, time.Duration) error
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithAPIURL overrides the API base URL.
func WithAPIURL(u string) ClientOption {
	return func(c *Client) { c.apiURL = strings.TrimRight(u, "/") }
}

// WithUploadURL overrides the media upload endpoint.
func WithUploadURL(u string) ClientOption {
	return func(c *Client) { c.uploadURL = u }
}

// WithTokenURL overrides the OAuth 2.0 token endpoint.
func WithTokenURL(u string) ClientOption {
	return func(c *Client) { c.tokenURL = u }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithSleep replaces the wait between STATUS polls.
func WithSleep(sleep func(context.Context, time.Duration) error) ClientOption {
	return func(c *Client) { c.sleep = sleep }
}

// NewClient creates an X API client. clientID and clientSecret identify the
// app for token refresh.
func NewClient(clientID, clientSecret string, opts ...ClientOption) *Client {
	c := &Client{
		httpClient:   &http.Client{Timeout: defaultTimeout},
		apiURL:       DefaultAPIURL,
		uploadURL:    DefaultUploadURL,
		tokenURL:     DefaultTokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		sleep:        sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// send issues req with the user's bearer token and returns the body of a
// 2xx response. Other statuses wrap publish.ErrRemote (401 wraps ErrAuth).
func (c *Client) send(req *http.Request, accessToken, step string) ([]byte, error) {
	req.Header.Set("Authorization", "Bearer "+accessToken)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, publish.Errorf(publish.ErrRemote, "%s: request failed: %v", step, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, publish.Errorf(publish.ErrRemote, "%s: read response: %v", step, err)
	}
	log.Debug().
		Str("step", step).
		Int("statusCode", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("X API response")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		class := publish.ErrRemote
		if resp.StatusCode == http.StatusUnauthorized {
			class = publish.ErrAuth
		}
		return nil, publish.Errorf(class, "%s: status %d: %s", step, resp.StatusCode, truncate(string(body), 300))
	}
	return body, nil
}

// truncate returns the first n characters of s, appending "..." if truncated.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
