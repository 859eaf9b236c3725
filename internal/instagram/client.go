// Package instagram publishes scheduled posts through the Instagram Graph
// API content publishing endpoints.
//
// Instagram publishing is a two-step process:
//  1. Create a media container from a publicly reachable image URL
//     (a short-lived presigned GET URL for the stored image)
//  2. Publish the container
//
// A container that is created but never published is abandoned; Instagram
// expires unpublished containers on its own.
package instagram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/go-querystring/query"
	"github.com/rs/zerolog/log"

	"github.com/fpang/social-post-scheduler/internal/publish"
)

const (
	// DefaultBaseURL is the Instagram Graph API base URL.
	DefaultBaseURL = "https://graph.instagram.com/v22.0"

	// DefaultRefreshURL is the long-lived token refresh endpoint (unversioned).
	DefaultRefreshURL = "https://graph.instagram.com/refresh_access_token"

	// defaultTimeout is the HTTP client timeout for API calls.
	defaultTimeout = 30 * time.Second
)

// Client calls the Instagram Graph API. It holds no credentials; every call
// takes the Instagram user id and access token of the task owner.
type Client struct {
	httpClient *http.Client
	baseURL    string
	refreshURL string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURL overrides the Graph API base URL.
func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithRefreshURL overrides the token refresh endpoint.
func WithRefreshURL(u string) ClientOption {
	return func(c *Client) { c.refreshURL = u }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates an Instagram API client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    DefaultBaseURL,
		refreshURL: DefaultRefreshURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// --- API request and response types ---

type createMediaParams struct {
	ImageURL    string `url:"image_url"`
	Caption     string `url:"caption,omitempty"`
	AccessToken string `url:"access_token"`
}

type publishParams struct {
	CreationID  string `url:"creation_id"`
	AccessToken string `url:"access_token"`
}

// apiResponse is the generic Instagram Graph API response.
type apiResponse struct {
	ID    string  `json:"id"`
	Error *apiErr `json:"error,omitempty"`
}

type apiErr struct {
	Message   string `json:"message"`
	Type      string `json:"type"`
	Code      int    `json:"code"`
	FBTraceID string `json:"fbtrace_id,omitempty"`
}

// --- Container creation and publishing ---

// CreateImagePost creates a single-image post container with caption.
// imageURL must be publicly accessible (e.g., presigned S3 GET URL).
func (c *Client) CreateImagePost(ctx context.Context, igUserID, accessToken, imageURL, caption string) (string, error) {
	params, err := query.Values(createMediaParams{ImageURL: imageURL, Caption: caption, AccessToken: accessToken})
	if err != nil {
		return "", fmt.Errorf("encode params: %w", err)
	}

	resp, err := c.postForm(ctx, fmt.Sprintf("/%s/media", igUserID), params.Encode())
	if err != nil {
		return "", fmt.Errorf("create image container: %w", err)
	}
	log.Info().Str("containerId", resp.ID).Str("type", "image").Msg("Image container created")
	return resp.ID, nil
}

// PublishContainer publishes a media container and returns the Instagram
// media id of the published post.
func (c *Client) PublishContainer(ctx context.Context, igUserID, accessToken, containerID string) (string, error) {
	log.Debug().Str("containerId", containerID).Msg("Publishing container")
	params, err := query.Values(publishParams{CreationID: containerID, AccessToken: accessToken})
	if err != nil {
		return "", fmt.Errorf("encode params: %w", err)
	}

	resp, err := c.postForm(ctx, fmt.Sprintf("/%s/media_publish", igUserID), params.Encode())
	if err != nil {
		return "", fmt.Errorf("publish container %s: %w", containerID, err)
	}
	log.Info().Str("containerId", containerID).Str("postId", resp.ID).Msg("Container published successfully")
	return resp.ID, nil
}

// --- Internal helpers ---

// postForm sends a form-encoded POST to the Graph API. Transport failures,
// non-2xx statuses, and API error bodies all wrap publish.ErrRemote.
func (c *Client) postForm(ctx context.Context, endpoint, form string) (*apiResponse, error) {
	startTime := time.Now()

	log.Debug().Str("method", http.MethodPost).Str("path", endpoint).Msg("Instagram API request")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, strings.NewReader(form))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	httpResp, err := c.httpClient.Do(req)
	duration := time.Since(startTime)
	if err != nil {
		log.Debug().Int("statusCode", 0).Dur("duration", duration).Err(err).Msg("Instagram API response")
		return nil, publish.Errorf(publish.ErrRemote, "request failed: %v", err)
	}
	defer httpResp.Body.Close()

	log.Debug().Int("statusCode", httpResp.StatusCode).Dur("duration", duration).Msg("Instagram API response")

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, publish.Errorf(publish.ErrRemote, "read response: %v", err)
	}

	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, publish.Errorf(publish.ErrRemote, "parse response (status %d): %v (body: %s)",
			httpResp.StatusCode, err, truncate(string(body), 200))
	}

	if resp.Error != nil {
		log.Error().Str("errorMessage", resp.Error.Message).Str("errorType", resp.Error.Type).Int("errorCode", resp.Error.Code).Msg("Instagram API error")
		class := publish.ErrRemote
		if resp.Error.Code == 190 || resp.Error.Type == "OAuthException" {
			class = publish.ErrAuth
		}
		return nil, publish.Errorf(class, "Instagram API error: %s (type: %s, code: %d)",
			resp.Error.Message, resp.Error.Type, resp.Error.Code)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, publish.Errorf(publish.ErrRemote, "status %d: %s", httpResp.StatusCode, truncate(string(body), 200))
	}

	if resp.ID == "" {
		return nil, publish.Errorf(publish.ErrRemote, "unexpected response: no ID returned (body: %s)", truncate(string(body), 200))
	}

	return &resp, nil
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
