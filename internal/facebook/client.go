// Package facebook publishes scheduled posts to Facebook pages through the
// Graph API.
//
// Only business pages accept API posts. The page type is detected by reading
// the page's category field; anything that does not answer with a category
// is treated as a personal profile and routed to manual posting.
package facebook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/go-querystring/query"
	"github.com/rs/zerolog/log"

	"github.com/fpang/social-post-scheduler/internal/publish"
)

const (
	// DefaultBaseURL is the Facebook Graph API base URL.
	DefaultBaseURL = "https://graph.facebook.com/v22.0"

	defaultTimeout = 30 * time.Second
)

// Client calls the Facebook Graph API on behalf of a page.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURL overrides the Graph API base URL.
func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a Facebook Graph API client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    DefaultBaseURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PageInfo is the subset of page metadata used for page-type detection.
type PageInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

// postResponse is returned by the /photos and /feed endpoints.
type postResponse struct {
	ID     string `json:"id"`
	PostID string `json:"post_id,omitempty"`
	graphError
}

type apiErr struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

// graphError is embedded in every response type. A failed Graph API call
// returns an error object in place of the payload.
type graphError struct {
	Error *apiErr `json:"error,omitempty"`
}

func (g *graphError) graphErr() *apiErr { return g.Error }

// graphResponse is a decoded response that may carry a Graph API error.
type graphResponse interface {
	graphErr() *apiErr
}

type feedParams struct {
	Message     string `url:"message"`
	AccessToken string `url:"access_token"`
}

// PageInfo fetches the category and name of pageID.
func (c *Client) PageInfo(ctx context.Context, pageID, accessToken string) (*PageInfo, error) {
	q := url.Values{
		"fields":       {"category,name"},
		"access_token": {accessToken},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+pageID+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	var info struct {
		PageInfo
		graphError
	}
	if err := c.do(req, &info); err != nil {
		return nil, err
	}
	return &info.PageInfo, nil
}

// PublishPhoto uploads image bytes as a page photo post with caption.
func (c *Client) PublishPhoto(ctx context.Context, pageID, accessToken, filename string, image []byte, caption string) (*postResponse, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("caption", caption); err != nil {
		return nil, fmt.Errorf("write caption field: %w", err)
	}
	if err := mw.WriteField("access_token", accessToken); err != nil {
		return nil, fmt.Errorf("write token field: %w", err)
	}
	part, err := mw.CreateFormFile("source", filename)
	if err != nil {
		return nil, fmt.Errorf("create file part: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, fmt.Errorf("write file part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+pageID+"/photos", &body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.post(req)
	if err != nil {
		return nil, fmt.Errorf("publish photo: %w", err)
	}
	log.Info().Str("pageId", pageID).Str("photoId", resp.ID).Str("postId", resp.PostID).Msg("Facebook photo published")
	return resp, nil
}

// PublishFeed creates a text-only page post.
func (c *Client) PublishFeed(ctx context.Context, pageID, accessToken, message string) (*postResponse, error) {
	params, err := query.Values(feedParams{Message: message, AccessToken: accessToken})
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+pageID+"/feed",
		strings.NewReader(params.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.post(req)
	if err != nil {
		return nil, fmt.Errorf("publish feed post: %w", err)
	}
	log.Info().Str("pageId", pageID).Str("postId", resp.ID).Msg("Facebook feed post published")
	return resp, nil
}

func (c *Client) post(req *http.Request) (*postResponse, error) {
	var resp postResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	if resp.ID == "" {
		return nil, publish.Errorf(publish.ErrRemote, "unexpected response: no ID returned")
	}
	return &resp, nil
}

// do sends req and decodes a JSON body into out. Graph API errors come back
// with a 4xx status and an error object, so the body is decoded first and
// the status is checked only when no error object was present.
func (c *Client) do(req *http.Request, out graphResponse) error {
	start := time.Now()
	log.Debug().Str("method", req.Method).Str("path", req.URL.Path).Msg("Facebook API request")

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return publish.Errorf(publish.ErrRemote, "request failed: %v", err)
	}
	defer httpResp.Body.Close()
	log.Debug().Int("statusCode", httpResp.StatusCode).Dur("duration", time.Since(start)).Msg("Facebook API response")

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return publish.Errorf(publish.ErrRemote, "read response: %v", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return publish.Errorf(publish.ErrRemote, "parse response (status %d): %v (body: %s)",
			httpResp.StatusCode, err, truncate(string(body), 200))
	}
	if e := out.graphErr(); e != nil {
		return apiError(e)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return publish.Errorf(publish.ErrRemote, "status %d: %s", httpResp.StatusCode, truncate(string(body), 200))
	}
	return nil
}

func apiError(e *apiErr) error {
	log.Error().Str("errorMessage", e.Message).Str("errorType", e.Type).Int("errorCode", e.Code).Msg("Facebook API error")
	class := publish.ErrRemote
	if e.Code == 190 {
		class = publish.ErrAuth
	}
	return publish.Errorf(class, "Facebook API error: %s (type: %s, code: %d)", e.Message, e.Type, e.Code)
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
