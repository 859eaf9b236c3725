// Long-lived token refresh for Instagram Business Login.
//
// Long-lived tokens are valid for 60 days and can be refreshed once they
// are at least 24 hours old. Each refresh returns a new 60-day token.
// See: https://developers.facebook.com/docs/instagram-platform/reference/refresh_access_token

package instagram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/go-querystring/query"
	"github.com/rs/zerolog/log"

	"github.com/fpang/social-post-scheduler/internal/publish"
)

// LongLivedTokenResult holds a refreshed long-lived access token.
type LongLivedTokenResult struct {
	AccessToken string // Long-lived token (60 days)
	ExpiresIn   int64  // Seconds until expiry (typically 5184000 = 60 days)
}

// longTokenResponse is the JSON response from the refresh endpoint.
type longTokenResponse struct {
	AccessToken string  `json:"access_token"`
	TokenType   string  `json:"token_type"`
	ExpiresIn   int64   `json:"expires_in"`
	Error       *apiErr `json:"error,omitempty"`
}

type refreshParams struct {
	GrantType   string `url:"grant_type"`
	AccessToken string `url:"access_token"`
}

// RefreshLongLivedToken exchanges a valid long-lived token for a new one.
//
// Endpoint: GET https://graph.instagram.com/refresh_access_token
//
//	?grant_type=ig_refresh_token
//	&access_token={long_lived_token}
func (c *Client) RefreshLongLivedToken(ctx context.Context, accessToken string) (*LongLivedTokenResult, error) {
	params, err := query.Values(refreshParams{GrantType: "ig_refresh_token", AccessToken: accessToken})
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}

	log.Debug().Msg("Refreshing long-lived Instagram token")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.refreshURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, publish.Errorf(publish.ErrAuth, "token refresh request: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, publish.Errorf(publish.ErrAuth, "read response: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, publish.Errorf(publish.ErrAuth, "token refresh failed (status %d): %s",
			resp.StatusCode, truncate(string(body), 300))
	}

	var result longTokenResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, publish.Errorf(publish.ErrAuth, "parse response: %v", err)
	}
	if result.Error != nil {
		return nil, publish.Errorf(publish.ErrAuth, "token refresh failed: %s (code %d)", result.Error.Message, result.Error.Code)
	}
	if result.AccessToken == "" {
		return nil, publish.Errorf(publish.ErrAuth, "no access token in response: %s", truncate(string(body), 300))
	}

	days := result.ExpiresIn / 86400
	log.Info().Int64("expiresInDays", days).Msg("Long-lived token refreshed")

	return &LongLivedTokenResult{
		AccessToken: result.AccessToken,
		ExpiresIn:   result.ExpiresIn,
	}, nil
}
