package twitter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/fpang/social-post-scheduler/internal/publish"
)

type tweetRequest struct {
	Text  string      `json:"text"`
	Media *tweetMedia `json:"media,omitempty"`
}

type tweetMedia struct {
	MediaIDs []string `json:"media_ids"`
}

type tweetResponse struct {
	Data *struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data,omitempty"`
	Errors []struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
	} `json:"errors,omitempty"`
}

// CreateTweet posts text, with mediaID attached when non-empty, and returns
// the tweet id.
func (c *Client) CreateTweet(ctx context.Context, accessToken, text, mediaID string) (string, error) {
	payload := tweetRequest{Text: text}
	if mediaID != "" {
		payload.Media = &tweetMedia{MediaIDs: []string{mediaID}}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode tweet: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/2/tweets", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("build tweet request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := c.send(req, accessToken, "tweet")
	if err != nil {
		return "", err
	}

	var resp tweetResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", publish.Errorf(publish.ErrRemote, "tweet: parse response: %v", err)
	}
	if resp.Data == nil || resp.Data.ID == "" {
		if len(resp.Errors) > 0 {
			return "", publish.Errorf(publish.ErrRemote, "tweet: %s: %s", resp.Errors[0].Title, resp.Errors[0].Detail)
		}
		return "", publish.Errorf(publish.ErrRemote, "tweet: no id returned (body: %s)", truncate(string(body), 200))
	}

	log.Info().Str("tweetId", resp.Data.ID).Bool("hasMedia", mediaID != "").Msg("Tweet created")
	return resp.Data.ID, nil
}
