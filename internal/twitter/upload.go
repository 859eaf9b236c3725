package twitter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/go-querystring/query"
	"github.com/rs/zerolog/log"

	"github.com/fpang/social-post-scheduler/internal/publish"
)

type initParams struct {
	Command       string `url:"command"`
	TotalBytes    int    `url:"total_bytes"`
	MediaType     string `url:"media_type"`
	MediaCategory string `url:"media_category"`
}

type mediaParams struct {
	Command string `url:"command"`
	MediaID string `url:"media_id"`
}

// mediaResponse is returned by INIT, FINALIZE, and STATUS.
type mediaResponse struct {
	MediaIDString  string          `json:"media_id_string"`
	ProcessingInfo *processingInfo `json:"processing_info,omitempty"`
}

type processingInfo struct {
	State           string `json:"state"` // pending, in_progress, succeeded, failed
	CheckAfterSecs  int    `json:"check_after_secs,omitempty"`
	ProgressPercent int    `json:"progress_percent,omitempty"`
	Error           *struct {
		Code    int    `json:"code"`
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// UploadMedia runs the chunked upload for data and returns the media id.
func (c *Client) UploadMedia(ctx context.Context, accessToken string, data []byte, mediaType string) (string, error) {
	mediaID, err := c.initUpload(ctx, accessToken, len(data), mediaType)
	if err != nil {
		return "", err
	}

	segments := 0
	for offset := 0; offset < len(data); offset += ChunkSize {
		end := min(offset+ChunkSize, len(data))
		if err := c.appendChunk(ctx, accessToken, mediaID, segments, data[offset:end]); err != nil {
			return "", err
		}
		segments++
	}
	log.Debug().Str("mediaId", mediaID).Int("segments", segments).Int("totalBytes", len(data)).Msg("Media chunks uploaded")

	fin, err := c.mediaCommand(ctx, accessToken, http.MethodPost, "FINALIZE", mediaID)
	if err != nil {
		return "", err
	}
	if err := c.awaitProcessing(ctx, accessToken, mediaID, fin.ProcessingInfo); err != nil {
		return "", err
	}

	log.Info().Str("mediaId", mediaID).Int("sizeBytes", len(data)).Str("mediaType", mediaType).Msg("Media upload complete")
	return mediaID, nil
}

func (c *Client) initUpload(ctx context.Context, accessToken string, size int, mediaType string) (string, error) {
	params, err := query.Values(initParams{
		Command:       "INIT",
		TotalBytes:    size,
		MediaType:     mediaType,
		MediaCategory: "tweet_image",
	})
	if err != nil {
		return "", fmt.Errorf("encode INIT params: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.uploadURL, strings.NewReader(params.Encode()))
	if err != nil {
		return "", fmt.Errorf("build INIT request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := c.send(req, accessToken, "INIT")
	if err != nil {
		return "", err
	}
	var resp mediaResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", publish.Errorf(publish.ErrRemote, "INIT: parse response: %v", err)
	}
	if resp.MediaIDString == "" {
		return "", publish.Errorf(publish.ErrRemote, "INIT: no media id returned (body: %s)", truncate(string(body), 200))
	}
	return resp.MediaIDString, nil
}

func (c *Client) appendChunk(ctx context.Context, accessToken, mediaID string, segment int, chunk []byte) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fields := [][2]string{
		{"command", "APPEND"},
		{"media_id", mediaID},
		{"segment_index", strconv.Itoa(segment)},
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return fmt.Errorf("write %s field: %w", f[0], err)
		}
	}
	part, err := mw.CreateFormFile("media", "chunk")
	if err != nil {
		return fmt.Errorf("create media part: %w", err)
	}
	if _, err := part.Write(chunk); err != nil {
		return fmt.Errorf("write media part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.uploadURL, &body)
	if err != nil {
		return fmt.Errorf("build APPEND request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	_, err = c.send(req, accessToken, "APPEND "+strconv.Itoa(segment))
	return err
}

// mediaCommand sends FINALIZE (POST form) or STATUS (GET query).
func (c *Client) mediaCommand(ctx context.Context, accessToken, method, command, mediaID string) (*mediaResponse, error) {
	params, err := query.Values(mediaParams{Command: command, MediaID: mediaID})
	if err != nil {
		return nil, fmt.Errorf("encode %s params: %w", command, err)
	}

	var req *http.Request
	if method == http.MethodGet {
		req, err = http.NewRequestWithContext(ctx, method, c.uploadURL+"?"+params.Encode(), nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.uploadURL, strings.NewReader(params.Encode()))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", command, err)
	}

	body, err := c.send(req, accessToken, command)
	if err != nil {
		return nil, err
	}
	var resp mediaResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, publish.Errorf(publish.ErrRemote, "%s: parse response: %v", command, err)
	}
	return &resp, nil
}

// awaitProcessing polls STATUS every statusInterval, at most statusAttempts
// times, until processing succeeds. No processing info means the media is
// ready.
func (c *Client) awaitProcessing(ctx context.Context, accessToken, mediaID string, info *processingInfo) error {
	for attempt := 0; info != nil; attempt++ {
		switch info.State {
		case "succeeded":
			return nil
		case "failed":
			msg := "unknown error"
			if info.Error != nil {
				msg = info.Error.Message
			}
			return publish.Errorf(publish.ErrMediaProcessing, "media %s: %s", mediaID, msg)
		}
		if attempt >= statusAttempts {
			return publish.Errorf(publish.ErrMediaProcessing, "media %s: still %s after %d status checks",
				mediaID, info.State, statusAttempts)
		}

		log.Debug().Str("mediaId", mediaID).Str("state", info.State).Int("progress", info.ProgressPercent).Msg("Media still processing")
		if err := c.sleep(ctx, statusInterval); err != nil {
			return err
		}
		st, err := c.mediaCommand(ctx, accessToken, http.MethodGet, "STATUS", mediaID)
		if err != nil {
			return err
		}
		info = st.ProcessingInfo
	}
	return nil
}
