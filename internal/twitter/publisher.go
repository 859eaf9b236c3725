package twitter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/social-post-scheduler/internal/blobstore"
	"github.com/fpang/social-post-scheduler/internal/publish"
	"github.com/fpang/social-post-scheduler/internal/store"
	"github.com/fpang/social-post-scheduler/internal/task"
)

// Publisher publishes Twitter tasks as tweets.
type Publisher struct {
	client *Client
	creds  *store.CredentialStore
	media  blobstore.Store
	now    func() time.Time
}

var _ publish.Publisher = (*Publisher)(nil)

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithNow sets the clock used for token expiry checks.
func WithNow(now func() time.Time) PublisherOption {
	return func(p *Publisher) { p.now = now }
}

// NewPublisher creates a Twitter publisher. media holds uploaded images.
func NewPublisher(client *Client, creds *store.CredentialStore, media blobstore.Store, opts ...PublisherOption) *Publisher {
	p := &Publisher{client: client, creds: creds, media: media, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Publisher) Platform() task.Platform { return task.Twitter }

// Publish refreshes the token if needed, uploads the image if any, and
// creates the tweet.
func (p *Publisher) Publish(ctx context.Context, t *task.Task) (*publish.Result, error) {
	token, err := p.accessToken(ctx, t.UserID)
	if err != nil {
		return nil, err
	}

	var mediaID string
	if mediaKey := t.MediaKey(); mediaKey != "" {
		obj, err := p.media.Get(ctx, mediaKey)
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, publish.Errorf(publish.ErrNotFound, "image %s not found", mediaKey)
		}
		if err != nil {
			return nil, fmt.Errorf("fetch image: %w", err)
		}
		if len(obj.Data) == 0 {
			return nil, publish.Errorf(publish.ErrNotFound, "image %s is empty", mediaKey)
		}
		mediaID, err = p.client.UploadMedia(ctx, token, obj.Data, http.DetectContentType(obj.Data))
		if err != nil {
			return nil, err
		}
	}

	tweetID, err := p.client.CreateTweet(ctx, token, t.Message(), mediaID)
	if err != nil {
		return nil, err
	}
	return &publish.Result{ExternalPostID: tweetID, MediaID: mediaID}, nil
}

// accessToken returns the stored token, refreshing and persisting it first
// when it has expired.
func (p *Publisher) accessToken(ctx context.Context, userID string) (string, error) {
	cred, err := p.creds.Get(ctx, task.Twitter, userID)
	if err != nil {
		return "", fmt.Errorf("load credential: %w", err)
	}
	if cred == nil {
		return "", publish.Errorf(publish.ErrNotFound, "no Twitter credential for user %s", userID)
	}

	now := p.now()
	if !cred.Expired(now) {
		return cred.AccessToken, nil
	}
	if cred.RefreshToken == "" {
		return "", publish.Errorf(publish.ErrAuth, "Twitter token for user %s expired and no refresh token is stored", userID)
	}

	log.Debug().Str("userId", userID).Time("expiredAt", *cred.ExpiresAt).Msg("Refreshing Twitter token")
	refreshed, err := p.client.Refresh(ctx, cred.RefreshToken)
	if err != nil {
		return "", err
	}

	// No expiry in the response means the token does not expire.
	var expiresAt *time.Time
	switch {
	case refreshed.ExpiresIn > 0:
		at := now.Add(refreshed.ExpiresIn)
		expiresAt = &at
	case !refreshed.Expiry.IsZero():
		at := refreshed.Expiry
		expiresAt = &at
	}
	updated := *cred
	updated.AccessToken = refreshed.AccessToken
	updated.RefreshToken = refreshed.RefreshToken
	updated.ExpiresAt = expiresAt
	updated.UpdatedAt = now
	if err := p.creds.Put(ctx, task.Twitter, userID, &updated); err != nil {
		return "", fmt.Errorf("persist refreshed token: %w", err)
	}
	evt := log.Info().Str("userId", userID)
	if expiresAt != nil {
		evt = evt.Time("expiresAt", *expiresAt)
	}
	evt.Msg("Twitter token refreshed")
	return refreshed.AccessToken, nil
}
