package instagram

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/social-post-scheduler/internal/blobstore"
	"github.com/fpang/social-post-scheduler/internal/publish"
	"github.com/fpang/social-post-scheduler/internal/store"
	"github.com/fpang/social-post-scheduler/internal/task"
)

const (
	// presignTTL is how long Instagram may take to fetch the image.
	presignTTL = 15 * time.Minute

	// refreshWindow is how close to expiry a long-lived token gets refreshed.
	refreshWindow = 7 * 24 * time.Hour
)

// Publisher publishes Instagram tasks as single-image posts.
type Publisher struct {
	client    *Client
	creds     *store.CredentialStore
	media     blobstore.Store
	presigner blobstore.Presigner
	now       func() time.Time
}

var _ publish.Publisher = (*Publisher)(nil)

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithNow sets the clock used for token expiry checks.
func WithNow(now func() time.Time) PublisherOption {
	return func(p *Publisher) { p.now = now }
}

// NewPublisher creates an Instagram publisher. media holds the uploaded
// images and presigner signs URLs for the same bucket.
func NewPublisher(client *Client, creds *store.CredentialStore, media blobstore.Store, presigner blobstore.Presigner, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		client:    client,
		creds:     creds,
		media:     media,
		presigner: presigner,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Publisher) Platform() task.Platform { return task.Instagram }

// Publish runs the create-container then publish-container flow.
// Any failing step aborts the attempt.
func (p *Publisher) Publish(ctx context.Context, t *task.Task) (*publish.Result, error) {
	if t.Payload.ImageKey == "" {
		return nil, publish.Errorf(publish.ErrValidation, "instagram posts require an image")
	}

	cred, err := p.creds.Get(ctx, task.Instagram, t.UserID)
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}
	if cred == nil {
		return nil, publish.Errorf(publish.ErrNotFound, "no Instagram credential for user %s", t.UserID)
	}
	if cred.PlatformUserID == "" {
		return nil, publish.Errorf(publish.ErrAuth, "Instagram credential for user %s has no account id", t.UserID)
	}

	token, err := p.accessToken(ctx, t.UserID, cred)
	if err != nil {
		return nil, err
	}

	mediaKey := t.MediaKey()
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
	log.Debug().Str("key", mediaKey).Int("sizeBytes", len(obj.Data)).Msg("Image fetched for Instagram post")

	imageURL, err := p.presigner.PresignGet(ctx, mediaKey, presignTTL)
	if err != nil {
		return nil, fmt.Errorf("presign image: %w", err)
	}

	containerID, err := p.client.CreateImagePost(ctx, cred.PlatformUserID, token, imageURL, t.Payload.Caption)
	if err != nil {
		return nil, err
	}
	postID, err := p.client.PublishContainer(ctx, cred.PlatformUserID, token, containerID)
	if err != nil {
		return nil, err
	}

	return &publish.Result{ExternalPostID: postID, MediaID: containerID}, nil
}

// accessToken returns a usable token, refreshing it when it is close to
// expiry. A failed refresh falls back to the current token while it is
// still valid.
func (p *Publisher) accessToken(ctx context.Context, userID string, cred *store.Credential) (string, error) {
	now := p.now()
	if cred.Expired(now) {
		return "", publish.Errorf(publish.ErrAuth, "Instagram token for user %s expired at %s; reconnect required",
			userID, cred.ExpiresAt.Format(time.RFC3339))
	}
	if !cred.ExpiresWithin(now, refreshWindow) {
		return cred.AccessToken, nil
	}

	refreshed, err := p.client.RefreshLongLivedToken(ctx, cred.AccessToken)
	if err != nil {
		log.Warn().Err(err).Str("userId", userID).Msg("Instagram token refresh failed, using current token")
		return cred.AccessToken, nil
	}

	// No expires_in means the token does not expire.
	var expiresAt *time.Time
	if refreshed.ExpiresIn > 0 {
		at := now.Add(time.Duration(refreshed.ExpiresIn) * time.Second)
		expiresAt = &at
	}
	updated := *cred
	updated.AccessToken = refreshed.AccessToken
	updated.ExpiresAt = expiresAt
	updated.UpdatedAt = now
	if err := p.creds.Put(ctx, task.Instagram, userID, &updated); err != nil {
		log.Warn().Err(err).Str("userId", userID).Msg("Failed to persist refreshed Instagram token")
	} else {
		log.Info().Str("userId", userID).Bool("expires", expiresAt != nil).Msg("Instagram token refreshed")
	}
	return refreshed.AccessToken, nil
}
