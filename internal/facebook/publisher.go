package facebook

import (
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/rs/zerolog/log"

	"github.com/fpang/social-post-scheduler/internal/blobstore"
	"github.com/fpang/social-post-scheduler/internal/publish"
	"github.com/fpang/social-post-scheduler/internal/store"
	"github.com/fpang/social-post-scheduler/internal/task"
)

const notBusinessReason = "Facebook only allows automated posting to business pages. " +
	"Convert the page to a business page or post manually."

// Publisher publishes Facebook tasks to the user's page.
type Publisher struct {
	client *Client
	creds  *store.CredentialStore
	media  blobstore.Store
}

var _ publish.Publisher = (*Publisher)(nil)

// NewPublisher creates a Facebook publisher. media holds uploaded images.
func NewPublisher(client *Client, creds *store.CredentialStore, media blobstore.Store) *Publisher {
	return &Publisher{client: client, creds: creds, media: media}
}

func (p *Publisher) Platform() task.Platform { return task.Facebook }

// Publish posts to a business page, or returns a *publish.ManualRequiredError
// when the target is not one. The page lookup runs before any publish call.
func (p *Publisher) Publish(ctx context.Context, t *task.Task) (*publish.Result, error) {
	cred, err := p.creds.Get(ctx, task.Facebook, t.UserID)
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}
	if cred == nil {
		return nil, publish.Errorf(publish.ErrNotFound, "no Facebook credential for user %s", t.UserID)
	}
	pageID := cred.PageID
	if pageID == "" {
		pageID = "me"
	}

	if !p.isBusinessPage(ctx, pageID, cred.AccessToken) {
		return nil, &publish.ManualRequiredError{Instructions: task.ManualInstructions{
			Caption:       t.Payload.Caption,
			ImageKey:      t.Payload.ImageKey,
			ManualPostURL: "https://www.facebook.com/" + pageID,
			Reason:        notBusinessReason,
		}}
	}

	var resp *postResponse
	if mediaKey := t.MediaKey(); mediaKey != "" {
		obj, err := p.media.Get(ctx, mediaKey)
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, publish.Errorf(publish.ErrNotFound, "image %s not found", mediaKey)
		}
		if err != nil {
			return nil, fmt.Errorf("fetch image: %w", err)
		}
		resp, err = p.client.PublishPhoto(ctx, pageID, cred.AccessToken, path.Base(mediaKey), obj.Data, t.Payload.Caption)
		if err != nil {
			return nil, err
		}
		postID := resp.PostID
		if postID == "" {
			postID = resp.ID
		}
		return &publish.Result{ExternalPostID: postID, MediaID: resp.ID}, nil
	}

	resp, err = p.client.PublishFeed(ctx, pageID, cred.AccessToken, t.Payload.Caption)
	if err != nil {
		return nil, err
	}
	return &publish.Result{ExternalPostID: resp.ID}, nil
}

// isBusinessPage reports whether pageID answers the lookup with a category.
// Any lookup failure counts as not a business page.
func (p *Publisher) isBusinessPage(ctx context.Context, pageID, accessToken string) bool {
	info, err := p.client.PageInfo(ctx, pageID, accessToken)
	if err != nil {
		log.Info().Err(err).Str("pageId", pageID).Msg("Page lookup failed, treating as personal profile")
		return false
	}
	if info.Category == "" {
		log.Info().Str("pageId", pageID).Msg("Page has no category, treating as personal profile")
		return false
	}
	log.Debug().Str("pageId", pageID).Str("category", info.Category).Str("name", info.Name).Msg("Business page detected")
	return true
}
