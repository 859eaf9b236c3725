package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/social-post-scheduler/internal/blobstore"
	"github.com/fpang/social-post-scheduler/internal/task"
)

// Credential is a user's stored OAuth token for one platform. It is created
// by the connection flow and rewritten by the publishers when refreshed.
type Credential struct {
	AccessToken  string     `json:"accessToken"`
	RefreshToken string     `json:"refreshToken,omitempty"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`

	// PlatformUserID is the Instagram Graph user id.
	PlatformUserID string `json:"platformUserId,omitempty"`
	// PageID is the Facebook page the user publishes to.
	PageID string `json:"pageId,omitempty"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// Expired reports whether the access token has expired at now.
// A credential without an expiry never expires.
func (c *Credential) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !c.ExpiresAt.After(now)
}

// ExpiresWithin reports whether the token expires within d of now.
func (c *Credential) ExpiresWithin(now time.Time, d time.Duration) bool {
	return c.ExpiresAt != nil && c.ExpiresAt.Sub(now) <= d
}

// CredentialStore reads and writes per-user, per-platform credentials.
type CredentialStore struct {
	blobs blobstore.Store
}

// NewCredentialStore creates a CredentialStore over blobs.
func NewCredentialStore(blobs blobstore.Store) *CredentialStore {
	return &CredentialStore{blobs: blobs}
}

// Get returns the stored credential, or nil, nil if the user has not connected.
func (s *CredentialStore) Get(ctx context.Context, p task.Platform, userID string) (*Credential, error) {
	key := task.CredentialKey(p, userID)
	obj, err := s.blobs.Get(ctx, key)
	if errors.Is(err, blobstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read credential: %w", err)
	}
	var c Credential
	if err := json.Unmarshal(obj.Data, &c); err != nil {
		return nil, fmt.Errorf("parse credential %s: %w", key, err)
	}
	return &c, nil
}

// Put overwrites the stored credential.
func (s *CredentialStore) Put(ctx context.Context, p task.Platform, userID string, c *Credential) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}
	if err := s.blobs.Put(ctx, task.CredentialKey(p, userID), data, blobstore.ContentType(jsonContentType)); err != nil {
		return fmt.Errorf("write credential: %w", err)
	}
	log.Debug().Str("userId", userID).Str("platform", string(p)).Msg("Credential stored")
	return nil
}

// Delete removes the stored credential (disconnect). A missing credential is not an error.
func (s *CredentialStore) Delete(ctx context.Context, p task.Platform, userID string) error {
	err := s.blobs.Delete(ctx, task.CredentialKey(p, userID))
	if err != nil && !errors.Is(err, blobstore.ErrNotFound) {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}
