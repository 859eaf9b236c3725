// Package store provides the task and credential repositories the
// scheduler runs on. Both are thin layers over a blobstore.Store: one JSON
// object per task, one per (platform, user) credential.
//
// Get methods return nil when the requested record does not exist.
// Put methods perform full-object replacement.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/fpang/social-post-scheduler/internal/blobstore"
	"github.com/fpang/social-post-scheduler/internal/task"
)

const jsonContentType = "application/json"

// ErrConflict is returned by TaskStore.Put when the record changed since it
// was read.
var ErrConflict = errors.New("task record changed concurrently")

// TaskStore reads and writes ScheduledTask records.
type TaskStore struct {
	blobs blobstore.Store
}

// NewTaskStore creates a TaskStore over blobs.
func NewTaskStore(blobs blobstore.Store) *TaskStore {
	return &TaskStore{blobs: blobs}
}

// Blobs returns the underlying object store.
func (s *TaskStore) Blobs() blobstore.Store { return s.blobs }

// ListKeys returns every task record key under the platform prefix, read
// pageSize keys at a time. Non-task keys (directory markers, credential
// files) are filtered out.
func (s *TaskStore) ListKeys(ctx context.Context, p task.Platform, pageSize int) ([]string, error) {
	return s.listTaskKeys(ctx, task.TaskPrefix(p), pageSize)
}

func (s *TaskStore) listTaskKeys(ctx context.Context, prefix string, pageSize int) ([]string, error) {
	keys, err := s.blobs.List(ctx, prefix, pageSize)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	out := keys[:0]
	for _, k := range keys {
		if task.IsTaskKey(k) {
			out = append(out, k)
		}
	}
	return out, nil
}

// Get reads one task record and its ETag. Returns nil, "", nil if the key
// does not exist.
func (s *TaskStore) Get(ctx context.Context, key string) (*task.Task, string, error) {
	obj, err := s.blobs.Get(ctx, key)
	if errors.Is(err, blobstore.ErrNotFound) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", err
	}
	t, err := task.Decode(obj.Data)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", key, err)
	}
	return t, obj.ETag, nil
}

// Put overwrites the task record at its canonical key. A non-empty ifMatch
// makes the write conditional; a lost race returns ErrConflict.
func (s *TaskStore) Put(ctx context.Context, t *task.Task, ifMatch string) error {
	return s.PutAt(ctx, task.TaskKey(t.Platform, t.UserID, t.ID), t, ifMatch)
}

// PutAt is Put against an explicit key, for records read from a listing
// whose key may not match the canonical layout.
func (s *TaskStore) PutAt(ctx context.Context, key string, t *task.Task, ifMatch string) error {
	data, err := t.Encode()
	if err != nil {
		return fmt.Errorf("encode task %s: %w", t.ID, err)
	}
	err = s.blobs.Put(ctx, key, data, blobstore.IfMatch(ifMatch), blobstore.ContentType(jsonContentType))
	if errors.Is(err, blobstore.ErrPreconditionFailed) {
		return fmt.Errorf("%s: %w", key, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("write task %s: %w", t.ID, err)
	}
	return nil
}

// Create writes a new task record.
func (s *TaskStore) Create(ctx context.Context, t *task.Task) error {
	if err := s.Put(ctx, t, ""); err != nil {
		return err
	}
	log.Info().
		Str("taskId", t.ID).
		Str("userId", t.UserID).
		Str("platform", string(t.Platform)).
		Time("scheduledAt", t.ScheduledAt).
		Msg("Scheduled task created")
	return nil
}

// Delete removes a task record. Returns blobstore.ErrNotFound if absent.
func (s *TaskStore) Delete(ctx context.Context, p task.Platform, userID, taskID string) error {
	key := task.TaskKey(p, userID, taskID)
	if err := s.blobs.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	log.Info().Str("taskId", taskID).Str("userId", userID).Str("platform", string(p)).Msg("Scheduled task deleted")
	return nil
}

// ListUser returns every readable task a user has on a platform, in
// listing order. Unreadable records are logged and skipped.
func (s *TaskStore) ListUser(ctx context.Context, p task.Platform, userID string) ([]*task.Task, error) {
	keys, err := s.listTaskKeys(ctx, task.UserPrefix(p, userID), 0)
	if err != nil {
		return nil, err
	}
	tasks := make([]*task.Task, 0, len(keys))
	for _, k := range keys {
		t, _, err := s.Get(ctx, k)
		if err != nil {
			log.Warn().Err(err).Str("key", k).Msg("Skipping unreadable task record")
			continue
		}
		if t != nil {
			tasks = append(tasks, t)
		}
	}
	return tasks, nil
}

// Record is a task together with the key and ETag it was read at.
type Record struct {
	Key  string
	ETag string
	Task *task.Task
}

// FindByID scans the platform prefix for a task with the given ID.
// Returns nil, nil when no such task exists.
func (s *TaskStore) FindByID(ctx context.Context, p task.Platform, taskID string) (*Record, error) {
	keys, err := s.ListKeys(ctx, p, 0)
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		if task.IDFromKey(k) != taskID {
			continue
		}
		t, etag, err := s.Get(ctx, k)
		if err != nil || t == nil {
			return nil, err
		}
		return &Record{Key: k, ETag: etag, Task: t}, nil
	}
	return nil, nil
}

// PutAudit writes the published-post audit record.
func (s *TaskStore) PutAudit(ctx context.Context, rec *task.AuditRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode audit record: %w", err)
	}
	key := task.AuditKey(rec.Platform, rec.UserID, rec.ExternalPostID)
	if err := s.blobs.Put(ctx, key, data, blobstore.ContentType(jsonContentType)); err != nil {
		return fmt.Errorf("write audit record: %w", err)
	}
	return nil
}
