package task

import (
	"fmt"
	"path"
	"strings"
)

const (
	recordSuffix   = ".json"
	credentialFile = "token.json"
)

// TaskPrefix returns the listing prefix for a platform's task records.
//
//	instagram, facebook: scheduled_posts/{platform}/
//	twitter:             TwitterScheduled/
func TaskPrefix(p Platform) string {
	if p == Twitter {
		return p.Title() + "Scheduled/"
	}
	return fmt.Sprintf("scheduled_posts/%s/", p)
}

// TaskKey returns the object key of one task record.
func TaskKey(p Platform, userID, taskID string) string {
	return TaskPrefix(p) + userID + "/" + taskID + recordSuffix
}

// UserPrefix returns the listing prefix for one user's tasks on a platform.
func UserPrefix(p Platform, userID string) string {
	return TaskPrefix(p) + userID + "/"
}

// CredentialKey returns the object key of a user's stored platform token.
func CredentialKey(p Platform, userID string) string {
	return p.Title() + "Tokens/" + userID + "/" + credentialFile
}

// AuditKey returns the object key of a published-post audit record.
func AuditKey(p Platform, userID, externalPostID string) string {
	return p.Title() + "Posts/" + userID + "/" + externalPostID + recordSuffix
}

// IsTaskKey reports whether a listed key is a task record.
func IsTaskKey(key string) bool {
	return strings.HasSuffix(key, recordSuffix) && path.Base(key) != credentialFile
}

// IDFromKey extracts the task ID from a task record key.
func IDFromKey(key string) string {
	return strings.TrimSuffix(path.Base(key), recordSuffix)
}

// MediaKey returns the object key of the task's image. Keys containing a
// path separator are used as-is; bare filenames live under images/{userId}/.
// Returns "" when the task has no image.
func (t *Task) MediaKey() string {
	k := t.Payload.ImageKey
	if k == "" || strings.Contains(k, "/") {
		return k
	}
	return "images/" + t.UserID + "/" + k
}
