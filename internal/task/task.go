// Package task defines the ScheduledTask record shared by the scheduler,
// the platform publishers, and the control API.
//
// Each task is one JSON blob in the object store. The scheduler owns the
// status, attempts, and timestamp fields; the API layer owns payload and
// scheduledAt at creation time and owns deletion.
package task

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Platform identifies the social network a task publishes to.
type Platform string

const (
	Instagram Platform = "instagram"
	Facebook  Platform = "facebook"
	Twitter   Platform = "twitter"
)

// Platforms lists every supported platform in scheduler start order.
var Platforms = []Platform{Instagram, Facebook, Twitter}

// ParsePlatform returns the Platform for s (case-insensitive). "x" is accepted for Twitter.
func ParsePlatform(s string) (Platform, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "instagram", "ig":
		return Instagram, nil
	case "facebook", "fb":
		return Facebook, nil
	case "twitter", "x":
		return Twitter, nil
	}
	return "", fmt.Errorf("unknown platform %q", s)
}

// Title returns the capitalized platform name used in object key prefixes
// (e.g. "Twitter" in "TwitterTokens/").
func (p Platform) Title() string {
	switch p {
	case Instagram:
		return "Instagram"
	case Facebook:
		return "Facebook"
	case Twitter:
		return "Twitter"
	}
	return string(p)
}

// Status is the lifecycle state of a task.
type Status string

const (
	StatusScheduled      Status = "scheduled"
	StatusPending        Status = "pending" // legacy alias of scheduled
	StatusProcessing     Status = "processing"
	StatusCompleted      Status = "completed"
	StatusPosted         Status = "posted"
	StatusFailed         Status = "failed"
	StatusManualRequired Status = "manual_required"
)

// IsTerminal reports whether the poller must leave a task in this status alone.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusPosted, StatusFailed, StatusManualRequired:
		return true
	}
	return false
}

// IsDueStatus reports whether a task in this status may be picked up once due.
func (s Status) IsDueStatus() bool {
	return s == StatusScheduled || s == StatusPending
}

// Payload is the platform-specific content of a task.
type Payload struct {
	Caption  string `json:"caption,omitempty"`
	Text     string `json:"text,omitempty"`
	ImageKey string `json:"imageKey,omitempty"`
}

// UnmarshalJSON accepts both "imageKey" and the older "image_key" spelling.
func (p *Payload) UnmarshalJSON(data []byte) error {
	var raw struct {
		Caption     string `json:"caption"`
		Text        string `json:"text"`
		ImageKey    string `json:"imageKey"`
		ImageKeyOld string `json:"image_key"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.Caption = raw.Caption
	p.Text = raw.Text
	p.ImageKey = raw.ImageKey
	if p.ImageKey == "" {
		p.ImageKey = raw.ImageKeyOld
	}
	return nil
}

// ManualInstructions tell the owner how to finish a post by hand when
// automated publishing is not possible.
type ManualInstructions struct {
	Caption       string `json:"caption"`
	ImageKey      string `json:"imageKey,omitempty"`
	ManualPostURL string `json:"manualPostUrl"`
	Reason        string `json:"reason"`
}

// Task is one unit of deferred publish work.
type Task struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Platform    Platform  `json:"platform"`
	Payload     Payload   `json:"payload"`
	ScheduledAt time.Time `json:"scheduledAt"`
	Status      Status    `json:"status"`
	Attempts    int       `json:"attempts"`

	CreatedAt     time.Time  `json:"createdAt"`
	LastAttemptAt *time.Time `json:"lastAttemptAt,omitempty"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
	FailedAt      *time.Time `json:"failedAt,omitempty"`

	Error          string `json:"error,omitempty"`
	ExternalPostID string `json:"externalPostId,omitempty"`
	MediaID        string `json:"mediaId,omitempty"`

	ManualInstructions *ManualInstructions `json:"manual_instructions,omitempty"`
}

// Message returns the post body: tweet text for Twitter, caption elsewhere.
// Either field is accepted as a fallback for the other.
func (t *Task) Message() string {
	if t.Platform == Twitter && t.Payload.Text != "" {
		return t.Payload.Text
	}
	if t.Payload.Caption != "" {
		return t.Payload.Caption
	}
	return t.Payload.Text
}

// IsDue reports whether the task should be executed at now.
func (t *Task) IsDue(now time.Time) bool {
	return t.Status.IsDueStatus() && !t.ScheduledAt.After(now)
}

// Decode parses a task record.
func Decode(data []byte) (*Task, error) {
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse task: %w", err)
	}
	if t.ID == "" {
		return nil, fmt.Errorf("parse task: missing id")
	}
	return &t, nil
}

// Encode serializes a task record.
func (t *Task) Encode() ([]byte, error) {
	return json.Marshal(t)
}

// AuditRecord is the secondary "published post" record written on success.
type AuditRecord struct {
	TaskID         string    `json:"taskId"`
	UserID         string    `json:"userId"`
	Platform       Platform  `json:"platform"`
	ExternalPostID string    `json:"externalPostId"`
	MediaID        string    `json:"mediaId,omitempty"`
	Message        string    `json:"message"`
	ImageKey       string    `json:"imageKey,omitempty"`
	PublishedAt    time.Time `json:"publishedAt"`
}
