package task

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ErrValidation marks input rejected at creation time. Such tasks never
// reach the store.
var ErrValidation = errors.New("validation error")

// MaxTweetLength is the tweet text limit in characters.
const MaxTweetLength = 280

// MaxHorizon is how far ahead a task may be scheduled, per platform.
var MaxHorizon = map[Platform]time.Duration{
	Instagram: 75 * 24 * time.Hour,
	Facebook:  75 * 24 * time.Hour,
	Twitter:   365 * 24 * time.Hour,
}

// NewRequest is the caller-supplied part of a task.
type NewRequest struct {
	UserID      string
	Platform    Platform
	Payload     Payload
	ScheduledAt time.Time
}

// New validates req against now and returns a fresh scheduled task.
func New(req NewRequest, now time.Time) (*Task, error) {
	if err := Validate(req, now); err != nil {
		return nil, err
	}
	return &Task{
		ID:          uuid.NewString(),
		UserID:      req.UserID,
		Platform:    req.Platform,
		Payload:     req.Payload,
		ScheduledAt: req.ScheduledAt.UTC(),
		Status:      StatusScheduled,
		CreatedAt:   now.UTC(),
	}, nil
}

// Validate checks a creation request. Errors wrap ErrValidation.
func Validate(req NewRequest, now time.Time) error {
	if strings.TrimSpace(req.UserID) == "" {
		return invalid("userId is required")
	}
	if strings.ContainsAny(req.UserID, "/\\") {
		return invalid("userId contains invalid characters")
	}
	horizon, ok := MaxHorizon[req.Platform]
	if !ok {
		return invalid("unknown platform %q", req.Platform)
	}

	switch req.Platform {
	case Twitter:
		text := req.Payload.Text
		if text == "" {
			text = req.Payload.Caption
		}
		if strings.TrimSpace(text) == "" {
			return invalid("text is required")
		}
		if n := utf8.RuneCountInString(text); n > MaxTweetLength {
			return invalid("text is %d characters, limit is %d", n, MaxTweetLength)
		}
	default:
		if strings.TrimSpace(req.Payload.Caption) == "" {
			return invalid("caption is required")
		}
	}

	if req.Platform == Instagram && req.Payload.ImageKey == "" {
		return invalid("imageKey is required for instagram posts")
	}
	if k := req.Payload.ImageKey; k != "" {
		if strings.Contains(k, "..") || strings.HasPrefix(k, "/") || strings.Contains(k, "\\") {
			return invalid("invalid imageKey")
		}
	}

	if req.ScheduledAt.IsZero() {
		return invalid("scheduledAt is required")
	}
	if !req.ScheduledAt.After(now) {
		return invalid("scheduledAt must be in the future")
	}
	if req.ScheduledAt.Sub(now) > horizon {
		return invalid("scheduledAt is more than %d days ahead", int(horizon.Hours()/24))
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
