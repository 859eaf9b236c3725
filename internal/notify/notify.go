// Package notify delivers real-time notifications to task owners. The
// scheduler uses it when a post needs to be finished by hand.
package notify

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/social-post-scheduler/internal/task"
)

// Event describes a task that moved to manual_required.
type Event struct {
	TaskID       string                  `json:"taskId"`
	UserID       string                  `json:"userId"`
	Platform     task.Platform           `json:"platform"`
	Instructions task.ManualInstructions `json:"instructions"`
	OccurredAt   time.Time               `json:"occurredAt"`
}

// Notifier delivers manual-required events. Errors never affect task state.
type Notifier interface {
	ManualRequired(ctx context.Context, ev Event) error
}

// LogNotifier writes events to the log. Used when no event bus is configured.
type LogNotifier struct{}

func (LogNotifier) ManualRequired(_ context.Context, ev Event) error {
	log.Warn().
		Str("taskId", ev.TaskID).
		Str("userId", ev.UserID).
		Str("platform", string(ev.Platform)).
		Str("manualPostUrl", ev.Instructions.ManualPostURL).
		Str("reason", ev.Instructions.Reason).
		Msg("Manual posting required")
	return nil
}
