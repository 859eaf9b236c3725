package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/social-post-scheduler/internal/notify"
	"github.com/fpang/social-post-scheduler/internal/publish"
	"github.com/fpang/social-post-scheduler/internal/store"
	"github.com/fpang/social-post-scheduler/internal/task"
)

// Outcome is what one ProcessTask call did.
type Outcome string

const (
	OutcomeSkipped        Outcome = "skipped"
	OutcomeNotDue         Outcome = "notDue"
	OutcomeCompleted      Outcome = "completed"
	OutcomeRetried        Outcome = "retried"
	OutcomeFailed         Outcome = "failed"
	OutcomeManualRequired Outcome = "manualRequired"
	OutcomeConflict       Outcome = "conflict"
)

// CycleSummary counts what a cycle did.
type CycleSummary struct {
	CycleID        string        `json:"cycleId"`
	Platform       task.Platform `json:"platform"`
	Overlapped     bool          `json:"overlapped,omitempty"`
	Listed         int           `json:"listed"`
	Due            int           `json:"due"`
	Completed      int           `json:"completed"`
	Retried        int           `json:"retried"`
	Failed         int           `json:"failed"`
	ManualRequired int           `json:"manualRequired"`
	Conflicts      int           `json:"conflicts"`
	Skipped        int           `json:"skipped"`
	Errors         int           `json:"errors"`
	DurationMs     int64         `json:"durationMs"`
}

func (c *CycleSummary) record(o Outcome) {
	switch o {
	case OutcomeCompleted:
		c.Due++
		c.Completed++
	case OutcomeRetried:
		c.Due++
		c.Retried++
	case OutcomeFailed:
		c.Due++
		c.Failed++
	case OutcomeManualRequired:
		c.Due++
		c.ManualRequired++
	case OutcomeConflict:
		c.Conflicts++
	case OutcomeSkipped:
		c.Skipped++
	}
}

// SuccessStatus is the status a platform writes after a successful publish.
func SuccessStatus(p task.Platform) task.Status {
	if p == task.Twitter {
		return task.StatusPosted
	}
	return task.StatusCompleted
}

// execute claims a due task, publishes it, and records the result.
func (s *Scheduler) execute(ctx context.Context, key string, t *task.Task, etag string) (Outcome, error) {
	now := s.clock.Now()
	t.Status = task.StatusProcessing
	t.Attempts++
	t.LastAttemptAt = &now

	// The claim is written before any remote call. Losing the conditional
	// write means another writer touched the record after we read it.
	if err := s.tasks.PutAt(ctx, key, t, etag); err != nil {
		if errors.Is(err, store.ErrConflict) {
			log.Info().Str("taskId", t.ID).Msg("Task changed since it was listed, skipping")
			return OutcomeConflict, nil
		}
		log.Error().Err(err).Str("taskId", t.ID).Msg("Failed to mark task processing")
		return OutcomeSkipped, err
	}

	logger := log.With().
		Str("taskId", t.ID).
		Str("userId", t.UserID).
		Str("platform", string(t.Platform)).
		Int("attempts", t.Attempts).
		Logger()
	logger.Info().Time("scheduledAt", t.ScheduledAt).Msg("Publishing scheduled post")

	start := time.Now()
	result, pubErr := s.safePublish(ctx, t)
	elapsed := time.Since(start)

	// Finish the transition even if shutdown cancelled the publish.
	ctx = context.WithoutCancel(ctx)
	now = s.clock.Now()

	var manual *publish.ManualRequiredError
	var outcome Outcome
	switch {
	case pubErr == nil:
		t.Status = SuccessStatus(t.Platform)
		t.ExternalPostID = result.ExternalPostID
		t.MediaID = result.MediaID
		t.CompletedAt = &now
		t.Error = ""
		outcome = OutcomeCompleted

	case errors.As(pubErr, &manual):
		t.Status = task.StatusManualRequired
		instr := manual.Instructions
		t.ManualInstructions = &instr
		t.Error = ""
		outcome = OutcomeManualRequired

	case t.Attempts >= s.cfg.MaxAttempts:
		t.Status = task.StatusFailed
		t.Error = pubErr.Error()
		t.FailedAt = &now
		outcome = OutcomeFailed

	default:
		t.Status = task.StatusScheduled
		t.Error = pubErr.Error()
		outcome = OutcomeRetried
	}

	if err := s.tasks.PutAt(ctx, key, t, ""); err != nil {
		// The record stays in processing; it is not picked up again
		// automatically.
		logger.Error().Err(err).Str("status", string(t.Status)).Msg("Failed to persist task result")
		return outcome, fmt.Errorf("persist %s: %w", t.ID, err)
	}

	switch outcome {
	case OutcomeCompleted:
		logger.Info().
			Str("externalPostId", t.ExternalPostID).
			Str("mediaId", t.MediaID).
			Dur("elapsed", elapsed).
			Msg("Scheduled post published")
		s.writeAudit(ctx, t, now)
	case OutcomeManualRequired:
		logger.Warn().Str("reason", t.ManualInstructions.Reason).Msg("Scheduled post requires manual posting")
		s.notify(ctx, t, now)
	case OutcomeFailed:
		logger.Error().Err(pubErr).Str("errorClass", publish.Class(pubErr)).Msg("Scheduled post failed permanently")
	case OutcomeRetried:
		logger.Warn().Err(pubErr).Str("errorClass", publish.Class(pubErr)).Msg("Scheduled post failed, will retry next cycle")
	}
	return outcome, nil
}

// safePublish converts a publisher panic into an ordinary failed attempt.
func (s *Scheduler) safePublish(ctx context.Context, t *task.Task) (res *publish.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("taskId", t.ID).Interface("panic", r).Msg("Publisher panicked")
			res, err = nil, fmt.Errorf("publisher panic: %v", r)
		}
	}()
	res, err = s.pub.Publish(ctx, t)
	if err == nil && res == nil {
		err = publish.Errorf(publish.ErrRemote, "publisher returned no result")
	}
	return res, err
}

func (s *Scheduler) writeAudit(ctx context.Context, t *task.Task, now time.Time) {
	if t.ExternalPostID == "" {
		return
	}
	err := s.tasks.PutAudit(ctx, &task.AuditRecord{
		TaskID:         t.ID,
		UserID:         t.UserID,
		Platform:       t.Platform,
		ExternalPostID: t.ExternalPostID,
		MediaID:        t.MediaID,
		Message:        t.Message(),
		ImageKey:       t.Payload.ImageKey,
		PublishedAt:    now,
	})
	if err != nil {
		log.Warn().Err(err).Str("taskId", t.ID).Msg("Failed to write audit record")
	}
}

func (s *Scheduler) notify(ctx context.Context, t *task.Task, now time.Time) {
	err := s.notifier.ManualRequired(ctx, notify.Event{
		TaskID:       t.ID,
		UserID:       t.UserID,
		Platform:     t.Platform,
		Instructions: *t.ManualInstructions,
		OccurredAt:   now,
	})
	if err != nil {
		log.Warn().Err(err).Str("taskId", t.ID).Msg("Manual-required notification failed")
	}
}
