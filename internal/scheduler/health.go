package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/social-post-scheduler/internal/task"
)

// HealthItem is the per-task view returned by Health.
type HealthItem struct {
	ID             string      `json:"id"`
	UserID         string      `json:"userId"`
	Status         task.Status `json:"status"`
	ScheduledAt    time.Time   `json:"scheduledAt"`
	Attempts       int         `json:"attempts"`
	Error          string      `json:"error,omitempty"`
	ExternalPostID string      `json:"externalPostId,omitempty"`
}

// HealthCounts holds bucket sizes.
type HealthCounts struct {
	Scheduled      int `json:"scheduled"`
	Processing     int `json:"processing"`
	Completed      int `json:"completed"`
	Failed         int `json:"failed"`
	Overdue        int `json:"overdue"`
	ManualRequired int `json:"manualRequired"`
}

// HealthItems holds bucket contents. Overdue tasks also appear in Scheduled.
type HealthItems struct {
	Scheduled      []HealthItem `json:"scheduled"`
	Processing     []HealthItem `json:"processing"`
	Completed      []HealthItem `json:"completed"`
	Failed         []HealthItem `json:"failed"`
	Overdue        []HealthItem `json:"overdue"`
	ManualRequired []HealthItem `json:"manualRequired"`
}

// Health is a point-in-time aggregation of a platform's tasks.
type Health struct {
	Platform   task.Platform `json:"platform"`
	CheckedAt  time.Time     `json:"checkedAt"`
	Counts     HealthCounts  `json:"counts"`
	Items      HealthItems   `json:"items"`
	Unreadable int           `json:"unreadable,omitempty"`
}

// Health lists every task for the platform and buckets it by status.
// Tasks stuck in processing show up in the processing bucket.
func (s *Scheduler) Health(ctx context.Context) (*Health, error) {
	keys, err := s.tasks.ListKeys(ctx, s.cfg.Platform, s.cfg.ListPageSize)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	h := &Health{
		Platform:  s.cfg.Platform,
		CheckedAt: now,
		Items: HealthItems{
			Scheduled:      []HealthItem{},
			Processing:     []HealthItem{},
			Completed:      []HealthItem{},
			Failed:         []HealthItem{},
			Overdue:        []HealthItem{},
			ManualRequired: []HealthItem{},
		},
	}

	for _, key := range keys {
		t, _, err := s.tasks.Get(ctx, key)
		if err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Health: unreadable task record")
			h.Unreadable++
			continue
		}
		if t == nil {
			continue
		}
		s.normalize(key, t)
		h.add(t, now)
	}

	h.Counts = HealthCounts{
		Scheduled:      len(h.Items.Scheduled),
		Processing:     len(h.Items.Processing),
		Completed:      len(h.Items.Completed),
		Failed:         len(h.Items.Failed),
		Overdue:        len(h.Items.Overdue),
		ManualRequired: len(h.Items.ManualRequired),
	}
	return h, nil
}

func (h *Health) add(t *task.Task, now time.Time) {
	item := HealthItem{
		ID:             t.ID,
		UserID:         t.UserID,
		Status:         t.Status,
		ScheduledAt:    t.ScheduledAt,
		Attempts:       t.Attempts,
		Error:          t.Error,
		ExternalPostID: t.ExternalPostID,
	}
	switch t.Status {
	case task.StatusScheduled, task.StatusPending:
		h.Items.Scheduled = append(h.Items.Scheduled, item)
		if t.IsDue(now) {
			h.Items.Overdue = append(h.Items.Overdue, item)
		}
	case task.StatusProcessing:
		h.Items.Processing = append(h.Items.Processing, item)
	case task.StatusCompleted, task.StatusPosted:
		h.Items.Completed = append(h.Items.Completed, item)
	case task.StatusFailed:
		h.Items.Failed = append(h.Items.Failed, item)
	case task.StatusManualRequired:
		h.Items.ManualRequired = append(h.Items.ManualRequired, item)
	}
}
