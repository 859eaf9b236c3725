package cli

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/fpang/social-post-scheduler/internal/blobstore"
	"github.com/fpang/social-post-scheduler/internal/scheduler"
	"github.com/fpang/social-post-scheduler/internal/store"
	"github.com/fpang/social-post-scheduler/internal/task"
)

func TestFormatDurationShort(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{250 * time.Millisecond, "250ms"},
		{5 * time.Second, "0:05"},
		{90 * time.Second, "1:30"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1:02:03"},
	}
	for _, tt := range tests {
		if got := FormatDurationShort(tt.d); got != tt.want {
			t.Errorf("FormatDurationShort(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestFormatSummary(t *testing.T) {
	line := FormatSummary(scheduler.CycleSummary{Platform: task.Twitter, Listed: 4, Due: 2, Completed: 1, Failed: 1, DurationMs: 1500})
	for _, want := range []string{"twitter:", "listed 4", "due 2", "completed 1", "failed 1", "(0:01)"} {
		if !strings.Contains(line, want) {
			t.Errorf("summary %q missing %q", line, want)
		}
	}
	if got := FormatSummary(scheduler.CycleSummary{Platform: task.Instagram, Overlapped: true}); !strings.Contains(got, "skipped") {
		t.Errorf("overlapped summary = %q", got)
	}
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := PrintJSON(&buf, map[string]int{"due": 2}); err != nil {
		t.Fatalf("print: %v", err)
	}
	if buf.String() != "{\n  \"due\": 2\n}\n" {
		t.Errorf("unexpected output %q", buf.String())
	}
}

func TestSelectSchedulers(t *testing.T) {
	tasks := store.NewTaskStore(blobstore.NewMemoryStore())
	var scheds []*scheduler.Scheduler
	for _, p := range []task.Platform{task.Instagram, task.Twitter} {
		scheds = append(scheds, scheduler.New(scheduler.Config{Platform: p}, tasks, nil))
	}

	all, err := SelectSchedulers(scheds, "")
	if err != nil || len(all) != 2 {
		t.Fatalf("empty platform: got %d, %v", len(all), err)
	}
	one, err := SelectSchedulers(scheds, "x")
	if err != nil || len(one) != 1 || one[0].Platform() != task.Twitter {
		t.Fatalf("alias x: got %v, %v", one, err)
	}
	if _, err := SelectSchedulers(scheds, "facebook"); err == nil {
		t.Error("expected error for disabled platform")
	}
	if _, err := SelectSchedulers(scheds, "myspace"); err == nil {
		t.Error("expected error for unknown platform")
	}
}
