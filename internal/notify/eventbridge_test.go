package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	eventbridgetypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"

	"github.com/fpang/social-post-scheduler/internal/task"
)

type fakeEventBridge struct {
	input  *eventbridge.PutEventsInput
	output *eventbridge.PutEventsOutput
	err    error
}

func (f *fakeEventBridge) PutEvents(_ context.Context, in *eventbridge.PutEventsInput, _ ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	if f.output != nil {
		return f.output, nil
	}
	return &eventbridge.PutEventsOutput{}, nil
}

func testEvent() Event {
	return Event{
		TaskID: "t1", UserID: "u1", Platform: task.Facebook,
		Instructions: task.ManualInstructions{Caption: "hi", ManualPostURL: "https://www.facebook.com/me", Reason: "personal profile"},
		OccurredAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestEventBridgeNotifier(t *testing.T) {
	fake := &fakeEventBridge{}
	n := &EventBridgeNotifier{client: fake, busName: "scheduler-bus"}

	if err := n.ManualRequired(context.Background(), testEvent()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fake.input.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(fake.input.Entries))
	}
	entry := fake.input.Entries[0]
	if aws.ToString(entry.Source) != eventSource || aws.ToString(entry.DetailType) != detailManualRequired {
		t.Errorf("unexpected source/detail type: %s/%s", aws.ToString(entry.Source), aws.ToString(entry.DetailType))
	}
	if aws.ToString(entry.EventBusName) != "scheduler-bus" {
		t.Errorf("unexpected bus: %s", aws.ToString(entry.EventBusName))
	}

	var got Event
	if err := json.Unmarshal([]byte(aws.ToString(entry.Detail)), &got); err != nil {
		t.Fatalf("detail is not an Event: %v", err)
	}
	if got.TaskID != "t1" || got.Instructions.ManualPostURL != "https://www.facebook.com/me" {
		t.Errorf("unexpected detail: %+v", got)
	}
}

func TestEventBridgeNotifierFailures(t *testing.T) {
	n := &EventBridgeNotifier{client: &fakeEventBridge{err: errors.New("throttled")}}
	if err := n.ManualRequired(context.Background(), testEvent()); err == nil {
		t.Error("expected error when PutEvents fails")
	}

	n = &EventBridgeNotifier{client: &fakeEventBridge{output: &eventbridge.PutEventsOutput{
		FailedEntryCount: 1,
		Entries: []eventbridgetypes.PutEventsResultEntry{
			{ErrorCode: aws.String("InternalFailure"), ErrorMessage: aws.String("boom")},
		},
	}}}
	if err := n.ManualRequired(context.Background(), testEvent()); err == nil {
		t.Error("expected error for failed entry")
	}
}
