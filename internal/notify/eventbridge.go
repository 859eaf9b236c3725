package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	eventbridgetypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/rs/zerolog/log"
)

const (
	eventSource          = "social-post-scheduler"
	detailManualRequired = "PostManualRequired"
)

// putEventsAPI is the subset of *eventbridge.Client used here.
type putEventsAPI interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// EventBridgeNotifier publishes events to an EventBridge bus, where a rule
// fans them out to the user-facing channel.
type EventBridgeNotifier struct {
	client  putEventsAPI
	busName string
}

var _ Notifier = (*EventBridgeNotifier)(nil)

// NewEventBridgeNotifier creates a notifier for busName. An empty busName
// targets the account's default bus.
func NewEventBridgeNotifier(client *eventbridge.Client, busName string) *EventBridgeNotifier {
	return &EventBridgeNotifier{client: client, busName: busName}
}

func (n *EventBridgeNotifier) ManualRequired(ctx context.Context, ev Event) error {
	detail, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	entry := eventbridgetypes.PutEventsRequestEntry{
		Source:     aws.String(eventSource),
		DetailType: aws.String(detailManualRequired),
		Detail:     aws.String(string(detail)),
	}
	if n.busName != "" {
		entry.EventBusName = aws.String(n.busName)
	}

	result, err := n.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []eventbridgetypes.PutEventsRequestEntry{entry},
	})
	if err != nil {
		log.Error().Err(err).Str("taskId", ev.TaskID).Msg("EventBridge PutEvents failed")
		return fmt.Errorf("PutEvents: %w", err)
	}

	if result.FailedEntryCount > 0 {
		for i, e := range result.Entries {
			if e.ErrorCode != nil || e.ErrorMessage != nil {
				log.Error().
					Int("index", i).
					Str("errorCode", aws.ToString(e.ErrorCode)).
					Str("errorMessage", aws.ToString(e.ErrorMessage)).
					Str("taskId", ev.TaskID).
					Msg("EventBridge PutEvents entry failed")
				return fmt.Errorf("PutEvents entry %d failed: %s - %s", i, aws.ToString(e.ErrorCode), aws.ToString(e.ErrorMessage))
			}
		}
	}

	log.Debug().Str("taskId", ev.TaskID).Str("userId", ev.UserID).Msg("Manual-required event emitted to EventBridge")
	return nil
}
