package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"grant-workers/internal/common/aws"
	apperrors "grant-workers/internal/common/errors"
	"grant-workers/internal/grants"
)

// SNSSink publishes each event as its own message with filterable
// attributes.
type SNSSink struct {
	sns      *aws.SNSClient
	topicARN string
}

func NewSNSSink(client *aws.SNSClient, topicARN string) *SNSSink {
	return &SNSSink{sns: client, topicARN: topicARN}
}

func (s *SNSSink) Name() string { return "sns" }

func (s *SNSSink) Publish(ctx context.Context, events []grants.Event) error {
	for _, ev := range events {
		body, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("encode event %s: %w", ev.ID, err)
		}

		attrs := map[string]string{
			"eventType":   string(ev.Type),
			"workspaceId": strconv.FormatUint(ev.WorkspaceID, 10),
		}
		if ev.ApplicationID != nil {
			attrs["applicationId"] = strconv.FormatUint(*ev.ApplicationID, 10)
		}
		if ev.GrantID != "" {
			attrs["grantId"] = ev.GrantID
		}

		if _, err := s.sns.PublishToTopic(ctx, s.topicARN, string(body), attrs); err != nil {
			return apperrors.NewExternalServiceError("sns", err)
		}
	}
	return nil
}
