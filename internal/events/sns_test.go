package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	commonaws "grant-workers/internal/common/aws"
	"grant-workers/internal/grants"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSNS struct {
	inputs []*sns.PublishInput
	err    error
}

func (f *fakeSNS) Publish(_ context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.inputs = append(f.inputs, in)
	return &sns.PublishOutput{MessageId: aws.String("msg-1")}, nil
}

func TestSNSSink_Publish(t *testing.T) {
	fake := &fakeSNS{}
	sink := NewSNSSink(commonaws.NewSNSClientWithAPI(fake), "arn:aws:sns:us-east-1:123:grant-events")

	require.NoError(t, sink.Publish(context.Background(), sampleEvents()))
	require.Len(t, fake.inputs, 2)

	first := fake.inputs[0]
	assert.Equal(t, "arn:aws:sns:us-east-1:123:grant-events", aws.ToString(first.TopicArn))
	assert.Equal(t, "MilestoneApproved", aws.ToString(first.MessageAttributes["eventType"].StringValue))
	assert.Equal(t, "4", aws.ToString(first.MessageAttributes["applicationId"].StringValue))
	assert.Equal(t, "grant-1", aws.ToString(first.MessageAttributes["grantId"].StringValue))

	var decoded grants.Event
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(first.Message)), &decoded))
	assert.Equal(t, "looks good", decoded.Reason)

	_, hasApp := fake.inputs[1].MessageAttributes["applicationId"]
	assert.False(t, hasApp)
}

func TestSNSSink_PublishError(t *testing.T) {
	sink := NewSNSSink(commonaws.NewSNSClientWithAPI(&fakeSNS{err: errors.New("throttled")}), "arn")
	err := sink.Publish(context.Background(), sampleEvents())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
}
