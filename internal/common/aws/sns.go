// internal/common/aws/sns.go
package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// Publisher is the subset of the SNS API used for events and SMS.
type Publisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type SNSClient struct {
	api Publisher
}

// LoadConfig resolves the default AWS credential chain for region.
func LoadConfig(ctx context.Context, region string) (aws.Config, error) {
	return config.LoadDefaultConfig(ctx, config.WithRegion(region))
}

func NewSNSClient(cfg aws.Config) *SNSClient {
	return &SNSClient{api: sns.NewFromConfig(cfg)}
}

// NewSNSClientWithAPI is used by tests to inject a fake publisher.
func NewSNSClientWithAPI(api Publisher) *SNSClient {
	return &SNSClient{api: api}
}

// PublishToTopic sends message to topicARN with string message attributes.
func (s *SNSClient) PublishToTopic(ctx context.Context, topicARN, message string, attrs map[string]string) (string, error) {
	input := &sns.PublishInput{
		TopicArn: aws.String(topicARN),
		Message:  aws.String(message),
	}
	if len(attrs) > 0 {
		input.MessageAttributes = make(map[string]types.MessageAttributeValue, len(attrs))
		for k, v := range attrs {
			input.MessageAttributes[k] = types.MessageAttributeValue{
				DataType:    aws.String("String"),
				StringValue: aws.String(v),
			}
		}
	}
	out, err := s.api.Publish(ctx, input)
	if err != nil {
		return "", err
	}
	return aws.ToString(out.MessageId), nil
}

// SendSMS sends a transactional text message to phone (E.164).
func (s *SNSClient) SendSMS(ctx context.Context, phone, message string) (string, error) {
	out, err := s.api.Publish(ctx, &sns.PublishInput{
		PhoneNumber: aws.String(phone),
		Message:     aws.String(message),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"AWS.SNS.SMS.SMSType": {
				DataType:    aws.String("String"),
				StringValue: aws.String("Transactional"),
			},
		},
	})
	if err != nil {
		return "", err
	}
	return aws.ToString(out.MessageId), nil
}
