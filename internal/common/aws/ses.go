// internal/common/aws/ses.go
package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// EmailSender is the subset of the SES API used by the notifier.
type EmailSender interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

type SESClient struct {
	api  EmailSender
	from string
}

func NewSESClient(cfg aws.Config, from string) *SESClient {
	return &SESClient{api: ses.NewFromConfig(cfg), from: from}
}

// NewSESClientWithAPI is used by tests to inject a fake sender.
func NewSESClientWithAPI(api EmailSender, from string) *SESClient {
	return &SESClient{api: api, from: from}
}

// Send delivers a plain text e-mail and returns the SES message id.
func (s *SESClient) Send(ctx context.Context, to, subject, body string) (string, error) {
	out, err := s.api.SendEmail(ctx, &ses.SendEmailInput{
		Source:      aws.String(s.from),
		Destination: &types.Destination{ToAddresses: []string{to}},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(subject), Charset: aws.String("UTF-8")},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(body), Charset: aws.String("UTF-8")},
			},
		},
	})
	if err != nil {
		return "", err
	}
	return aws.ToString(out.MessageId), nil
}
