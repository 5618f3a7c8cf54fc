package notifyapplicant

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"grant-workers/internal/common/aws"
	"grant-workers/internal/common/camunda/camundatest"
	"grant-workers/internal/common/config"
	apperrors "grant-workers/internal/common/errors"
	"grant-workers/internal/common/logger"
	"grant-workers/internal/grants/grantstest"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSES struct {
	mu   sync.Mutex
	sent []*ses.SendEmailInput
	err  error
}

func (f *fakeSES) SendEmail(_ context.Context, in *ses.SendEmailInput, _ ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, in)
	return &ses.SendEmailOutput{MessageId: awssdk.String("ses-1")}, nil
}

type fakeSMS struct {
	mu   sync.Mutex
	sent []*sns.PublishInput
	err  error
}

func (f *fakeSMS) Publish(_ context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, in)
	return &sns.PublishOutput{MessageId: awssdk.String("sns-1")}, nil
}

type contactMap map[string]*Contact

func (m contactMap) Lookup(_ context.Context, principal string) (*Contact, error) {
	return m[principal], nil
}

func testConfig() *Config {
	var nc config.NotificationConfig
	nc.Email.Enabled = true
	nc.SMS.Enabled = true
	nc.SMS.Types = []string{"application-rejected"}
	nc.Templates = map[string]config.NotificationTemplate{
		"application-approved": {
			Subject: "Application #{{applicationId}} approved",
			Body:    "Hello {{displayName}}, grant {{grantId}} approved you. {{reason}}",
		},
		"application-rejected": {
			Subject: "Application #{{applicationId}} rejected",
			Body:    "Hello {{displayName}}. {{reason}}",
		},
		"milestone-approved": {
			Subject: "Milestone {{milestoneId}} approved",
			Body:    "Milestone {{milestoneId}} of #{{applicationId}} approved.{{unknown}}",
		},
	}
	return LoadConfig(config.WorkerConfig{Timeout: 5000}, nc)
}

type env struct {
	h     *Handler
	f     *grantstest.Fixture
	email *fakeSES
	sms   *fakeSMS
	appID uint64
}

func newEnv(t *testing.T, contacts ContactDirectory) *env {
	f := grantstest.New(t)
	app := f.Submit(t, grantstest.Applicant, 2)
	e := &env{f: f, email: &fakeSES{}, sms: &fakeSMS{}, appID: app.ID}
	if contacts == nil {
		contacts = contactMap{grantstest.Applicant: {DisplayName: "Ada", Email: "ada@example.org", Phone: "+15550100"}}
	}
	e.h = NewHandler(testConfig(), f.Store, contacts,
		aws.NewSESClientWithAPI(e.email, "grants@example.org"),
		aws.NewSNSClientWithAPI(e.sms),
		logger.NewTestLogger(t))
	return e
}

func TestExecute_EmailOnly(t *testing.T) {
	e := newEnv(t, nil)

	out, err := e.h.Execute(e.f.Ctx, &Input{ApplicationID: e.appID, Template: "application-approved", Reason: "Strong proposal."})
	require.NoError(t, err)

	assert.Equal(t, &Output{EmailSent: true, MessageID: "ses-1"}, out)
	require.Len(t, e.email.sent, 1)
	msg := e.email.sent[0]
	assert.Equal(t, []string{"ada@example.org"}, msg.Destination.ToAddresses)
	assert.Equal(t, "Application #0 approved", *msg.Message.Subject.Data)
	assert.Equal(t, "Hello Ada, grant grant-1 approved you. Strong proposal.", *msg.Message.Body.Text.Data)
	assert.Empty(t, e.sms.sent, "approval is not an SMS type")
}

func TestExecute_EmailAndSMS(t *testing.T) {
	e := newEnv(t, nil)

	out, err := e.h.Execute(e.f.Ctx, &Input{ApplicationID: e.appID, Template: "application-rejected", Reason: "Out of scope."})
	require.NoError(t, err)

	assert.True(t, out.EmailSent)
	assert.True(t, out.SMSSent)
	require.Len(t, e.sms.sent, 1)
	assert.Equal(t, "+15550100", *e.sms.sent[0].PhoneNumber)
	assert.Equal(t, "Hello Ada. Out of scope.", *e.sms.sent[0].Message)
}

func TestExecute_SMSFailureIsNotFatal(t *testing.T) {
	e := newEnv(t, nil)
	e.sms.err = errors.New("throttled")

	out, err := e.h.Execute(e.f.Ctx, &Input{ApplicationID: e.appID, Template: "application-rejected"})
	require.NoError(t, err)
	assert.True(t, out.EmailSent)
	assert.False(t, out.SMSSent)
}

func TestExecute_MilestonePlaceholders(t *testing.T) {
	e := newEnv(t, nil)
	ms := 1

	_, err := e.h.Execute(e.f.Ctx, &Input{ApplicationID: e.appID, Template: "milestone-approved", MilestoneID: &ms})
	require.NoError(t, err)
	require.Len(t, e.email.sent, 1)
	assert.Equal(t, "Milestone 1 approved", *e.email.sent[0].Message.Subject.Data)
	assert.Equal(t, "Milestone 1 of #0 approved.", *e.email.sent[0].Message.Body.Text.Data)
}

func TestExecute_NoContact(t *testing.T) {
	e := newEnv(t, contactMap{})

	out, err := e.h.Execute(e.f.Ctx, &Input{ApplicationID: e.appID, Template: "application-approved"})
	require.NoError(t, err)
	assert.False(t, out.EmailSent)
	assert.Empty(t, e.email.sent)
}

func TestExecute_Errors(t *testing.T) {
	tests := []struct {
		name     string
		input    func(appID uint64) Input
		sesErr   error
		wantCode apperrors.ErrorCode
	}{
		{
			name:     "unknown template",
			input:    func(id uint64) Input { return Input{ApplicationID: id, Template: "nope"} },
			wantCode: apperrors.ErrCodeInvalidInput,
		},
		{
			name:     "unknown application",
			input:    func(uint64) Input { return Input{ApplicationID: 404, Template: "application-approved"} },
			wantCode: apperrors.ErrCodeNotFound,
		},
		{
			name:     "ses down",
			input:    func(id uint64) Input { return Input{ApplicationID: id, Template: "application-approved"} },
			sesErr:   errors.New("service unavailable"),
			wantCode: apperrors.ErrCodeNotificationSendFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, nil)
			e.email.err = tt.sesErr
			in := tt.input(e.appID)
			_, err := e.h.Execute(e.f.Ctx, &in)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, apperrors.Normalize(err).Code)
		})
	}
}

func TestHandle_SendFailureIsRetried(t *testing.T) {
	e := newEnv(t, nil)
	e.email.err = errors.New("service unavailable")
	client := camundatest.NewJobClient()

	e.h.Handle(client, camundatest.Job(TaskType, Input{ApplicationID: e.appID, Template: "application-approved"}))

	assert.Equal(t, int32(2), client.FailedRetries())
	assert.Empty(t, client.ThrownCode())
}

func TestLoadConfig_DefaultTimeout(t *testing.T) {
	cfg := LoadConfig(config.WorkerConfig{}, config.NotificationConfig{})
	assert.Equal(t, 15*time.Second, cfg.Timeout)
	assert.False(t, cfg.SMSTypes["application-rejected"])
}

func TestRenderTemplate(t *testing.T) {
	tests := []struct {
		name string
		tmpl string
		data map[string]interface{}
		want string
	}{
		{"all present", "#{{id}} for {{who}}", map[string]interface{}{"id": uint64(9), "who": "Ada"}, "#9 for Ada"},
		{"missing blanked", "Hi {{who}}. {{reason}}", map[string]interface{}{"who": "Ada"}, "Hi Ada."},
		{"unterminated kept", "Hi {{who", map[string]interface{}{}, "Hi {{who"},
		{"repeated", "{{x}}-{{x}}", map[string]interface{}{"x": 3}, "3-3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, renderTemplate(tt.tmpl, tt.data))
		})
	}
}
