package notifyapplicant

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"grant-workers/internal/common/camunda"
	apperrors "grant-workers/internal/common/errors"
	"grant-workers/internal/common/logger"
	"grant-workers/internal/grants"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const TaskType = "notify-applicant"

// EmailSender is satisfied by *aws.SESClient.
type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) (string, error)
}

// SMSSender is satisfied by *aws.SNSClient.
type SMSSender interface {
	SendSMS(ctx context.Context, phone, message string) (string, error)
}

type Handler struct {
	config   *Config
	store    *grants.ApplicationStore
	contacts ContactDirectory
	email    EmailSender
	sms      SMSSender
	jobs     *camunda.JobResponder
	logger   logger.Logger
}

// NewHandler wires the delivery channels. A nil email or sms sender disables
// that channel.
func NewHandler(config *Config, store *grants.ApplicationStore, contacts ContactDirectory, email EmailSender, sms SMSSender, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:   config,
		store:    store,
		contacts: contacts,
		email:    email,
		sms:      sms,
		jobs:     camunda.NewJobResponder(TaskType, log),
		logger:   log,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	var input Input
	if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
		h.jobs.Fail(ctx, client, job, apperrors.NewInvalidInputError(fmt.Sprintf("parse input: %v", err)))
		return
	}

	output, err := h.Execute(ctx, &input)
	if err != nil {
		h.jobs.Fail(ctx, client, job, err)
		return
	}

	h.jobs.Complete(ctx, client, job, output)
}

// Execute renders the named template for the application's owner and
// delivers it. An owner without contact details completes with nothing sent.
// E-mail failures are retried; SMS is best effort.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	tmpl, ok := h.config.Templates[input.Template]
	if !ok {
		return nil, apperrors.NewInvalidInputError(fmt.Sprintf("unknown notification template %q", input.Template))
	}

	app, err := h.store.Application(ctx, input.ApplicationID)
	if err != nil {
		return nil, err
	}

	contact, err := h.contacts.Lookup(ctx, app.Owner)
	if err != nil {
		return nil, err
	}
	if contact == nil {
		h.logger.Warn("no contact details for applicant", map[string]interface{}{
			"applicationId": app.ID,
			"owner":         app.Owner,
		})
		return &Output{}, nil
	}

	data := map[string]interface{}{
		"applicationId": app.ID,
		"grantId":       app.GrantID,
		"state":         string(app.State),
		"displayName":   contact.DisplayName,
		"reason":        input.Reason,
	}
	if input.MilestoneID != nil {
		data["milestoneId"] = *input.MilestoneID
	}
	subject := renderTemplate(tmpl.Subject, data)
	body := renderTemplate(tmpl.Body, data)

	out := &Output{}
	if h.config.EmailEnabled && h.email != nil && contact.Email != "" {
		id, err := h.email.Send(ctx, contact.Email, subject, body)
		if err != nil {
			return nil, apperrors.NewNotificationSendFailedError("email", err)
		}
		out.EmailSent = true
		out.MessageID = id
	}

	if h.config.SMSEnabled && h.sms != nil && h.config.SMSTypes[input.Template] && contact.Phone != "" {
		id, err := h.sms.SendSMS(ctx, contact.Phone, body)
		if err != nil {
			h.logger.Warn("sms delivery failed", map[string]interface{}{
				"applicationId": app.ID,
				"template":      input.Template,
				"error":         err.Error(),
			})
		} else {
			out.SMSSent = true
			if out.MessageID == "" {
				out.MessageID = id
			}
		}
	}

	h.logger.Info("applicant notified", map[string]interface{}{
		"applicationId": app.ID,
		"template":      input.Template,
		"emailSent":     out.EmailSent,
		"smsSent":       out.SMSSent,
	})
	return out, nil
}

// renderTemplate replaces {{key}} placeholders with values from data and
// blanks any placeholder left over.
func renderTemplate(tmpl string, data map[string]interface{}) string {
	result := tmpl
	for k, v := range data {
		var value string
		switch x := v.(type) {
		case string:
			value = x
		case uint64:
			value = strconv.FormatUint(x, 10)
		case int:
			value = strconv.Itoa(x)
		case nil:
		default:
			value = fmt.Sprintf("%v", x)
		}
		result = strings.ReplaceAll(result, "{{"+k+"}}", value)
	}

	for {
		start := strings.Index(result, "{{")
		if start == -1 {
			break
		}
		end := strings.Index(result[start:], "}}")
		if end == -1 {
			break
		}
		result = result[:start] + result[start+end+2:]
	}
	return strings.TrimSpace(result)
}
