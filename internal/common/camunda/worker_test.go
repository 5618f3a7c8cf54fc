package camunda

import (
	"context"
	"errors"
	"testing"
	"time"

	"grant-workers/internal/common/camunda/camundatest"
	apperrors "grant-workers/internal/common/errors"
	"grant-workers/internal/common/logger"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/stretchr/testify/assert"
)

type handlerFunc func(client worker.JobClient, job entities.Job)

func (f handlerFunc) Handle(client worker.JobClient, job entities.Job) { f(client, job) }

type validatorFunc func(taskType, variables string) error

func (f validatorFunc) ValidateJob(taskType, variables string) error { return f(taskType, variables) }

func TestInstrument_RejectsInvalidInputBeforeHandler(t *testing.T) {
	called := false
	handler := handlerFunc(func(worker.JobClient, entities.Job) { called = true })
	validator := validatorFunc(func(string, string) error {
		return apperrors.NewInvalidInputError("applicationId is required")
	})

	client := camundatest.NewJobClient()
	Instrument("get-application", validator, nil, handler, logger.NewTestLogger(t))(client, camundatest.Job("get-application", map[string]interface{}{}))

	assert.False(t, called)
	assert.Equal(t, string(apperrors.ErrCodeInvalidInput), client.ThrownCode())
}

func TestInstrument_PassesValidJobs(t *testing.T) {
	var seen string
	handler := handlerFunc(func(_ worker.JobClient, job entities.Job) { seen = job.Variables })
	validator := validatorFunc(func(taskType, _ string) error {
		assert.Equal(t, "get-application", taskType)
		return nil
	})

	job := camundatest.Job("get-application", map[string]interface{}{"applicationId": 3})
	Instrument("get-application", validator, nil, handler, logger.NewTestLogger(t))(camundatest.NewJobClient(), job)

	assert.JSONEq(t, `{"applicationId":3}`, seen)
}

type recorded struct {
	taskType, status string
}

type recorderFunc func(ctx context.Context, taskType, status string, d time.Duration)

func (f recorderFunc) RecordJob(ctx context.Context, taskType, status string, d time.Duration) {
	f(ctx, taskType, status, d)
}

func TestInstrument_RecordsOutcome(t *testing.T) {
	var got []recorded
	recorder := recorderFunc(func(_ context.Context, taskType, status string, _ time.Duration) {
		got = append(got, recorded{taskType, status})
	})
	log := logger.NewTestLogger(t)
	jobs := NewJobResponder("complete-application", log)

	completing := handlerFunc(func(client worker.JobClient, job entities.Job) {
		jobs.Complete(context.Background(), client, job, map[string]string{"state": "Complete"})
	})
	throwing := handlerFunc(func(client worker.JobClient, job entities.Job) {
		jobs.Fail(context.Background(), client, job, apperrors.NewInvalidInputError("nope"))
	})
	silent := handlerFunc(func(worker.JobClient, entities.Job) {})

	job := camundatest.Job("complete-application", map[string]interface{}{})
	Instrument("complete-application", nil, recorder, completing, log)(camundatest.NewJobClient(), job)
	Instrument("complete-application", nil, recorder, throwing, log)(camundatest.NewJobClient(), job)
	Instrument("complete-application", nil, recorder, silent, log)(camundatest.NewJobClient(), job)

	assert.Equal(t, []recorded{
		{"complete-application", "completed"},
		{"complete-application", "thrown"},
		{"complete-application", "unanswered"},
	}, got)
}

func TestJobResponder(t *testing.T) {
	ctx := context.Background()
	job := camundatest.Job("approve-milestone", map[string]interface{}{})
	jobs := NewJobResponder("approve-milestone", logger.NewTestLogger(t))

	t.Run("complete", func(t *testing.T) {
		client := camundatest.NewJobClient()
		jobs.Complete(ctx, client, job, map[string]interface{}{"milestonesDone": true})

		var out map[string]interface{}
		assert.True(t, client.Completed(&out))
		assert.Equal(t, true, out["milestonesDone"])
	})

	t.Run("technical errors are retried", func(t *testing.T) {
		client := camundatest.NewJobClient()
		jobs.Fail(ctx, client, job, apperrors.NewQueryExecutionFailedError("update", errors.New("reset")))

		assert.Equal(t, int32(2), client.FailedRetries())
		assert.Empty(t, client.ThrownCode())
	})

	t.Run("business errors are thrown", func(t *testing.T) {
		client := camundatest.NewJobClient()
		jobs.Fail(ctx, client, job, apperrors.Wrap(apperrors.Sentinel(apperrors.ErrCodeInvalidTransition, "bad move"), "twice"))

		assert.Equal(t, "INVALID_TRANSITION", client.ThrownCode())
		assert.Equal(t, int32(-1), client.FailedRetries())
	})
}
