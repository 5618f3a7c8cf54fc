package camunda

import (
	"context"
	"time"

	apperrors "grant-workers/internal/common/errors"
	"grant-workers/internal/common/logger"
	"grant-workers/internal/common/metrics"

	"github.com/camunda/zeebe/clients/go/v8/pkg/commands"
	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "grant-workers/internal/common/camunda"

// JobHandler is implemented by every worker package.
type JobHandler interface {
	Handle(client worker.JobClient, job entities.Job)
}

// InputValidator checks job variables before the handler sees them.
type InputValidator interface {
	ValidateJob(taskType, variables string) error
}

// JobRecorder receives the outcome of every job.
type JobRecorder interface {
	RecordJob(ctx context.Context, taskType, status string, duration time.Duration)
}

type WorkerOptions struct {
	MaxJobsActive int
	Timeout       time.Duration
	Validator     InputValidator
	Recorder      JobRecorder
}

// Worker is one open job subscription.
type Worker struct {
	taskType string
	worker   worker.JobWorker
	logger   logger.Logger
}

// StartWorker opens a job worker for taskType whose jobs go through
// Instrument before reaching handler.
func StartWorker(client zbc.Client, taskType string, opts WorkerOptions, handler JobHandler, log logger.Logger) *Worker {
	log = log.WithFields(map[string]interface{}{"taskType": taskType})

	step := client.NewJobWorker().
		JobType(taskType).
		Handler(Instrument(taskType, opts.Validator, opts.Recorder, handler, log))
	if opts.MaxJobsActive > 0 {
		step = step.MaxJobsActive(opts.MaxJobsActive)
	}
	if opts.Timeout > 0 {
		step = step.Timeout(opts.Timeout)
	}

	w := &Worker{taskType: taskType, worker: step.Open(), logger: log}
	log.Info("worker started", map[string]interface{}{
		"maxJobsActive": opts.MaxJobsActive,
		"timeout_ms":    opts.Timeout.Milliseconds(),
	})
	return w
}

func (w *Worker) TaskType() string { return w.taskType }

// Stop closes the subscription and waits for in-flight jobs.
func (w *Worker) Stop() {
	w.logger.Info("stopping worker", nil)
	w.worker.Close()
	w.worker.AwaitClose()
}

// Instrument wraps handler with schema validation, a span per job and the
// worker_* metrics. recorder may be nil.
func Instrument(taskType string, validator InputValidator, recorder JobRecorder, handler JobHandler, log logger.Logger) worker.JobHandler {
	tracer := otel.Tracer(tracerName)
	jobs := NewJobResponder(taskType, log)

	return func(jobClient worker.JobClient, job entities.Job) {
		start := time.Now()
		client := &outcomeClient{JobClient: jobClient, outcome: "unanswered"}
		metrics.WorkerJobsActive.WithLabelValues(taskType).Inc()
		ctx, span := tracer.Start(context.Background(), "job "+taskType, trace.WithAttributes(
			attribute.Int64("job.key", job.Key),
			attribute.Int64("process.instance.key", job.ProcessInstanceKey),
			attribute.Int("job.retries", int(job.Retries)),
		))
		defer func() {
			elapsed := time.Since(start)
			span.SetAttributes(attribute.String("job.outcome", client.outcome))
			span.End()
			metrics.WorkerJobsActive.WithLabelValues(taskType).Dec()
			metrics.WorkerJobDuration.WithLabelValues(taskType).Observe(elapsed.Seconds())
			if recorder != nil {
				recorder.RecordJob(ctx, taskType, client.outcome, elapsed)
			}
		}()

		if validator != nil {
			if err := validator.ValidateJob(taskType, job.Variables); err != nil {
				span.RecordError(err)
				jobs.Fail(ctx, client, job, err)
				return
			}
		}
		handler.Handle(client, job)
	}
}

// outcomeClient remembers which command the handler answered with.
type outcomeClient struct {
	worker.JobClient
	outcome string
}

func (c *outcomeClient) NewCompleteJobCommand() commands.CompleteJobCommandStep1 {
	c.outcome = "completed"
	return c.JobClient.NewCompleteJobCommand()
}

func (c *outcomeClient) NewFailJobCommand() commands.FailJobCommandStep1 {
	c.outcome = "failed"
	return c.JobClient.NewFailJobCommand()
}

func (c *outcomeClient) NewThrowErrorCommand() commands.ThrowErrorCommandStep1 {
	c.outcome = "thrown"
	return c.JobClient.NewThrowErrorCommand()
}

// JobResponder completes or fails jobs of one task type and counts the
// outcome.
type JobResponder struct {
	taskType string
	errors   *apperrors.ErrorHandler
	logger   logger.Logger
}

func NewJobResponder(taskType string, log logger.Logger) *JobResponder {
	return &JobResponder{
		taskType: taskType,
		errors:   apperrors.NewErrorHandler(log),
		logger:   log,
	}
}

// Complete sends output as the job variables.
func (r *JobResponder) Complete(ctx context.Context, client worker.JobClient, job entities.Job, output interface{}) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		r.logger.Error("failed to create complete job command", map[string]interface{}{
			"jobKey": job.Key,
			"error":  err,
		})
		r.Fail(ctx, client, job, apperrors.NewInvalidInputError("output not serializable: "+err.Error()))
		return
	}
	if _, err := cmd.Send(ctx); err != nil {
		r.logger.Error("failed to send complete job command", map[string]interface{}{
			"jobKey": job.Key,
			"error":  err,
		})
		return
	}
	metrics.WorkerJobsCompleted.WithLabelValues(r.taskType).Inc()
}

// Fail retries technical errors and throws business errors as BPMN errors.
func (r *JobResponder) Fail(ctx context.Context, client worker.JobClient, job entities.Job, err error) {
	metrics.WorkerJobsFailed.WithLabelValues(r.taskType, string(apperrors.Normalize(err).Code)).Inc()
	r.errors.HandleJobError(ctx, client, job, err)
}
