package resubmitapplication

import (
	"context"
	"encoding/json"
	"fmt"

	"grant-workers/internal/common/camunda"
	apperrors "grant-workers/internal/common/errors"
	"grant-workers/internal/common/logger"
	"grant-workers/internal/grants"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const TaskType = "resubmit-application"

type Handler struct {
	config *Config
	store  *grants.ApplicationStore
	jobs   *camunda.JobResponder
	logger logger.Logger
}

func NewHandler(config *Config, store *grants.ApplicationStore, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config: config,
		store:  store,
		jobs:   camunda.NewJobResponder(TaskType, log),
		logger: log,
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

// Execute replaces the plan of an application that was sent back. Only the
// owner may resubmit, and all milestone progress is discarded.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	if input.Caller == "" {
		return nil, apperrors.NewInvalidInputError("caller is required")
	}

	app, err := h.store.Resubmit(ctx, input.Caller, input.ApplicationID, input.MetadataHash, input.MilestoneCount)
	if err != nil {
		return nil, err
	}

	return &Output{
		ApplicationID:  app.ID,
		State:          app.State.String(),
		MilestoneCount: app.MilestoneCount,
		MilestonesDone: app.MilestonesDone,
	}, nil
}
