package disbursep2p

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

const TaskType = "disburse-p2p"

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

// Execute pays an approved milestone from the calling admin's own account.
// Ledger rejections complete the job with a failed status; validation errors
// are thrown. The grant balance is never touched.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	amount, err := grants.ParseAmount(input.Amount)
	if err != nil {
		return nil, err
	}

	outcome, err := h.store.DisburseP2P(ctx, input.Caller, input.ApplicationID, input.MilestoneID, input.Asset, amount)
	if err != nil {
		return nil, err
	}

	return &Output{
		DisbursalStatus: string(outcome.Status),
		Reference:       outcome.Reference,
		Recipient:       outcome.Recipient,
		Amount:          outcome.Amount.String(),
		FailureCode:     outcome.FailureCode,
		FailureReason:   outcome.FailureReason,
	}, nil
}
