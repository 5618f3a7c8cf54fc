package approvemilestone

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

const TaskType = "approve-milestone"

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

// Execute approves the milestone and, when the job carries a disbursal,
// releases its funds in the same transaction. A failed release still
// completes the job; the process routes on disbursalStatus.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	instr, err := instruction(input.Disbursal)
	if err != nil {
		return nil, err
	}

	app, outcome, err := h.store.ApproveMilestone(ctx, input.Caller, input.ApplicationID, input.MilestoneID,
		input.WorkspaceID, input.Reason, instr)
	if err != nil {
		return nil, err
	}

	out := &Output{
		ApplicationID:  app.ID,
		MilestoneID:    input.MilestoneID,
		State:          grants.MilestoneApproved.String(),
		MilestonesDone: app.MilestonesDone,
	}
	if outcome != nil {
		out.DisbursalStatus = string(outcome.Status)
		out.Reference = outcome.Reference
		out.FailureCode = outcome.FailureCode
	}
	return out, nil
}

func instruction(d *Disbursal) (*grants.DisbursalInstruction, error) {
	if d == nil {
		return nil, nil
	}
	amount, err := grants.ParseAmount(d.Amount)
	if err != nil {
		return nil, err
	}
	return &grants.DisbursalInstruction{
		Mode:   grants.DisbursalMode(d.Mode),
		Asset:  d.Asset,
		Amount: amount,
	}, nil
}
