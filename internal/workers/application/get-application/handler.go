package getapplication

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

const TaskType = "get-application"

// HistorySource returns the published events of one application.
type HistorySource interface {
	History(ctx context.Context, applicationID uint64, size int) ([]grants.Event, error)
}

type Handler struct {
	config  *Config
	store   *grants.ApplicationStore
	history HistorySource
	jobs    *camunda.JobResponder
	logger  logger.Logger
}

// NewHandler accepts a nil history source; includeHistory is then ignored.
func NewHandler(config *Config, store *grants.ApplicationStore, history HistorySource, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:  config,
		store:   store,
		history: history,
		jobs:    camunda.NewJobResponder(TaskType, log),
		logger:  log,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	h.logger.Debug("processing job", map[string]interface{}{
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

// Execute reads an application and its milestone states in one snapshot.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	app, states, err := h.store.Snapshot(ctx, input.ApplicationID)
	if err != nil {
		return nil, err
	}

	out := &Output{
		ApplicationID:  app.ID,
		Owner:          app.Owner,
		GrantID:        app.GrantID,
		WorkspaceID:    app.WorkspaceID,
		MetadataHash:   app.MetadataHash,
		State:          app.State.String(),
		MilestoneCount: app.MilestoneCount,
		MilestonesDone: app.MilestonesDone,
		Milestones:     make([]string, len(states)),
	}
	for i, s := range states {
		out.Milestones[i] = s.String()
	}

	if input.IncludeHistory && h.history != nil {
		events, err := h.history.History(ctx, app.ID, h.config.HistorySize)
		if err != nil {
			// the snapshot is authoritative; history is best effort
			h.logger.Warn("event history unavailable", map[string]interface{}{
				"applicationId": app.ID,
				"error":         err.Error(),
			})
		} else {
			out.History = events
		}
	}

	return out, nil
}
