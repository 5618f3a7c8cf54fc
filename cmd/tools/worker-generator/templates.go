package main

const configTemplate = `package {{ .PackageName }}

import (
	"time"

	"grant-workers/internal/common/config"
)

type Config struct {
	Timeout time.Duration
}

func LoadConfig(wc config.WorkerConfig) *Config {
	timeout := config.GetDuration(wc.Timeout)
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Config{Timeout: timeout}
}
`

const modelsTemplate = `package {{ .PackageName }}

type Input struct {
{{- range .Input }}
	{{ .Name }} {{ .Type }} ` + "`json:\"{{ .JSON }}\"`" + `
{{- end }}
}

type Output struct {
{{- range .Output }}
	{{ .Name }} {{ .Type }} ` + "`json:\"{{ .JSON }}\"`" + `
{{- end }}
}
`

const handlerTemplate = `package {{ .PackageName }}

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

const TaskType = "{{ .TaskType }}"

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

// Execute {{ .Description }}
{{- if .ErrorCodes }}
// Errors: {{ range $i, $c := .ErrorCodes }}{{ if $i }}, {{ end }}{{ $c }}{{ end }}.
{{- end }}
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return nil, apperrors.NewInvalidInputError(TaskType + " is not implemented")
}
`

const testTemplate = `package {{ .PackageName }}

import (
	"testing"
	"time"

	"grant-workers/internal/common/camunda/camundatest"
	"grant-workers/internal/common/logger"
	"grant-workers/internal/grants/grantstest"

	"github.com/stretchr/testify/assert"
)

func newHandler(t *testing.T) (*Handler, *grantstest.Fixture) {
	f := grantstest.New(t)
	return NewHandler(&Config{Timeout: 5 * time.Second}, f.Store, logger.NewTestLogger(t)), f
}

func TestExecute(t *testing.T) {
	h, f := newHandler(t)

	_, err := h.Execute(f.Ctx, &Input{})
	assert.Error(t, err)
}

func TestHandle_BadVariables(t *testing.T) {
	h, _ := newHandler(t)
	client := camundatest.NewJobClient()

	h.Handle(client, camundatest.Job(TaskType, "not an object"))

	assert.Equal(t, "INVALID_INPUT", client.ThrownCode())
}
`
