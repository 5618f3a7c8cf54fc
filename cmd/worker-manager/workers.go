package main

import (
	"go.uber.org/zap"

	"grant-workers/internal/common/camunda"
	"grant-workers/internal/common/config"
	"grant-workers/internal/common/logger"
	"grant-workers/internal/common/observability"
	"grant-workers/internal/common/validation"

	chs "grant-workers/internal/workers/application/change-application-state"
	cpa "grant-workers/internal/workers/application/complete-application"
	gap "grant-workers/internal/workers/application/get-application"
	rsa "grant-workers/internal/workers/application/resubmit-application"
	sba "grant-workers/internal/workers/application/submit-application"
	nta "grant-workers/internal/workers/communication/notify-applicant"
	dfp "grant-workers/internal/workers/disbursal/disburse-from-pool"
	dpp "grant-workers/internal/workers/disbursal/disburse-p2p"
	crg "grant-workers/internal/workers/grant/create-grant"
	dgf "grant-workers/internal/workers/grant/deposit-grant-funds"
	uga "grant-workers/internal/workers/grant/update-grant-accessibility"
	apm "grant-workers/internal/workers/milestone/approve-milestone"
	rma "grant-workers/internal/workers/milestone/request-milestone-approval"
)

// registerWorkers opens a job worker for every enabled task type.
func registerWorkers(cfg *config.Config, d *deps, validator *validation.SchemaValidator, obs *observability.Observability, log logger.Logger, zapLog *zap.Logger) []*camunda.Worker {
	var started []*camunda.Worker

	start := func(taskType string, build func(wc config.WorkerConfig) camunda.JobHandler) {
		wc := config.GetWorkerConfig(cfg, taskType)
		if !wc.Enabled {
			zapLog.Info("worker disabled", zap.String("taskType", taskType))
			return
		}
		if !validator.Has(taskType) {
			zapLog.Warn("no registry entry for task type; input is not schema-checked", zap.String("taskType", taskType))
		}
		handler := build(wc)
		if handler == nil {
			return
		}
		started = append(started, camunda.StartWorker(d.zeebe.Zeebe(), taskType, camunda.WorkerOptions{
			MaxJobsActive: wc.MaxJobsActive,
			Timeout:       config.GetDuration(wc.Timeout),
			Validator:     validator,
			Recorder:      obs,
		}, handler, log))
	}

	// --- 1. Application lifecycle ---
	start(sba.TaskType, func(wc config.WorkerConfig) camunda.JobHandler {
		return sba.NewHandler(sba.LoadConfig(wc), d.store, log)
	})
	start(rsa.TaskType, func(wc config.WorkerConfig) camunda.JobHandler {
		return rsa.NewHandler(rsa.LoadConfig(wc), d.store, log)
	})
	start(chs.TaskType, func(wc config.WorkerConfig) camunda.JobHandler {
		return chs.NewHandler(chs.LoadConfig(wc), d.store, log)
	})
	start(cpa.TaskType, func(wc config.WorkerConfig) camunda.JobHandler {
		return cpa.NewHandler(cpa.LoadConfig(wc), d.store, log)
	})
	start(gap.TaskType, func(wc config.WorkerConfig) camunda.JobHandler {
		var history gap.HistorySource
		if d.eventSink != nil {
			history = d.eventSink
		}
		return gap.NewHandler(gap.LoadConfig(wc), d.store, history, log)
	})

	// --- 2. Milestones ---
	start(rma.TaskType, func(wc config.WorkerConfig) camunda.JobHandler {
		return rma.NewHandler(rma.LoadConfig(wc), d.store, log)
	})
	start(apm.TaskType, func(wc config.WorkerConfig) camunda.JobHandler {
		return apm.NewHandler(apm.LoadConfig(wc), d.store, log)
	})

	// --- 3. Disbursal ---
	start(dfp.TaskType, func(wc config.WorkerConfig) camunda.JobHandler {
		return dfp.NewHandler(dfp.LoadConfig(wc), d.store, log)
	})
	start(dpp.TaskType, func(wc config.WorkerConfig) camunda.JobHandler {
		return dpp.NewHandler(dpp.LoadConfig(wc), d.store, log)
	})

	// --- 4. Grants ---
	start(crg.TaskType, func(wc config.WorkerConfig) camunda.JobHandler {
		return crg.NewHandler(crg.LoadConfig(wc), d.store, log)
	})
	start(uga.TaskType, func(wc config.WorkerConfig) camunda.JobHandler {
		return uga.NewHandler(uga.LoadConfig(wc), d.store, log)
	})
	start(dgf.TaskType, func(wc config.WorkerConfig) camunda.JobHandler {
		return dgf.NewHandler(dgf.LoadConfig(wc), d.store, log)
	})

	// --- 5. Communication ---
	start(nta.TaskType, func(wc config.WorkerConfig) camunda.JobHandler {
		var contacts nta.ContactDirectory
		switch {
		case d.keycloak != nil:
			contacts = nta.NewKeycloakContacts(d.keycloak)
		case d.pg != nil:
			contacts = nta.NewPostgresContacts(d.pg)
		default:
			zapLog.Warn("notify-applicant needs keycloak or postgres for contact lookup; not started")
			return nil
		}

		var email nta.EmailSender
		if d.ses != nil {
			email = d.ses
		}
		var sms nta.SMSSender
		if d.sns != nil && cfg.Integrations.AWS.SNS.Enabled {
			sms = d.sns
		}
		return nta.NewHandler(nta.LoadConfig(wc, cfg.Notifications), d.store, contacts, email, sms, log)
	})

	return started
}
