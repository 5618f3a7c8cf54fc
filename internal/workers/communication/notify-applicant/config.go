package notifyapplicant

import (
	"time"

	"grant-workers/internal/common/config"
)

type Config struct {
	Timeout      time.Duration
	EmailEnabled bool
	SMSEnabled   bool
	SMSTypes     map[string]bool
	Templates    map[string]config.NotificationTemplate
}

func LoadConfig(wc config.WorkerConfig, nc config.NotificationConfig) *Config {
	cfg := &Config{
		Timeout:      config.GetDuration(wc.Timeout),
		EmailEnabled: nc.Email.Enabled,
		SMSEnabled:   nc.SMS.Enabled,
		SMSTypes:     make(map[string]bool, len(nc.SMS.Types)),
		Templates:    nc.Templates,
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	for _, t := range nc.SMS.Types {
		cfg.SMSTypes[t] = true
	}
	return cfg
}
