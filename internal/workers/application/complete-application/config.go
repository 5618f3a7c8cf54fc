package completeapplication

import (
	"time"

	"grant-workers/internal/common/config"
)

type Config struct {
	Timeout time.Duration
}

func LoadConfig(wc config.WorkerConfig) *Config {
	if wc.Timeout <= 0 {
		return &Config{Timeout: 30 * time.Second}
	}
	return &Config{Timeout: config.GetDuration(wc.Timeout)}
}
