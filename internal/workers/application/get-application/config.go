package getapplication

import (
	"time"

	"grant-workers/internal/common/config"
)

type Config struct {
	Timeout     time.Duration
	HistorySize int
}

func LoadConfig(wc config.WorkerConfig) *Config {
	timeout := config.GetDuration(wc.Timeout)
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Config{Timeout: timeout, HistorySize: 100}
}
