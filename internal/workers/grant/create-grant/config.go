package creategrant

import (
	"time"

	"grant-workers/internal/common/config"
)

type Config struct {
	Timeout time.Duration
}

func LoadConfig(wc config.WorkerConfig) *Config {
	cfg := &Config{Timeout: 15 * time.Second}
	if t := config.GetDuration(wc.Timeout); t > 0 {
		cfg.Timeout = t
	}
	return cfg
}
