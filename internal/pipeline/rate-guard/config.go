// internal/pipeline/rate-guard/config.go
package rateguard

import (
	"time"

	"github.com/mygads/govconnect-sub008/internal/common/config"
)

type Config struct {
	Window                  time.Duration
	MaxPerWindow            int
	AutoBlacklistViolations int
	Cooldown                time.Duration

	SpamWindow   time.Duration
	MaxIdentical int
	BanDuration  time.Duration
}

// FromAppConfig converts the loaded guard section into the runtime config.
func FromAppConfig(cfg config.GuardConfig) *Config {
	return &Config{
		Window:                  config.GetDuration(cfg.WindowMs),
		MaxPerWindow:            cfg.MaxPerWindow,
		AutoBlacklistViolations: cfg.AutoBlacklistViolations,
		Cooldown:                config.GetDuration(cfg.CooldownMs),
		SpamWindow:              config.GetDuration(cfg.SpamWindowMs),
		MaxIdentical:            cfg.MaxIdentical,
		BanDuration:             config.GetDuration(cfg.BanDurationMs),
	}
}
