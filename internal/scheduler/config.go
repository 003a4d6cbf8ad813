package scheduler

import (
	"time"

	"github.com/smallbiznis/voicemeter/internal/config"
)

// Config controls job timeouts. Schedules, batch size and grace days come
// from the billing policy so they can change without a restart.
type Config struct {
	Enabled         bool
	FinalizeTimeout time.Duration
	ChargeTimeout   time.Duration
	EnforceTimeout  time.Duration
	// SettleDelay keeps finalization behind the clock so usage stamped
	// just before a window closes has committed before it is summed.
	SettleDelay time.Duration
}

func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		FinalizeTimeout: 5 * time.Minute,
		ChargeTimeout:   5 * time.Minute,
		EnforceTimeout:  time.Minute,
		SettleDelay:     time.Minute,
	}
}

func ProvideConfig(cfg config.Config) Config {
	c := DefaultConfig()
	c.Enabled = cfg.SchedulerEnabled
	return c
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.FinalizeTimeout <= 0 {
		c.FinalizeTimeout = defaults.FinalizeTimeout
	}
	if c.ChargeTimeout <= 0 {
		c.ChargeTimeout = defaults.ChargeTimeout
	}
	if c.EnforceTimeout <= 0 {
		c.EnforceTimeout = defaults.EnforceTimeout
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = defaults.SettleDelay
	}
	return c
}
