package config

import (
	"fmt"
	"strings"
	"time"
)

// Validate checks cross-field constraints that the strict decoder can't.
// It is used both at startup and as the Watch() validator hook.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	if _, err := ParseDurationField("bridge.startup_timeout", cfg.Bridge.StartupTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("bridge.call_timeout", cfg.Bridge.CallTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("scheduler.poll_interval", cfg.Scheduler.PollInterval); err != nil {
		return err
	}
	if _, err := ParseDurationField("scheduler.misfire_grace", cfg.Scheduler.MisfireGrace); err != nil {
		return err
	}
	if cfg.Storage != nil {
		if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
			return err
		}
	}

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: unknown zone %q", tz)
		}
	}

	if cfg.Agent.Enabled && strings.TrimSpace(cfg.Agent.Model) == "" {
		return fmt.Errorf("agent.model is required when agent.enabled")
	}

	for _, n := range cfg.Admin.Numbers {
		if strings.TrimSpace(n) == "" {
			return fmt.Errorf("admin.numbers: empty entry")
		}
	}
	return nil
}
