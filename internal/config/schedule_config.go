package config

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

type ScheduleConfig interface {
	GetCronSchedule() string
	GetRunOnStartup() bool
	GetEscalationBuffer() time.Duration
	GetMinEscalationWait() time.Duration
	GetMaxEscalationWait() time.Duration
}

type scheduleFile struct {
	Cron             string        `yaml:"cron"`
	RunOnStartup     *bool         `yaml:"runOnStartup"`
	EscalationBuffer time.Duration `yaml:"escalationBuffer"`
	MinWait          time.Duration `yaml:"minEscalationWait"`
	MaxWait          time.Duration `yaml:"maxEscalationWait"`
}

type Schedule struct {
	file scheduleFile
}

var _ ScheduleConfig = Schedule{}

func (s Schedule) GetCronSchedule() string {
	return GetEnv("CRON_SCHEDULE", orDefault(s.file.Cron, "0 */6 * * *"))
}

func (s Schedule) GetRunOnStartup() bool {
	def := true
	if s.file.RunOnStartup != nil {
		def = *s.file.RunOnStartup
	}
	return GetEnvBool("RUN_ON_STARTUP", def)
}

// GetEscalationBuffer is subtracted from the time until the next run so a human wait
// never overlaps the following cycle.
func (s Schedule) GetEscalationBuffer() time.Duration {
	return GetEnvDuration("ESCALATION_BUFFER", orDefault(s.file.EscalationBuffer, 5*time.Minute))
}

func (s Schedule) GetMinEscalationWait() time.Duration {
	return GetEnvDuration("MIN_ESCALATION_WAIT", orDefault(s.file.MinWait, time.Minute))
}

func (s Schedule) GetMaxEscalationWait() time.Duration {
	return GetEnvDuration("MAX_ESCALATION_WAIT", orDefault(s.file.MaxWait, 2*time.Hour))
}

func (s Schedule) validate() []string {
	if _, err := cron.ParseStandard(s.GetCronSchedule()); err != nil {
		return []string{fmt.Sprintf("schedule.cron %q: %v", s.GetCronSchedule(), err)}
	}
	return nil
}
