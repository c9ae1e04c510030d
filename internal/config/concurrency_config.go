package config

import "time"

type ConcurrencyConfig interface {
	GetWorkerCount() int
	GetLaunchSpacing() time.Duration
	GetCheckFanOut() int
	GetTransientRetries() int
}

type concurrencyFile struct {
	Workers          int           `yaml:"workers"`
	LaunchSpacing    time.Duration `yaml:"launchSpacing"`
	CheckFanOut      int           `yaml:"checkFanOut"`
	TransientRetries int           `yaml:"transientRetries"`
}

type Concurrency struct {
	file concurrencyFile
}

var _ ConcurrencyConfig = Concurrency{}

func (c Concurrency) GetWorkerCount() int {
	return GetEnvInt("WORKERS", orDefault(c.file.Workers, 1))
}

func (c Concurrency) GetLaunchSpacing() time.Duration {
	return GetEnvDuration("LAUNCH_SPACING", orDefault(c.file.LaunchSpacing, 5*time.Second))
}

func (c Concurrency) GetCheckFanOut() int {
	return GetEnvInt("CHECK_FAN_OUT", orDefault(c.file.CheckFanOut, 5))
}

func (c Concurrency) GetTransientRetries() int {
	return GetEnvInt("TRANSIENT_RETRIES", orDefault(c.file.TransientRetries, 3))
}
