package runner

import (
	"context"
	"fmt"
	"sync"

	"github.com/jrsteele09/go-store-claimer/internal/config"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler triggers cycles from a cron expression. A cycle that is still running when
// the next one is due makes the next one skip.
type Scheduler struct {
	runner       *Runner
	cron         *cron.Cron
	spec         string
	runOnStartup bool
	logger       zerolog.Logger

	mu   sync.Mutex
	last *Report
}

func NewScheduler(r *Runner, cfg config.ScheduleConfig, logger zerolog.Logger) *Scheduler {
	cl := cronLogger{logger: logger}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	return &Scheduler{
		runner:       r,
		cron:         c,
		spec:         cfg.GetCronSchedule(),
		runOnStartup: cfg.GetRunOnStartup(),
		logger:       logger,
	}
}

// Start schedules cycles bound to ctx and, when configured, starts one right away.
func (s *Scheduler) Start(ctx context.Context) error {
	job := cron.FuncJob(func() {
		report := s.runner.RunOnce(ctx)
		s.mu.Lock()
		s.last = report
		s.mu.Unlock()
	})
	id, err := s.cron.AddJob(s.spec, job)
	if err != nil {
		return fmt.Errorf("[Scheduler.Start] cron %q: %w", s.spec, err)
	}
	s.cron.Start()
	next := s.cron.Entry(id).Next
	s.logger.Info().Str("cron", s.spec).Time("next", next).Msg("scheduler started")
	if s.runOnStartup {
		// Through the job chain, so it and a scheduled run never overlap.
		go s.cron.Entry(id).WrappedJob.Run()
	}
	return nil
}

// Stop stops scheduling and returns a context done when running cycles finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// LastReport is the report of the most recent finished cycle, nil before the first.
func (s *Scheduler) LastReport() *Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// cronLogger routes cron's logging into zerolog.
type cronLogger struct {
	logger zerolog.Logger
}

var _ cron.Logger = cronLogger{}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
