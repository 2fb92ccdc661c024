// Package scheduler runs the kernel's periodic maintenance tasks on
// jittered intervals without overlap.
package scheduler

import (
	"math/rand"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/hutchhq/hutch/pkg/log"
	"github.com/hutchhq/hutch/pkg/metrics"
)

// stopTimeout bounds the wait for running tasks during Stop.
const stopTimeout = 10 * time.Second

// Task is one periodic background job.
type Task func() error

// Scheduler runs periodic maintenance tasks on jittered intervals.
// Each task is chained through SkipIfStillRunning, so a slow run is
// never overlapped by the next tick.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	running bool

	log zerolog.Logger
}

// New creates an empty scheduler.
func New() *Scheduler {
	logger := log.WithComponent("scheduler")
	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cronLogger{logger}),
		)),
		log: logger,
	}
}

// Add registers a task to run every interval. The first run fires
// after a random fraction of the interval, so tasks added together do
// not stampede.
func (s *Scheduler) Add(name string, interval time.Duration, task Task) {
	if interval <= 0 {
		interval = time.Minute
	}
	s.cron.Schedule(&jitterSchedule{interval: interval}, cron.FuncJob(func() {
		start := time.Now()
		err := task()
		status := "success"
		if err != nil {
			status = "error"
			s.log.Warn().Err(err).Str("task", name).Msg("Background task failed")
		} else {
			s.log.Debug().Str("task", name).Dur("duration", time.Since(start)).Msg("Background task finished")
		}
		metrics.TaskRunsTotal.WithLabelValues(name, status).Inc()
	}))
	s.log.Debug().Str("task", name).Dur("interval", interval).Msg("Background task registered")
}

// Start begins running the registered tasks. Starting twice is a
// no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.cron.Start()
	s.log.Info().Msg("Scheduler started")
}

// Stop halts scheduling and waits for running tasks, at most
// stopTimeout. Stopping an idle scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	ctx := s.cron.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(stopTimeout):
		s.log.Warn().Msg("Scheduler stop timed out waiting for tasks")
	}
	s.log.Info().Msg("Scheduler stopped")
}

// jitterSchedule fires at a fixed interval with a randomized first
// run inside [0, interval).
type jitterSchedule struct {
	interval time.Duration
	started  bool
}

func (j *jitterSchedule) Next(t time.Time) time.Time {
	if !j.started {
		j.started = true
		return t.Add(time.Duration(rand.Int63n(int64(j.interval))))
	}
	return t.Add(j.interval)
}

// cronLogger adapts the component logger to the cron logging
// interface.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
