package scheduler

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestJitterScheduleFirstRunInsideInterval(t *testing.T) {
	interval := time.Hour
	now := time.Now()
	for i := 0; i < 100; i++ {
		s := &jitterSchedule{interval: interval}
		first := s.Next(now)
		assert.True(t, first.After(now.Add(-time.Second)))
		assert.True(t, first.Before(now.Add(interval)))

		// later runs are exactly one interval apart
		second := s.Next(first)
		assert.Equal(t, interval, second.Sub(first))
	}
}

func TestSchedulerRunsTasks(t *testing.T) {
	s := New()
	var runs atomic.Int64
	s.Add("counter", 10*time.Millisecond, func() error {
		runs.Add(1)
		return nil
	})
	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool {
		return runs.Load() >= 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSchedulerTaskErrorDoesNotStopScheduling(t *testing.T) {
	s := New()
	var runs atomic.Int64
	s.Add("failing", 10*time.Millisecond, func() error {
		runs.Add(1)
		return errors.New("task boom")
	})
	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool {
		return runs.Load() >= 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSchedulerSkipsOverlappingRuns(t *testing.T) {
	s := New()
	var active atomic.Int64
	var overlapped atomic.Bool
	var runs atomic.Int64
	s.Add("slow", 5*time.Millisecond, func() error {
		if active.Add(1) > 1 {
			overlapped.Store(true)
		}
		defer active.Add(-1)
		runs.Add(1)
		time.Sleep(30 * time.Millisecond)
		return nil
	})
	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool {
		return runs.Load() >= 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.False(t, overlapped.Load())
}

func TestSchedulerStopIdempotent(t *testing.T) {
	s := New()
	s.Add("noop", time.Minute, func() error { return nil })
	s.Start()
	s.Start()
	s.Stop()
	s.Stop()
}
