package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"cmelive/pkg/interfaces"
)

// Scheduler advances course statuses on a fixed interval: pending courses
// open when their registration window starts, open courses close when it
// ends, and closed courses complete once the course date has passed.
type Scheduler struct {
	courses  interfaces.CourseStore
	interval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(courses interfaces.CourseStore, interval time.Duration) *Scheduler {
	return &Scheduler{
		courses:  courses,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start runs one sweep immediately, then sweeps on every tick until Stop is
// called or the parent context ends.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	go func() {
		defer close(s.done)

		s.sweep(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.sweep(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the sweep loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		<-s.done
	})
}

// sweep applies all due status transitions in one transaction. Failures are
// logged and retried naturally on the next tick.
func (s *Scheduler) sweep(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	opened, closed, completed, err := s.courses.TransitionCourseStatuses(ctx, time.Now())
	if err != nil {
		log.Printf("Course status sweep failed: %v", err)
		return
	}
	if opened+closed+completed > 0 {
		log.Printf("Course status sweep: %d opened, %d closed, %d completed", opened, closed, completed)
	}
}
