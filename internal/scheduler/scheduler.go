// Package scheduler runs deferred work on a fixed worker pool.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"firestige.xyz/v6rx/internal/core"
	"firestige.xyz/v6rx/internal/log"
	"firestige.xyz/v6rx/internal/metrics"
)

// Config contains configuration for the scheduler.
type Config struct {
	Workers   int // Worker goroutines (default 2)
	QueueSize int // Pending jobs before Schedule fails (default 1024)
}

// Scheduler queues jobs without blocking the caller and runs them on a
// worker pool.
type Scheduler struct {
	queue     chan *Job
	nextJobID int64
	workers   int

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup

	executed atomic.Int64
	rejected atomic.Int64
	log      log.Logger
}

// New creates a scheduler. Call Start before scheduling.
func New(cfg Config, logger log.Logger) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if logger == nil {
		logger = log.GetLogger()
	}
	return &Scheduler{
		queue:   make(chan *Job, cfg.QueueSize),
		workers: cfg.Workers,
		log:     logger,
	}
}

// Start launches the workers. They exit when ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}
	s.log.WithField("workers", s.workers).Info("scheduler started")
}

// Schedule enqueues fn. It never blocks: a full queue returns
// core.ErrQueueFull and a stopped scheduler core.ErrStopped.
func (s *Scheduler) Schedule(fn func()) error {
	return s.ScheduleNamed("deferred", fn)
}

// ScheduleNamed is Schedule with a job name for logs.
func (s *Scheduler) ScheduleNamed(name string, fn func()) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return core.ErrStopped
	}

	job := newJob(atomic.AddInt64(&s.nextJobID, 1), name, fn)
	select {
	case s.queue <- job:
		metrics.SchedulerQueueDepth.Set(float64(len(s.queue)))
		return nil
	default:
		s.rejected.Add(1)
		return fmt.Errorf("job %s: %w", job, core.ErrQueueFull)
	}
}

// Stop refuses new jobs, lets the workers drain the queue and waits for
// them.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.queue)
	s.mu.Unlock()

	s.wg.Wait()
	s.log.WithFields(map[string]interface{}{
		"executed": s.executed.Load(),
		"rejected": s.rejected.Load(),
	}).Info("scheduler stopped")
}

// Executed returns the number of jobs run.
func (s *Scheduler) Executed() int64 { return s.executed.Load() }

// Rejected returns the number of jobs refused because the queue was full.
func (s *Scheduler) Rejected() int64 { return s.rejected.Load() }

func (s *Scheduler) worker(ctx context.Context, id int) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-s.queue:
			if !ok {
				return
			}
			metrics.SchedulerQueueDepth.Set(float64(len(s.queue)))
			s.run(id, job)
		}
	}
}

func (s *Scheduler) run(worker int, job *Job) {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithFields(map[string]interface{}{
				"worker": worker,
				"job":    job.IDString(),
				"name":   job.Name,
			}).Errorf("job panicked: %v", r)
		}
	}()
	job.fn()
	s.executed.Add(1)
}
