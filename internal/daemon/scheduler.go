package daemon

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/user/circuitdiag/internal/model"
	"github.com/user/circuitdiag/internal/util"
)

// Job represents a scheduled job. Run returns a one-line result for
// the status file.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) (string, error)

	// State
	lastRun    time.Time
	nextRun    time.Time
	lastResult string
	lastError  error
	errorCount int
	running    bool
	mu         sync.RWMutex
}

// Scheduler runs jobs at their interval with at most concurrency jobs
// in flight. A due job that finds the pool full waits for the next tick.
type Scheduler struct {
	jobs         []*Job
	concurrency  int
	tick         time.Duration
	initialDelay time.Duration
	afterRun     func()
	mu           sync.RWMutex
}

// NewScheduler creates a new scheduler.
func NewScheduler(concurrency int) *Scheduler {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Scheduler{
		jobs:         make([]*Job, 0),
		concurrency:  concurrency,
		tick:         time.Second,
		initialDelay: 5 * time.Second,
	}
}

// AddJob adds a job to the scheduler.
func (s *Scheduler) AddJob(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job.nextRun = time.Now().Add(s.initialDelay)
	s.jobs = append(s.jobs, job)
}

// Run checks for due jobs until ctx is done, then waits for running
// jobs to return.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	util.Info("Scheduler started with %d jobs", len(s.jobs))

	for {
		select {
		case <-ctx.Done():
			util.Info("Scheduler stopping")
			g.Wait()
			return
		case now := <-ticker.C:
			s.checkJobs(gctx, g, now)
		}
	}
}

func (s *Scheduler) checkJobs(ctx context.Context, g *errgroup.Group, now time.Time) {
	s.mu.RLock()
	jobs := s.jobs
	s.mu.RUnlock()

	for _, job := range jobs {
		job.mu.Lock()
		due := !job.running && now.After(job.nextRun)
		if due {
			job.running = true
		}
		job.mu.Unlock()
		if !due {
			continue
		}

		if !g.TryGo(func() error {
			s.runJob(ctx, job)
			return nil
		}) {
			job.mu.Lock()
			job.running = false
			job.mu.Unlock()
		}
	}
}

func (s *Scheduler) runJob(ctx context.Context, job *Job) {
	job.mu.Lock()
	job.lastRun = time.Now()
	job.mu.Unlock()

	util.Debug("Running job: %s", job.Name)

	ctx, cancel := context.WithTimeout(ctx, job.Interval)
	defer cancel()

	result, err := job.Run(ctx)

	job.mu.Lock()
	job.running = false
	job.lastResult = result
	if err != nil {
		job.lastError = err
		job.errorCount++
		util.Warn("Job %s failed: %v", job.Name, err)
		// Shorter retry on error
		job.nextRun = time.Now().Add(job.Interval / 2)
	} else {
		job.lastError = nil
		util.Debug("Job %s completed: %s", job.Name, result)
		job.nextRun = time.Now().Add(job.Interval)
	}
	job.mu.Unlock()

	if s.afterRun != nil {
		s.afterRun()
	}
}

// JobStatuses returns the status of all jobs.
func (s *Scheduler) JobStatuses() []model.JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	statuses := make([]model.JobStatus, len(s.jobs))
	for i, job := range s.jobs {
		job.mu.RLock()
		status := model.JobStatus{
			Name:       job.Name,
			LastRun:    job.lastRun,
			NextRun:    job.nextRun,
			LastResult: job.lastResult,
			ErrorCount: job.errorCount,
		}
		if job.lastError != nil {
			status.LastResult = "error: " + job.lastError.Error()
		}
		job.mu.RUnlock()
		statuses[i] = status
	}

	return statuses
}

// Running returns the number of jobs in flight.
func (s *Scheduler) Running() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, job := range s.jobs {
		job.mu.RLock()
		if job.running {
			n++
		}
		job.mu.RUnlock()
	}
	return n
}

// GetJob returns a job by name.
func (s *Scheduler) GetJob(name string) *Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, job := range s.jobs {
		if job.Name == name {
			return job
		}
	}
	return nil
}

// TriggerJob makes a job due on the next tick.
func (s *Scheduler) TriggerJob(name string) bool {
	job := s.GetJob(name)
	if job == nil {
		return false
	}

	job.mu.Lock()
	job.nextRun = time.Now()
	job.mu.Unlock()

	return true
}
