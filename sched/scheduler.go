/*
Package sched provides a persistent, time-triggered job scheduler.

PURPOSE:
  Runs limit lifecycle transitions (rollover, expiry) at computed future
  timestamps. Jobs live in the same durable store as the limits they manage,
  so pending transitions survive process restarts.

DESIGN:
  - One job per key: Schedule upserts, replacing any job with the same id.
    Re-creating a limit under the same title never leaves duplicate jobs.
  - At-most-once firing: a due job is claimed (deleted) before its handler
    runs. A failing handler is logged and not retried; the next natural
    trigger self-heals most transient failures.
  - Cooperative ticker loop: a single goroutine polls for due jobs at a
    configurable interval. Cancellation is best-effort - it prevents future
    firing, it does not abort a handler already in flight.

JITTER:
  Triggers are placed the day AFTER a boundary date, at a random offset
  within the first minute after midnight UTC. That keeps a batch of limits
  from rolling over at the exact same instant, and guarantees the boundary
  day's expenses have landed before the new balance is computed.

USAGE:
  s := sched.New(store, log)
  s.Register("rollover", func(ctx context.Context, job sched.Job) error {
      return engine.Rollover(ctx, job.UserID, job.UserTitle)
  })
  s.Start()
  // ... later
  s.Stop()

SEE ALSO:
  - limits/engine.go: Schedules and handles these jobs
  - store/sqlite: Durable job rows
*/
package sched

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Job is one pending scheduled invocation. ID doubles as the dedupe key:
// the engine derives it from (user, title, kind) so at most one rollover
// and one expiry can be pending per limit.
type Job struct {
	ID        string
	Kind      string
	RunAt     time.Time
	UserID    int64
	UserTitle string
	CreatedAt time.Time
}

// HandlerFunc executes one fired job.
type HandlerFunc func(ctx context.Context, job Job) error

// Store persists jobs. Implementations must make UpsertJob replace any
// existing row with the same id.
type Store interface {
	UpsertJob(ctx context.Context, job Job) error

	// DeleteJob removes a job, reporting whether it existed. Deleting an
	// absent job is not an error.
	DeleteJob(ctx context.Context, id string) (bool, error)

	// DueJobs returns jobs with RunAt <= now, oldest first.
	DueJobs(ctx context.Context, now time.Time) ([]Job, error)
}

// =============================================================================
// SCHEDULER
// =============================================================================

// Scheduler drives registered handlers from the persistent job store.
type Scheduler struct {
	store    Store
	log      *zap.SugaredLogger
	interval time.Duration

	mu       sync.Mutex
	handlers map[string]HandlerFunc
	ticker   *time.Ticker
	stop     chan struct{}
	wg       sync.WaitGroup
	started  bool
}

// New creates a scheduler polling every 30 seconds by default.
func New(store Store, log *zap.SugaredLogger) *Scheduler {
	return &Scheduler{
		store:    store,
		log:      log,
		interval: 30 * time.Second,
		handlers: make(map[string]HandlerFunc),
		stop:     make(chan struct{}),
	}
}

// WithInterval overrides the polling interval. Call before Start.
func (s *Scheduler) WithInterval(d time.Duration) *Scheduler {
	s.interval = d
	return s
}

// Register binds a handler to a job kind. Jobs of an unregistered kind are
// dropped with a warning when they fire.
func (s *Scheduler) Register(kind string, fn HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[kind] = fn
}

// Schedule upserts a job, replacing any pending job with the same id.
func (s *Scheduler) Schedule(ctx context.Context, job Job) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	return s.store.UpsertJob(ctx, job)
}

// Cancel removes a pending job. No-op if absent.
func (s *Scheduler) Cancel(ctx context.Context, jobID string) error {
	_, err := s.store.DeleteJob(ctx, jobID)
	return err
}

// Start begins the polling loop.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}
	s.started = true
	s.ticker = time.NewTicker(s.interval)
	s.wg.Add(1)

	go s.run()

	s.log.Infow("scheduler started", "interval", s.interval)
}

// Stop halts the polling loop and waits for an in-flight pass to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.started = false
	// Release the lock before waiting: an in-flight pass takes it to look
	// up handlers.
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	// Run immediately on start to catch jobs that came due while down.
	s.RunDue(context.Background())

	for {
		select {
		case <-s.ticker.C:
			s.RunDue(context.Background())
		case <-s.stop:
			return
		}
	}
}

// RunDue fires every due job once. Exported for tests and admin triggers.
func (s *Scheduler) RunDue(ctx context.Context) {
	now := time.Now().UTC()

	due, err := s.store.DueJobs(ctx, now)
	if err != nil {
		s.log.Errorw("scheduler: listing due jobs failed", "error", err)
		return
	}

	for _, job := range due {
		// Claim before running: the job fires at most once per schedule.
		claimed, err := s.store.DeleteJob(ctx, job.ID)
		if err != nil {
			s.log.Errorw("scheduler: claiming job failed", "job", job.ID, "error", err)
			continue
		}
		if !claimed {
			continue
		}

		s.mu.Lock()
		fn := s.handlers[job.Kind]
		s.mu.Unlock()

		if fn == nil {
			s.log.Warnw("scheduler: no handler for job kind", "job", job.ID, "kind", job.Kind)
			continue
		}

		if err := fn(ctx, job); err != nil {
			// At-most-once: log and move on, the next natural trigger
			// self-heals.
			s.log.Errorw("scheduler: job failed", "job", job.ID, "kind", job.Kind, "error", err)
			continue
		}

		s.log.Infow("scheduler: job completed", "job", job.ID, "kind", job.Kind)
	}
}

// =============================================================================
// TRIGGER TIME
// =============================================================================

// FireTime computes the trigger for a boundary date: the following day at
// midnight UTC plus up to a minute of jitter.
func FireTime(boundary time.Time) time.Time {
	u := boundary.UTC()
	next := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	return next.Add(time.Duration(rand.Intn(60)) * time.Second)
}
