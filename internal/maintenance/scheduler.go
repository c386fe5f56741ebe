// Package maintenance runs periodic cleanup jobs on a cron schedule.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/geocoder89/aegisapi/internal/observability"
	"github.com/robfig/cron/v3"
)

type Config struct {
	JobTimeout  time.Duration
	MaxAttempts int
	RetryBase   time.Duration
	RetryCap    time.Duration
}

func (c *Config) defaults() {
	if c.JobTimeout <= 0 {
		c.JobTimeout = 2 * time.Minute
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 2 * time.Second
	}
	if c.RetryCap <= 0 {
		c.RetryCap = time.Minute
	}
}

type Scheduler struct {
	cfg  Config
	cron *cron.Cron
	log  *slog.Logger
	prom *observability.Prom

	mu      sync.RWMutex
	jobs    map[string]Job
	metrics map[string]*observability.JobMetrics
	entries map[string]cron.EntryID

	// base context for runs; cancelled by Stop
	ctx    context.Context
	cancel context.CancelFunc
}

func NewScheduler(cfg Config, log *slog.Logger, prom *observability.Prom) *Scheduler {
	cfg.defaults()
	ctx, cancel := context.WithCancel(context.Background())
	l := cronLogger{log: log}

	return &Scheduler{
		cfg: cfg,
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(time.UTC),
			cron.WithLogger(l),
			cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
		),
		log:     log,
		prom:    prom,
		jobs:    map[string]Job{},
		metrics: map[string]*observability.JobMetrics{},
		entries: map[string]cron.EntryID{},
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Add registers j. The spec is validated here so bad config fails at startup.
func (s *Scheduler) Add(j Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.jobs[j.Name]; dup {
		return fmt.Errorf("maintenance: job %q already registered", j.Name)
	}

	id, err := s.cron.AddFunc(j.Spec, func() { s.run(s.ctx, j) })
	if err != nil {
		return fmt.Errorf("maintenance: job %q: %w", j.Name, err)
	}

	s.jobs[j.Name] = j
	s.metrics[j.Name] = observability.NewJobMetrics()
	s.entries[j.Name] = id
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("maintenance scheduler started", "jobs", len(s.jobs))
}

// Stop stops scheduling, cancels running jobs and waits for them to return
// or for ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	s.cancel()

	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunNow runs a registered job synchronously, outside the schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.RLock()
	j, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("maintenance: unknown job %q", name)
	}
	return s.run(ctx, j)
}

// run executes j with retries, recording metrics and logs.
func (s *Scheduler) run(ctx context.Context, j Job) error {
	s.mu.RLock()
	m := s.metrics[j.Name]
	s.mu.RUnlock()

	if s.prom != nil {
		s.prom.JobsInFlight.Inc()
		defer s.prom.JobsInFlight.Dec()
	}

	start := time.Now()
	m.IncRuns()

	var (
		removed int64
		err     error
	)
retry:
	for attempt := 0; attempt < s.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			wait := Backoff(attempt-1, s.cfg.RetryBase, s.cfg.RetryCap)
			s.log.Warn("maintenance job retrying", "job", j.Name, "attempt", attempt+1, "wait", wait, "err", err)
			select {
			case <-ctx.Done():
				err = errors.Join(err, ctx.Err())
				break retry
			case <-time.After(wait):
			}
		}

		var n int64
		n, err = s.attempt(ctx, j)
		removed += n
		if err == nil {
			break
		}
	}

	elapsed := time.Since(start)
	m.ObserveDuration(elapsed)
	m.AddRemoved(removed)

	result := "done"
	if err != nil {
		result = "failed"
		m.IncFailed()
		s.log.Error("maintenance job failed", "job", j.Name, "removed", removed, "duration", elapsed, "err", err)
	} else {
		s.log.Info("maintenance job done", "job", j.Name, "removed", removed, "duration", elapsed)
	}

	if s.prom != nil {
		s.prom.JobResults.WithLabelValues(j.Name, result).Inc()
		s.prom.JobDuration.WithLabelValues(j.Name, result).Observe(elapsed.Seconds())
	}
	return err
}

func (s *Scheduler) attempt(ctx context.Context, j Job) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
	defer cancel()
	return j.Run(ctx)
}

type JobStatus struct {
	Name    string                           `json:"name"`
	Spec    string                           `json:"spec"`
	Next    *time.Time                       `json:"next,omitempty"`
	Prev    *time.Time                       `json:"prev,omitempty"`
	Metrics observability.JobMetricsSnapshot `json:"metrics"`
}

// Status reports every registered job with its schedule and counters.
func (s *Scheduler) Status() []JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]JobStatus, 0, len(s.jobs))
	for name, j := range s.jobs {
		st := JobStatus{Name: name, Spec: j.Spec, Metrics: s.metrics[name].Snapshot()}
		e := s.cron.Entry(s.entries[name])
		if !e.Next.IsZero() {
			next := e.Next
			st.Next = &next
		}
		if !e.Prev.IsZero() {
			prev := e.Prev
			st.Prev = &prev
		}
		out = append(out, st)
	}
	sortStatuses(out)
	return out
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(keysAndValues, "err", err)...)
}
