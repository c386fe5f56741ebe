package observability

import (
	"sync/atomic"
	"time"
)

// JobMetrics keeps in-process counters for maintenance runs so the worker's
// status endpoint can report them without scraping Prometheus.
type JobMetrics struct {
	runs    atomic.Uint64
	failed  atomic.Uint64
	removed atomic.Uint64

	// duration stats (nanoseconds)
	durationCount atomic.Uint64
	durationTotal atomic.Int64
	durationMax   atomic.Int64

	lastRun atomic.Int64 // unix nanos
}

func NewJobMetrics() *JobMetrics {
	return &JobMetrics{}
}

func (m *JobMetrics) IncRuns()   { m.runs.Add(1) }
func (m *JobMetrics) IncFailed() { m.failed.Add(1) }

// AddRemoved counts rows or objects purged by a run.
func (m *JobMetrics) AddRemoved(n int64) {
	if n > 0 {
		m.removed.Add(uint64(n))
	}
}

func (m *JobMetrics) ObserveDuration(d time.Duration) {
	ns := d.Nanoseconds()
	m.durationCount.Add(1)
	m.durationTotal.Add(ns)
	m.lastRun.Store(time.Now().UnixNano())

	for {
		curr := m.durationMax.Load()

		if ns <= curr {
			return
		}

		if m.durationMax.CompareAndSwap(curr, ns) {
			return
		}
	}
}

type JobMetricsSnapshot struct {
	Runs            uint64        `json:"runs"`
	Failed          uint64        `json:"failed"`
	Removed         uint64        `json:"removed"`
	AverageDuration time.Duration `json:"averageDurationNs"`
	MaxDuration     time.Duration `json:"maxDurationNs"`
	LastRun         *time.Time    `json:"lastRun,omitempty"`
}

func (m *JobMetrics) Snapshot() JobMetricsSnapshot {
	count := m.durationCount.Load()
	total := m.durationTotal.Load()

	var avg time.Duration
	if count > 0 {
		avg = time.Duration(total / int64(count))
	}

	s := JobMetricsSnapshot{
		Runs:            m.runs.Load(),
		Failed:          m.failed.Load(),
		Removed:         m.removed.Load(),
		AverageDuration: avg,
		MaxDuration:     time.Duration(m.durationMax.Load()),
	}
	if ns := m.lastRun.Load(); ns > 0 {
		t := time.Unix(0, ns).UTC()
		s.LastRun = &t
	}
	return s
}
