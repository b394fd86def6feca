package ingestion

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Progress holds the counters of one loader pass. The loader increments
// them; the reporter reads them concurrently.
type Progress struct {
	total     atomic.Int64
	processed atomic.Int64
	created   atomic.Int64
	updated   atomic.Int64
	skipped   atomic.Int64
}

// Snapshot is a point-in-time copy of the progress counters.
type Snapshot struct {
	Task      string    `json:"task"`
	Total     int64     `json:"total"`
	Processed int64     `json:"processed"`
	Created   int64     `json:"created"`
	Updated   int64     `json:"updated"`
	Skipped   int64     `json:"skipped"`
	Done      bool      `json:"done"`
	Time      time.Time `json:"time"`
}

// Percent returns the processed share of the total, 100 for an empty pass.
func (s Snapshot) Percent() float64 {
	if s.Total == 0 {
		return 100
	}
	return float64(s.Processed) * 100 / float64(s.Total)
}

// Snapshot reads the counters. The counters are read one at a time, so the
// result may be slightly torn while a pass is running.
func (p *Progress) Snapshot() Snapshot {
	return Snapshot{
		Total:     p.total.Load(),
		Processed: p.processed.Load(),
		Created:   p.created.Load(),
		Updated:   p.updated.Load(),
		Skipped:   p.skipped.Load(),
		Time:      time.Now().UTC(),
	}
}

// Sink receives progress snapshots. Publish must not block.
type Sink interface {
	Publish(Snapshot)
}

// Reporter periodically logs a pass's progress and forwards it to sinks.
type Reporter struct {
	task     string
	interval time.Duration
	log      logrus.FieldLogger
	sinks    []Sink
}

// NewReporter creates a reporter ticking every interval.
func NewReporter(task string, interval time.Duration, log logrus.FieldLogger, sinks ...Sink) *Reporter {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Reporter{
		task:     task,
		interval: interval,
		log:      log.WithField("task", task),
		sinks:    sinks,
	}
}

// Watch starts reporting p in the background. The returned stop function
// ends the reporting goroutine and emits a final snapshot marked done.
func (r *Reporter) Watch(p *Progress) (stop func()) {
	done := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				r.emit(p.Snapshot(), false)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			wg.Wait()
			r.emit(p.Snapshot(), true)
		})
	}
}

func (r *Reporter) emit(s Snapshot, done bool) {
	s.Task = r.task
	s.Done = done

	entry := r.log.WithFields(logrus.Fields{
		"processed": s.Processed,
		"total":     s.Total,
		"created":   s.Created,
		"updated":   s.Updated,
		"skipped":   s.Skipped,
	})
	if done {
		entry.Debug("Progress complete")
	} else {
		entry.Infof("Progress %d/%d (%.0f%%)", s.Processed, s.Total, s.Percent())
	}

	for _, sink := range r.sinks {
		sink.Publish(s)
	}
}
