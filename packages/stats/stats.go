// Package stats aggregates response times of repeated runs into latency
// percentiles.
package stats

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Histogram bounds in microseconds: 1us to 60s, 3 significant digits.
const (
	minLatency = 1
	maxLatency = 60_000_000
	sigFigures = 3
)

// Recorder collects per-run durations and outcome codes. It is safe for
// concurrent use.
type Recorder struct {
	mu        sync.Mutex
	histogram *hdrhistogram.Histogram
	codes     map[string]int64

	total     atomic.Int64
	success   atomic.Int64
	failed    atomic.Int64
	redirects atomic.Int64

	startTime time.Time
	endTime   time.Time
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		histogram: hdrhistogram.New(minLatency, maxLatency, sigFigures),
		codes:     make(map[string]int64),
	}
}

// Start marks the beginning of the runs
func (r *Recorder) Start() {
	r.mu.Lock()
	r.startTime = time.Now()
	r.mu.Unlock()
}

// Stop marks the end of the runs
func (r *Recorder) Stop() {
	r.mu.Lock()
	r.endTime = time.Now()
	r.mu.Unlock()
}

// Record adds one logical request. code is the status or error code shown
// to the caller; ok reports whether the request succeeded.
func (r *Recorder) Record(duration time.Duration, code string, redirects int, ok bool) {
	r.total.Add(1)
	if ok {
		r.success.Add(1)
	} else {
		r.failed.Add(1)
	}
	r.redirects.Add(int64(redirects))

	r.mu.Lock()
	_ = r.histogram.RecordValue(clamp(duration.Microseconds()))
	if code != "" {
		r.codes[code]++
	}
	r.mu.Unlock()
}

func clamp(us int64) int64 {
	if us < minLatency {
		return minLatency
	}
	if us > maxLatency {
		return maxLatency
	}
	return us
}

// CodeCount is the number of runs that ended with Code.
type CodeCount struct {
	Code  string
	Count int64
}

// Summary is the final report of a recorder.
type Summary struct {
	Duration  time.Duration
	Total     int64
	Success   int64
	Failed    int64
	Redirects int64

	RPS         float64
	SuccessRate float64

	P50    time.Duration
	P90    time.Duration
	P95    time.Duration
	P99    time.Duration
	Min    time.Duration
	Max    time.Duration
	Mean   time.Duration
	StdDev time.Duration

	// Codes is sorted by descending count, then code.
	Codes []CodeCount
}

// Summary returns the metrics summary
func (r *Recorder) Summary() *Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	duration := r.endTime.Sub(r.startTime)
	if r.endTime.IsZero() {
		duration = time.Since(r.startTime)
	}
	if r.startTime.IsZero() {
		duration = 0
	}

	total := r.total.Load()
	success := r.success.Load()

	s := &Summary{
		Duration:  duration,
		Total:     total,
		Success:   success,
		Failed:    r.failed.Load(),
		Redirects: r.redirects.Load(),
	}
	if duration.Seconds() > 0 {
		s.RPS = float64(total) / duration.Seconds()
	}
	if total > 0 {
		s.SuccessRate = float64(success) / float64(total)
		s.P50 = us(r.histogram.ValueAtQuantile(50))
		s.P90 = us(r.histogram.ValueAtQuantile(90))
		s.P95 = us(r.histogram.ValueAtQuantile(95))
		s.P99 = us(r.histogram.ValueAtQuantile(99))
		s.Min = us(r.histogram.Min())
		s.Max = us(r.histogram.Max())
		s.Mean = time.Duration(r.histogram.Mean() * float64(time.Microsecond))
		s.StdDev = time.Duration(r.histogram.StdDev() * float64(time.Microsecond))
	}

	for code, n := range r.codes {
		s.Codes = append(s.Codes, CodeCount{Code: code, Count: n})
	}
	sort.Slice(s.Codes, func(i, j int) bool {
		if s.Codes[i].Count != s.Codes[j].Count {
			return s.Codes[i].Count > s.Codes[j].Count
		}
		return s.Codes[i].Code < s.Codes[j].Code
	})

	return s
}

func us(v int64) time.Duration {
	return time.Duration(v) * time.Microsecond
}
