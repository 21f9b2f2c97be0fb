// Package ratewindow accumulates bytes transferred during a bounded
// measurement phase and turns them into Mbit/s samples.
package ratewindow

import (
	"math"
	"time"
)

// MinElapsed is the smallest elapsed time used as a rate denominator. The
// very first sample of a phase is taken at an elapsed time that is close
// to zero and would otherwise produce an absurd spike.
const MinElapsed = time.Millisecond

// Sample is a snapshot of a phase in progress.
type Sample struct {
	// Elapsed is the time since the beginning of the phase.
	Elapsed time.Duration

	// Count is the number of bytes transferred since the beginning of the phase.
	Count int64

	// RateMbps is Count expressed in decimal Mbit/s over Elapsed, rounded
	// to one decimal digit.
	RateMbps float64

	// ProgressPercent is Elapsed as a fraction of the phase budget, in [0, 100].
	ProgressPercent float64
}

// RateMbps returns the rate in decimal Mbit/s at which count bytes were
// transferred over elapsed, rounded to one decimal digit.
func RateMbps(count int64, elapsed time.Duration) float64 {
	if count <= 0 {
		return 0
	}
	if elapsed < MinElapsed {
		elapsed = MinElapsed
	}
	return Round1(float64(count) * 8 / elapsed.Seconds() / 1e06)
}

// Round1 rounds v to one decimal digit.
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// Progress returns elapsed as a percentage of budget clamped to [0, 100].
func Progress(elapsed, budget time.Duration) float64 {
	if budget <= 0 || elapsed >= budget {
		return 100
	}
	if elapsed <= 0 {
		return 0
	}
	return float64(elapsed) / float64(budget) * 100
}

// Window tracks a single phase. A Window is not safe for concurrent use
// and is meant to be owned by the goroutine driving the phase.
type Window struct {
	begin  time.Time
	budget time.Duration
	count  int64
	now    func() time.Time
}

// New starts a new window with the given budget.
func New(budget time.Duration) *Window {
	return NewWithClock(budget, time.Now)
}

// NewWithClock is like New but reads the time from now.
func NewWithClock(budget time.Duration, now func() time.Time) *Window {
	return &Window{begin: now(), budget: budget, now: now}
}

// Elapsed returns the time since the window started.
func (w *Window) Elapsed() time.Duration {
	return w.now().Sub(w.begin)
}

// Expired tells whether the budget has been exhausted.
func (w *Window) Expired() bool {
	return w.Elapsed() >= w.budget
}

// Count returns the bytes accumulated so far.
func (w *Window) Count() int64 {
	return w.count
}

// Add accounts for n more bytes and returns the resulting sample.
func (w *Window) Add(n int64) Sample {
	if n > 0 {
		w.count += n
	}
	return w.Sample()
}

// Sample returns the current sample without adding bytes.
func (w *Window) Sample() Sample {
	elapsed := w.Elapsed()
	return Sample{
		Elapsed:         elapsed,
		Count:           w.count,
		RateMbps:        RateMbps(w.count, elapsed),
		ProgressPercent: Progress(elapsed, w.budget),
	}
}

// Final returns the final rate of the phase. A cancelled phase has no
// valid measurement, so its final rate is zero.
func (w *Window) Final(cancelled bool) float64 {
	if cancelled {
		return 0
	}
	return RateMbps(w.count, w.Elapsed())
}
