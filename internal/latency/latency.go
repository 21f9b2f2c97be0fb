// Package latency estimates the round-trip time towards an HTTP endpoint
// using a handful of lightweight sequential requests.
package latency

import (
	"context"
	"io"
	"math"
	"net/http"
	"sort"
	"time"

	"github.com/m-lab/speedprobe-go/internal/nocache"
)

// Unavailable is returned as the representative latency when not even a
// single round trip could be timed.
const Unavailable = -1

// Doer performs HTTP requests. *http.Client implements it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Sampler issues Count sequential requests to URL.
type Sampler struct {
	// Client performs the requests.
	Client Doer

	// URL is the low-payload endpoint to ping.
	URL string

	// Count is the number of round trips to time.
	Count int

	// Timeout bounds each round trip. Zero means no bound other
	// than the context passed to Run.
	Timeout time.Duration

	// ExcludeFailures drops round trips that ended in error from the
	// ranking. By default they are kept: the time until the error is
	// still a valid estimate of the path latency.
	ExcludeFailures bool
}

// Outcome is the outcome of Run.
type Outcome struct {
	// Samples contains the timed round trips in the order they were performed.
	Samples []time.Duration

	// Failures is the number of round trips that ended in error.
	Failures int

	// Millis is the representative latency or Unavailable.
	Millis int64

	// Cancelled is true when the context was done before the end.
	Cancelled bool

	// Err is the last error encountered, if any.
	Err error
}

// Run performs the round trips. It never fails: errors are reported in
// the Outcome and the representative value degrades to Unavailable.
func (s *Sampler) Run(ctx context.Context) Outcome {
	var out Outcome
	for i := 0; i < s.Count; i++ {
		if ctx.Err() != nil {
			out.Cancelled = true
			break
		}
		elapsed, timed, err := s.roundTrip(ctx)
		if ctx.Err() != nil {
			// A round trip interrupted by cancellation does not
			// tell anything about the path.
			out.Cancelled = true
			break
		}
		if err != nil {
			out.Failures++
			out.Err = err
			if s.ExcludeFailures {
				continue
			}
		}
		if timed {
			out.Samples = append(out.Samples, elapsed)
		}
	}
	out.Millis = Unavailable
	if !out.Cancelled {
		out.Millis = PickRepresentative(out.Samples)
	}
	return out
}

// roundTrip times a single request. The boolean is false when the request
// could not even be issued, in which case there is nothing to time.
func (s *Sampler) roundTrip(ctx context.Context) (time.Duration, bool, error) {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	req, err := nocache.NewRequest(ctx, http.MethodGet, s.URL, nil, nil)
	if err != nil {
		return 0, false, err
	}
	begin := time.Now()
	resp, err := s.Client.Do(req)
	if err != nil {
		return time.Since(begin), true, err
	}
	// The body is negligible by construction; reading it lets the
	// connection be reused by the next round trip.
	_, err = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return time.Since(begin), true, err
}

// PickRepresentative returns the second smallest sample in milliseconds,
// rounded to the nearest integer. The minimum is discarded because it is
// the value most affected by caching and connection reuse. With a single
// sample, that sample is returned. Without samples, Unavailable is returned.
func PickRepresentative(samples []time.Duration) int64 {
	if len(samples) == 0 {
		return Unavailable
	}
	sorted := make([]time.Duration, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})
	pick := sorted[0]
	if len(sorted) > 1 {
		pick = sorted[1]
	}
	return int64(math.Round(float64(pick) / float64(time.Millisecond)))
}
