// Package download measures download throughput by streaming a large
// response body and counting the bytes received within a time budget.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/m-lab/speedprobe-go/internal/nocache"
	"github.com/m-lab/speedprobe-go/internal/ratewindow"
)

// ErrUnexpectedStatus indicates that the server did not answer with 200.
var ErrUnexpectedStatus = errors.New("unexpected HTTP status")

const readBufferSize = 1 << 17

// Doer performs HTTP requests. *http.Client implements it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Meter is the download meter.
type Meter struct {
	// Client performs the request.
	Client Doer

	// URL is the bulk-data endpoint. The number of bytes to
	// send is passed using the `bytes` query parameter.
	URL string

	// Bytes is the size of the requested body. It should be larger
	// than what can be consumed within Budget.
	Bytes int64

	// Budget is the maximum duration of the measurement.
	Budget time.Duration

	// StallGrace is how long past Budget a stalled read may block
	// before the request is torn down. Zero disables the guard.
	StallGrace time.Duration
}

// Outcome is the outcome of a download.
type Outcome struct {
	// Count is the number of bytes received.
	Count int64

	// Elapsed is the duration of the measurement.
	Elapsed time.Duration

	// RateMbps is the final rate, zero when Cancelled.
	RateMbps float64

	// Cancelled is true when ctx was done before the end.
	Cancelled bool

	// Err explains why the measurement ended early, if it did
	// for reasons other than cancellation or budget exhaustion.
	Err error
}

// Run performs the download. The budget and the context are checked
// before blocking on each read; emit is called after each chunk with the
// cumulative sample. Run never fails: a failure ends the measurement
// early and the bytes received so far still yield a rate.
func (m *Meter) Run(ctx context.Context, emit func(ratewindow.Sample)) Outcome {
	window := ratewindow.New(m.Budget)
	err := m.stream(ctx, window, emit)
	cancelled := ctx.Err() != nil
	if cancelled {
		err = nil
	}
	return Outcome{
		Count:     window.Count(),
		Elapsed:   window.Elapsed(),
		RateMbps:  window.Final(cancelled),
		Cancelled: cancelled,
		Err:       err,
	}
}

func (m *Meter) stream(ctx context.Context, window *ratewindow.Window, emit func(ratewindow.Sample)) error {
	reqctx := ctx
	if m.StallGrace > 0 {
		var cancel context.CancelFunc
		reqctx, cancel = context.WithTimeout(ctx, m.Budget+m.StallGrace)
		defer cancel()
	}
	query := url.Values{}
	query.Set("bytes", strconv.FormatInt(m.Bytes, 10))
	req, err := nocache.NewRequest(reqctx, http.MethodGet, m.URL, query, nil)
	if err != nil {
		return fmt.Errorf("cannot create download request: %w", err)
	}
	resp, err := m.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	buf := make([]byte, readBufferSize)
	for {
		if ctx.Err() != nil || window.Expired() {
			return nil
		}
		num, err := resp.Body.Read(buf)
		if num > 0 {
			emit(window.Add(int64(num)))
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
