// Package upload measures upload throughput by repeatedly posting a
// fixed-size opaque payload within a time budget.
package upload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/m-lab/speedprobe-go/internal/nocache"
	"github.com/m-lab/speedprobe-go/internal/ratewindow"
)

// Doer performs HTTP requests. *http.Client implements it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Meter is the upload meter.
type Meter struct {
	// Client performs the requests.
	Client Doer

	// URL is the endpoint accepting POST requests.
	URL string

	// ChunkSize is the size of each posted payload.
	ChunkSize int

	// MaxChunks is the maximum number of payloads to post.
	MaxChunks int

	// Budget is the maximum duration of the measurement.
	Budget time.Duration
}

// Outcome is the outcome of an upload.
type Outcome struct {
	// Count is the number of bytes sent by completed requests.
	Count int64

	// Chunks is the number of completed requests.
	Chunks int

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

// Run performs the upload. The budget and the context are checked before
// each request; an in-flight request is aborted through ctx. After each
// completed request emit is called with the cumulative sample.
func (m *Meter) Run(ctx context.Context, emit func(ratewindow.Sample)) Outcome {
	payload := MakePayload(m.ChunkSize)
	window := ratewindow.New(m.Budget)
	var (
		chunks int
		err    error
	)
	for chunks < m.MaxChunks {
		if ctx.Err() != nil || window.Expired() {
			break
		}
		if err = m.post(ctx, payload); err != nil {
			break
		}
		chunks++
		emit(window.Add(int64(len(payload))))
	}
	cancelled := ctx.Err() != nil
	if cancelled {
		err = nil
	}
	return Outcome{
		Count:     window.Count(),
		Chunks:    chunks,
		Elapsed:   window.Elapsed(),
		RateMbps:  window.Final(cancelled),
		Cancelled: cancelled,
		Err:       err,
	}
}

// post sends a single payload. Only completion matters: the status code
// and the body of the response are ignored.
func (m *Meter) post(ctx context.Context, payload []byte) error {
	req, err := nocache.NewRequest(ctx, http.MethodPost, m.URL, nil, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("cannot create upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := m.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, err = io.Copy(io.Discard, resp.Body)
	return err
}

// MakePayload returns size bytes of random letters. The payload is made
// of letters so that it is not trivially compressible.
func MakePayload(size int) []byte {
	// See https://stackoverflow.com/a/31832326
	const letterBytes = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	if size < 0 {
		size = 0
	}
	b := make([]byte, size)
	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	for i := range b {
		b[i] = letterBytes[rnd.Intn(len(letterBytes))]
	}
	return b
}
