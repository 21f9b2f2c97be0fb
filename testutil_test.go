package speedprobe

import (
	"context"
	"errors"
	"time"

	"github.com/m-lab/speedprobe-go/internal/probetest"
)

var ErrMocked = errors.New("mocked error")

type fakeLocator struct {
	BaseURL string
	Err     error
	Calls   int
}

func (l *fakeLocator) Query(ctx context.Context) (string, error) {
	l.Calls++
	return l.BaseURL, l.Err
}

// newTestProbe returns a probe using the server at baseURL with budgets
// short enough for unit tests.
func newTestProbe(baseURL string) *Probe {
	p := NewProbe()
	p.Endpoints = EndpointsFromBase(baseURL)
	p.PingTimeout = time.Second
	p.DownloadBudget = 300 * time.Millisecond
	p.DownloadBytes = 1 << 20
	p.DownloadStallGrace = time.Second
	p.UploadBudget = 300 * time.Millisecond
	p.UploadChunkSize = 1 << 16
	p.UploadMaxChunks = 4
	return p
}

// collect drains ch and returns everything that was posted on it.
func collect(ch <-chan *Output) []*Output {
	var outputs []*Output
	for ev := range ch {
		outputs = append(outputs, ev)
	}
	return outputs
}

func phasesOf(outputs []*Output) []Phase {
	var phases []Phase
	for _, ev := range outputs {
		if ev.CurPhase != nil {
			phases = append(phases, *ev.CurPhase)
		}
	}
	return phases
}

func endlessHandler() *probetest.Handler {
	return &probetest.Handler{
		DownloadEndless:    true,
		DownloadChunkDelay: 5 * time.Millisecond,
	}
}

// blockingLocator blocks until the query context is done.
type blockingLocator struct {
	entered chan struct{}
}

func (l *blockingLocator) Query(ctx context.Context) (string, error) {
	close(l.entered)
	<-ctx.Done()
	return "", ctx.Err()
}
