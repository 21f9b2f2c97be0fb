package speedprobe

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"

	"github.com/m-lab/speedprobe-go/internal/download"
	"github.com/m-lab/speedprobe-go/internal/latency"
	"github.com/m-lab/speedprobe-go/internal/logging"
	"github.com/m-lab/speedprobe-go/internal/metrics"
	"github.com/m-lab/speedprobe-go/internal/ratewindow"
	"github.com/m-lab/speedprobe-go/internal/upload"
)

// Locator discovers the base URL of a measurement server.
// A *locate.Client implements it.
type Locator interface {
	Query(ctx context.Context) (baseURL string, err error)
}

// Probe is a throughput probe. Use NewProbe to create an instance with
// the default settings and change the fields before calling Start. The
// fields must not be changed while a run is active.
type Probe struct {
	// Endpoints are the measurement endpoints. They are ignored when
	// Locator is not nil.
	Endpoints Endpoints

	// Locator is the optional server discovery client. When set,
	// every run starts by querying it for a server.
	Locator Locator

	// HTTPClient performs all the requests. Per-phase deadlines are
	// enforced through contexts, so it does not need a timeout.
	HTTPClient *http.Client

	// PingCount is the number of round trips timed during PhasePing.
	PingCount int

	// PingTimeout bounds each ping round trip.
	PingTimeout time.Duration

	// ExcludeFailedPings drops failed round trips instead of using
	// the time until the failure as a sample.
	ExcludeFailedPings bool

	// DownloadBudget is the maximum duration of PhaseDownload.
	DownloadBudget time.Duration

	// DownloadBytes is the size of the requested download body.
	DownloadBytes int64

	// DownloadStallGrace is how long a stalled download may block past
	// DownloadBudget before its request is torn down.
	DownloadStallGrace time.Duration

	// UploadBudget is the maximum duration of PhaseUpload.
	UploadBudget time.Duration

	// UploadChunkSize is the size of each upload request body.
	UploadChunkSize int

	// UploadMaxChunks is the maximum number of upload requests.
	UploadMaxChunks int

	// ReferenceCapacityMbps is the provisioned download capacity used
	// to grade the result. Zero means there is no reference.
	ReferenceCapacityMbps float64

	// Logger is the logger used for operator messages.
	Logger log.Interface

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	state  atomic.Pointer[State]
}

// NewProbe creates a new Probe with default settings.
func NewProbe() *Probe {
	return &Probe{
		Endpoints:          DefaultEndpoints(),
		HTTPClient:         new(http.Client),
		PingCount:          5,
		PingTimeout:        2 * time.Second,
		DownloadBudget:     8 * time.Second,
		DownloadBytes:      10 << 20,
		DownloadStallGrace: 2 * time.Second,
		UploadBudget:       6 * time.Second,
		UploadChunkSize:    1 << 20,
		UploadMaxChunks:    10,
		Logger:             logging.Logger,
	}
}

// State returns a snapshot of the observable state.
func (p *Probe) State() State {
	if s := p.state.Load(); s != nil {
		return *s
	}
	return State{Phase: PhaseIdle}
}

func (p *Probe) setState(s State) {
	p.state.Store(&s)
}

// Start starts a new run. If a run is already active, it is cancelled and
// Start waits for it to terminate before starting the new one. On success
// Start returns a channel where outputs are posted; the channel is closed
// when the run terminates, either because it is done or because it has
// been cancelled through Cancel or ctx. The caller should drain the
// channel; a cancelled run never blocks on it though. Speed outputs are
// dropped rather than delayed when the caller does not keep up, so that
// a slow reader does not slow down the measurement; State always reflects
// the latest sample.
//
// When Locator is set, Start queries it and fails if it cannot find a
// server, or if the run is cancelled while querying. The discovered
// endpoints are reported through State. Other failures never prevent a
// run: they degrade the affected phase, which is reported through
// WarningMessage outputs.
func (p *Probe) Start(ctx context.Context) (<-chan *Output, error) {
	p.mu.Lock()
	p.stopLocked()
	p.setState(State{Phase: PhaseIdle})
	runctx, cancel := context.WithCancel(ctx)
	r := p.newRun(runctx, cancel)
	locator := p.Locator
	p.cancel, p.done = cancel, r.done
	p.mu.Unlock()
	// Cancel and Start only wait for done, so the query runs unlocked.
	if locator != nil {
		baseURL, err := locator.Query(runctx)
		if err != nil {
			cancel()
			close(r.done)
			return nil, fmt.Errorf("cannot locate a measurement server: %w", err)
		}
		r.useEndpoints(EndpointsFromBase(baseURL))
	}
	go r.loop()
	return r.ch, nil
}

// newRun prepares a run using the current settings of p.
func (p *Probe) newRun(ctx context.Context, cancel context.CancelFunc) *run {
	client, logger := p.HTTPClient, p.Logger
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = logging.Logger
	}
	r := &run{
		probe:  p,
		ctx:    ctx,
		cancel: cancel,
		ch:     make(chan *Output, outputBufferSize),
		done:   make(chan struct{}),
		logger: logger.WithField("run", uuid.NewString()),
		pinger: &latency.Sampler{
			Client:          client,
			Count:           p.PingCount,
			Timeout:         p.PingTimeout,
			ExcludeFailures: p.ExcludeFailedPings,
		},
		downloader: &download.Meter{
			Client:     client,
			Bytes:      p.DownloadBytes,
			Budget:     p.DownloadBudget,
			StallGrace: p.DownloadStallGrace,
		},
		uploader: &upload.Meter{
			Client:    client,
			ChunkSize: p.UploadChunkSize,
			MaxChunks: p.UploadMaxChunks,
			Budget:    p.UploadBudget,
		},
		reference: p.ReferenceCapacityMbps,
	}
	r.useEndpoints(p.Endpoints)
	return r
}

// Cancel cancels the active run, if any, and waits for it to go back to
// PhaseIdle. In-flight requests are aborted. Calling Cancel when there is
// no active run has no effect.
func (p *Probe) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *Probe) stopLocked() {
	if p.cancel == nil {
		return
	}
	var finished bool
	select {
	case <-p.done:
		finished = true
	default:
	}
	p.cancel()
	<-p.done
	p.cancel, p.done = nil, nil
	if !finished {
		// The run may have reached PhaseDone while being cancelled.
		p.setState(State{Phase: PhaseIdle, Endpoints: p.State().Endpoints})
	}
}

// run is a single probe run. The goroutine running loop is the only
// writer of the probe state until done is closed.
type run struct {
	probe      *Probe
	ctx        context.Context
	cancel     context.CancelFunc
	ch         chan *Output
	done       chan struct{}
	logger     log.Interface
	pinger     *latency.Sampler
	downloader *download.Meter
	uploader   *upload.Meter
	reference  float64
	endpoints  Endpoints
}

// outputBufferSize lets a reader that is briefly busy still receive
// speed samples, which are otherwise dropped.
const outputBufferSize = 16

func (r *run) useEndpoints(e Endpoints) {
	r.endpoints = e
	r.pinger.URL = e.Ping
	r.downloader.URL = e.Download
	r.uploader.URL = e.Upload
}

// setState publishes s as the state of the probe.
func (r *run) setState(s State) {
	s.Endpoints = r.endpoints
	r.probe.setState(s)
}

func (r *run) loop() {
	defer close(r.done)
	defer close(r.ch)
	defer r.cancel()
	r.logger.Debug("run started")
	ping, ok := r.ping()
	if !ok {
		r.abort()
		return
	}
	downloadMbps, ok := r.download()
	if !ok {
		r.abort()
		return
	}
	uploadMbps, ok := r.upload()
	if !ok || r.ctx.Err() != nil {
		r.abort()
		return
	}
	r.finish(&Result{
		DownloadMbps: downloadMbps,
		UploadMbps:   uploadMbps,
		PingMillis:   ping,
	})
}

// emit posts output unless the run is cancelled first.
func (r *run) emit(output *Output) bool {
	select {
	case r.ch <- output:
		return true
	case <-r.ctx.Done():
		return false
	}
}

// emitSpeed posts output only if it can be done without waiting.
func (r *run) emitSpeed(output *Output) {
	select {
	case r.ch <- output:
	default:
	}
}

func (r *run) emitInfo(message string) {
	r.emit(&Output{InfoMessage: &LogMessage{Message: message}})
}

func (r *run) emitWarning(err error) {
	r.emit(&Output{WarningMessage: &Failure{Error: err}})
}

func (r *run) enter(phase Phase) {
	r.setState(State{Phase: phase})
	r.logger.WithField("phase", phase).Debug("entering phase")
	r.emit(&Output{CurPhase: &phase})
}

// degraded records that phase ended early because of err.
func (r *run) degraded(phase Phase, err error) {
	metrics.PhaseDegraded.WithLabelValues(phase.String()).Inc()
	r.logger.WithError(err).WithField("phase", phase).Warn("phase degraded")
	r.emitWarning(fmt.Errorf("%s: %w", phase, err))
}

func (r *run) ping() (int64, bool) {
	r.enter(PhasePing)
	outcome := r.pinger.Run(r.ctx)
	if outcome.Cancelled {
		return 0, false
	}
	if outcome.Failures > 0 {
		r.degraded(PhasePing, fmt.Errorf(
			"%d of %d round trips failed: %w", outcome.Failures, r.pinger.Count, outcome.Err))
	}
	if outcome.Millis == PingUnavailable {
		r.emitInfo("ping: unavailable")
	} else {
		metrics.Ping.Observe(float64(outcome.Millis) / 1000)
		r.emitInfo(fmt.Sprintf("ping: %d ms", outcome.Millis))
	}
	return outcome.Millis, true
}

func (r *run) download() (float64, bool) {
	r.enter(PhaseDownload)
	outcome := r.downloader.Run(r.ctx, func(s ratewindow.Sample) {
		r.progress(PhaseDownload, s)
		r.emitSpeed(&Output{CurDownloadSpeed: newSpeed(s)})
	})
	if outcome.Cancelled {
		return 0, false
	}
	if outcome.Err != nil {
		r.degraded(PhaseDownload, outcome.Err)
	}
	metrics.Rate.WithLabelValues("download").Observe(outcome.RateMbps)
	r.logger.WithFields(log.Fields{
		"bytes":   outcome.Count,
		"elapsed": outcome.Elapsed,
		"mbps":    outcome.RateMbps,
	}).Debug("download done")
	return outcome.RateMbps, true
}

func (r *run) upload() (float64, bool) {
	r.enter(PhaseUpload)
	outcome := r.uploader.Run(r.ctx, func(s ratewindow.Sample) {
		r.progress(PhaseUpload, s)
		r.emitSpeed(&Output{CurUploadSpeed: newSpeed(s)})
	})
	if outcome.Cancelled {
		return 0, false
	}
	if outcome.Err != nil {
		r.degraded(PhaseUpload, outcome.Err)
	}
	metrics.Rate.WithLabelValues("upload").Observe(outcome.RateMbps)
	r.logger.WithFields(log.Fields{
		"bytes":   outcome.Count,
		"chunks":  outcome.Chunks,
		"elapsed": outcome.Elapsed,
		"mbps":    outcome.RateMbps,
	}).Debug("upload done")
	return outcome.RateMbps, true
}

func (r *run) progress(phase Phase, s ratewindow.Sample) {
	r.setState(State{
		Phase:           phase,
		ProgressPercent: s.ProgressPercent,
		RateMbps:        s.RateMbps,
	})
}

func (r *run) finish(result *Result) {
	phase := PhaseDone
	state := State{
		Phase:           phase,
		ProgressPercent: 100,
		RateMbps:        result.UploadMbps,
		Result:          result,
	}
	if grade, ok := Classify(result.DownloadMbps, r.reference); ok {
		state.Grade = &grade
	}
	r.setState(state)
	metrics.Runs.WithLabelValues("done").Inc()
	r.logger.WithFields(log.Fields{
		"download": result.DownloadMbps,
		"upload":   result.UploadMbps,
		"ping":     result.PingMillis,
	}).Info("run done")
	r.emit(&Output{CurPhase: &phase, Result: result, Grade: state.Grade})
}

// abort brings the probe back to PhaseIdle discarding any partial result.
func (r *run) abort() {
	r.setState(State{Phase: PhaseIdle})
	metrics.Runs.WithLabelValues("cancelled").Inc()
	r.logger.Info("run cancelled")
}
