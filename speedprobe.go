// Package speedprobe contains a client-side network throughput probe.
//
// A probe run measures the round-trip latency, the download throughput
// and the upload throughput towards a measurement server, in this order,
// using plain HTTP requests. See Probe for details.
package speedprobe

import (
	"fmt"
	"strings"
	"time"

	"github.com/m-lab/speedprobe-go/internal/latency"
	"github.com/m-lab/speedprobe-go/internal/ratewindow"
)

// Phase is the phase of a probe run.
type Phase int

// A run visits PhaseIdle, PhasePing, PhaseDownload, PhaseUpload and
// PhaseDone in this order. A cancelled run goes back to PhaseIdle.
const (
	PhaseIdle Phase = iota
	PhasePing
	PhaseDownload
	PhaseUpload
	PhaseDone
)

var phaseNames = []string{"idle", "ping", "download", "upload", "done"}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return phaseNames[p]
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// PingUnavailable is the value of Result.PingMillis when not even a single
// round trip could be timed.
const PingUnavailable = latency.Unavailable

// Result is the result of a complete run.
type Result struct {
	// DownloadMbps is the download rate in decimal Mbit/s.
	DownloadMbps float64

	// UploadMbps is the upload rate in decimal Mbit/s.
	UploadMbps float64

	// PingMillis is the representative round-trip time in
	// milliseconds, or PingUnavailable.
	PingMillis int64
}

// Speed is a measurement taken while downloading or uploading.
type Speed struct {
	Count           int64         // bytes transferred since the beginning of the phase
	Elapsed         time.Duration // time since the beginning of the phase
	RateMbps        float64       // Count over Elapsed, in Mbit/s
	ProgressPercent float64       // Elapsed over the phase budget, in [0, 100]
}

func newSpeed(s ratewindow.Sample) *Speed {
	return &Speed{
		Count:           s.Count,
		Elapsed:         s.Elapsed,
		RateMbps:        s.RateMbps,
		ProgressPercent: s.ProgressPercent,
	}
}

// Output is the output emitted by a probe run. Each output has exactly
// one of its fields set, except for the final output of a complete run
// that carries CurPhase, Result and, if available, Grade.
type Output struct {
	CurPhase         *Phase      `json:",omitempty"`
	CurDownloadSpeed *Speed      `json:",omitempty"`
	CurUploadSpeed   *Speed      `json:",omitempty"`
	Result           *Result     `json:",omitempty"`
	Grade            *Grade      `json:",omitempty"`
	InfoMessage      *LogMessage `json:",omitempty"`
	WarningMessage   *Failure    `json:",omitempty"`
}

// LogMessage contains a log message
type LogMessage struct {
	Message string
}

// Failure contains an error
type Failure struct {
	Error error
}

// State is a snapshot of the observable state of a Probe. Snapshots are
// immutable and replaced as a whole, so the fields are always consistent.
type State struct {
	Phase           Phase
	ProgressPercent float64
	RateMbps        float64

	// Result and Grade are only set when Phase is PhaseDone. Grade is
	// nil when there is no reference capacity.
	Result *Result `json:",omitempty"`
	Grade  *Grade  `json:",omitempty"`

	// Endpoints are the endpoints of the current or last run.
	Endpoints Endpoints
}

// Endpoints contains the URLs used by a run.
type Endpoints struct {
	// Ping is a URL answering quickly with a negligible body.
	Ping string

	// Download is a URL streaming as many bytes as requested with
	// the `bytes` query parameter.
	Download string

	// Upload is a URL accepting POST requests with a binary body.
	Upload string
}

// DefaultEndpoints returns the endpoints used when nothing else is
// configured.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Ping:     "https://speed.cloudflare.com/__down?bytes=0",
		Download: "https://speed.cloudflare.com/__down",
		Upload:   "https://speed.cloudflare.com/__up",
	}
}

// EndpointsFromBase returns the endpoints exposed by a server whose base
// URL is baseURL, i.e. <base>/ping, <base>/download and <base>/upload.
func EndpointsFromBase(baseURL string) Endpoints {
	base := strings.TrimSuffix(baseURL, "/")
	return Endpoints{
		Ping:     base + "/ping",
		Download: base + "/download",
		Upload:   base + "/upload",
	}
}
