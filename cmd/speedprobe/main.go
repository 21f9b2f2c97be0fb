// Command speedprobe measures the latency, the download speed and the
// upload speed of the network path towards a measurement server.
//
// Usage:
//
//	speedprobe [flags]
//
// By default the progress is printed in human readable form on the
// standard output, followed by a summary. With -format=json every event
// is a JSON object on its own line:
//
//	{"Key":"phase","Value":"download"}
//	{"Key":"speed","Value":"download:    93.4 Mbit/s  12.5%"}
//
// and the summary is the last line. With -quiet only the summary and the
// errors are printed. Operator logs are written as JSON on the standard
// error.
//
// Sending SIGINT cancels the run: the partial results are discarded and
// no summary is printed.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"time"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/httpx"
	"github.com/m-lab/go/rtx"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/m-lab/speedprobe-go"
	"github.com/m-lab/speedprobe-go/cmd/speedprobe/internal/emitter"
	"github.com/m-lab/speedprobe-go/internal/config"
	"github.com/m-lab/speedprobe-go/internal/livestream"
	"github.com/m-lab/speedprobe-go/internal/logging"
	"github.com/m-lab/speedprobe-go/internal/trafficshaping"
	"github.com/m-lab/speedprobe-go/locate"
)

const (
	clientName     = "speedprobe-go-cmd"
	clientVersion  = "0.1.0"
	defaultTimeout = 55 * time.Second
)

var (
	flagConfig        = flag.String("config", "", "Optional YAML configuration file")
	flagReferenceMbps = flag.Float64("reference-mbps", 0, "Provisioned download capacity used for grading")
	flagPingURL       = flag.String("ping-url", "", "Ping endpoint URL")
	flagDownloadURL   = flag.String("download-url", "", "Download endpoint URL")
	flagUploadURL     = flag.String("upload-url", "", "Upload endpoint URL")
	flagLocateURL     = flag.String("locate-url", "", "Locate service URL, overrides the endpoints")
	flagThrottle      = flag.Int64("throttle", 0, "Throttle connections to this many bit/s for testing")
	flagTimeout       = flag.Duration(
		"timeout", defaultTimeout, "time after which the test is aborted")
	flagVerbose       = flag.Bool("verbose", false, "Log debug messages")
	flagQuiet         = flag.Bool("quiet", false, "Emit the summary and errors only")
	flagMetricsListen = flag.String("metrics-listen", "", "Address serving prometheus metrics")
	flagWSListen      = flag.String("ws-listen", "", "Address streaming the probe state over WebSocket")
	flagFormat        = flagx.Enum{
		Options: []string{"human", "json"},
		Value:   "human",
	}
)

func init() {
	flag.Var(
		&flagFormat,
		"format",
		`Output format to use: "human" or "json"`,
	)
}

func loadConfig() config.Config {
	cfg := config.Default()
	if *flagConfig != "" {
		var err error
		cfg, err = config.Load(*flagConfig)
		rtx.Must(err, "cannot load configuration")
	}
	if *flagReferenceMbps != 0 {
		cfg.ReferenceMbps = *flagReferenceMbps
	}
	if *flagPingURL != "" {
		cfg.Endpoints.Ping = *flagPingURL
	}
	if *flagDownloadURL != "" {
		cfg.Endpoints.Download = *flagDownloadURL
	}
	if *flagUploadURL != "" {
		cfg.Endpoints.Upload = *flagUploadURL
	}
	if *flagLocateURL != "" {
		cfg.LocateURL = *flagLocateURL
	}
	rtx.Must(cfg.Validate(), "invalid configuration")
	return cfg
}

func newEmitter() emitter.Emitter {
	var e emitter.Emitter
	switch flagFormat.Value {
	case "human":
		e = emitter.NewHumanReadable()
	case "json":
		e = emitter.NewJSON(os.Stdout)
	}
	if *flagQuiet {
		e = emitter.NewQuiet(e)
	}
	return e
}

func serveAsync(addr string, handler http.Handler) *http.Server {
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}
	rtx.Must(httpx.ListenAndServeAsync(srv), "cannot listen on %s", addr)
	return srv
}

func main() {
	flag.Parse()
	logging.SetVerbose(*flagVerbose)
	cfg := loadConfig()
	probe := speedprobe.NewProbe()
	cfg.Apply(probe)
	if cfg.LocateURL != "" {
		probe.Locator = locate.NewClient(cfg.LocateURL, clientName+"/"+clientVersion)
	}
	if *flagThrottle > 0 {
		probe.HTTPClient = trafficshaping.NewDialerWithBitrate(*flagThrottle).NewHTTPClient()
	}
	if *flagMetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		defer serveAsync(*flagMetricsListen, mux).Close()
	}
	var stream *livestream.Broadcaster
	if *flagWSListen != "" {
		stream = livestream.New()
		defer stream.Close()
		defer serveAsync(*flagWSListen, stream).Close()
	}
	e := newEmitter()

	ctx, cancel := context.WithTimeout(context.Background(), *flagTimeout)
	defer cancel()
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	defer signal.Stop(sigs)
	go func() {
		select {
		case <-sigs:
			probe.Cancel()
		case <-ctx.Done():
		}
	}()

	out, err := probe.Start(ctx)
	if err != nil {
		warnOn(e.OnError(err.Error()))
	}
	rtx.Must(err, "probe.Start failed")
	summary := emitter.NewSummary("")
	var done bool
	for ev := range out {
		if stream != nil {
			stream.Broadcast(probe.State())
		}
		if ev.CurPhase != nil && *ev.CurPhase != speedprobe.PhaseDone {
			warnOn(e.OnPhase(ev.CurPhase.String()))
		}
		if ev.InfoMessage != nil {
			warnOn(e.OnInfo(ev.InfoMessage.Message))
		}
		if ev.WarningMessage != nil {
			warnOn(e.OnWarning(ev.WarningMessage.Error.Error()))
		}
		if ev.CurDownloadSpeed != nil {
			summary.DownloadedBytes = ev.CurDownloadSpeed.Count
			warnOn(e.OnSpeed("download", formatSpeed(ev.CurDownloadSpeed)))
		}
		if ev.CurUploadSpeed != nil {
			summary.UploadedBytes = ev.CurUploadSpeed.Count
			warnOn(e.OnSpeed("upload  ", formatSpeed(ev.CurUploadSpeed)))
		}
		if ev.Result != nil {
			done = true
			fillSummary(summary, ev.Result, ev.Grade)
		}
	}
	if stream != nil {
		stream.Broadcast(probe.State())
	}
	if !done {
		warnOn(e.OnWarning("run cancelled"))
		return
	}
	summary.Server = hostOf(probe.State().Endpoints.Download)
	warnOn(e.OnSummary(summary))
}

func fillSummary(summary *emitter.Summary, result *speedprobe.Result, grade *speedprobe.Grade) {
	if result.PingMillis != speedprobe.PingUnavailable {
		summary.Latency = &emitter.ValueUnitPair{
			Value: float64(result.PingMillis),
			Unit:  "ms",
		}
	}
	summary.Download = emitter.ValueUnitPair{
		Value: result.DownloadMbps,
		Unit:  "Mbit/s",
	}
	summary.Upload = emitter.ValueUnitPair{
		Value: result.UploadMbps,
		Unit:  "Mbit/s",
	}
	if grade != nil {
		summary.Grade = grade.String()
	}
}

func formatSpeed(speed *speedprobe.Speed) string {
	return fmt.Sprintf("%9.1f Mbit/s %5.1f%%", speed.RateMbps, speed.ProgressPercent)
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Host
}

// warnOn logs failures to write the output, which usually means that
// stdout has been closed or the disk is full.
func warnOn(err error) {
	if err != nil {
		logging.Logger.WithError(err).Warn("cannot emit output")
	}
}
