package emitter

import (
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
)

// HumanReadable is a human readable emitter. It emits the events generated
// by running a probe as pleasant stdout messages.
type HumanReadable struct {
	out io.Writer
}

// NewHumanReadable returns a new human readable emitter.
func NewHumanReadable() Emitter {
	return HumanReadable{os.Stdout}
}

// NewHumanReadableWithWriter returns a new human readable emitter using the
// specified writer.
func NewHumanReadableWithWriter(w io.Writer) Emitter {
	return HumanReadable{w}
}

// OnError handles error messages.
func (h HumanReadable) OnError(m string) error {
	_, failure := fmt.Fprintf(h.out, "\rerror: %s\n", m)
	return failure
}

// OnWarning handles warning messages.
func (h HumanReadable) OnWarning(m string) error {
	_, err := fmt.Fprintf(h.out, "\rwarning: %s\n", m)
	return err
}

// OnInfo handles info messages.
func (h HumanReadable) OnInfo(m string) error {
	_, err := fmt.Fprintf(h.out, "\r%s\n", m)
	return err
}

// OnPhase handles a phase change.
func (h HumanReadable) OnPhase(phase string) error {
	_, err := fmt.Fprintf(h.out, "\r[%s]\n", phase)
	return err
}

// OnSpeed handles a speed reporting event during a test.
func (h HumanReadable) OnSpeed(test string, speed string) error {
	_, err := fmt.Fprintf(h.out, "\r%s: %s", test, speed)
	return err
}

// OnSummary handles the summary event.
func (h HumanReadable) OnSummary(s *Summary) error {
	const summaryFormat = `
%15s: %s
%15s: %s
%15s: %7.1f %s (%s)
%15s: %7.1f %s (%s)
`
	latency := "unavailable"
	if s.Latency != nil {
		latency = fmt.Sprintf("%7.0f %s", s.Latency.Value, s.Latency.Unit)
	}
	_, err := fmt.Fprintf(h.out, summaryFormat,
		"Server", s.Server,
		"Latency", latency,
		"Download", s.Download.Value, s.Download.Unit, humanize.Bytes(uint64(s.DownloadedBytes)),
		"Upload", s.Upload.Value, s.Upload.Unit, humanize.Bytes(uint64(s.UploadedBytes)))
	if err != nil {
		return err
	}
	if s.Grade != "" {
		_, err = fmt.Fprintf(h.out, "%15s: %s\n", "Grade", s.Grade)
	}
	return err
}
