// Package emitter contains the speedprobe command emitters.
package emitter

// Emitter is a generic emitter. When an event occurs, the
// corresponding method will be called. An error will generally
// mean that it's not possible to write the output. A common
// case where this happen is where the output is redirected to
// a file on a full hard disk.
type Emitter interface {
	// OnError is emitted on error mesages.
	OnError(string) error

	// OnWarning is emitted on warning messages.
	OnWarning(string) error

	// OnInfo is emitted on info messages.
	OnInfo(string) error

	// OnPhase is emitted when the probe enters a new phase.
	OnPhase(string) error

	// OnSpeed is emitted during the download and the upload.
	OnSpeed(string, string) error

	// OnSummary is emitted after the probe is done.
	OnSummary(s *Summary) error
}
