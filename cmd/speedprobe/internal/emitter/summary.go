package emitter

// ValueUnitPair represents a {"Value": ..., "Unit": ...} pair.
type ValueUnitPair struct {
	Value float64
	Unit  string
}

// Summary is a struct containing the values displayed to the user at
// the end of a probe run.
type Summary struct {
	// Server is the host serving the measurement endpoints.
	Server string

	// Latency is the representative round-trip time in milliseconds.
	// It is nil when no round trip could be timed.
	Latency *ValueUnitPair `json:",omitempty"`

	// Download is the download speed, in Mbit/s.
	Download ValueUnitPair

	// DownloadedBytes is the number of bytes received during the download.
	DownloadedBytes int64

	// Upload is the upload speed, in Mbit/s.
	Upload ValueUnitPair

	// UploadedBytes is the number of bytes sent during the upload.
	UploadedBytes int64

	// Grade compares Download with the reference capacity. It is
	// empty when there is no reference capacity.
	Grade string `json:",omitempty"`
}

// NewSummary returns a new Summary struct for a given server.
func NewSummary(server string) *Summary {
	return &Summary{
		Server: server,
	}
}
