// Package probetest contains a local measurement server suitable for
// running probes in unit tests.
package probetest

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/m-lab/speedprobe-go/internal/nocache"
)

// URL paths served by Handler.
const (
	PingPath     = "/ping"
	DownloadPath = "/download"
	UploadPath   = "/upload"
)

const chunkSize = 1 << 16

// Handler serves the ping, download and upload endpoints. The zero
// value is ready to use; set the knobs before serving.
type Handler struct {
	// PingDelay delays every ping response.
	PingDelay time.Duration

	// DownloadEndless makes the download stream never end on its own.
	DownloadEndless bool

	// DownloadChunkDelay is a pause between consecutive download chunks.
	DownloadChunkDelay time.Duration

	// DownloadStatus, when nonzero, replaces the 200 status of downloads
	// and the body is not sent.
	DownloadStatus int

	// UploadDelay delays every upload response after the body is consumed.
	UploadDelay time.Duration

	pings    atomic.Int64
	uploads  atomic.Int64
	uplBytes atomic.Int64

	mu     sync.Mutex
	tokens []string
}

// Pings returns the number of ping requests served.
func (h *Handler) Pings() int64 {
	return h.pings.Load()
}

// Uploads returns the number of upload requests fully received.
func (h *Handler) Uploads() int64 {
	return h.uploads.Load()
}

// UploadedBytes returns the number of upload body bytes received.
func (h *Handler) UploadedBytes() int64 {
	return h.uplBytes.Load()
}

// Tokens returns the cache-busting tokens seen so far, in order.
func (h *Handler) Tokens() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.tokens...)
}

func (h *Handler) record(r *http.Request) {
	h.mu.Lock()
	h.tokens = append(h.tokens, r.URL.Query().Get(nocache.BusterParam))
	h.mu.Unlock()
}

// Ping serves the ping endpoint.
func (h *Handler) Ping(w http.ResponseWriter, r *http.Request) {
	h.record(r)
	h.pings.Add(1)
	if h.PingDelay > 0 {
		select {
		case <-time.After(h.PingDelay):
		case <-r.Context().Done():
			return
		}
	}
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusNoContent)
}

// Download serves the download endpoint.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	h.record(r)
	if h.DownloadStatus != 0 {
		w.WriteHeader(h.DownloadStatus)
		return
	}
	remaining, err := strconv.ParseInt(r.URL.Query().Get("bytes"), 10, 64)
	if err != nil || remaining < 0 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Cache-Control", "no-store")
	if !h.DownloadEndless {
		w.Header().Set("Content-Length", strconv.FormatInt(remaining, 10))
	}
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	chunk := make([]byte, chunkSize)
	for h.DownloadEndless || remaining > 0 {
		size := int64(len(chunk))
		if !h.DownloadEndless && remaining < size {
			size = remaining
		}
		if _, err := w.Write(chunk[:size]); err != nil {
			return
		}
		remaining -= size
		if flusher != nil {
			flusher.Flush()
		}
		if h.DownloadChunkDelay > 0 {
			select {
			case <-time.After(h.DownloadChunkDelay):
			case <-r.Context().Done():
				return
			}
		}
	}
}

// Upload serves the upload endpoint.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	h.record(r)
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	n, err := io.Copy(io.Discard, r.Body)
	h.uplBytes.Add(n)
	if err != nil {
		return
	}
	if h.UploadDelay > 0 {
		select {
		case <-time.After(h.UploadDelay):
		case <-r.Context().Done():
			return
		}
	}
	h.uploads.Add(1)
	w.WriteHeader(http.StatusOK)
}

// NewServer starts a local server backed by h. The caller must Close it.
func NewServer(h *Handler) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc(PingPath, h.Ping)
	mux.HandleFunc(DownloadPath, h.Download)
	mux.HandleFunc(UploadPath, h.Upload)
	return httptest.NewServer(mux)
}
