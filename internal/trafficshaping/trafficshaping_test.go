package trafficshaping

import (
	"context"
	"testing"
	"time"

	"github.com/m-lab/speedprobe-go/internal/download"
	"github.com/m-lab/speedprobe-go/internal/probetest"
	"github.com/m-lab/speedprobe-go/internal/ratewindow"
)

func TestNewDialer(t *testing.T) {
	if NewDialer().Bitrate() != DefaultBitrate {
		t.Fatal("unexpected default bitrate")
	}
}

func TestDialContextFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	conn, err := NewDialer().DialContext(ctx, "tcp", "127.0.0.1:1")
	if err == nil {
		conn.Close()
		t.Fatal("expected an error")
	}
	if conn != nil {
		t.Fatal("expected a nil conn")
	}
}

func TestShapedDownloadIsThrottled(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping shaped transfer in short mode")
	}
	srv := probetest.NewServer(&probetest.Handler{DownloadEndless: true})
	defer srv.Close()
	const bitrate = 1 << 20
	client := NewDialerWithBitrate(bitrate).NewHTTPClient()
	defer client.CloseIdleConnections()
	m := &download.Meter{
		Client:     client,
		URL:        srv.URL + probetest.DownloadPath,
		Bytes:      1 << 30,
		Budget:     time.Second,
		StallGrace: 2 * time.Second,
	}
	out := m.Run(context.Background(), func(ratewindow.Sample) {})
	if out.RateMbps <= 0 {
		t.Fatalf("RateMbps = %v, want > 0", out.RateMbps)
	}
	// Leave room for the bytes buffered before shaping kicks in.
	if out.RateMbps > 8 {
		t.Fatalf("RateMbps = %v, the transfer was not throttled", out.RateMbps)
	}
	if out.Elapsed > 4*time.Second {
		t.Fatalf("Elapsed = %v, the budget was not enforced", out.Elapsed)
	}
}
