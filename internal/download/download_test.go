package download

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/m-lab/speedprobe-go/internal/probetest"
	"github.com/m-lab/speedprobe-go/internal/ratewindow"
)

func newMeter(srv string, budget time.Duration) *Meter {
	return &Meter{
		Client:     http.DefaultClient,
		URL:        srv + probetest.DownloadPath,
		Bytes:      1 << 20,
		Budget:     budget,
		StallGrace: time.Second,
	}
}

func TestRunNaturalEnd(t *testing.T) {
	srv := probetest.NewServer(&probetest.Handler{})
	defer srv.Close()
	var samples []ratewindow.Sample
	out := newMeter(srv.URL, 8*time.Second).Run(context.Background(), func(s ratewindow.Sample) {
		samples = append(samples, s)
	})
	if out.Err != nil || out.Cancelled {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if out.Count != 1<<20 {
		t.Fatalf("Count = %d, want %d", out.Count, 1<<20)
	}
	if out.RateMbps <= 0 {
		t.Fatalf("RateMbps = %v, want > 0", out.RateMbps)
	}
	if len(samples) == 0 {
		t.Fatal("no samples emitted")
	}
	var prev ratewindow.Sample
	for _, s := range samples {
		if s.ProgressPercent < prev.ProgressPercent || s.Count < prev.Count || s.Elapsed < prev.Elapsed {
			t.Fatalf("samples are not monotonic: %+v then %+v", prev, s)
		}
		if s.ProgressPercent > 100 || s.RateMbps < 0 {
			t.Fatalf("sample out of range: %+v", s)
		}
		prev = s
	}
}

func TestRunStopsAtBudget(t *testing.T) {
	h := &probetest.Handler{DownloadEndless: true, DownloadChunkDelay: 10 * time.Millisecond}
	srv := probetest.NewServer(h)
	defer srv.Close()
	budget := 500 * time.Millisecond
	begin := time.Now()
	out := newMeter(srv.URL, budget).Run(context.Background(), func(ratewindow.Sample) {})
	if elapsed := time.Since(begin); elapsed > budget+500*time.Millisecond {
		t.Fatalf("download lasted %v with a %v budget", elapsed, budget)
	}
	if out.Cancelled || out.Err != nil {
		t.Fatalf("a budget timeout is not a failure: %+v", out)
	}
	if out.Elapsed < budget {
		t.Fatalf("Elapsed = %v, want >= %v", out.Elapsed, budget)
	}
	if out.RateMbps <= 0 {
		t.Fatalf("RateMbps = %v, want > 0", out.RateMbps)
	}
}

func TestRunStallGuard(t *testing.T) {
	h := &probetest.Handler{DownloadEndless: true, DownloadChunkDelay: 10 * time.Second}
	srv := probetest.NewServer(h)
	defer srv.Close()
	m := newMeter(srv.URL, 200*time.Millisecond)
	m.StallGrace = 200 * time.Millisecond
	begin := time.Now()
	out := m.Run(context.Background(), func(ratewindow.Sample) {})
	if time.Since(begin) > 2*time.Second {
		t.Fatal("the stall guard did not fire")
	}
	if out.Cancelled {
		t.Fatal("a stall is not a cancellation")
	}
	if out.Count == 0 || out.RateMbps <= 0 {
		t.Fatalf("expected a partial measurement: %+v", out)
	}
}

func TestRunCancelledYieldsZero(t *testing.T) {
	h := &probetest.Handler{DownloadEndless: true, DownloadChunkDelay: 5 * time.Millisecond}
	srv := probetest.NewServer(h)
	defer srv.Close()
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)
	out := newMeter(srv.URL, 8*time.Second).Run(ctx, func(ratewindow.Sample) {})
	if !out.Cancelled {
		t.Fatal("expected Cancelled")
	}
	if out.RateMbps != 0 {
		t.Fatalf("RateMbps = %v, want 0", out.RateMbps)
	}
	if out.Err != nil {
		t.Fatalf("cancellation is not an error, got %v", out.Err)
	}
	if out.Elapsed > 2*time.Second {
		t.Fatalf("cancellation took %v", out.Elapsed)
	}
}

func TestRunUnexpectedStatus(t *testing.T) {
	srv := probetest.NewServer(&probetest.Handler{DownloadStatus: http.StatusNotFound})
	defer srv.Close()
	out := newMeter(srv.URL, time.Second).Run(context.Background(), func(ratewindow.Sample) {})
	if !errors.Is(out.Err, ErrUnexpectedStatus) {
		t.Fatalf("Err = %v, want ErrUnexpectedStatus", out.Err)
	}
	if out.RateMbps != 0 {
		t.Fatalf("RateMbps = %v, want 0", out.RateMbps)
	}
}

func TestRunMalformedURL(t *testing.T) {
	m := &Meter{Client: http.DefaultClient, URL: "\t", Bytes: 1, Budget: time.Second}
	out := m.Run(context.Background(), func(ratewindow.Sample) {
		t.Fatal("no sample expected")
	})
	if out.Err == nil {
		t.Fatal("expected an error")
	}
	if out.RateMbps != 0 || out.Cancelled {
		t.Fatalf("unexpected outcome: %+v", out)
	}
}
