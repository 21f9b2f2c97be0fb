package emitter

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/m-lab/speedprobe-go/cmd/speedprobe/internal/mocks"
)

func contains(s, substr string) bool {
	return strings.Contains(s, substr)
}

type eventFunc func(Emitter) error

func testJSONEvent(t *testing.T, emit eventFunc, key, value string) {
	sw := &mocks.SavingWriter{}
	err := emit(NewJSON(sw))
	if err != nil {
		t.Fatal(err)
	}
	if len(sw.Data) != 1 {
		t.Fatal("invalid length")
	}
	var event struct {
		Key   string
		Value string
	}
	err = json.Unmarshal(sw.Data[0], &event)
	if err != nil {
		t.Fatal(err)
	}
	if event.Key != key {
		t.Fatalf("Unexpected event key %q", event.Key)
	}
	if event.Value != value {
		t.Fatalf("Unexpected event value %q", event.Value)
	}

	err = emit(NewJSON(&mocks.FailingWriter{}))
	if err != mocks.ErrMocked {
		t.Fatal("Not the error we expected")
	}
}

func TestJSONOnError(t *testing.T) {
	testJSONEvent(t, func(e Emitter) error { return e.OnError("test") }, "error", "test")
}

func TestJSONOnWarning(t *testing.T) {
	testJSONEvent(t, func(e Emitter) error { return e.OnWarning("test") }, "warning", "test")
}

func TestJSONOnInfo(t *testing.T) {
	testJSONEvent(t, func(e Emitter) error { return e.OnInfo("test") }, "info", "test")
}

func TestJSONOnPhase(t *testing.T) {
	testJSONEvent(t, func(e Emitter) error { return e.OnPhase("upload") }, "phase", "upload")
}

func TestJSONOnSpeed(t *testing.T) {
	testJSONEvent(t, func(e Emitter) error {
		return e.OnSpeed("download", "speed")
	}, "speed", "download: speed")
}

func TestJSONOnSummary(t *testing.T) {
	summary := &Summary{
		Server: "test",
		Download: ValueUnitPair{
			Value: 80,
			Unit:  "Mbit/s",
		},
		Upload: ValueUnitPair{
			Value: 20,
			Unit:  "Mbit/s",
		},
		Grade: "good",
	}
	sw := &mocks.SavingWriter{}
	j := NewJSON(sw)
	err := j.OnSummary(summary)
	if err != nil {
		t.Fatal(err)
	}
	if len(sw.Data) != 1 {
		t.Fatal("invalid length")
	}
	var decoded Summary
	err = json.Unmarshal(sw.Data[0], &decoded)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Server != "test" || decoded.Download.Value != 80 || decoded.Grade != "good" {
		t.Fatalf("OnSummary(): unexpected data %s", string(sw.Data[0]))
	}
	if decoded.Latency != nil || contains(string(sw.Data[0]), "Latency") {
		t.Fatal("an unavailable latency should be omitted")
	}
}

func TestJSONOnSummaryFailure(t *testing.T) {
	j := NewJSON(&mocks.FailingWriter{})
	err := j.OnSummary(&Summary{})
	if err != mocks.ErrMocked {
		t.Fatal("Not the error we expected")
	}
}
