package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mycobarrier/mycobarrier/data"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "myco.db"))
	if err != nil {
		t.Fatal("Error opening store: ", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestEventRoundTrip(t *testing.T) {
	s := testStore(t)

	ev := data.Event{
		ID:         "ev-1",
		Strategy:   data.StrategySwap,
		TargetIP:   "10.0.0.1",
		TargetMAC:  "00:00:00:00:00:01",
		TargetDpid: 1,
		ProxyIP:    "10.0.0.100",
		ProxyMAC:   "00:00:00:00:01:00",
		ProxyPort:  4,
		Duration:   30 * time.Second,
		Cookie:     0xabcd,
		Start:      time.Now().Add(-time.Minute),
	}

	if err := s.SaveEvent(ev); err != nil {
		t.Fatal("save: ", err)
	}

	// save again with an end time, must update the same row
	ev.End = time.Now()
	if err := s.SaveEvent(ev); err != nil {
		t.Fatal("update: ", err)
	}

	events, err := s.Events(10)
	if err != nil {
		t.Fatal("query: ", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %v", len(events))
	}

	got := events[0]
	if got.ID != ev.ID || got.Strategy != ev.Strategy || got.TargetIP != ev.TargetIP {
		t.Errorf("event fields lost: %+v", got)
	}
	if got.Cookie != ev.Cookie {
		t.Errorf("cookie %x, want %x", got.Cookie, ev.Cookie)
	}
	if got.Duration != ev.Duration {
		t.Errorf("duration %v, want %v", got.Duration, ev.Duration)
	}
	if got.End.IsZero() {
		t.Error("end time not persisted")
	}
}

func TestEventsOrder(t *testing.T) {
	s := testStore(t)

	base := time.Now()
	for i, id := range []string{"old", "mid", "new"} {
		ev := data.Event{
			ID:       id,
			Strategy: data.StrategyScout,
			TargetIP: "10.0.0.1",
			Start:    base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.SaveEvent(ev); err != nil {
			t.Fatal("save: ", err)
		}
	}

	events, err := s.Events(2)
	if err != nil {
		t.Fatal("query: ", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected limit 2, got %v", len(events))
	}
	if events[0].ID != "new" || events[1].ID != "mid" {
		t.Errorf("wrong order: %v, %v", events[0].ID, events[1].ID)
	}
}

func TestQuarantineHistory(t *testing.T) {
	s := testStore(t)

	now := time.Now()
	records := []data.QuarantineRecord{
		{MAC: "00:00:00:00:00:03", Dpid: 1, Verdict: data.VerdictIsolated,
			Time: now, Release: now.Add(10 * time.Second)},
		{MAC: "00:00:00:00:00:03", Dpid: 1, Verdict: data.VerdictReintegrated,
			Time: now.Add(11 * time.Second)},
	}
	for _, r := range records {
		if err := s.AddQuarantine(r); err != nil {
			t.Fatal("add: ", err)
		}
	}

	history, err := s.QuarantineHistory(10)
	if err != nil {
		t.Fatal("query: ", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 records, got %v", len(history))
	}
	if history[0].Verdict != data.VerdictReintegrated {
		t.Errorf("expected newest first, got %v", history[0].Verdict)
	}
	if history[1].Release.IsZero() {
		t.Error("release time not persisted")
	}
	if !history[0].Release.IsZero() {
		t.Error("zero release time came back non-zero")
	}
}

func TestCSVRecorder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctrl_latency.csv")

	r, err := NewLatencyCSV(path)
	if err != nil {
		t.Fatal("open: ", err)
	}

	s := data.Sample{Type: data.SampleTypeRTT, Time: time.Now(), Dpid: 1, Value: 1.234}
	if err := r.WriteSample(s); err != nil {
		t.Fatal("write: ", err)
	}
	if err := r.Close(); err != nil {
		t.Fatal("close: ", err)
	}

	// reopen must not duplicate the header
	r, err = NewLatencyCSV(path)
	if err != nil {
		t.Fatal("reopen: ", err)
	}
	if err := r.WriteSample(s); err != nil {
		t.Fatal("write: ", err)
	}
	r.Close()

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got %v lines", len(lines))
	}
	if lines[0] != "Time,Dpid,RTT_ms" {
		t.Errorf("bad header: %v", lines[0])
	}
	if strings.HasPrefix(lines[1], "Time") {
		t.Error("duplicate header after reopen")
	}
}
