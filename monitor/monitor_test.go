package monitor

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mycobarrier/mycobarrier/data"
)

func TestMonitorSamples(t *testing.T) {
	csvPath := filepath.Join(t.TempDir(), "resources.csv")

	m, err := NewMonitor(10*time.Millisecond, csvPath)
	if err != nil {
		t.Fatal(err)
	}

	samples := make(chan data.Sample, 16)
	m.OnSample(func(s data.Sample) {
		select {
		case samples <- s:
		default:
		}
	})

	done := make(chan error, 1)
	go func() { done <- m.Run() }()

	got := map[string]bool{}
	deadline := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case s := <-samples:
			got[s.Type] = true
			if s.Value < 0 {
				t.Errorf("negative %v sample: %v", s.Type, s.Value)
			}
		case <-deadline:
			t.Fatal("timed out waiting for samples, got ", got)
		}
	}

	if !got[data.SampleTypeCPU] || !got[data.SampleTypeRAM] {
		t.Errorf("missing sample types: %v", got)
	}

	m.Stop(nil)
	if err := <-done; err != nil {
		t.Fatal("run: ", err)
	}

	b, err := os.ReadFile(csvPath)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if lines[0] != "Time,CPU,RAM" {
		t.Errorf("bad header: %v", lines[0])
	}
	if len(lines) < 2 {
		t.Error("no sample rows written")
	}
}
