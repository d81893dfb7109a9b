package store

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/mycobarrier/mycobarrier/data"
)

// CSVRecorder appends rows to a CSV file, writing the header once when
// the file is created. Rows are flushed immediately so partial runs
// still leave usable data.
type CSVRecorder struct {
	mu sync.Mutex
	f  *os.File
	w  *csv.Writer
}

// NewCSVRecorder opens path for appending, writing header if the file
// is new or empty.
func NewCSVRecorder(path string, header []string) (*CSVRecorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	r := &CSVRecorder{f: f, w: csv.NewWriter(f)}

	if info.Size() == 0 {
		if err := r.w.Write(header); err != nil {
			f.Close()
			return nil, err
		}
		r.w.Flush()
	}

	return r, r.w.Error()
}

// Write appends one row
func (r *CSVRecorder) Write(row []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.w.Write(row); err != nil {
		return err
	}
	r.w.Flush()
	return r.w.Error()
}

// Close flushes and closes the file
func (r *CSVRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.w.Flush()
	return r.f.Close()
}

// NewLatencyCSV opens a control latency recorder (ctrl_latency.csv)
func NewLatencyCSV(path string) (*CSVRecorder, error) {
	return NewCSVRecorder(path, []string{"Time", "Dpid", "RTT_ms"})
}

// WriteSample appends an RTT sample to a latency recorder
func (r *CSVRecorder) WriteSample(s data.Sample) error {
	return r.Write([]string{
		s.Time.Format(time.RFC3339Nano),
		strconv.FormatUint(s.Dpid, 10),
		strconv.FormatFloat(s.Value, 'f', 3, 64),
	})
}

// NewEventCSV opens an event recorder (events.csv)
func NewEventCSV(path string) (*CSVRecorder, error) {
	return NewCSVRecorder(path, []string{"Time", "ID", "Strategy", "Target", "Cookie", "State"})
}

// WriteEvent appends an event transition to an event recorder
func (r *CSVRecorder) WriteEvent(ev data.Event) error {
	state := "start"
	t := ev.Start
	if !ev.End.IsZero() {
		state = "end"
		t = ev.End
	}
	return r.Write([]string{
		t.Format(time.RFC3339Nano),
		ev.ID,
		string(ev.Strategy),
		ev.TargetIP,
		fmt.Sprintf("0x%x", ev.Cookie),
		state,
	})
}
