// Package monitor samples CPU and memory usage of the controller
// process on a fixed period and records the samples to CSV and a
// callback, so experiment runs capture the controller's own resource
// cost alongside the network metrics.
package monitor

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/mycobarrier/mycobarrier/data"
	"github.com/mycobarrier/mycobarrier/store"
)

// DefaultPeriod between resource samples
const DefaultPeriod = time.Second

// Monitor periodically samples this process
type Monitor struct {
	// Period between samples
	Period time.Duration

	// CSVPath, when set, receives Time,CPU,RAM rows
	CSVPath string

	proc     *process.Process
	csv      *store.CSVRecorder
	onSample func(data.Sample)

	mu      sync.Mutex
	stopped bool
	stop    chan struct{}
}

// NewMonitor creates a monitor for the current process
func NewMonitor(period time.Duration, csvPath string) (*Monitor, error) {
	if period <= 0 {
		period = DefaultPeriod
	}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("MON: process handle: %w", err)
	}

	return &Monitor{
		Period:  period,
		CSVPath: csvPath,
		proc:    proc,
		stop:    make(chan struct{}),
	}, nil
}

// OnSample registers a callback for every CPU and RAM sample
func (m *Monitor) OnSample(f func(data.Sample)) {
	m.onSample = f
}

func (m *Monitor) sample(s data.Sample) {
	if m.onSample != nil {
		m.onSample(s)
	}
}

// Run samples until Stop is called
func (m *Monitor) Run() error {
	if m.CSVPath != "" {
		csv, err := store.NewCSVRecorder(m.CSVPath, []string{"Time", "CPU", "RAM"})
		if err != nil {
			return fmt.Errorf("MON: open %v: %w", m.CSVPath, err)
		}
		m.csv = csv
		defer csv.Close()
	}

	ticker := time.NewTicker(m.Period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.collect()
		case <-m.stop:
			return nil
		}
	}
}

// Stop shuts the monitor down
func (m *Monitor) Stop(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.stopped = true
	close(m.stop)
}

func (m *Monitor) collect() {
	now := time.Now()

	cpuPerc, err := m.proc.CPUPercent()
	if err != nil {
		log.Println("MON: cpu sample: ", err)
		return
	}

	memInfo, err := m.proc.MemoryInfo()
	if err != nil {
		log.Println("MON: memory sample: ", err)
		return
	}
	ramMB := float64(memInfo.RSS) / (1024 * 1024)

	m.sample(data.Sample{Type: data.SampleTypeCPU, Time: now, Value: cpuPerc})
	m.sample(data.Sample{Type: data.SampleTypeRAM, Time: now, Value: ramMB})

	if m.csv != nil {
		err := m.csv.Write([]string{
			now.Format(time.RFC3339),
			strconv.FormatFloat(cpuPerc, 'f', 2, 64),
			strconv.FormatFloat(ramMB, 'f', 2, 64),
		})
		if err != nil {
			log.Println("MON: csv write: ", err)
		}
	}
}
