package barrier

import (
	"sync"
	"time"
)

// Default detection thresholds, packets per second per source
const (
	DefaultThreshold     = 30
	DefaultLoadThreshold = 50
)

type counterKey struct {
	dpid uint64
	mac  string
}

// Detector counts packet-ins per source over one second windows. A
// source that exceeds Threshold within a window is flagged for
// isolation. Load toward protected hosts is tracked separately to
// drive proxy swaps.
type Detector struct {
	mu sync.Mutex

	// Threshold is the per-source packets/second isolation trigger
	Threshold int

	// LoadThreshold is the packets/second toward a protected host
	// that triggers a proxy swap
	LoadThreshold int

	counts      map[counterKey]int
	synCounts   map[counterKey]int
	load        map[string]int // protected host IP -> packets this window
	windowStart time.Time

	now func() time.Time
}

// NewDetector returns a detector with the default thresholds
func NewDetector() *Detector {
	return &Detector{
		Threshold:     DefaultThreshold,
		LoadThreshold: DefaultLoadThreshold,
		counts:        make(map[counterKey]int),
		synCounts:     make(map[counterKey]int),
		load:          make(map[string]int),
		windowStart:   time.Now(),
		now:           time.Now,
	}
}

// SetClock replaces the time source, for tests
func (d *Detector) SetClock(now func() time.Time) {
	d.now = now
	d.windowStart = now()
}

// roll resets all counters when the current window has expired.
// Callers must hold the lock.
func (d *Detector) roll() {
	t := d.now()
	if t.Sub(d.windowStart) > time.Second {
		d.counts = make(map[counterKey]int)
		d.synCounts = make(map[counterKey]int)
		d.load = make(map[string]int)
		d.windowStart = t
	}
}

// Observe records a packet-in from src on dpid and reports whether
// the source just crossed the isolation threshold. SYN packets count
// double: a flood of connection attempts trips the detector sooner
// than the same volume of established traffic.
func (d *Detector) Observe(dpid uint64, src string, syn bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.roll()

	k := counterKey{dpid: dpid, mac: src}
	prev := d.counts[k] + d.synCounts[k]
	d.counts[k]++
	if syn {
		d.synCounts[k]++
	}

	// SYN packets advance the score by 2, so the score can step over
	// the threshold without ever equaling it. Fire on the crossing,
	// and only once.
	score := d.counts[k] + d.synCounts[k]
	return prev <= d.Threshold && score > d.Threshold
}

// Rate returns the packet count for src in the current window
func (d *Detector) Rate(dpid uint64, src string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.roll()
	return d.counts[counterKey{dpid: dpid, mac: src}]
}

// SYNRate returns the SYN count for src in the current window
func (d *Detector) SYNRate(dpid uint64, src string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.roll()
	return d.synCounts[counterKey{dpid: dpid, mac: src}]
}

// ObserveLoad records a packet toward a protected host and reports
// whether its load just crossed the swap threshold.
func (d *Detector) ObserveLoad(hostIP string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.roll()
	d.load[hostIP]++
	return d.load[hostIP] == d.LoadThreshold+1
}
