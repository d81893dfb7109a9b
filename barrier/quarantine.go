package barrier

import (
	"log"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/mycobarrier/mycobarrier/data"
)

// Quarantine timing defaults
const (
	DefaultRecoveryTime = 10 * time.Second
	DefaultExtension    = 5 * time.Second
	DefaultProbePass    = 0.75
)

// Status is the verdict for a packet from a given source
type Status int

// Verdicts returned by Check
const (
	StatusAllow Status = iota
	StatusDrop
	StatusReintegrate
)

func (s Status) String() string {
	switch s {
	case StatusAllow:
		return "allow"
	case StatusDrop:
		return "drop"
	case StatusReintegrate:
		return "reintegrate"
	}
	return "unknown"
}

type quarantineEntry struct {
	dpid    uint64
	release time.Time
}

// Quarantine tracks isolated sources. An isolated source is dropped
// until its recovery timer expires; it is then run through a probe
// verification that passes with probability ProbePass. Failure extends
// the quarantine, success reintegrates the source.
type Quarantine struct {
	mu sync.Mutex

	// RecoveryTime is the initial isolation period
	RecoveryTime time.Duration

	// Extension is added to the timer on a failed verification
	Extension time.Duration

	// ProbePass is the probability the verification probe passes
	ProbePass float64

	entries map[string]*quarantineEntry

	now      func() time.Time
	rand     func() float64
	onRecord func(data.QuarantineRecord)
}

// NewQuarantine returns a quarantine list with default timing
func NewQuarantine() *Quarantine {
	return &Quarantine{
		RecoveryTime: DefaultRecoveryTime,
		Extension:    DefaultExtension,
		ProbePass:    DefaultProbePass,
		entries:      make(map[string]*quarantineEntry),
		now:          time.Now,
		rand:         rand.Float64,
	}
}

// SetClock replaces the time source, for tests
func (q *Quarantine) SetClock(now func() time.Time) {
	q.now = now
}

// SetRand replaces the verification random source, for tests
func (q *Quarantine) SetRand(r func() float64) {
	q.rand = r
}

// OnRecord registers a callback invoked for every quarantine
// transition, used for persistence and bus publishing.
func (q *Quarantine) OnRecord(f func(data.QuarantineRecord)) {
	q.onRecord = f
}

func (q *Quarantine) record(r data.QuarantineRecord) {
	if q.onRecord != nil {
		q.onRecord(r)
	}
}

// Isolate puts a source into quarantine. It returns false if the
// source is already quarantined, so only one timer exists per source.
func (q *Quarantine) Isolate(mac string, dpid uint64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.entries[mac]; ok {
		return false
	}

	t := q.now()
	release := t.Add(q.RecoveryTime)
	q.entries[mac] = &quarantineEntry{dpid: dpid, release: release}

	log.Printf("BARRIER: isolating %v on dpid %d until %v\n", mac, dpid,
		release.Format(time.RFC3339))

	q.record(data.QuarantineRecord{
		MAC:     mac,
		Dpid:    dpid,
		Verdict: data.VerdictIsolated,
		Time:    t,
		Release: release,
	})

	return true
}

// Check returns the verdict for a packet from mac. When the recovery
// timer has expired the verification probe runs inline: a pass
// removes the entry and returns StatusReintegrate, a failure extends
// the timer and returns StatusDrop.
func (q *Quarantine) Check(mac string) Status {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[mac]
	if !ok {
		return StatusAllow
	}

	t := q.now()
	if t.Before(e.release) {
		return StatusDrop
	}

	if q.rand() < q.ProbePass {
		delete(q.entries, mac)
		log.Printf("BARRIER: probe verification passed, reintegrating %v\n", mac)
		q.record(data.QuarantineRecord{
			MAC:     mac,
			Dpid:    e.dpid,
			Verdict: data.VerdictReintegrated,
			Time:    t,
		})
		return StatusReintegrate
	}

	e.release = e.release.Add(q.Extension)
	log.Printf("BARRIER: probe verification failed, %v isolated until %v\n",
		mac, e.release.Format(time.RFC3339))
	q.record(data.QuarantineRecord{
		MAC:     mac,
		Dpid:    e.dpid,
		Verdict: data.VerdictExtended,
		Time:    t,
		Release: e.release,
	})
	return StatusDrop
}

// Active returns the quarantined MACs, sorted
func (q *Quarantine) Active() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	macs := make([]string, 0, len(q.entries))
	for mac := range q.entries {
		macs = append(macs, mac)
	}
	sort.Strings(macs)
	return macs
}

// Len returns the number of quarantined sources
func (q *Quarantine) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
