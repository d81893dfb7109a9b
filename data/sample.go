package data

import (
	"time"
)

// Sample types published on the bus and exported to the metrics store
const (
	SampleTypeRTT        = "rtt"
	SampleTypeCPU        = "cpu"
	SampleTypeRAM        = "ram"
	SampleTypePacketRate = "packetRate"
	SampleTypeSYNRate    = "synRate"
)

// Sample is a single telemetry measurement
type Sample struct {
	Type  string    `json:"type"`
	Time  time.Time `json:"time"`
	Dpid  uint64    `json:"dpid,omitempty"`
	Value float64   `json:"value"`
}

// SampleAverager accumulates samples, and averages them. The average
// can be reset.
type SampleAverager struct {
	total      float64
	count      int
	min        float64
	max        float64
	sampleType string
	sampleTime time.Time
}

// NewSampleAverager initializes and returns an averager
func NewSampleAverager(sampleType string) *SampleAverager {
	return &SampleAverager{
		sampleType: sampleType,
	}
}

// AddSample takes a sample, and adds it to the total
func (sa *SampleAverager) AddSample(s Sample) {
	if s.Time.After(sa.sampleTime) {
		sa.sampleTime = s.Time
	}

	sa.total += s.Value
	sa.count++

	if sa.count == 1 {
		sa.min = s.Value
		sa.max = s.Value
	} else {
		if s.Value < sa.min {
			sa.min = s.Value
		}
		if s.Value > sa.max {
			sa.max = s.Value
		}
	}
}

// Count returns the number of accumulated samples
func (sa *SampleAverager) Count() int {
	return sa.count
}

// ResetAverage sets the accumulated total to zero
func (sa *SampleAverager) ResetAverage() {
	sa.total = 0
	sa.count = 0
	sa.min = 0
	sa.max = 0
}

// GetAverage returns the average of the accumulated samples
func (sa *SampleAverager) GetAverage() Sample {
	if sa.count == 0 {
		return Sample{Type: sa.sampleType}
	}
	return Sample{
		Type:  sa.sampleType,
		Time:  sa.sampleTime,
		Value: sa.total / float64(sa.count),
	}
}

// Min returns the smallest accumulated sample value
func (sa *SampleAverager) Min() float64 { return sa.min }

// Max returns the largest accumulated sample value
func (sa *SampleAverager) Max() float64 { return sa.max }
