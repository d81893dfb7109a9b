package data

import (
	"fmt"
	"time"
)

// Strategy names a mitigation strategy
type Strategy string

// The three mitigation strategies
const (
	StrategyScout Strategy = "scout"
	StrategyBox   Strategy = "box"
	StrategySwap  Strategy = "swap"
)

// Valid reports whether s is a known strategy
func (s Strategy) Valid() bool {
	switch s {
	case StrategyScout, StrategyBox, StrategySwap:
		return true
	}
	return false
}

// Event is a single mitigation event: one strategy applied to one
// target for a bounded window. All flows and meters installed for the
// event carry Cookie so cleanup is a cookie-masked delete.
type Event struct {
	ID         string        `json:"id"`
	Strategy   Strategy      `json:"strategy"`
	TargetIP   string        `json:"targetIP"`
	TargetMAC  string        `json:"targetMAC"`
	TargetDpid uint64        `json:"targetDpid"`
	ProxyIP    string        `json:"proxyIP,omitempty"`
	ProxyMAC   string        `json:"proxyMAC,omitempty"`
	ProxyPort  uint32        `json:"proxyPort,omitempty"`
	Duration   time.Duration `json:"duration"`
	Cookie     uint64        `json:"cookie"`
	Start      time.Time     `json:"start"`
	End        time.Time     `json:"end,omitempty"`
}

func (e Event) String() string {
	return fmt.Sprintf("event %v strategy=%v target=%v duration=%v",
		e.ID, e.Strategy, e.TargetIP, e.Duration)
}

// Quarantine verdicts
const (
	VerdictIsolated     = "isolated"
	VerdictExtended     = "extended"
	VerdictReintegrated = "reintegrated"
)

// QuarantineRecord is one transition in a host's quarantine history
type QuarantineRecord struct {
	MAC     string    `json:"mac"`
	Dpid    uint64    `json:"dpid"`
	Verdict string    `json:"verdict"`
	Time    time.Time `json:"time"`
	Release time.Time `json:"release,omitempty"`
}
