package barrier

import (
	"fmt"
	"net"

	"github.com/mycobarrier/mycobarrier/data"
	"github.com/mycobarrier/mycobarrier/openflow"
)

// Flow priorities used across the pipeline. Event flows sit above the
// MAC isolation drops, which in turn sit above learned forwarding.
const (
	PriorityTableMiss uint16 = 0
	PriorityForward   uint16 = 10
	PriorityMacDrop   uint16 = 100
	PriorityScout     uint16 = 300
	PriorityBox       uint16 = 320
	PrioritySwap      uint16 = 340
)

// SandboxVlanID tags traffic diverted into the sandbox by the box
// strategy.
const SandboxVlanID uint16 = 100

// ScoutMeterRateKbps caps residual traffic from a scouted target
const ScoutMeterRateKbps uint32 = 512

// FlowOp is a flow mod addressed to a datapath
type FlowOp struct {
	Dpid uint64
	Flow openflow.FlowMod
}

// MeterOp is a meter mod addressed to a datapath
type MeterOp struct {
	Dpid  uint64
	Meter openflow.MeterMod
}

// Program is the set of switch operations a strategy emits for one
// mitigation event. Everything in it carries the event cookie so
// cleanup is uniform.
type Program struct {
	Flows  []FlowOp
	Meters []MeterOp
}

// Strategy turns a mitigation event into a flow-table program
type Strategy interface {
	Name() data.Strategy
	Program(ev data.Event, dpids []uint64) (Program, error)
}

// Strategies returns the three built-in strategies keyed by name
func Strategies() map[data.Strategy]Strategy {
	return map[data.Strategy]Strategy{
		data.StrategyScout: Scout{},
		data.StrategyBox:   Box{},
		data.StrategySwap:  Swap{},
	}
}

// EventMeterID derives the meter id used by an event from its cookie.
// Meter ids must be nonzero.
func EventMeterID(cookie uint64) uint32 {
	id := uint32(cookie & 0xffff)
	if id == 0 {
		id = 1
	}
	return id
}

func parseTarget(ev data.Event) (net.IP, net.HardwareAddr, error) {
	ip := net.ParseIP(ev.TargetIP)
	if ip == nil {
		return nil, nil, fmt.Errorf("barrier: bad target IP %v", ev.TargetIP)
	}
	mac, err := net.ParseMAC(ev.TargetMAC)
	if err != nil {
		return nil, nil, fmt.Errorf("barrier: bad target MAC %v: %v", ev.TargetMAC, err)
	}
	return ip, mac, nil
}

func parseProxy(ev data.Event) (net.IP, net.HardwareAddr, error) {
	if ev.ProxyIP == "" {
		return nil, nil, fmt.Errorf("barrier: %v event for %v has no proxy",
			ev.Strategy, ev.TargetIP)
	}
	ip := net.ParseIP(ev.ProxyIP)
	if ip == nil {
		return nil, nil, fmt.Errorf("barrier: bad proxy IP %v", ev.ProxyIP)
	}
	mac, err := net.ParseMAC(ev.ProxyMAC)
	if err != nil {
		return nil, nil, fmt.Errorf("barrier: bad proxy MAC %v: %v", ev.ProxyMAC, err)
	}
	return ip, mac, nil
}
