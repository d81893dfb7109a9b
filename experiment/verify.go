// Package experiment orchestrates mitigation experiments against
// simulated topologies and verifies that each strategy leaves the
// expected artifacts in the switch tables.
package experiment

import (
	"context"
	"fmt"
	"strings"

	"github.com/mycobarrier/mycobarrier/api"
	"github.com/mycobarrier/mycobarrier/barrier"
	"github.com/mycobarrier/mycobarrier/controller"
	"github.com/mycobarrier/mycobarrier/data"
	"github.com/mycobarrier/mycobarrier/openflow"
)

// Check is the verification result for one strategy on one datapath
type Check struct {
	Strategy data.Strategy
	Passed   bool
	Details  []string
}

func (c Check) String() string {
	status := "FAIL"
	if c.Passed {
		status = "PASS"
	}
	return fmt.Sprintf("%v: %v", c.Strategy, status)
}

// Verify inspects flow and meter tables for the artifacts a strategy
// must leave behind while active.
func Verify(strategy data.Strategy, flows []openflow.FlowStatsEntry,
	meters []openflow.MeterConfigEntry) Check {

	c := Check{Strategy: strategy}

	switch strategy {
	case data.StrategyScout:
		c.verifyScout(flows, meters)
	case data.StrategyBox:
		c.verifyBox(flows)
	case data.StrategySwap:
		c.verifySwap(flows)
	default:
		c.Details = append(c.Details, fmt.Sprintf("unknown strategy %q", strategy))
	}

	return c
}

// VerifyDatapath fetches the tables from a live datapath and verifies
// them.
func VerifyDatapath(ctx context.Context, d *controller.Datapath, strategy data.Strategy) (Check, error) {
	flows, err := d.FlowStats(ctx)
	if err != nil {
		return Check{Strategy: strategy}, fmt.Errorf("flow stats: %w", err)
	}
	meters, err := d.MeterConfigs(ctx)
	if err != nil {
		return Check{Strategy: strategy}, fmt.Errorf("meter configs: %w", err)
	}
	return Verify(strategy, flows, meters), nil
}

// VerifyViews runs the same checks against the JSON views the control
// API serves, so a remote process can verify a running deployment.
func VerifyViews(strategy data.Strategy, flows []api.FlowView, meters []api.MeterView) Check {
	c := Check{Strategy: strategy}

	hasAction := func(prio uint16, substrs ...string) bool {
		for _, f := range flows {
			if f.Priority != prio {
				continue
			}
			joined := strings.Join(f.Actions, " ")
			ok := true
			for _, s := range substrs {
				if !strings.Contains(joined, s) {
					ok = false
					break
				}
			}
			if ok {
				return true
			}
		}
		return false
	}

	switch strategy {
	case data.StrategyScout:
		drops := 0
		for _, f := range flows {
			if f.Priority == barrier.PriorityScout && len(f.Actions) == 0 {
				drops++
			}
		}
		if drops == 0 {
			c.Details = append(c.Details, "no isolation drop flows found")
		} else {
			c.Details = append(c.Details, fmt.Sprintf("%d isolation drop flows", drops))
		}
		if len(meters) == 0 {
			c.Details = append(c.Details, "no rate limit meter found")
		} else {
			c.Details = append(c.Details, fmt.Sprintf("%d meters configured", len(meters)))
		}
		c.Passed = drops > 0 && len(meters) > 0

	case data.StrategyBox:
		found := hasAction(barrier.PriorityBox, "push_vlan", "vlan_vid", "ipv4_dst")
		if found {
			c.Details = append(c.Details, "sandbox redirect with VLAN tag and rewrite found")
		} else {
			c.Details = append(c.Details, "no sandbox redirect flow found")
		}
		c.Passed = found

	case data.StrategySwap:
		inbound := hasAction(barrier.PrioritySwap, "ipv4_dst")
		outbound := hasAction(barrier.PrioritySwap, "ipv4_src")
		if inbound {
			c.Details = append(c.Details, "inbound rewrite to proxy found")
		} else {
			c.Details = append(c.Details, "no inbound rewrite flow found")
		}
		if outbound {
			c.Details = append(c.Details, "outbound identity restore found")
		} else {
			c.Details = append(c.Details, "no outbound rewrite flow found")
		}
		c.Passed = inbound && outbound

	default:
		c.Details = append(c.Details, fmt.Sprintf("unknown strategy %q", strategy))
	}

	return c
}

func (c *Check) verifyScout(flows []openflow.FlowStatsEntry, meters []openflow.MeterConfigEntry) {
	drops := 0
	for _, f := range flows {
		if f.Priority == barrier.PriorityScout && len(f.Actions()) == 0 {
			drops++
		}
	}
	if drops == 0 {
		c.Details = append(c.Details, "no isolation drop flows found")
	} else {
		c.Details = append(c.Details, fmt.Sprintf("%d isolation drop flows", drops))
	}

	if len(meters) == 0 {
		c.Details = append(c.Details, "no rate limit meter found")
	} else {
		c.Details = append(c.Details, fmt.Sprintf("%d meters configured", len(meters)))
	}

	c.Passed = drops > 0 && len(meters) > 0
}

func (c *Check) verifyBox(flows []openflow.FlowStatsEntry) {
	found := false
	for _, f := range flows {
		if f.Priority != barrier.PriorityBox {
			continue
		}
		var push, vid, rewrite bool
		for _, a := range f.Actions() {
			switch a := a.(type) {
			case openflow.ActionPushVLAN:
				push = true
			case openflow.ActionSetField:
				if a.Field == openflow.FieldVlanVID {
					vid = true
				}
				if a.Field == openflow.FieldIPv4Dst {
					rewrite = true
				}
			}
		}
		if push && vid && rewrite {
			found = true
			break
		}
	}

	if found {
		c.Details = append(c.Details, "sandbox redirect with VLAN tag and rewrite found")
	} else {
		c.Details = append(c.Details, "no sandbox redirect flow found")
	}
	c.Passed = found
}

func (c *Check) verifySwap(flows []openflow.FlowStatsEntry) {
	var inbound, outbound bool
	for _, f := range flows {
		if f.Priority != barrier.PrioritySwap {
			continue
		}
		for _, a := range f.Actions() {
			sf, ok := a.(openflow.ActionSetField)
			if !ok {
				continue
			}
			if sf.Field == openflow.FieldIPv4Dst {
				inbound = true
			}
			if sf.Field == openflow.FieldIPv4Src {
				outbound = true
			}
		}
	}

	if inbound {
		c.Details = append(c.Details, "inbound rewrite to proxy found")
	} else {
		c.Details = append(c.Details, "no inbound rewrite flow found")
	}
	if outbound {
		c.Details = append(c.Details, "outbound identity restore found")
	} else {
		c.Details = append(c.Details, "no outbound rewrite flow found")
	}
	c.Passed = inbound && outbound
}
