package barrier

import (
	"github.com/mycobarrier/mycobarrier/data"
	"github.com/mycobarrier/mycobarrier/openflow"
	"github.com/mycobarrier/mycobarrier/packet"
)

// Scout is hard isolation: drop traffic to and from the target across
// the whole fabric, and rate limit the target's remaining MAC-level
// traffic at its edge switch through a drop meter.
type Scout struct{}

// Name returns the strategy name
func (s Scout) Name() data.Strategy { return data.StrategyScout }

// Program emits fabric-wide IP drops plus an edge meter
func (s Scout) Program(ev data.Event, dpids []uint64) (Program, error) {
	targetIP, targetMAC, err := parseTarget(ev)
	if err != nil {
		return Program{}, err
	}

	var p Program

	for _, dpid := range dpids {
		var toTarget openflow.Match
		toTarget.SetEthType(packet.EtherTypeIPv4)
		toTarget.SetIPv4Dst(targetIP)

		drop := openflow.AddFlow(PriorityScout, toTarget)
		drop.Cookie = ev.Cookie
		p.Flows = append(p.Flows, FlowOp{Dpid: dpid, Flow: drop})

		var fromTarget openflow.Match
		fromTarget.SetEthType(packet.EtherTypeIPv4)
		fromTarget.SetIPv4Src(targetIP)

		drop = openflow.AddFlow(PriorityScout, fromTarget)
		drop.Cookie = ev.Cookie
		p.Flows = append(p.Flows, FlowOp{Dpid: dpid, Flow: drop})
	}

	// Edge meter: IP traffic is already dropped above, the meter caps
	// whatever else the target emits (ARP churn, other ethertypes)
	// during the event.
	meterID := EventMeterID(ev.Cookie)
	p.Meters = append(p.Meters, MeterOp{
		Dpid:  ev.TargetDpid,
		Meter: openflow.AddMeter(meterID, ScoutMeterRateKbps, 0),
	})

	var fromMAC openflow.Match
	fromMAC.SetEthSrc(targetMAC)

	metered := openflow.FlowMod{
		Command:     openflow.FlowAdd,
		Priority:    PriorityMacDrop,
		BufferID:    openflow.NoBuffer,
		Cookie:      ev.Cookie,
		HardTimeout: uint16(ev.Duration.Seconds()),
		Match:       fromMAC,
		Instructions: []openflow.Instruction{
			openflow.InstructionMeter{MeterID: meterID},
			openflow.ApplyActions(openflow.Output(openflow.PortFlood)),
		},
	}
	p.Flows = append(p.Flows, FlowOp{Dpid: ev.TargetDpid, Flow: metered})

	return p, nil
}
