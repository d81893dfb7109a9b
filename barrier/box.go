package barrier

import (
	"github.com/mycobarrier/mycobarrier/data"
	"github.com/mycobarrier/mycobarrier/openflow"
	"github.com/mycobarrier/mycobarrier/packet"
)

// Box diverts traffic destined for the target into a sandbox proxy at
// the target's edge switch. Diverted frames are tagged with the
// sandbox VLAN and rewritten to the proxy's identity so the proxy's
// stack accepts them.
type Box struct{}

// Name returns the strategy name
func (b Box) Name() data.Strategy { return data.StrategyBox }

// Program emits the sandbox redirect at the target's edge switch
func (b Box) Program(ev data.Event, dpids []uint64) (Program, error) {
	targetIP, _, err := parseTarget(ev)
	if err != nil {
		return Program{}, err
	}
	proxyIP, proxyMAC, err := parseProxy(ev)
	if err != nil {
		return Program{}, err
	}

	var toTarget openflow.Match
	toTarget.SetEthType(packet.EtherTypeIPv4)
	toTarget.SetIPv4Dst(targetIP)

	redirect := openflow.AddFlow(PriorityBox, toTarget,
		openflow.ActionPushVLAN{},
		openflow.SetFieldVlanVID(SandboxVlanID),
		openflow.SetFieldIPv4Dst(proxyIP),
		openflow.SetFieldEthDst(proxyMAC),
		openflow.Output(ev.ProxyPort),
	)
	redirect.Cookie = ev.Cookie

	// Replies from the sandbox come back tagged. Strip the tag and
	// hand the frame to the controller so the learning pipeline
	// delivers it with the proxy identity intact.
	var fromProxy openflow.Match
	fromProxy.SetInPort(ev.ProxyPort)
	fromProxy.SetVlanVID(SandboxVlanID)

	untag := openflow.AddFlow(PriorityBox, fromProxy,
		openflow.ActionPopVLAN{},
		openflow.OutputController(),
	)
	untag.Cookie = ev.Cookie

	return Program{Flows: []FlowOp{
		{Dpid: ev.TargetDpid, Flow: redirect},
		{Dpid: ev.TargetDpid, Flow: untag},
	}}, nil
}
