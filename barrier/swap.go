package barrier

import (
	"github.com/mycobarrier/mycobarrier/data"
	"github.com/mycobarrier/mycobarrier/openflow"
	"github.com/mycobarrier/mycobarrier/packet"
)

// Swap substitutes a proxy for the target transparently. New resolvers
// are steered to the proxy's MAC through ARP answered by the
// controller, while flows at the edge switch rewrite inbound traffic
// to the proxy's identity and restore the target's identity on the
// way out. Clients keep talking to the target's address and never see
// the substitution.
type Swap struct{}

// Name returns the strategy name
func (s Swap) Name() data.Strategy { return data.StrategySwap }

// Program emits the bidirectional rewrite at the target's edge switch
func (s Swap) Program(ev data.Event, dpids []uint64) (Program, error) {
	targetIP, targetMAC, err := parseTarget(ev)
	if err != nil {
		return Program{}, err
	}
	proxyIP, proxyMAC, err := parseProxy(ev)
	if err != nil {
		return Program{}, err
	}

	// Inbound: anything addressed to the target becomes proxy traffic
	var toTarget openflow.Match
	toTarget.SetEthType(packet.EtherTypeIPv4)
	toTarget.SetIPv4Dst(targetIP)

	inbound := openflow.AddFlow(PrioritySwap, toTarget,
		openflow.SetFieldIPv4Dst(proxyIP),
		openflow.SetFieldEthDst(proxyMAC),
		openflow.Output(ev.ProxyPort),
	)
	inbound.Cookie = ev.Cookie

	// Outbound: proxy replies leave wearing the target's identity.
	// The rewritten frame goes back through the controller because the
	// client's port is only known to the learning table.
	var fromProxy openflow.Match
	fromProxy.SetInPort(ev.ProxyPort)
	fromProxy.SetEthType(packet.EtherTypeIPv4)
	fromProxy.SetIPv4Src(proxyIP)

	outbound := openflow.AddFlow(PrioritySwap, fromProxy,
		openflow.SetFieldIPv4Src(targetIP),
		openflow.SetFieldEthSrc(targetMAC),
		openflow.OutputController(),
	)
	outbound.Cookie = ev.Cookie

	return Program{Flows: []FlowOp{
		{Dpid: ev.TargetDpid, Flow: inbound},
		{Dpid: ev.TargetDpid, Flow: outbound},
	}}, nil
}

// SteerARP builds an ARP reply claiming the swap target's IP at the
// proxy's MAC. The controller sends it in place of flooding the
// request, so resolvers cache the proxy as the target. Returns nil if
// the request is not for the target.
func SteerARP(ev data.Event, f packet.Frame) []byte {
	if ev.Strategy != data.StrategySwap || f.ARP == nil {
		return nil
	}
	if f.ARP.Opcode != packet.ARPRequest {
		return nil
	}

	targetIP, _, err := parseTarget(ev)
	if err != nil {
		return nil
	}
	proxyIP, proxyMAC, err := parseProxy(ev)
	if err != nil {
		return nil
	}

	if !f.ARP.TargetIP.Equal(targetIP) && !f.ARP.TargetIP.Equal(proxyIP) {
		return nil
	}

	return packet.BuildARPReply(proxyMAC, f.ARP.TargetIP,
		f.ARP.SenderMAC, f.ARP.SenderIP)
}
