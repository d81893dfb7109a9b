package sim

import (
	"net"
	"testing"

	"github.com/mycobarrier/mycobarrier/openflow"
	"github.com/mycobarrier/mycobarrier/packet"
)

func mac(t *testing.T, s string) net.HardwareAddr {
	t.Helper()
	m, err := net.ParseMAC(s)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestCookieDelete(t *testing.T) {
	sw := NewSwitch(1)

	var m openflow.Match
	m.SetInPort(1)

	keep := openflow.AddFlow(10, m)
	keep.Cookie = 0x1
	tagged := openflow.AddFlow(300, m)
	tagged.Cookie = 0xabc

	sw.applyFlowMod(keep)
	sw.applyFlowMod(tagged)
	sw.applyFlowMod(tagged)

	if len(sw.Flows()) != 3 {
		t.Fatalf("expected 3 flows, got %v", len(sw.Flows()))
	}

	sw.applyFlowMod(openflow.DeleteFlowsByCookie(0xabc))

	flows := sw.Flows()
	if len(flows) != 1 {
		t.Fatalf("expected 1 flow after delete, got %v", len(flows))
	}
	if flows[0].Cookie != 0x1 {
		t.Error("delete removed the wrong flow")
	}
}

func TestMeterTable(t *testing.T) {
	sw := NewSwitch(1)

	sw.applyMeterMod(openflow.AddMeter(5, 512, 0))
	if len(sw.Meters()) != 1 {
		t.Fatal("meter not added")
	}

	sw.applyMeterMod(openflow.DeleteMeter(5))
	if len(sw.Meters()) != 0 {
		t.Fatal("meter not deleted")
	}
}

func TestEvaluate(t *testing.T) {
	sw := NewSwitch(1)

	victimMAC := mac(t, "00:00:00:00:00:01")
	clientMAC := mac(t, "00:00:00:00:00:02")
	victimIP := net.ParseIP("10.0.0.1")
	clientIP := net.ParseIP("10.0.0.2")

	frame := packet.BuildSYN(victimMAC, clientMAC, clientIP, victimIP, 80)

	// empty table is a miss
	fwd := sw.Evaluate(2, frame)
	if fwd.Matched {
		t.Fatal("empty table matched")
	}

	// forwarding flow delivers to the victim port
	var fm openflow.Match
	fm.SetEthDst(victimMAC)
	forward := openflow.AddFlow(10, fm, openflow.Output(1))
	sw.applyFlowMod(forward)

	fwd = sw.Evaluate(2, frame)
	if !fwd.Matched || len(fwd.Ports) != 1 || fwd.Ports[0] != 1 {
		t.Fatalf("expected delivery to port 1, got %+v", fwd)
	}

	// a higher priority drop wins
	var dm openflow.Match
	dm.SetEthType(packet.EtherTypeIPv4)
	dm.SetIPv4Dst(victimIP)
	drop := openflow.AddFlow(300, dm)
	drop.Cookie = 0x99
	sw.applyFlowMod(drop)

	fwd = sw.Evaluate(2, frame)
	if !fwd.Matched || len(fwd.Ports) != 0 {
		t.Fatalf("expected drop, got %+v", fwd)
	}
	if fwd.Cookie != 0x99 {
		t.Errorf("wrong winning entry: cookie %x", fwd.Cookie)
	}

	// unrelated traffic still forwards
	other := packet.BuildSYN(clientMAC, victimMAC, victimIP, clientIP, 80)
	var cm openflow.Match
	cm.SetEthDst(clientMAC)
	sw.applyFlowMod(openflow.AddFlow(10, cm, openflow.Output(2)))

	fwd = sw.Evaluate(1, other)
	if !fwd.Matched || len(fwd.Ports) != 1 || fwd.Ports[0] != 2 {
		t.Fatalf("unrelated traffic affected: %+v", fwd)
	}
}

func TestEvaluateInPortMatch(t *testing.T) {
	sw := NewSwitch(1)

	proxyIP := net.ParseIP("10.0.0.100")
	targetIP := net.ParseIP("10.0.0.1")
	proxyMAC := mac(t, "00:00:00:00:01:00")
	clientMAC := mac(t, "00:00:00:00:00:02")

	var m openflow.Match
	m.SetInPort(4)
	m.SetEthType(packet.EtherTypeIPv4)
	m.SetIPv4Src(proxyIP)
	rewrite := openflow.AddFlow(340, m,
		openflow.SetFieldIPv4Src(targetIP),
		openflow.OutputController(),
	)
	sw.applyFlowMod(rewrite)

	reply := packet.BuildTCP(clientMAC, proxyMAC, proxyIP, net.ParseIP("10.0.0.2"),
		80, 40000, packet.TCPFlagSYN|packet.TCPFlagACK)

	fwd := sw.Evaluate(4, reply)
	if !fwd.Matched || fwd.Priority != 340 {
		t.Fatalf("proxy reply did not hit the rewrite flow: %+v", fwd)
	}

	// same frame on another port misses the in_port match
	fwd = sw.Evaluate(2, reply)
	if fwd.Matched {
		t.Fatal("in_port constrained flow matched on the wrong port")
	}
}
