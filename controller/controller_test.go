package controller

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/mycobarrier/mycobarrier/barrier"
	"github.com/mycobarrier/mycobarrier/data"
	"github.com/mycobarrier/mycobarrier/openflow"
	"github.com/mycobarrier/mycobarrier/packet"
	"github.com/mycobarrier/mycobarrier/sim"
)

func testConfig() Config {
	return Config{Address: "127.0.0.1:0"}
}

func testMapping() *data.Mapping {
	return &data.Mapping{
		Hosts: []data.Host{
			{Name: "srv1", Role: "server", IP: "10.0.0.1", MAC: "00:00:00:00:00:01", Dpid: 1, Port: 1},
			{Name: "h2", Role: "host", IP: "10.0.0.2", MAC: "00:00:00:00:00:02", Dpid: 1, Port: 2},
			{Name: "h3", Role: "host", IP: "10.0.0.3", MAC: "00:00:00:00:00:03", Dpid: 1, Port: 3},
		},
		Proxies: []data.Host{
			{Name: "sandbox1", Role: "proxy", IP: "10.0.0.100", MAC: "00:00:00:00:01:00", Dpid: 1, Port: 4},
		},
	}
}

// startSession runs a controller on loopback, connects a simulated
// switch to it and waits for the handshake to finish.
func startSession(t *testing.T, c *Controller, dpid uint64) *sim.Switch {
	t.Helper()

	go func() { _ = c.Run() }()
	t.Cleanup(func() { c.Stop(nil) })

	var addr string
	waitFor(t, "listener", func() bool {
		a := c.Addr()
		if a == nil {
			return false
		}
		addr = a.String()
		return true
	})

	sw := sim.NewSwitch(dpid)
	go func() { _ = sw.Dial(addr) }()

	if err := sw.WaitReady(2 * time.Second); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "datapath registration", func() bool {
		_, ok := c.Datapath(dpid)
		return ok
	})

	return sw
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for ", what)
}

func mac(t *testing.T, s string) net.HardwareAddr {
	t.Helper()
	m, err := net.ParseMAC(s)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestHandshakeInstallsTableMiss(t *testing.T) {
	c := NewController(testConfig(), testMapping())
	sw := startSession(t, c, 1)

	flows := sw.Flows()
	if len(flows) != 1 {
		t.Fatalf("expected 1 flow after handshake, got %v", len(flows))
	}

	miss := flows[0]
	if miss.Priority != 0 {
		t.Errorf("table miss priority %v, want 0", miss.Priority)
	}
	out, ok := miss.Actions()[0].(openflow.ActionOutput)
	if !ok || out.Port != openflow.PortController {
		t.Error("table miss does not punt to the controller")
	}
}

func TestLearningSwitch(t *testing.T) {
	c := NewController(testConfig(), testMapping())
	sw := startSession(t, c, 1)

	h2 := mac(t, "00:00:00:00:00:02")
	h3 := mac(t, "00:00:00:00:00:03")

	// h2 -> h3, destination unknown: flood, no flow
	frame := packet.BuildSYN(h3, h2, net.ParseIP("10.0.0.2"), net.ParseIP("10.0.0.3"), 80)
	if err := sw.SendPacketIn(2, frame); err != nil {
		t.Fatal(err)
	}

	po := <-sw.PacketOuts
	out := po.Actions[0].(openflow.ActionOutput)
	if out.Port != openflow.PortFlood {
		t.Errorf("expected flood for unknown destination, got port %v", out.Port)
	}

	// h3 -> h2, source of the previous frame is now known
	reply := packet.BuildTCP(h2, h3, net.ParseIP("10.0.0.3"), net.ParseIP("10.0.0.2"),
		80, 40000, packet.TCPFlagSYN|packet.TCPFlagACK)
	if err := sw.SendPacketIn(3, reply); err != nil {
		t.Fatal(err)
	}

	po = <-sw.PacketOuts
	out = po.Actions[0].(openflow.ActionOutput)
	if out.Port != 2 {
		t.Errorf("expected forward to port 2, got %v", out.Port)
	}

	waitFor(t, "forwarding flow", func() bool {
		for _, f := range sw.Flows() {
			if f.Priority == barrier.PriorityForward {
				return true
			}
		}
		return false
	})
}

func TestFloodIsolatesSource(t *testing.T) {
	c := NewController(testConfig(), testMapping())
	c.Detector().Threshold = 5
	sw := startSession(t, c, 1)

	attacker := mac(t, "00:00:00:00:00:03")
	victim := mac(t, "00:00:00:00:00:01")
	frame := packet.BuildSYN(victim, attacker,
		net.ParseIP("10.0.0.3"), net.ParseIP("10.0.0.1"), 80)

	// SYNs count double, so a handful crosses the threshold
	for i := 0; i < 10; i++ {
		if err := sw.SendPacketIn(3, frame); err != nil {
			t.Fatal(err)
		}
	}

	waitFor(t, "isolation flow", func() bool {
		for _, f := range sw.Flows() {
			if f.Priority == barrier.PriorityMacDrop {
				return true
			}
		}
		return false
	})

	waitFor(t, "quarantine entry", func() bool {
		return c.Quarantine().Len() == 1
	})

	active := c.Quarantine().Active()
	if len(active) != 1 || active[0] != attacker.String() {
		t.Errorf("expected %v quarantined, got %v", attacker, active)
	}
}

func TestAutoEventOnFlood(t *testing.T) {
	cfg := testConfig()
	cfg.AutoStrategy = data.StrategyScout
	cfg.AutoDuration = time.Minute
	c := NewController(cfg, testMapping())
	c.Detector().Threshold = 5
	sw := startSession(t, c, 1)

	attacker := mac(t, "00:00:00:00:00:03")
	victim := mac(t, "00:00:00:00:00:01")
	frame := packet.BuildSYN(victim, attacker,
		net.ParseIP("10.0.0.3"), net.ParseIP("10.0.0.1"), 80)

	for i := 0; i < 10; i++ {
		if err := sw.SendPacketIn(3, frame); err != nil {
			t.Fatal(err)
		}
	}

	waitFor(t, "auto event", func() bool {
		ev := c.Events().Active()
		return ev != nil && ev.Strategy == data.StrategyScout && ev.TargetIP == "10.0.0.1"
	})
}

func TestEventProgramsAndCleansSwitch(t *testing.T) {
	c := NewController(testConfig(), testMapping())
	sw := startSession(t, c, 1)

	ev, err := c.Events().Start(data.StrategySwap, "10.0.0.1", 0)
	if err != nil {
		t.Fatal("start: ", err)
	}

	waitFor(t, "event flows", func() bool {
		return len(sw.FlowsWithCookie(ev.Cookie)) == 2
	})

	if _, err := c.Events().End(); err != nil {
		t.Fatal("end: ", err)
	}

	waitFor(t, "event cleanup", func() bool {
		return len(sw.FlowsWithCookie(ev.Cookie)) == 0
	})
}

func TestScoutEventInstallsMeter(t *testing.T) {
	c := NewController(testConfig(), testMapping())
	sw := startSession(t, c, 1)

	ev, err := c.Events().Start(data.StrategyScout, "10.0.0.1", 0)
	if err != nil {
		t.Fatal("start: ", err)
	}

	waitFor(t, "event meter", func() bool {
		for _, m := range sw.Meters() {
			if m.MeterID == barrier.EventMeterID(ev.Cookie) {
				return true
			}
		}
		return false
	})

	if _, err := c.Events().End(); err != nil {
		t.Fatal("end: ", err)
	}

	waitFor(t, "meter cleanup", func() bool {
		return len(sw.Meters()) == 0
	})
}

func TestSwapSteersARP(t *testing.T) {
	c := NewController(testConfig(), testMapping())
	sw := startSession(t, c, 1)

	if _, err := c.Events().Start(data.StrategySwap, "10.0.0.1", 0); err != nil {
		t.Fatal("start: ", err)
	}

	requester := mac(t, "00:00:00:00:00:02")
	req := packet.BuildARPRequest(requester,
		net.ParseIP("10.0.0.2"), net.ParseIP("10.0.0.1"))
	if err := sw.SendPacketIn(2, req); err != nil {
		t.Fatal(err)
	}

	po := <-sw.PacketOuts
	f, err := packet.Decode(po.Data)
	if err != nil {
		t.Fatal("decode steered reply: ", err)
	}
	if f.ARP == nil || f.ARP.Opcode != packet.ARPReply {
		t.Fatal("steered frame is not an ARP reply")
	}
	if f.ARP.SenderMAC.String() != "00:00:00:00:01:00" {
		t.Errorf("ARP reply claims %v, want the proxy MAC", f.ARP.SenderMAC)
	}

	out := po.Actions[0].(openflow.ActionOutput)
	if out.Port != 2 {
		t.Errorf("ARP reply sent to port %v, want requester port 2", out.Port)
	}
}

func TestFlowStatsRoundTrip(t *testing.T) {
	c := NewController(testConfig(), testMapping())
	startSession(t, c, 1)

	d, ok := c.Datapath(1)
	if !ok {
		t.Fatal("dpid 1 not registered")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	entries, err := d.FlowStats(ctx)
	if err != nil {
		t.Fatal("flow stats: ", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected the table miss entry, got %v flows", len(entries))
	}
	if entries[0].Priority != 0 {
		t.Error("table miss entry has wrong priority")
	}
}

func TestEchoRTTSample(t *testing.T) {
	cfg := testConfig()
	cfg.EchoInterval = 20 * time.Millisecond
	c := NewController(cfg, testMapping())

	samples := make(chan data.Sample, 8)
	c.OnSample(func(s data.Sample) {
		select {
		case samples <- s:
		default:
		}
	})

	startSession(t, c, 1)

	select {
	case s := <-samples:
		if s.Type != data.SampleTypeRTT {
			t.Errorf("expected rtt sample, got %v", s.Type)
		}
		if s.Dpid != 1 {
			t.Errorf("sample dpid %v, want 1", s.Dpid)
		}
		if s.Value < 0 {
			t.Errorf("negative RTT %v", s.Value)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no RTT sample received")
	}
}
