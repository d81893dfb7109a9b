package controller

import (
	"log"
	"time"

	"github.com/mycobarrier/mycobarrier/barrier"
	"github.com/mycobarrier/mycobarrier/data"
	"github.com/mycobarrier/mycobarrier/openflow"
	"github.com/mycobarrier/mycobarrier/packet"
)

// ForwardIdleTimeout ages out learned forwarding flows so the MAC
// table can move hosts between ports.
const ForwardIdleTimeout uint16 = 30

// handlePacketIn runs one packet through the mitigation pipeline and
// then through L2 learning.
func (c *Controller) handlePacketIn(d *Datapath, pin openflow.PacketIn) {
	f, err := packet.Decode(pin.Data)
	if err != nil {
		return
	}

	if f.EtherType == packet.EtherTypeLLDP {
		return
	}

	src := f.Src.String()
	inPort := pin.InPort()

	switch c.quarantine.Check(src) {
	case barrier.StatusDrop:
		return
	case barrier.StatusReintegrate:
		log.Printf("CTRL: %v reintegrated on dpid %d\n", src, d.ID)
	}

	// ARP handling: an active swap event answers for its target, so
	// resolvers cache the proxy instead of the real host.
	if f.ARP != nil {
		if reply := c.events.Steer(f); reply != nil {
			d.packetOut(openflow.PortController, reply, openflow.Output(inPort))
			return
		}
	}

	if c.detector.Observe(d.ID, src, f.IsSYN()) {
		c.flagSource(d, src, f)
		return
	}

	if f.IP != nil {
		c.observeLoad(f.IP.Dst.String())
	}

	c.forward(d, pin, f)
}

// flagSource isolates a source that crossed the flood threshold: a
// quarantine entry plus a MAC drop flow at the ingress switch that
// ages out with the recovery timer.
func (c *Controller) flagSource(d *Datapath, src string, f packet.Frame) {
	if !c.quarantine.Isolate(src, d.ID) {
		return
	}

	now := time.Now()
	c.sample(data.Sample{
		Type:  data.SampleTypePacketRate,
		Time:  now,
		Dpid:  d.ID,
		Value: float64(c.detector.Rate(d.ID, src)),
	})
	c.sample(data.Sample{
		Type:  data.SampleTypeSYNRate,
		Time:  now,
		Dpid:  d.ID,
		Value: float64(c.detector.SYNRate(d.ID, src)),
	})

	var m openflow.Match
	m.SetEthSrc(f.Src)

	drop := openflow.AddFlow(barrier.PriorityMacDrop, m)
	drop.HardTimeout = uint16(c.quarantine.RecoveryTime.Seconds())
	if err := d.send(drop.Marshal(d.nextXid())); err != nil {
		log.Println("CTRL: isolation flow install: ", err)
	}

	if c.cfg.AutoStrategy == "" {
		return
	}
	if f.IP == nil {
		return
	}

	// the attack target, not the attacker, is what the event protects
	target := f.IP.Dst.String()
	if _, ok := c.Mapping().HostByIP(target); !ok {
		return
	}

	_, err := c.events.Start(c.cfg.AutoStrategy, target, c.cfg.AutoDuration)
	if err != nil {
		log.Println("CTRL: auto event: ", err)
	}
}

// observeLoad tracks traffic toward protected servers and launches a
// swap when a server is overloaded, regardless of any single source
// crossing the flood threshold.
func (c *Controller) observeLoad(dstIP string) {
	host, ok := c.Mapping().HostByIP(dstIP)
	if !ok || host.Role != "server" {
		return
	}
	if !c.detector.ObserveLoad(dstIP) {
		return
	}
	if c.cfg.AutoStrategy == "" {
		return
	}

	_, err := c.events.Start(data.StrategySwap, dstIP, c.cfg.AutoDuration)
	if err != nil {
		log.Println("CTRL: load triggered swap: ", err)
	}
}

// forward is the learning switch: remember where the source lives,
// install a forwarding flow when the destination is known, flood
// otherwise.
func (c *Controller) forward(d *Datapath, pin openflow.PacketIn, f packet.Frame) {
	inPort := pin.InPort()
	d.learn(f.Src.String(), inPort)

	outPort, known := d.lookup(f.Dst.String())
	if !known {
		d.packetOut(inPort, pin.Data, openflow.Output(openflow.PortFlood))
		return
	}

	var m openflow.Match
	m.SetInPort(inPort)
	m.SetEthSrc(f.Src)
	m.SetEthDst(f.Dst)

	fm := openflow.AddFlow(barrier.PriorityForward, m, openflow.Output(outPort))
	fm.IdleTimeout = ForwardIdleTimeout
	if err := d.send(fm.Marshal(d.nextXid())); err != nil {
		log.Println("CTRL: forward flow install: ", err)
		return
	}

	d.packetOut(inPort, pin.Data, openflow.Output(outPort))
}

func (d *Datapath) packetOut(inPort uint32, frame []byte, actions ...openflow.Action) {
	po := openflow.PacketOut{
		BufferID: openflow.NoBuffer,
		InPort:   inPort,
		Actions:  actions,
		Data:     frame,
	}
	if err := d.send(po.Marshal(d.nextXid())); err != nil {
		log.Println("CTRL: packet out: ", err)
	}
}
