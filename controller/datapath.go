package controller

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mycobarrier/mycobarrier/data"
	"github.com/mycobarrier/mycobarrier/openflow"
)

// Datapath is one connected switch: the session state of the OpenFlow
// connection plus the learned MAC table for that switch.
type Datapath struct {
	ID       uint64
	Features openflow.FeaturesReply

	ctrl *Controller
	conn net.Conn

	writeMu sync.Mutex
	xid     uint32

	echoMu   sync.Mutex
	echoSent map[uint32]time.Time

	pendingMu sync.Mutex
	pending   map[uint32]chan openflow.Message

	macMu    sync.Mutex
	macTable map[string]uint32
}

func (d *Datapath) nextXid() uint32 {
	return atomic.AddUint32(&d.xid, 1)
}

func (d *Datapath) send(m openflow.Message) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	return openflow.WriteMessage(d.conn, m)
}

// handshake establishes the OF 1.3 session: hello exchange, features
// request for the dpid, then the table-miss flow so all unmatched
// traffic reaches the controller.
func (c *Controller) handshake(conn net.Conn) (*Datapath, error) {
	d := &Datapath{
		ctrl:     c,
		conn:     conn,
		echoSent: make(map[uint32]time.Time),
		pending:  make(map[uint32]chan openflow.Message),
		macTable: make(map[string]uint32),
	}

	if err := d.send(openflow.Hello(d.nextXid())); err != nil {
		return nil, fmt.Errorf("CTRL: hello: %w", err)
	}

	m, err := openflow.ReadMessage(conn)
	if err != nil {
		return nil, fmt.Errorf("CTRL: waiting for hello: %w", err)
	}
	if m.Type != openflow.TypeHello {
		return nil, fmt.Errorf("CTRL: expected hello, got %v", m.Type)
	}

	if err := d.send(openflow.FeaturesRequest(d.nextXid())); err != nil {
		return nil, fmt.Errorf("CTRL: features request: %w", err)
	}

	// echo requests may arrive before the features reply
	for {
		m, err = openflow.ReadMessage(conn)
		if err != nil {
			return nil, fmt.Errorf("CTRL: waiting for features: %w", err)
		}
		if m.Type == openflow.TypeEchoRequest {
			if err := d.send(openflow.EchoReply(m.Xid, m.Body)); err != nil {
				return nil, err
			}
			continue
		}
		if m.Type == openflow.TypeFeaturesReply {
			break
		}
	}

	features, err := openflow.UnmarshalFeaturesReply(m.Body)
	if err != nil {
		return nil, err
	}
	d.ID = features.DatapathID
	d.Features = features

	// table miss: punt everything unmatched to the controller
	var miss openflow.Match
	tableMiss := openflow.AddFlow(0, miss, openflow.OutputController())
	if err := d.send(tableMiss.Marshal(d.nextXid())); err != nil {
		return nil, fmt.Errorf("CTRL: table miss install: %w", err)
	}

	return d, nil
}

// readLoop dispatches incoming messages until the connection closes
func (d *Datapath) readLoop() error {
	for {
		m, err := openflow.ReadMessage(d.conn)
		if err != nil {
			return err
		}

		switch m.Type {
		case openflow.TypeEchoRequest:
			if err := d.send(openflow.EchoReply(m.Xid, m.Body)); err != nil {
				return err
			}

		case openflow.TypeEchoReply:
			d.echoReply(m.Xid)

		case openflow.TypePacketIn:
			pin, err := openflow.UnmarshalPacketIn(m.Body)
			if err != nil {
				log.Println("CTRL: bad packet-in: ", err)
				continue
			}
			d.ctrl.handlePacketIn(d, pin)

		case openflow.TypeMultipartReply:
			d.deliver(m)

		case openflow.TypeError:
			if e, err := openflow.UnmarshalError(m.Body); err == nil {
				log.Printf("CTRL: dpid %d reported %v\n", d.ID, e)
			}
		}
	}
}

// echoLoop probes the control channel RTT until stop is closed
func (d *Datapath) echoLoop(interval time.Duration, stop chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			xid := d.nextXid()
			d.echoMu.Lock()
			d.echoSent[xid] = time.Now()
			d.echoMu.Unlock()
			if err := d.send(openflow.EchoRequest(xid, nil)); err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}

func (d *Datapath) echoReply(xid uint32) {
	d.echoMu.Lock()
	sent, ok := d.echoSent[xid]
	if ok {
		delete(d.echoSent, xid)
	}
	d.echoMu.Unlock()

	if !ok {
		return
	}

	rtt := time.Since(sent)
	d.ctrl.sample(data.Sample{
		Type:  data.SampleTypeRTT,
		Time:  time.Now(),
		Dpid:  d.ID,
		Value: rtt.Seconds() * 1000, // milliseconds
	})
}

// request sends a message and waits for the reply with the same xid
func (d *Datapath) request(ctx context.Context, m openflow.Message) (openflow.Message, error) {
	ch := make(chan openflow.Message, 1)

	d.pendingMu.Lock()
	d.pending[m.Xid] = ch
	d.pendingMu.Unlock()

	defer func() {
		d.pendingMu.Lock()
		delete(d.pending, m.Xid)
		d.pendingMu.Unlock()
	}()

	if err := d.send(m); err != nil {
		return openflow.Message{}, err
	}

	select {
	case reply := <-ch:
		return reply, nil
	case <-ctx.Done():
		return openflow.Message{}, ctx.Err()
	}
}

func (d *Datapath) deliver(m openflow.Message) {
	d.pendingMu.Lock()
	ch, ok := d.pending[m.Xid]
	d.pendingMu.Unlock()

	if ok {
		ch <- m
	}
}

// FlowStats fetches the flow table contents of the datapath
func (d *Datapath) FlowStats(ctx context.Context) ([]openflow.FlowStatsEntry, error) {
	req := openflow.NewFlowStatsRequest()
	reply, err := d.request(ctx, req.Marshal(d.nextXid()))
	if err != nil {
		return nil, err
	}
	return openflow.UnmarshalFlowStatsReply(reply.Body)
}

// MeterConfigs fetches the configured meters of the datapath
func (d *Datapath) MeterConfigs(ctx context.Context) ([]openflow.MeterConfigEntry, error) {
	reply, err := d.request(ctx, openflow.MeterConfigRequest(d.nextXid()))
	if err != nil {
		return nil, err
	}
	return openflow.UnmarshalMeterConfigReply(reply.Body)
}

// learn records which port a source MAC was seen on
func (d *Datapath) learn(mac string, port uint32) {
	d.macMu.Lock()
	defer d.macMu.Unlock()
	d.macTable[mac] = port
}

// lookup returns the learned port for a MAC
func (d *Datapath) lookup(mac string) (uint32, bool) {
	d.macMu.Lock()
	defer d.macMu.Unlock()
	p, ok := d.macTable[mac]
	return p, ok
}

// MACTable returns a copy of the learned MAC table
func (d *Datapath) MACTable() map[string]uint32 {
	d.macMu.Lock()
	defer d.macMu.Unlock()

	out := make(map[string]uint32, len(d.macTable))
	for k, v := range d.macTable {
		out[k] = v
	}
	return out
}
