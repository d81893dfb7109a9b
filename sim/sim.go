// Package sim implements an in-process OpenFlow 1.3 switch. It speaks
// the controller handshake, keeps a real flow and meter table, and
// lets tests and experiments inject packet-ins and inspect what the
// controller programmed, without Mininet or a kernel datapath.
package sim

import (
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/mycobarrier/mycobarrier/openflow"
)

// Switch is a simulated OpenFlow 1.3 datapath
type Switch struct {
	dpid  uint64
	conn  net.Conn
	ready chan struct{}

	writeMu sync.Mutex

	mu     sync.Mutex
	flows  []openflow.FlowMod
	meters map[uint32]openflow.MeterMod

	// PacketOuts receives every packet-out the controller sends. The
	// channel is buffered; once full further packet-outs are dropped so
	// a slow reader cannot wedge the session.
	PacketOuts chan openflow.PacketOut
}

// NewSwitch creates a simulated switch with the given datapath id
func NewSwitch(dpid uint64) *Switch {
	return &Switch{
		dpid:       dpid,
		ready:      make(chan struct{}),
		meters:     make(map[uint32]openflow.MeterMod),
		PacketOuts: make(chan openflow.PacketOut, 64),
	}
}

// Dial connects to a controller and runs the session until the
// connection closes.
func (s *Switch) Dial(addr string) error {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return err
	}
	return s.Run(conn)
}

// Run drives the switch side of an established connection. It blocks
// until the connection closes.
func (s *Switch) Run(conn net.Conn) error {
	s.conn = conn
	defer conn.Close()

	for {
		m, err := openflow.ReadMessage(conn)
		if err != nil {
			return err
		}
		if err := s.handle(m); err != nil {
			return err
		}
	}
}

// WaitReady blocks until the handshake completed (the controller
// installed its table-miss flow), or the timeout expires.
func (s *Switch) WaitReady(timeout time.Duration) error {
	select {
	case <-s.ready:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("sim: dpid %d handshake timed out", s.dpid)
	}
}

func (s *Switch) send(m openflow.Message) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return openflow.WriteMessage(s.conn, m)
}

func (s *Switch) handle(m openflow.Message) error {
	switch m.Type {
	case openflow.TypeHello:
		if err := s.send(openflow.Hello(m.Xid)); err != nil {
			return err
		}

	case openflow.TypeFeaturesRequest:
		reply := openflow.FeaturesReply{
			DatapathID: s.dpid,
			NBuffers:   256,
			NTables:    254,
		}
		if err := s.send(reply.Marshal(m.Xid)); err != nil {
			return err
		}

	case openflow.TypeEchoRequest:
		if err := s.send(openflow.EchoReply(m.Xid, m.Body)); err != nil {
			return err
		}

	case openflow.TypeFlowMod:
		f, err := openflow.UnmarshalFlowMod(m.Body)
		if err != nil {
			log.Println("sim: bad flow mod: ", err)
			return nil
		}
		s.applyFlowMod(f)

	case openflow.TypeMeterMod:
		mm, err := openflow.UnmarshalMeterMod(m.Body)
		if err != nil {
			log.Println("sim: bad meter mod: ", err)
			return nil
		}
		s.applyMeterMod(mm)

	case openflow.TypePacketOut:
		po, err := openflow.UnmarshalPacketOut(m.Body)
		if err != nil {
			log.Println("sim: bad packet out: ", err)
			return nil
		}
		select {
		case s.PacketOuts <- po:
		default:
		}

	case openflow.TypeMultipartRequest:
		return s.handleMultipart(m)
	}

	return nil
}

func (s *Switch) applyFlowMod(f openflow.FlowMod) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch f.Command {
	case openflow.FlowAdd:
		s.flows = append(s.flows, f)
		// the table-miss install is the last handshake step
		select {
		case <-s.ready:
		default:
			close(s.ready)
		}

	case openflow.FlowDelete:
		kept := s.flows[:0]
		for _, existing := range s.flows {
			if existing.Cookie&f.CookieMask == f.Cookie&f.CookieMask {
				continue
			}
			kept = append(kept, existing)
		}
		s.flows = kept
	}
}

func (s *Switch) applyMeterMod(m openflow.MeterMod) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch m.Command {
	case openflow.MeterAdd, openflow.MeterModify:
		s.meters[m.MeterID] = m
	case openflow.MeterDelete:
		delete(s.meters, m.MeterID)
	}
}

func (s *Switch) handleMultipart(m openflow.Message) error {
	mt, err := openflow.MultipartReplyType(m.Body)
	if err != nil {
		return nil
	}

	switch mt {
	case openflow.MultipartFlow:
		// the request body starts after the 8 byte multipart header
		if _, err := openflow.UnmarshalFlowStatsRequest(m.Body[8:]); err != nil {
			log.Println("sim: bad flow stats request: ", err)
			return nil
		}

		s.mu.Lock()
		entries := make([]openflow.FlowStatsEntry, 0, len(s.flows))
		for _, f := range s.flows {
			entries = append(entries, openflow.FlowStatsEntry{
				Priority:     f.Priority,
				IdleTimeout:  f.IdleTimeout,
				HardTimeout:  f.HardTimeout,
				Cookie:       f.Cookie,
				Match:        f.Match,
				Instructions: f.Instructions,
			})
		}
		s.mu.Unlock()

		return s.send(openflow.MarshalFlowStatsReply(m.Xid, entries))

	case openflow.MultipartMeterConfig:
		s.mu.Lock()
		entries := make([]openflow.MeterConfigEntry, 0, len(s.meters))
		for _, mm := range s.meters {
			entries = append(entries, openflow.MeterConfigEntry{
				Flags:   mm.Flags,
				MeterID: mm.MeterID,
				Bands:   mm.Bands,
			})
		}
		s.mu.Unlock()

		return s.send(openflow.MarshalMeterConfigReply(m.Xid, entries))
	}

	return nil
}

// SendPacketIn delivers a frame to the controller as a table-miss
// packet-in from the given port.
func (s *Switch) SendPacketIn(inPort uint32, frame []byte) error {
	var match openflow.Match
	match.SetInPort(inPort)

	pin := openflow.PacketIn{
		BufferID: openflow.NoBuffer,
		TotalLen: uint16(len(frame)),
		Reason:   openflow.ReasonNoMatch,
		Match:    match,
		Data:     frame,
	}
	return s.send(pin.Marshal(0))
}

// Flows returns a snapshot of the flow table
func (s *Switch) Flows() []openflow.FlowMod {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]openflow.FlowMod, len(s.flows))
	copy(out, s.flows)
	return out
}

// FlowsWithCookie returns the flows tagged with cookie
func (s *Switch) FlowsWithCookie(cookie uint64) []openflow.FlowMod {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []openflow.FlowMod
	for _, f := range s.flows {
		if f.Cookie == cookie {
			out = append(out, f)
		}
	}
	return out
}

// Meters returns a snapshot of the meter table
func (s *Switch) Meters() []openflow.MeterMod {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]openflow.MeterMod, 0, len(s.meters))
	for _, m := range s.meters {
		out = append(out, m)
	}
	return out
}
