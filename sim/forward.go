package sim

import (
	"bytes"
	"net"

	"github.com/mycobarrier/mycobarrier/openflow"
	"github.com/mycobarrier/mycobarrier/packet"
)

// Forwarding is the result of running a frame through the flow table
type Forwarding struct {
	// Matched is true when some flow entry matched the frame. False
	// means table miss.
	Matched bool

	// Ports the frame is output to. Empty with Matched set means the
	// frame was dropped.
	Ports []uint32

	// Priority of the matching entry
	Priority uint16

	// Cookie of the matching entry
	Cookie uint64
}

// Evaluate runs a frame through the flow table the way the datapath
// would: highest priority matching entry wins, its apply-actions list
// decides the output ports. Rewrite actions only affect forwarding
// through the output ports that follow them, which is all the
// experiment runner needs to score delivery.
func (s *Switch) Evaluate(inPort uint32, frame []byte) Forwarding {
	f, err := packet.Decode(frame)
	if err != nil {
		return Forwarding{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var best *openflow.FlowMod
	for i := range s.flows {
		fl := &s.flows[i]
		if fl.Command != openflow.FlowAdd {
			continue
		}
		if !matchesFrame(fl.Match, inPort, f) {
			continue
		}
		if best == nil || fl.Priority > best.Priority {
			best = fl
		}
	}

	if best == nil {
		return Forwarding{}
	}

	out := Forwarding{
		Matched:  true,
		Priority: best.Priority,
		Cookie:   best.Cookie,
	}
	for _, a := range best.Actions() {
		if o, ok := a.(openflow.ActionOutput); ok {
			out.Ports = append(out.Ports, o.Port)
		}
	}
	return out
}

func matchesFrame(m openflow.Match, inPort uint32, f packet.Frame) bool {
	if m.Fields&openflow.HasInPort != 0 && m.InPort != inPort {
		return false
	}
	if m.Fields&openflow.HasEthDst != 0 && !bytes.Equal(m.EthDst[:], f.Dst) {
		return false
	}
	if m.Fields&openflow.HasEthSrc != 0 && !bytes.Equal(m.EthSrc[:], f.Src) {
		return false
	}
	if m.Fields&openflow.HasEthType != 0 && m.EthType != f.EtherType {
		return false
	}
	if m.Fields&openflow.HasVlanVID != 0 && (!f.HasVlan || m.VlanVID != f.VlanID) {
		return false
	}
	if m.Fields&openflow.HasIPProto != 0 {
		if f.IP == nil || m.IPProto != f.IP.Protocol {
			return false
		}
	}
	if m.Fields&openflow.HasIPv4Src != 0 {
		if f.IP == nil || !f.IP.Src.Equal(net.IP(m.IPv4Src[:])) {
			return false
		}
	}
	if m.Fields&openflow.HasIPv4Dst != 0 {
		if f.IP == nil || !f.IP.Dst.Equal(net.IP(m.IPv4Dst[:])) {
			return false
		}
	}
	if m.Fields&openflow.HasTCPSrc != 0 {
		if f.TCP == nil || m.TCPSrc != f.TCP.SrcPort {
			return false
		}
	}
	if m.Fields&openflow.HasTCPDst != 0 {
		if f.TCP == nil || m.TCPDst != f.TCP.DstPort {
			return false
		}
	}
	if m.Fields&openflow.HasTCPFlags != 0 {
		if f.TCP == nil || m.TCPFlags != f.TCP.Flags {
			return false
		}
	}
	return true
}
