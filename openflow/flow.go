package openflow

import (
	"encoding/binary"
	"fmt"
)

// FlowModCommand selects the flow table operation
type FlowModCommand uint8

// Flow mod commands
const (
	FlowAdd    FlowModCommand = 0
	FlowDelete FlowModCommand = 3
)

// FlowMod is an OpenFlow flow table modification. The zero value plus
// a match and instructions describes a basic add; deletes should use
// the DeleteFlows helpers so out port/group wildcards are correct.
type FlowMod struct {
	Cookie       uint64
	CookieMask   uint64
	TableID      uint8
	Command      FlowModCommand
	IdleTimeout  uint16
	HardTimeout  uint16
	Priority     uint16
	BufferID     uint32
	OutPort      uint32
	OutGroup     uint32
	Flags        uint16
	Match        Match
	Instructions []Instruction
}

// AddFlow builds a flow add with the given priority, match and
// actions. An empty action list drops matching packets.
func AddFlow(priority uint16, match Match, actions ...Action) FlowMod {
	f := FlowMod{
		Command:  FlowAdd,
		Priority: priority,
		BufferID: NoBuffer,
		Match:    match,
	}
	f.Instructions = []Instruction{InstructionApplyActions{Actions: actions}}
	return f
}

// DeleteFlowsByCookie builds a delete for all flows tagged with cookie
func DeleteFlowsByCookie(cookie uint64) FlowMod {
	return FlowMod{
		Cookie:     cookie,
		CookieMask: ^uint64(0),
		Command:    FlowDelete,
		BufferID:   NoBuffer,
		OutPort:    PortAny,
		OutGroup:   GroupAny,
	}
}

func (f FlowMod) String() string {
	if f.Command == FlowDelete {
		return fmt.Sprintf("FlowMod delete cookie=0x%x match=%v", f.Cookie, f.Match)
	}
	return fmt.Sprintf("FlowMod add priority=%d cookie=0x%x match=%v", f.Priority, f.Cookie, f.Match)
}

// Marshal encodes the flow mod as a complete message
func (f FlowMod) Marshal(xid uint32) Message {
	b := make([]byte, 40)
	binary.BigEndian.PutUint64(b[0:8], f.Cookie)
	binary.BigEndian.PutUint64(b[8:16], f.CookieMask)
	b[16] = f.TableID
	b[17] = byte(f.Command)
	binary.BigEndian.PutUint16(b[18:20], f.IdleTimeout)
	binary.BigEndian.PutUint16(b[20:22], f.HardTimeout)
	binary.BigEndian.PutUint16(b[22:24], f.Priority)
	binary.BigEndian.PutUint32(b[24:28], f.BufferID)
	binary.BigEndian.PutUint32(b[28:32], f.OutPort)
	binary.BigEndian.PutUint32(b[32:36], f.OutGroup)
	binary.BigEndian.PutUint16(b[36:38], f.Flags)

	b = append(b, f.Match.Marshal()...)
	b = append(b, marshalInstructions(f.Instructions)...)

	return Message{Type: TypeFlowMod, Xid: xid, Body: b}
}

// UnmarshalFlowMod decodes a flow mod message body
func UnmarshalFlowMod(body []byte) (FlowMod, error) {
	var f FlowMod

	if len(body) < 40 {
		return f, ErrShortMessage{Type: TypeFlowMod, Got: len(body), Want: 40}
	}

	f.Cookie = binary.BigEndian.Uint64(body[0:8])
	f.CookieMask = binary.BigEndian.Uint64(body[8:16])
	f.TableID = body[16]
	f.Command = FlowModCommand(body[17])
	f.IdleTimeout = binary.BigEndian.Uint16(body[18:20])
	f.HardTimeout = binary.BigEndian.Uint16(body[20:22])
	f.Priority = binary.BigEndian.Uint16(body[22:24])
	f.BufferID = binary.BigEndian.Uint32(body[24:28])
	f.OutPort = binary.BigEndian.Uint32(body[28:32])
	f.OutGroup = binary.BigEndian.Uint32(body[32:36])
	f.Flags = binary.BigEndian.Uint16(body[36:38])

	match, n, err := UnmarshalMatch(body[40:])
	if err != nil {
		return f, err
	}
	f.Match = match

	instrs, err := unmarshalInstructions(body[40+n:])
	if err != nil {
		return f, err
	}
	f.Instructions = instrs

	return f, nil
}

// Actions returns the apply-actions list of the flow, or nil if the
// flow has none (a drop).
func (f FlowMod) Actions() []Action {
	for _, i := range f.Instructions {
		if aa, ok := i.(InstructionApplyActions); ok {
			return aa.Actions
		}
	}
	return nil
}

// MeterID returns the meter instruction id, or 0 if the flow is not
// metered.
func (f FlowMod) MeterID() uint32 {
	for _, i := range f.Instructions {
		if m, ok := i.(InstructionMeter); ok {
			return m.MeterID
		}
	}
	return 0
}
