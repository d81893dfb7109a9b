package openflow

import (
	"encoding/binary"
	"fmt"
)

// MultipartType selects the multipart request/reply body
type MultipartType uint16

// Multipart types used by the verifier
const (
	MultipartFlow        MultipartType = 1
	MultipartMeterConfig MultipartType = 10
)

// FlowStatsRequest asks for flow entries matching the filter. The zero
// value plus PortAny/GroupAny wildcards requests the whole table; use
// NewFlowStatsRequest for that.
type FlowStatsRequest struct {
	TableID    uint8
	OutPort    uint32
	OutGroup   uint32
	Cookie     uint64
	CookieMask uint64
	Match      Match
}

// NewFlowStatsRequest requests all flows in all tables
func NewFlowStatsRequest() FlowStatsRequest {
	return FlowStatsRequest{
		TableID:  0xff, // OFPTT_ALL
		OutPort:  PortAny,
		OutGroup: GroupAny,
	}
}

// Marshal encodes the request as a complete multipart message
func (f FlowStatsRequest) Marshal(xid uint32) Message {
	b := make([]byte, 8+32)
	binary.BigEndian.PutUint16(b[0:2], uint16(MultipartFlow))
	b[8] = f.TableID
	binary.BigEndian.PutUint32(b[12:16], f.OutPort)
	binary.BigEndian.PutUint32(b[16:20], f.OutGroup)
	binary.BigEndian.PutUint64(b[24:32], f.Cookie)
	binary.BigEndian.PutUint64(b[32:40], f.CookieMask)
	b = append(b, f.Match.Marshal()...)
	return Message{Type: TypeMultipartRequest, Xid: xid, Body: b}
}

// UnmarshalFlowStatsRequest decodes a flow stats multipart request body
// (excluding the 8 byte multipart header).
func UnmarshalFlowStatsRequest(body []byte) (FlowStatsRequest, error) {
	var f FlowStatsRequest

	if len(body) < 32 {
		return f, ErrShortMessage{Type: TypeMultipartRequest, Got: len(body), Want: 32}
	}

	f.TableID = body[0]
	f.OutPort = binary.BigEndian.Uint32(body[4:8])
	f.OutGroup = binary.BigEndian.Uint32(body[8:12])
	f.Cookie = binary.BigEndian.Uint64(body[16:24])
	f.CookieMask = binary.BigEndian.Uint64(body[24:32])

	match, _, err := UnmarshalMatch(body[32:])
	if err != nil {
		return f, err
	}
	f.Match = match

	return f, nil
}

// FlowStatsEntry is one flow table entry in a stats reply
type FlowStatsEntry struct {
	TableID      uint8
	DurationSec  uint32
	Priority     uint16
	IdleTimeout  uint16
	HardTimeout  uint16
	Cookie       uint64
	PacketCount  uint64
	ByteCount    uint64
	Match        Match
	Instructions []Instruction
}

// Actions returns the apply-actions list of the entry, or nil
func (e FlowStatsEntry) Actions() []Action {
	for _, i := range e.Instructions {
		if aa, ok := i.(InstructionApplyActions); ok {
			return aa.Actions
		}
	}
	return nil
}

// MeterID returns the meter instruction id of the entry, or 0
func (e FlowStatsEntry) MeterID() uint32 {
	for _, i := range e.Instructions {
		if m, ok := i.(InstructionMeter); ok {
			return m.MeterID
		}
	}
	return 0
}

func (e FlowStatsEntry) marshal() []byte {
	match := e.Match.Marshal()
	instrs := marshalInstructions(e.Instructions)

	b := make([]byte, 48, 48+len(match)+len(instrs))
	b[2] = e.TableID
	binary.BigEndian.PutUint32(b[4:8], e.DurationSec)
	binary.BigEndian.PutUint16(b[12:14], e.Priority)
	binary.BigEndian.PutUint16(b[14:16], e.IdleTimeout)
	binary.BigEndian.PutUint16(b[16:18], e.HardTimeout)
	binary.BigEndian.PutUint64(b[24:32], e.Cookie)
	binary.BigEndian.PutUint64(b[32:40], e.PacketCount)
	binary.BigEndian.PutUint64(b[40:48], e.ByteCount)
	b = append(b, match...)
	b = append(b, instrs...)
	binary.BigEndian.PutUint16(b[0:2], uint16(len(b)))
	return b
}

// MarshalFlowStatsReply encodes entries as a multipart flow reply
func MarshalFlowStatsReply(xid uint32, entries []FlowStatsEntry) Message {
	b := make([]byte, 8)
	binary.BigEndian.PutUint16(b[0:2], uint16(MultipartFlow))
	for _, e := range entries {
		b = append(b, e.marshal()...)
	}
	return Message{Type: TypeMultipartReply, Xid: xid, Body: b}
}

// MultipartReplyType returns the type of a multipart reply body
func MultipartReplyType(body []byte) (MultipartType, error) {
	if len(body) < 8 {
		return 0, ErrShortMessage{Type: TypeMultipartReply, Got: len(body), Want: 8}
	}
	return MultipartType(binary.BigEndian.Uint16(body[0:2])), nil
}

// UnmarshalFlowStatsReply decodes a multipart flow reply body
func UnmarshalFlowStatsReply(body []byte) ([]FlowStatsEntry, error) {
	mt, err := MultipartReplyType(body)
	if err != nil {
		return nil, err
	}
	if mt != MultipartFlow {
		return nil, fmt.Errorf("openflow: multipart type %d is not a flow reply", mt)
	}

	var entries []FlowStatsEntry
	b := body[8:]

	for len(b) > 0 {
		if len(b) < 48 {
			return nil, ErrShortMessage{Type: TypeMultipartReply, Got: len(b), Want: 48}
		}
		elen := int(binary.BigEndian.Uint16(b[0:2]))
		if elen < 48 || elen > len(b) {
			return nil, fmt.Errorf("openflow: bad flow stats entry length %d", elen)
		}

		var e FlowStatsEntry
		e.TableID = b[2]
		e.DurationSec = binary.BigEndian.Uint32(b[4:8])
		e.Priority = binary.BigEndian.Uint16(b[12:14])
		e.IdleTimeout = binary.BigEndian.Uint16(b[14:16])
		e.HardTimeout = binary.BigEndian.Uint16(b[16:18])
		e.Cookie = binary.BigEndian.Uint64(b[24:32])
		e.PacketCount = binary.BigEndian.Uint64(b[32:40])
		e.ByteCount = binary.BigEndian.Uint64(b[40:48])

		match, n, err := UnmarshalMatch(b[48:elen])
		if err != nil {
			return nil, err
		}
		e.Match = match

		instrs, err := unmarshalInstructions(b[48+n : elen])
		if err != nil {
			return nil, err
		}
		e.Instructions = instrs

		entries = append(entries, e)
		b = b[elen:]
	}

	return entries, nil
}

// MeterConfigRequest asks for configured meters
func MeterConfigRequest(xid uint32) Message {
	b := make([]byte, 8+8)
	binary.BigEndian.PutUint16(b[0:2], uint16(MultipartMeterConfig))
	// meter_id 0xffffffff = all meters
	binary.BigEndian.PutUint32(b[8:12], 0xffffffff)
	return Message{Type: TypeMultipartRequest, Xid: xid, Body: b}
}

// MeterConfigEntry is one meter in a meter config reply
type MeterConfigEntry struct {
	Flags   uint16
	MeterID uint32
	Bands   []MeterBandDrop
}

func (e MeterConfigEntry) marshal() []byte {
	bands := marshalMeterBands(e.Bands)
	b := make([]byte, 8, 8+len(bands))
	binary.BigEndian.PutUint16(b[0:2], uint16(8+len(bands)))
	binary.BigEndian.PutUint16(b[2:4], e.Flags)
	binary.BigEndian.PutUint32(b[4:8], e.MeterID)
	return append(b, bands...)
}

// MarshalMeterConfigReply encodes entries as a multipart meter config
// reply
func MarshalMeterConfigReply(xid uint32, entries []MeterConfigEntry) Message {
	b := make([]byte, 8)
	binary.BigEndian.PutUint16(b[0:2], uint16(MultipartMeterConfig))
	for _, e := range entries {
		b = append(b, e.marshal()...)
	}
	return Message{Type: TypeMultipartReply, Xid: xid, Body: b}
}

// UnmarshalMeterConfigReply decodes a multipart meter config reply body
func UnmarshalMeterConfigReply(body []byte) ([]MeterConfigEntry, error) {
	mt, err := MultipartReplyType(body)
	if err != nil {
		return nil, err
	}
	if mt != MultipartMeterConfig {
		return nil, fmt.Errorf("openflow: multipart type %d is not a meter config reply", mt)
	}

	var entries []MeterConfigEntry
	b := body[8:]

	for len(b) > 0 {
		if len(b) < 8 {
			return nil, ErrShortMessage{Type: TypeMultipartReply, Got: len(b), Want: 8}
		}
		elen := int(binary.BigEndian.Uint16(b[0:2]))
		if elen < 8 || elen > len(b) {
			return nil, fmt.Errorf("openflow: bad meter config entry length %d", elen)
		}

		var e MeterConfigEntry
		e.Flags = binary.BigEndian.Uint16(b[2:4])
		e.MeterID = binary.BigEndian.Uint32(b[4:8])

		bands, err := unmarshalMeterBands(b[8:elen])
		if err != nil {
			return nil, err
		}
		e.Bands = bands

		entries = append(entries, e)
		b = b[elen:]
	}

	return entries, nil
}
