package openflow

import (
	"encoding/binary"
	"fmt"
)

// Hello builds a hello message with an empty element list
func Hello(xid uint32) Message {
	return Message{Type: TypeHello, Xid: xid}
}

// EchoRequest builds an echo request carrying opaque data, typically
// an xid correlation payload for RTT measurement.
func EchoRequest(xid uint32, data []byte) Message {
	return Message{Type: TypeEchoRequest, Xid: xid, Body: data}
}

// EchoReply builds the reply to an echo request. The data must be
// returned unmodified.
func EchoReply(xid uint32, data []byte) Message {
	return Message{Type: TypeEchoReply, Xid: xid, Body: data}
}

// FeaturesRequest builds a features request
func FeaturesRequest(xid uint32) Message {
	return Message{Type: TypeFeaturesRequest, Xid: xid}
}

// FeaturesReply carries the switch datapath identity
type FeaturesReply struct {
	DatapathID   uint64
	NBuffers     uint32
	NTables      uint8
	AuxiliaryID  uint8
	Capabilities uint32
}

// Marshal encodes the features reply as a complete message
func (f FeaturesReply) Marshal(xid uint32) Message {
	b := make([]byte, 24)
	binary.BigEndian.PutUint64(b[0:8], f.DatapathID)
	binary.BigEndian.PutUint32(b[8:12], f.NBuffers)
	b[12] = f.NTables
	b[13] = f.AuxiliaryID
	binary.BigEndian.PutUint32(b[16:20], f.Capabilities)
	return Message{Type: TypeFeaturesReply, Xid: xid, Body: b}
}

// UnmarshalFeaturesReply decodes a features reply body
func UnmarshalFeaturesReply(body []byte) (FeaturesReply, error) {
	var f FeaturesReply

	if len(body) < 24 {
		return f, ErrShortMessage{Type: TypeFeaturesReply, Got: len(body), Want: 24}
	}

	f.DatapathID = binary.BigEndian.Uint64(body[0:8])
	f.NBuffers = binary.BigEndian.Uint32(body[8:12])
	f.NTables = body[12]
	f.AuxiliaryID = body[13]
	f.Capabilities = binary.BigEndian.Uint32(body[16:20])

	return f, nil
}

// Packet-in reasons
const (
	ReasonNoMatch uint8 = 0
	ReasonAction  uint8 = 1
)

// PacketIn is a packet sent to the controller by the switch
type PacketIn struct {
	BufferID uint32
	TotalLen uint16
	Reason   uint8
	TableID  uint8
	Cookie   uint64
	Match    Match
	Data     []byte
}

// InPort returns the ingress port from the packet-in match
func (p PacketIn) InPort() uint32 {
	return p.Match.InPort
}

// Marshal encodes the packet-in as a complete message
func (p PacketIn) Marshal(xid uint32) Message {
	b := make([]byte, 16)
	binary.BigEndian.PutUint32(b[0:4], p.BufferID)
	binary.BigEndian.PutUint16(b[4:6], p.TotalLen)
	b[6] = p.Reason
	b[7] = p.TableID
	binary.BigEndian.PutUint64(b[8:16], p.Cookie)

	b = append(b, p.Match.Marshal()...)
	b = append(b, 0, 0) // pad before payload
	b = append(b, p.Data...)

	return Message{Type: TypePacketIn, Xid: xid, Body: b}
}

// UnmarshalPacketIn decodes a packet-in message body
func UnmarshalPacketIn(body []byte) (PacketIn, error) {
	var p PacketIn

	if len(body) < 16 {
		return p, ErrShortMessage{Type: TypePacketIn, Got: len(body), Want: 16}
	}

	p.BufferID = binary.BigEndian.Uint32(body[0:4])
	p.TotalLen = binary.BigEndian.Uint16(body[4:6])
	p.Reason = body[6]
	p.TableID = body[7]
	p.Cookie = binary.BigEndian.Uint64(body[8:16])

	match, n, err := UnmarshalMatch(body[16:])
	if err != nil {
		return p, err
	}
	p.Match = match

	rest := body[16+n:]
	if len(rest) < 2 {
		return p, ErrShortMessage{Type: TypePacketIn, Got: len(rest), Want: 2}
	}
	p.Data = rest[2:]

	return p, nil
}

// PacketOut injects a packet through the switch
type PacketOut struct {
	BufferID uint32
	InPort   uint32
	Actions  []Action
	Data     []byte
}

// Marshal encodes the packet-out as a complete message
func (p PacketOut) Marshal(xid uint32) Message {
	acts := marshalActions(p.Actions)

	b := make([]byte, 16, 16+len(acts)+len(p.Data))
	binary.BigEndian.PutUint32(b[0:4], p.BufferID)
	binary.BigEndian.PutUint32(b[4:8], p.InPort)
	binary.BigEndian.PutUint16(b[8:10], uint16(len(acts)))

	b = append(b, acts...)
	b = append(b, p.Data...)

	return Message{Type: TypePacketOut, Xid: xid, Body: b}
}

// UnmarshalPacketOut decodes a packet-out message body
func UnmarshalPacketOut(body []byte) (PacketOut, error) {
	var p PacketOut

	if len(body) < 16 {
		return p, ErrShortMessage{Type: TypePacketOut, Got: len(body), Want: 16}
	}

	p.BufferID = binary.BigEndian.Uint32(body[0:4])
	p.InPort = binary.BigEndian.Uint32(body[4:8])
	actsLen := int(binary.BigEndian.Uint16(body[8:10]))

	if len(body) < 16+actsLen {
		return p, ErrShortMessage{Type: TypePacketOut, Got: len(body), Want: 16 + actsLen}
	}

	actions, err := unmarshalActions(body[16 : 16+actsLen])
	if err != nil {
		return p, err
	}
	p.Actions = actions
	p.Data = body[16+actsLen:]

	return p, nil
}

// Error is an OpenFlow error notification
type Error struct {
	ErrType uint16
	Code    uint16
	Data    []byte
}

func (e Error) Error() string {
	return fmt.Sprintf("openflow: peer error type=%d code=%d", e.ErrType, e.Code)
}

// UnmarshalError decodes an error message body
func UnmarshalError(body []byte) (Error, error) {
	var e Error

	if len(body) < 4 {
		return e, ErrShortMessage{Type: TypeError, Got: len(body), Want: 4}
	}

	e.ErrType = binary.BigEndian.Uint16(body[0:2])
	e.Code = binary.BigEndian.Uint16(body[2:4])
	e.Data = body[4:]

	return e, nil
}
