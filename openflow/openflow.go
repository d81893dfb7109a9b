// Package openflow implements the subset of the OpenFlow 1.3 wire
// protocol needed to control and inspect switch flow tables: handshake,
// echo, packet-in/out, flow and meter modification, and flow/meter
// multipart stats. All multi-byte fields are big-endian on the wire.
package openflow

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Version is the only protocol version this package speaks (OF 1.3).
const Version = 0x04

// HeaderLength is the fixed size of the message header.
const HeaderLength = 8

// MessageType describes an OpenFlow message type
type MessageType uint8

// OpenFlow 1.3 message types used by this package
const (
	TypeHello            MessageType = 0
	TypeError            MessageType = 1
	TypeEchoRequest      MessageType = 2
	TypeEchoReply        MessageType = 3
	TypeFeaturesRequest  MessageType = 5
	TypeFeaturesReply    MessageType = 6
	TypePacketIn         MessageType = 10
	TypeFlowRemoved      MessageType = 11
	TypePacketOut        MessageType = 13
	TypeFlowMod          MessageType = 14
	TypeMultipartRequest MessageType = 18
	TypeMultipartReply   MessageType = 19
	TypeMeterMod         MessageType = 29
)

func (t MessageType) String() string {
	switch t {
	case TypeHello:
		return "Hello"
	case TypeError:
		return "Error"
	case TypeEchoRequest:
		return "EchoRequest"
	case TypeEchoReply:
		return "EchoReply"
	case TypeFeaturesRequest:
		return "FeaturesRequest"
	case TypeFeaturesReply:
		return "FeaturesReply"
	case TypePacketIn:
		return "PacketIn"
	case TypeFlowRemoved:
		return "FlowRemoved"
	case TypePacketOut:
		return "PacketOut"
	case TypeFlowMod:
		return "FlowMod"
	case TypeMultipartRequest:
		return "MultipartRequest"
	case TypeMultipartReply:
		return "MultipartReply"
	case TypeMeterMod:
		return "MeterMod"
	}
	return fmt.Sprintf("Unknown(%d)", uint8(t))
}

// Reserved port numbers
const (
	PortFlood      uint32 = 0xfffffffb
	PortController uint32 = 0xfffffffd
	PortAny        uint32 = 0xffffffff
)

// GroupAny matches any group in flow delete operations
const GroupAny uint32 = 0xffffffff

// NoBuffer indicates the packet is not buffered on the switch
const NoBuffer uint32 = 0xffffffff

// ControllerMaxLen sends the complete packet to the controller
// (OFPCML_NO_BUFFER)
const ControllerMaxLen uint16 = 0xffff

// Message is a raw OpenFlow message: a decoded header plus the
// undecoded body. Bodies are decoded by the per-type Unmarshal
// functions in this package.
type Message struct {
	Type MessageType
	Xid  uint32
	Body []byte
}

func (m Message) String() string {
	return fmt.Sprintf("OF %v xid=%d len=%d", m.Type, m.Xid, len(m.Body))
}

// ErrShortMessage is returned when a message body is truncated
type ErrShortMessage struct {
	Type MessageType
	Got  int
	Want int
}

func (e ErrShortMessage) Error() string {
	return fmt.Sprintf("openflow: short %v message, got %d bytes, want %d",
		e.Type, e.Got, e.Want)
}

// ErrVersion is returned when the peer speaks a version other than 1.3
type ErrVersion struct {
	Got uint8
}

func (e ErrVersion) Error() string {
	return fmt.Sprintf("openflow: unsupported version 0x%02x", e.Got)
}

// ReadMessage reads one complete message from r.
func ReadMessage(r io.Reader) (Message, error) {
	var hdr [HeaderLength]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Message{}, err
	}

	if hdr[0] != Version {
		return Message{}, ErrVersion{Got: hdr[0]}
	}

	length := binary.BigEndian.Uint16(hdr[2:4])
	if length < HeaderLength {
		return Message{}, fmt.Errorf("openflow: bad message length %d", length)
	}

	m := Message{
		Type: MessageType(hdr[1]),
		Xid:  binary.BigEndian.Uint32(hdr[4:8]),
	}

	if length > HeaderLength {
		m.Body = make([]byte, length-HeaderLength)
		if _, err := io.ReadFull(r, m.Body); err != nil {
			return Message{}, err
		}
	}

	return m, nil
}

// WriteMessage writes m to w with a correct length field.
func WriteMessage(w io.Writer, m Message) error {
	buf := make([]byte, HeaderLength+len(m.Body))
	buf[0] = Version
	buf[1] = byte(m.Type)
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(buf)))
	binary.BigEndian.PutUint32(buf[4:8], m.Xid)
	copy(buf[HeaderLength:], m.Body)
	_, err := w.Write(buf)
	return err
}

// pad returns b extended with zero bytes to a multiple of n.
func pad(b []byte, n int) []byte {
	if rem := len(b) % n; rem != 0 {
		b = append(b, make([]byte, n-rem)...)
	}
	return b
}

// padLen returns the number of zero bytes needed to reach a multiple
// of n from length l.
func padLen(l, n int) int {
	if rem := l % n; rem != 0 {
		return n - rem
	}
	return 0
}
