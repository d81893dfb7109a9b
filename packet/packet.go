// Package packet parses the Ethernet frames carried in packet-in
// messages, just deep enough for SYN flood detection and ARP
// steering: Ethernet (802.1Q aware), ARP, IPv4 and TCP headers.
package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
)

// Ethertypes
const (
	EtherTypeIPv4 uint16 = 0x0800
	EtherTypeARP  uint16 = 0x0806
	EtherTypeVLAN uint16 = 0x8100
	EtherTypeLLDP uint16 = 0x88cc
)

// IP protocol numbers
const (
	ProtoTCP uint8 = 6
	ProtoUDP uint8 = 17
)

// TCP flag bits
const (
	TCPFlagSYN uint16 = 0x002
	TCPFlagACK uint16 = 0x010
)

// ARP opcodes
const (
	ARPRequest uint16 = 1
	ARPReply   uint16 = 2
)

// ErrTruncated is returned when a frame is too short for its headers
var ErrTruncated = errors.New("packet: truncated frame")

// ARP holds the fields of an ARP packet we care about
type ARP struct {
	Opcode    uint16
	SenderMAC net.HardwareAddr
	SenderIP  net.IP
	TargetMAC net.HardwareAddr
	TargetIP  net.IP
}

// IPv4 holds the IPv4 header fields we care about
type IPv4 struct {
	Protocol uint8
	Src      net.IP
	Dst      net.IP
}

// TCP holds the TCP header fields we care about
type TCP struct {
	SrcPort uint16
	DstPort uint16
	Flags   uint16
}

// Frame is a decoded Ethernet frame. ARP, IP and TCP are nil when the
// frame does not carry that protocol.
type Frame struct {
	Dst       net.HardwareAddr
	Src       net.HardwareAddr
	EtherType uint16
	VlanID    uint16
	HasVlan   bool
	ARP       *ARP
	IP        *IPv4
	TCP       *TCP
}

func (f Frame) String() string {
	s := fmt.Sprintf("%v->%v type=0x%04x", f.Src, f.Dst, f.EtherType)
	if f.IP != nil {
		s += fmt.Sprintf(" %v->%v proto=%d", f.IP.Src, f.IP.Dst, f.IP.Protocol)
	}
	if f.TCP != nil {
		s += fmt.Sprintf(" tcp %d->%d flags=0x%03x", f.TCP.SrcPort, f.TCP.DstPort, f.TCP.Flags)
	}
	return s
}

// IsSYN reports whether the frame is an initial TCP SYN (SYN set, ACK
// clear), the signature counted by the flood detector.
func (f Frame) IsSYN() bool {
	return f.TCP != nil && f.TCP.Flags&TCPFlagSYN != 0 && f.TCP.Flags&TCPFlagACK == 0
}

// Decode parses an Ethernet frame
func Decode(b []byte) (Frame, error) {
	var f Frame

	if len(b) < 14 {
		return f, ErrTruncated
	}

	f.Dst = net.HardwareAddr(append([]byte{}, b[0:6]...))
	f.Src = net.HardwareAddr(append([]byte{}, b[6:12]...))
	f.EtherType = binary.BigEndian.Uint16(b[12:14])
	payload := b[14:]

	if f.EtherType == EtherTypeVLAN {
		if len(payload) < 4 {
			return f, ErrTruncated
		}
		f.HasVlan = true
		f.VlanID = binary.BigEndian.Uint16(payload[0:2]) & 0x0fff
		f.EtherType = binary.BigEndian.Uint16(payload[2:4])
		payload = payload[4:]
	}

	switch f.EtherType {
	case EtherTypeARP:
		arp, err := decodeARP(payload)
		if err != nil {
			return f, err
		}
		f.ARP = &arp
	case EtherTypeIPv4:
		ip, rest, err := decodeIPv4(payload)
		if err != nil {
			return f, err
		}
		f.IP = &ip
		if ip.Protocol == ProtoTCP {
			tcp, err := decodeTCP(rest)
			if err != nil {
				return f, err
			}
			f.TCP = &tcp
		}
	}

	return f, nil
}

func decodeARP(b []byte) (ARP, error) {
	var a ARP

	if len(b) < 28 {
		return a, ErrTruncated
	}

	a.Opcode = binary.BigEndian.Uint16(b[6:8])
	a.SenderMAC = net.HardwareAddr(append([]byte{}, b[8:14]...))
	a.SenderIP = net.IP(append([]byte{}, b[14:18]...))
	a.TargetMAC = net.HardwareAddr(append([]byte{}, b[18:24]...))
	a.TargetIP = net.IP(append([]byte{}, b[24:28]...))

	return a, nil
}

func decodeIPv4(b []byte) (IPv4, []byte, error) {
	var ip IPv4

	if len(b) < 20 {
		return ip, nil, ErrTruncated
	}

	if b[0]>>4 != 4 {
		return ip, nil, fmt.Errorf("packet: not IPv4, version %d", b[0]>>4)
	}

	hdrLen := int(b[0]&0x0f) * 4
	if hdrLen < 20 || len(b) < hdrLen {
		return ip, nil, ErrTruncated
	}

	ip.Protocol = b[9]
	ip.Src = net.IP(append([]byte{}, b[12:16]...))
	ip.Dst = net.IP(append([]byte{}, b[16:20]...))

	return ip, b[hdrLen:], nil
}

func decodeTCP(b []byte) (TCP, error) {
	var t TCP

	if len(b) < 14 {
		return t, ErrTruncated
	}

	t.SrcPort = binary.BigEndian.Uint16(b[0:2])
	t.DstPort = binary.BigEndian.Uint16(b[2:4])
	t.Flags = binary.BigEndian.Uint16(b[12:14]) & 0x01ff

	return t, nil
}
