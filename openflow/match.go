package openflow

import (
	"encoding/binary"
	"fmt"
	"net"
	"strings"
)

// oxmClassBasic is the OFPXMC_OPENFLOW_BASIC OXM class
const oxmClassBasic = 0x8000

// OXMField identifies an OXM match field within the basic class
type OXMField uint8

// Match fields used by the controller
const (
	FieldInPort   OXMField = 0
	FieldEthDst   OXMField = 3
	FieldEthSrc   OXMField = 4
	FieldEthType  OXMField = 5
	FieldVlanVID  OXMField = 6
	FieldIPProto  OXMField = 10
	FieldIPv4Src  OXMField = 11
	FieldIPv4Dst  OXMField = 12
	FieldTCPSrc   OXMField = 13
	FieldTCPDst   OXMField = 14
	FieldTCPFlags OXMField = 42
)

// VlanPresent is OR'd into vlan_vid values to indicate a tag is present
// (OFPVID_PRESENT)
const VlanPresent uint16 = 0x1000

// FieldSet is a bitmask of which Match fields are populated
type FieldSet uint16

// Bits for FieldSet
const (
	HasInPort FieldSet = 1 << iota
	HasEthDst
	HasEthSrc
	HasEthType
	HasVlanVID
	HasIPProto
	HasIPv4Src
	HasIPv4Dst
	HasTCPSrc
	HasTCPDst
	HasTCPFlags
)

// Match is an OpenFlow 1.3 OXM match. Only fields whose bit is set in
// Fields are encoded. Use the Set* helpers to keep the two in sync.
type Match struct {
	Fields   FieldSet
	InPort   uint32
	EthDst   [6]byte
	EthSrc   [6]byte
	EthType  uint16
	VlanVID  uint16
	IPProto  uint8
	IPv4Src  [4]byte
	IPv4Dst  [4]byte
	TCPSrc   uint16
	TCPDst   uint16
	TCPFlags uint16
}

// SetInPort matches the ingress port
func (m *Match) SetInPort(p uint32) *Match {
	m.InPort = p
	m.Fields |= HasInPort
	return m
}

// SetEthDst matches the destination MAC
func (m *Match) SetEthDst(mac net.HardwareAddr) *Match {
	copy(m.EthDst[:], mac)
	m.Fields |= HasEthDst
	return m
}

// SetEthSrc matches the source MAC
func (m *Match) SetEthSrc(mac net.HardwareAddr) *Match {
	copy(m.EthSrc[:], mac)
	m.Fields |= HasEthSrc
	return m
}

// SetEthType matches the ethertype
func (m *Match) SetEthType(t uint16) *Match {
	m.EthType = t
	m.Fields |= HasEthType
	return m
}

// SetVlanVID matches a VLAN id. The present bit is added during encode.
func (m *Match) SetVlanVID(vid uint16) *Match {
	m.VlanVID = vid
	m.Fields |= HasVlanVID
	return m
}

// SetIPProto matches the IP protocol number
func (m *Match) SetIPProto(p uint8) *Match {
	m.IPProto = p
	m.Fields |= HasIPProto
	return m
}

// SetIPv4Src matches the IPv4 source address
func (m *Match) SetIPv4Src(ip net.IP) *Match {
	copy(m.IPv4Src[:], ip.To4())
	m.Fields |= HasIPv4Src
	return m
}

// SetIPv4Dst matches the IPv4 destination address
func (m *Match) SetIPv4Dst(ip net.IP) *Match {
	copy(m.IPv4Dst[:], ip.To4())
	m.Fields |= HasIPv4Dst
	return m
}

// SetTCPSrc matches the TCP source port. Implies ip_proto must also be
// set by the caller for a valid match.
func (m *Match) SetTCPSrc(p uint16) *Match {
	m.TCPSrc = p
	m.Fields |= HasTCPSrc
	return m
}

// SetTCPDst matches the TCP destination port
func (m *Match) SetTCPDst(p uint16) *Match {
	m.TCPDst = p
	m.Fields |= HasTCPDst
	return m
}

// SetTCPFlags matches TCP flag bits
func (m *Match) SetTCPFlags(f uint16) *Match {
	m.TCPFlags = f
	m.Fields |= HasTCPFlags
	return m
}

func (m Match) String() string {
	var parts []string
	if m.Fields&HasInPort != 0 {
		parts = append(parts, fmt.Sprintf("in_port=%d", m.InPort))
	}
	if m.Fields&HasEthSrc != 0 {
		parts = append(parts, "eth_src="+net.HardwareAddr(m.EthSrc[:]).String())
	}
	if m.Fields&HasEthDst != 0 {
		parts = append(parts, "eth_dst="+net.HardwareAddr(m.EthDst[:]).String())
	}
	if m.Fields&HasEthType != 0 {
		parts = append(parts, fmt.Sprintf("eth_type=0x%04x", m.EthType))
	}
	if m.Fields&HasVlanVID != 0 {
		parts = append(parts, fmt.Sprintf("vlan_vid=%d", m.VlanVID))
	}
	if m.Fields&HasIPProto != 0 {
		parts = append(parts, fmt.Sprintf("ip_proto=%d", m.IPProto))
	}
	if m.Fields&HasIPv4Src != 0 {
		parts = append(parts, "ipv4_src="+net.IP(m.IPv4Src[:]).String())
	}
	if m.Fields&HasIPv4Dst != 0 {
		parts = append(parts, "ipv4_dst="+net.IP(m.IPv4Dst[:]).String())
	}
	if m.Fields&HasTCPSrc != 0 {
		parts = append(parts, fmt.Sprintf("tcp_src=%d", m.TCPSrc))
	}
	if m.Fields&HasTCPDst != 0 {
		parts = append(parts, fmt.Sprintf("tcp_dst=%d", m.TCPDst))
	}
	if m.Fields&HasTCPFlags != 0 {
		parts = append(parts, fmt.Sprintf("tcp_flags=0x%03x", m.TCPFlags))
	}
	if len(parts) == 0 {
		return "any"
	}
	return strings.Join(parts, ",")
}

func oxmHeader(field OXMField, length int) []byte {
	h := make([]byte, 4)
	binary.BigEndian.PutUint16(h[0:2], oxmClassBasic)
	h[2] = byte(field) << 1
	h[3] = byte(length)
	return h
}

func oxmU8(field OXMField, v uint8) []byte {
	return append(oxmHeader(field, 1), v)
}

func oxmU16(field OXMField, v uint16) []byte {
	b := oxmHeader(field, 2)
	return binary.BigEndian.AppendUint16(b, v)
}

func oxmU32(field OXMField, v uint32) []byte {
	b := oxmHeader(field, 4)
	return binary.BigEndian.AppendUint32(b, v)
}

func oxmBytes(field OXMField, v []byte) []byte {
	return append(oxmHeader(field, len(v)), v...)
}

// Marshal encodes the match as a full ofp_match structure, padded to
// an 8 byte boundary. Fields are emitted in ascending OXM field order
// so encodings are canonical and comparable.
func (m Match) Marshal() []byte {
	var oxms []byte

	if m.Fields&HasInPort != 0 {
		oxms = append(oxms, oxmU32(FieldInPort, m.InPort)...)
	}
	if m.Fields&HasEthDst != 0 {
		oxms = append(oxms, oxmBytes(FieldEthDst, m.EthDst[:])...)
	}
	if m.Fields&HasEthSrc != 0 {
		oxms = append(oxms, oxmBytes(FieldEthSrc, m.EthSrc[:])...)
	}
	if m.Fields&HasEthType != 0 {
		oxms = append(oxms, oxmU16(FieldEthType, m.EthType)...)
	}
	if m.Fields&HasVlanVID != 0 {
		oxms = append(oxms, oxmU16(FieldVlanVID, m.VlanVID|VlanPresent)...)
	}
	if m.Fields&HasIPProto != 0 {
		oxms = append(oxms, oxmU8(FieldIPProto, m.IPProto)...)
	}
	if m.Fields&HasIPv4Src != 0 {
		oxms = append(oxms, oxmBytes(FieldIPv4Src, m.IPv4Src[:])...)
	}
	if m.Fields&HasIPv4Dst != 0 {
		oxms = append(oxms, oxmBytes(FieldIPv4Dst, m.IPv4Dst[:])...)
	}
	if m.Fields&HasTCPSrc != 0 {
		oxms = append(oxms, oxmU16(FieldTCPSrc, m.TCPSrc)...)
	}
	if m.Fields&HasTCPDst != 0 {
		oxms = append(oxms, oxmU16(FieldTCPDst, m.TCPDst)...)
	}
	if m.Fields&HasTCPFlags != 0 {
		oxms = append(oxms, oxmU16(FieldTCPFlags, m.TCPFlags)...)
	}

	// ofp_match: type OFPMT_OXM (1), length covers header + oxms but
	// not the trailing pad
	buf := make([]byte, 4)
	binary.BigEndian.PutUint16(buf[0:2], 1)
	binary.BigEndian.PutUint16(buf[2:4], uint16(4+len(oxms)))
	buf = append(buf, oxms...)
	return pad(buf, 8)
}

// UnmarshalMatch decodes an ofp_match from the start of b. It returns
// the match and the number of bytes consumed including padding.
// Unknown OXM fields are skipped.
func UnmarshalMatch(b []byte) (Match, int, error) {
	var m Match

	if len(b) < 4 {
		return m, 0, ErrShortMessage{Got: len(b), Want: 4}
	}

	matchType := binary.BigEndian.Uint16(b[0:2])
	length := int(binary.BigEndian.Uint16(b[2:4]))
	if matchType != 1 {
		return m, 0, fmt.Errorf("openflow: unsupported match type %d", matchType)
	}
	if length < 4 || length > len(b) {
		return m, 0, ErrShortMessage{Got: len(b), Want: length}
	}

	oxms := b[4:length]
	for len(oxms) > 0 {
		if len(oxms) < 4 {
			return m, 0, ErrShortMessage{Got: len(oxms), Want: 4}
		}
		class := binary.BigEndian.Uint16(oxms[0:2])
		field := OXMField(oxms[2] >> 1)
		vlen := int(oxms[3])
		if len(oxms) < 4+vlen {
			return m, 0, ErrShortMessage{Got: len(oxms), Want: 4 + vlen}
		}
		val := oxms[4 : 4+vlen]

		if class == oxmClassBasic {
			switch {
			case field == FieldInPort && vlen == 4:
				m.SetInPort(binary.BigEndian.Uint32(val))
			case field == FieldEthDst && vlen == 6:
				m.SetEthDst(net.HardwareAddr(val))
			case field == FieldEthSrc && vlen == 6:
				m.SetEthSrc(net.HardwareAddr(val))
			case field == FieldEthType && vlen == 2:
				m.SetEthType(binary.BigEndian.Uint16(val))
			case field == FieldVlanVID && vlen == 2:
				m.SetVlanVID(binary.BigEndian.Uint16(val) &^ VlanPresent)
			case field == FieldIPProto && vlen == 1:
				m.SetIPProto(val[0])
			case field == FieldIPv4Src && vlen == 4:
				m.SetIPv4Src(net.IP(val))
			case field == FieldIPv4Dst && vlen == 4:
				m.SetIPv4Dst(net.IP(val))
			case field == FieldTCPSrc && vlen == 2:
				m.SetTCPSrc(binary.BigEndian.Uint16(val))
			case field == FieldTCPDst && vlen == 2:
				m.SetTCPDst(binary.BigEndian.Uint16(val))
			case field == FieldTCPFlags && vlen == 2:
				m.SetTCPFlags(binary.BigEndian.Uint16(val))
			}
		}

		oxms = oxms[4+vlen:]
	}

	return m, length + padLen(length, 8), nil
}
