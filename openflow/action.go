package openflow

import (
	"encoding/binary"
	"fmt"
	"net"
)

// Action type codes
const (
	actionTypeOutput   uint16 = 0
	actionTypePushVLAN uint16 = 17
	actionTypePopVLAN  uint16 = 18
	actionTypeSetField uint16 = 25
)

// etherTypeVLAN is the 802.1Q TPID pushed by ActionPushVLAN
const etherTypeVLAN uint16 = 0x8100

// Action is a single OpenFlow action. An empty action list in a flow
// mod means drop.
type Action interface {
	marshalAction() []byte
}

// ActionOutput forwards the packet to a port
type ActionOutput struct {
	Port   uint32
	MaxLen uint16
}

// Output is shorthand for a plain output action
func Output(port uint32) ActionOutput {
	return ActionOutput{Port: port}
}

// OutputController sends the full packet to the controller
func OutputController() ActionOutput {
	return ActionOutput{Port: PortController, MaxLen: ControllerMaxLen}
}

func (a ActionOutput) marshalAction() []byte {
	b := make([]byte, 16)
	binary.BigEndian.PutUint16(b[0:2], actionTypeOutput)
	binary.BigEndian.PutUint16(b[2:4], 16)
	binary.BigEndian.PutUint32(b[4:8], a.Port)
	binary.BigEndian.PutUint16(b[8:10], a.MaxLen)
	return b
}

func (a ActionOutput) String() string {
	switch a.Port {
	case PortFlood:
		return "output:FLOOD"
	case PortController:
		return "output:CONTROLLER"
	}
	return fmt.Sprintf("output:%d", a.Port)
}

// ActionPushVLAN pushes an 802.1Q tag. Pair with a vlan_vid set-field
// to pick the VLAN id.
type ActionPushVLAN struct{}

func (a ActionPushVLAN) marshalAction() []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint16(b[0:2], actionTypePushVLAN)
	binary.BigEndian.PutUint16(b[2:4], 8)
	binary.BigEndian.PutUint16(b[4:6], etherTypeVLAN)
	return b
}

func (a ActionPushVLAN) String() string { return "push_vlan:0x8100" }

// ActionPopVLAN removes the outermost 802.1Q tag
type ActionPopVLAN struct{}

func (a ActionPopVLAN) marshalAction() []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint16(b[0:2], actionTypePopVLAN)
	binary.BigEndian.PutUint16(b[2:4], 8)
	return b
}

func (a ActionPopVLAN) String() string { return "pop_vlan" }

// ActionSetField rewrites a single header field, expressed as an OXM
type ActionSetField struct {
	Field OXMField
	Value []byte
}

// SetFieldEthSrc rewrites the source MAC
func SetFieldEthSrc(mac net.HardwareAddr) ActionSetField {
	return ActionSetField{Field: FieldEthSrc, Value: append([]byte{}, mac...)}
}

// SetFieldEthDst rewrites the destination MAC
func SetFieldEthDst(mac net.HardwareAddr) ActionSetField {
	return ActionSetField{Field: FieldEthDst, Value: append([]byte{}, mac...)}
}

// SetFieldIPv4Src rewrites the IPv4 source address
func SetFieldIPv4Src(ip net.IP) ActionSetField {
	return ActionSetField{Field: FieldIPv4Src, Value: append([]byte{}, ip.To4()...)}
}

// SetFieldIPv4Dst rewrites the IPv4 destination address
func SetFieldIPv4Dst(ip net.IP) ActionSetField {
	return ActionSetField{Field: FieldIPv4Dst, Value: append([]byte{}, ip.To4()...)}
}

// SetFieldVlanVID rewrites the VLAN id of an already tagged packet
func SetFieldVlanVID(vid uint16) ActionSetField {
	v := make([]byte, 2)
	binary.BigEndian.PutUint16(v, vid|VlanPresent)
	return ActionSetField{Field: FieldVlanVID, Value: v}
}

func (a ActionSetField) marshalAction() []byte {
	oxm := oxmBytes(a.Field, a.Value)
	length := 4 + len(oxm)
	b := make([]byte, 4, length+padLen(length, 8))
	binary.BigEndian.PutUint16(b[0:2], actionTypeSetField)
	binary.BigEndian.PutUint16(b[2:4], uint16(length+padLen(length, 8)))
	b = append(b, oxm...)
	return pad(b, 8)
}

func (a ActionSetField) String() string {
	switch a.Field {
	case FieldEthSrc, FieldEthDst:
		return fmt.Sprintf("set_field:%v->%v", net.HardwareAddr(a.Value), fieldName(a.Field))
	case FieldIPv4Src, FieldIPv4Dst:
		return fmt.Sprintf("set_field:%v->%v", net.IP(a.Value), fieldName(a.Field))
	case FieldVlanVID:
		vid := binary.BigEndian.Uint16(a.Value) &^ VlanPresent
		return fmt.Sprintf("set_field:%d->vlan_vid", vid)
	}
	return fmt.Sprintf("set_field:%x->%v", a.Value, fieldName(a.Field))
}

func fieldName(f OXMField) string {
	switch f {
	case FieldInPort:
		return "in_port"
	case FieldEthDst:
		return "eth_dst"
	case FieldEthSrc:
		return "eth_src"
	case FieldEthType:
		return "eth_type"
	case FieldVlanVID:
		return "vlan_vid"
	case FieldIPProto:
		return "ip_proto"
	case FieldIPv4Src:
		return "ipv4_src"
	case FieldIPv4Dst:
		return "ipv4_dst"
	case FieldTCPSrc:
		return "tcp_src"
	case FieldTCPDst:
		return "tcp_dst"
	case FieldTCPFlags:
		return "tcp_flags"
	}
	return fmt.Sprintf("field%d", f)
}

func marshalActions(actions []Action) []byte {
	var b []byte
	for _, a := range actions {
		b = append(b, a.marshalAction()...)
	}
	return b
}

func unmarshalActions(b []byte) ([]Action, error) {
	var actions []Action

	for len(b) > 0 {
		if len(b) < 4 {
			return nil, ErrShortMessage{Got: len(b), Want: 4}
		}
		atype := binary.BigEndian.Uint16(b[0:2])
		alen := int(binary.BigEndian.Uint16(b[2:4]))
		if alen < 8 || alen > len(b) {
			return nil, fmt.Errorf("openflow: bad action length %d", alen)
		}

		switch atype {
		case actionTypeOutput:
			if alen != 16 {
				return nil, fmt.Errorf("openflow: bad output action length %d", alen)
			}
			actions = append(actions, ActionOutput{
				Port:   binary.BigEndian.Uint32(b[4:8]),
				MaxLen: binary.BigEndian.Uint16(b[8:10]),
			})
		case actionTypePushVLAN:
			actions = append(actions, ActionPushVLAN{})
		case actionTypePopVLAN:
			actions = append(actions, ActionPopVLAN{})
		case actionTypeSetField:
			if alen < 8 {
				return nil, fmt.Errorf("openflow: bad set-field action length %d", alen)
			}
			field := OXMField(b[6] >> 1)
			vlen := int(b[7])
			if 8+vlen > alen {
				return nil, ErrShortMessage{Got: alen, Want: 8 + vlen}
			}
			actions = append(actions, ActionSetField{
				Field: field,
				Value: append([]byte{}, b[8:8+vlen]...),
			})
		default:
			// skip actions we do not model
		}

		b = b[alen:]
	}

	return actions, nil
}

// Instruction type codes
const (
	instrTypeGotoTable    uint16 = 1
	instrTypeApplyActions uint16 = 4
	instrTypeMeter        uint16 = 6
)

// Instruction is a flow entry instruction
type Instruction interface {
	marshalInstruction() []byte
}

// InstructionApplyActions applies the action list immediately
type InstructionApplyActions struct {
	Actions []Action
}

// ApplyActions is shorthand for an apply-actions instruction
func ApplyActions(actions ...Action) InstructionApplyActions {
	return InstructionApplyActions{Actions: actions}
}

func (i InstructionApplyActions) marshalInstruction() []byte {
	acts := marshalActions(i.Actions)
	b := make([]byte, 8, 8+len(acts))
	binary.BigEndian.PutUint16(b[0:2], instrTypeApplyActions)
	binary.BigEndian.PutUint16(b[2:4], uint16(8+len(acts)))
	return append(b, acts...)
}

// InstructionMeter rate limits matching packets through a meter
type InstructionMeter struct {
	MeterID uint32
}

func (i InstructionMeter) marshalInstruction() []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint16(b[0:2], instrTypeMeter)
	binary.BigEndian.PutUint16(b[2:4], 8)
	binary.BigEndian.PutUint32(b[4:8], i.MeterID)
	return b
}

// InstructionGotoTable continues processing in another table
type InstructionGotoTable struct {
	TableID uint8
}

func (i InstructionGotoTable) marshalInstruction() []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint16(b[0:2], instrTypeGotoTable)
	binary.BigEndian.PutUint16(b[2:4], 8)
	b[4] = i.TableID
	return b
}

func marshalInstructions(instrs []Instruction) []byte {
	var b []byte
	for _, i := range instrs {
		b = append(b, i.marshalInstruction()...)
	}
	return b
}

func unmarshalInstructions(b []byte) ([]Instruction, error) {
	var instrs []Instruction

	for len(b) > 0 {
		if len(b) < 4 {
			return nil, ErrShortMessage{Got: len(b), Want: 4}
		}
		itype := binary.BigEndian.Uint16(b[0:2])
		ilen := int(binary.BigEndian.Uint16(b[2:4]))
		if ilen < 8 || ilen > len(b) {
			return nil, fmt.Errorf("openflow: bad instruction length %d", ilen)
		}

		switch itype {
		case instrTypeApplyActions:
			actions, err := unmarshalActions(b[8:ilen])
			if err != nil {
				return nil, err
			}
			instrs = append(instrs, InstructionApplyActions{Actions: actions})
		case instrTypeMeter:
			instrs = append(instrs, InstructionMeter{
				MeterID: binary.BigEndian.Uint32(b[4:8]),
			})
		case instrTypeGotoTable:
			instrs = append(instrs, InstructionGotoTable{TableID: b[4]})
		default:
			// skip instructions we do not model
		}

		b = b[ilen:]
	}

	return instrs, nil
}
