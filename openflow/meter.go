package openflow

import (
	"encoding/binary"
	"fmt"
)

// MeterModCommand selects the meter table operation
type MeterModCommand uint16

// Meter mod commands
const (
	MeterAdd    MeterModCommand = 0
	MeterModify MeterModCommand = 1
	MeterDelete MeterModCommand = 2
)

// MeterFlagKBPS configures band rates in kilobits per second
const MeterFlagKBPS uint16 = 1

// meterBandDrop is the OFPMBT_DROP band type
const meterBandDrop uint16 = 1

// MeterBandDrop drops packets above Rate (kbps when MeterFlagKBPS)
type MeterBandDrop struct {
	Rate  uint32
	Burst uint32
}

// MeterMod adds, modifies or deletes a meter
type MeterMod struct {
	Command MeterModCommand
	Flags   uint16
	MeterID uint32
	Bands   []MeterBandDrop
}

// AddMeter builds a kbps drop meter
func AddMeter(id uint32, rateKbps uint32, burst uint32) MeterMod {
	return MeterMod{
		Command: MeterAdd,
		Flags:   MeterFlagKBPS,
		MeterID: id,
		Bands:   []MeterBandDrop{{Rate: rateKbps, Burst: burst}},
	}
}

// DeleteMeter builds a meter delete
func DeleteMeter(id uint32) MeterMod {
	return MeterMod{Command: MeterDelete, MeterID: id}
}

func (m MeterMod) String() string {
	if m.Command == MeterDelete {
		return fmt.Sprintf("MeterMod delete meter=%d", m.MeterID)
	}
	return fmt.Sprintf("MeterMod add meter=%d bands=%d", m.MeterID, len(m.Bands))
}

// Marshal encodes the meter mod as a complete message
func (m MeterMod) Marshal(xid uint32) Message {
	b := make([]byte, 8, 8+16*len(m.Bands))
	binary.BigEndian.PutUint16(b[0:2], uint16(m.Command))
	binary.BigEndian.PutUint16(b[2:4], m.Flags)
	binary.BigEndian.PutUint32(b[4:8], m.MeterID)
	b = append(b, marshalMeterBands(m.Bands)...)
	return Message{Type: TypeMeterMod, Xid: xid, Body: b}
}

// UnmarshalMeterMod decodes a meter mod message body
func UnmarshalMeterMod(body []byte) (MeterMod, error) {
	var m MeterMod

	if len(body) < 8 {
		return m, ErrShortMessage{Type: TypeMeterMod, Got: len(body), Want: 8}
	}

	m.Command = MeterModCommand(binary.BigEndian.Uint16(body[0:2]))
	m.Flags = binary.BigEndian.Uint16(body[2:4])
	m.MeterID = binary.BigEndian.Uint32(body[4:8])

	bands, err := unmarshalMeterBands(body[8:])
	if err != nil {
		return m, err
	}
	m.Bands = bands

	return m, nil
}

func marshalMeterBands(bands []MeterBandDrop) []byte {
	var b []byte
	for _, band := range bands {
		e := make([]byte, 16)
		binary.BigEndian.PutUint16(e[0:2], meterBandDrop)
		binary.BigEndian.PutUint16(e[2:4], 16)
		binary.BigEndian.PutUint32(e[4:8], band.Rate)
		binary.BigEndian.PutUint32(e[8:12], band.Burst)
		b = append(b, e...)
	}
	return b
}

func unmarshalMeterBands(b []byte) ([]MeterBandDrop, error) {
	var bands []MeterBandDrop

	for len(b) > 0 {
		if len(b) < 4 {
			return nil, ErrShortMessage{Got: len(b), Want: 4}
		}
		btype := binary.BigEndian.Uint16(b[0:2])
		blen := int(binary.BigEndian.Uint16(b[2:4]))
		if blen < 12 || blen > len(b) {
			return nil, fmt.Errorf("openflow: bad meter band length %d", blen)
		}

		if btype == meterBandDrop {
			bands = append(bands, MeterBandDrop{
				Rate:  binary.BigEndian.Uint32(b[4:8]),
				Burst: binary.BigEndian.Uint32(b[8:12]),
			})
		}

		b = b[blen:]
	}

	return bands, nil
}
