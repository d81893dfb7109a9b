package openflow

import (
	"bytes"
	"net"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestReadWriteMessage(t *testing.T) {
	var buf bytes.Buffer

	msg := EchoRequest(42, []byte("1234"))
	err := WriteMessage(&buf, msg)
	if err != nil {
		t.Fatal("write error: ", err)
	}

	// verify header layout
	raw := buf.Bytes()
	if raw[0] != Version {
		t.Error("wrong version byte")
	}
	if raw[1] != byte(TypeEchoRequest) {
		t.Error("wrong type byte")
	}
	if len(raw) != 12 {
		t.Error("wrong encoded length: ", len(raw))
	}

	got, err := ReadMessage(&buf)
	if err != nil {
		t.Fatal("read error: ", err)
	}

	if diff := cmp.Diff(msg, got); diff != "" {
		t.Error("message mismatch: ", diff)
	}
}

func TestReadMessageBadVersion(t *testing.T) {
	raw := []byte{0x01, 0x00, 0x00, 0x08, 0, 0, 0, 0}
	_, err := ReadMessage(bytes.NewReader(raw))
	if _, ok := err.(ErrVersion); !ok {
		t.Error("expected version error, got: ", err)
	}
}

func TestMatchMarshalUnmarshal(t *testing.T) {
	mac, _ := net.ParseMAC("00:00:00:00:00:07")

	var m Match
	m.SetEthType(0x0800)
	m.SetIPv4Dst(net.ParseIP("10.0.0.7"))
	m.SetEthSrc(mac)
	m.SetIPProto(6)
	m.SetTCPFlags(0x002)

	b := m.Marshal()
	if len(b)%8 != 0 {
		t.Error("match not padded to 8 bytes: ", len(b))
	}

	got, n, err := UnmarshalMatch(b)
	if err != nil {
		t.Fatal("unmarshal error: ", err)
	}
	if n != len(b) {
		t.Errorf("consumed %d bytes, expected %d", n, len(b))
	}

	if diff := cmp.Diff(m, got); diff != "" {
		t.Error("match mismatch: ", diff)
	}
}

func TestMatchVlanPresentBit(t *testing.T) {
	var m Match
	m.SetVlanVID(99)

	b := m.Marshal()

	got, _, err := UnmarshalMatch(b)
	if err != nil {
		t.Fatal(err)
	}
	if got.VlanVID != 99 {
		t.Error("present bit leaked into decoded vid: ", got.VlanVID)
	}
}

func TestMatchUnknownOXMSkipped(t *testing.T) {
	var m Match
	m.SetEthType(0x0806)
	b := m.Marshal()

	// splice in an OXM this package does not know (metadata, field 2,
	// 8 bytes) and fix up lengths
	unknown := append(oxmHeader(2, 8), make([]byte, 8)...)
	oxms := append(b[4:10], unknown...)
	raw := make([]byte, 4)
	raw[1] = 1
	raw[3] = byte(4 + len(oxms))
	raw = pad(append(raw, oxms...), 8)

	got, _, err := UnmarshalMatch(raw)
	if err != nil {
		t.Fatal("decode should skip unknown oxm: ", err)
	}
	if got.EthType != 0x0806 || got.Fields != HasEthType {
		t.Error("known field lost while skipping unknown oxm")
	}
}

func TestFlowModRoundTrip(t *testing.T) {
	proxyMAC, _ := net.ParseMAC("aa:bb:cc:dd:ee:01")

	var m Match
	m.SetEthType(0x0800)
	m.SetIPv4Dst(net.ParseIP("10.0.0.7"))

	f := AddFlow(320, m,
		ActionPushVLAN{},
		SetFieldVlanVID(100),
		SetFieldIPv4Dst(net.ParseIP("10.0.0.251")),
		SetFieldEthDst(proxyMAC),
		Output(3),
	)
	f.Cookie = 0xdeadbeef
	f.HardTimeout = 10

	msg := f.Marshal(7)
	got, err := UnmarshalFlowMod(msg.Body)
	if err != nil {
		t.Fatal("unmarshal error: ", err)
	}

	if diff := cmp.Diff(f, got); diff != "" {
		t.Error("flow mod mismatch: ", diff)
	}

	acts := got.Actions()
	if len(acts) != 5 {
		t.Fatal("expected 5 actions, got ", len(acts))
	}
	if _, ok := acts[0].(ActionPushVLAN); !ok {
		t.Error("first action should be push_vlan")
	}
	if out, ok := acts[4].(ActionOutput); !ok || out.Port != 3 {
		t.Error("last action should be output:3")
	}
}

func TestFlowModDropEncodesEmptyActions(t *testing.T) {
	var m Match
	m.SetEthSrc(net.HardwareAddr{0, 0, 0, 0, 0, 9})

	f := AddFlow(100, m)
	msg := f.Marshal(1)

	got, err := UnmarshalFlowMod(msg.Body)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Actions()) != 0 {
		t.Error("drop flow should decode with no actions")
	}
}

func TestDeleteFlowsByCookie(t *testing.T) {
	f := DeleteFlowsByCookie(0x1122)

	if f.Command != FlowDelete {
		t.Error("wrong command")
	}
	if f.OutPort != PortAny || f.OutGroup != GroupAny {
		t.Error("delete must wildcard out port/group")
	}
	if f.CookieMask != ^uint64(0) {
		t.Error("delete must match full cookie")
	}

	got, err := UnmarshalFlowMod(f.Marshal(0).Body)
	if err != nil {
		t.Fatal(err)
	}
	if got.Cookie != 0x1122 {
		t.Error("cookie lost in encode")
	}
}

func TestMeterModRoundTrip(t *testing.T) {
	m := AddMeter(5, 512, 64)

	got, err := UnmarshalMeterMod(m.Marshal(3).Body)
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(m, got); diff != "" {
		t.Error("meter mod mismatch: ", diff)
	}
	if got.Flags != MeterFlagKBPS {
		t.Error("kbps flag not set")
	}
}

func TestFeaturesReplyRoundTrip(t *testing.T) {
	f := FeaturesReply{DatapathID: 0x0000000000000002, NBuffers: 256, NTables: 254}

	got, err := UnmarshalFeaturesReply(f.Marshal(9).Body)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(f, got); diff != "" {
		t.Error("features reply mismatch: ", diff)
	}
}

func TestPacketInRoundTrip(t *testing.T) {
	payload := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}

	var m Match
	m.SetInPort(4)

	p := PacketIn{
		BufferID: NoBuffer,
		TotalLen: uint16(len(payload)),
		Reason:   ReasonNoMatch,
		Data:     payload,
	}
	p.Match = m

	got, err := UnmarshalPacketIn(p.Marshal(11).Body)
	if err != nil {
		t.Fatal(err)
	}

	if got.InPort() != 4 {
		t.Error("wrong in port: ", got.InPort())
	}
	if !bytes.Equal(got.Data, payload) {
		t.Error("payload corrupted")
	}
}

func TestPacketOutRoundTrip(t *testing.T) {
	p := PacketOut{
		BufferID: NoBuffer,
		InPort:   PortController,
		Actions:  []Action{Output(2)},
		Data:     []byte{0xde, 0xad},
	}

	got, err := UnmarshalPacketOut(p.Marshal(13).Body)
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(p, got); diff != "" {
		t.Error("packet out mismatch: ", diff)
	}
}

func TestFlowStatsReplyRoundTrip(t *testing.T) {
	var m1, m2 Match
	m1.SetEthType(0x0800)
	m1.SetIPv4Dst(net.ParseIP("10.0.0.7"))
	m2.SetEthSrc(net.HardwareAddr{0, 0, 0, 0, 0, 3})

	entries := []FlowStatsEntry{
		{
			Priority:    300,
			Cookie:      0xabc,
			PacketCount: 100,
			ByteCount:   6400,
			Match:       m1,
			Instructions: []Instruction{
				InstructionMeter{MeterID: 1},
				ApplyActions(Output(2)),
			},
		},
		{
			Priority: 100,
			Match:    m2,
			Instructions: []Instruction{
				ApplyActions(),
			},
		},
	}

	msg := MarshalFlowStatsReply(21, entries)
	got, err := UnmarshalFlowStatsReply(msg.Body)
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(entries, got); diff != "" {
		t.Error("flow stats mismatch: ", diff)
	}
	if got[0].MeterID() != 1 {
		t.Error("meter instruction lost")
	}
}

func TestMeterConfigReplyRoundTrip(t *testing.T) {
	entries := []MeterConfigEntry{
		{Flags: MeterFlagKBPS, MeterID: 1, Bands: []MeterBandDrop{{Rate: 512, Burst: 64}}},
		{Flags: MeterFlagKBPS, MeterID: 2, Bands: []MeterBandDrop{{Rate: 128, Burst: 16}}},
	}

	msg := MarshalMeterConfigReply(5, entries)
	got, err := UnmarshalMeterConfigReply(msg.Body)
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(entries, got); diff != "" {
		t.Error("meter config mismatch: ", diff)
	}
}
