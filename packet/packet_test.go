package packet

import (
	"net"
	"testing"
)

var (
	macA = net.HardwareAddr{0, 0, 0, 0, 0, 1}
	macB = net.HardwareAddr{0, 0, 0, 0, 0, 2}
	ipA  = net.ParseIP("10.0.0.1")
	ipB  = net.ParseIP("10.0.0.2")
)

func TestDecodeSYN(t *testing.T) {
	raw := BuildSYN(macB, macA, ipA, ipB, 80)

	f, err := Decode(raw)
	if err != nil {
		t.Fatal("decode error: ", err)
	}

	if f.Src.String() != macA.String() {
		t.Error("wrong src mac: ", f.Src)
	}
	if f.EtherType != EtherTypeIPv4 {
		t.Error("wrong ethertype")
	}
	if f.IP == nil || !f.IP.Dst.Equal(ipB) {
		t.Fatal("ip header not decoded")
	}
	if f.TCP == nil || f.TCP.DstPort != 80 {
		t.Fatal("tcp header not decoded")
	}
	if !f.IsSYN() {
		t.Error("SYN not detected")
	}
}

func TestSynAckIsNotSYN(t *testing.T) {
	raw := BuildTCP(macA, macB, ipB, ipA, 80, 40000, TCPFlagSYN|TCPFlagACK)

	f, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if f.IsSYN() {
		t.Error("SYN+ACK must not count as an initial SYN")
	}
}

func TestDecodeARPRequest(t *testing.T) {
	raw := BuildARPRequest(macA, ipA, ipB)

	f, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if f.ARP == nil {
		t.Fatal("arp not decoded")
	}
	if f.ARP.Opcode != ARPRequest {
		t.Error("wrong opcode")
	}
	if !f.ARP.TargetIP.Equal(ipB) {
		t.Error("wrong target ip: ", f.ARP.TargetIP)
	}
}

func TestARPReplySteering(t *testing.T) {
	proxyMAC := net.HardwareAddr{0xaa, 0, 0, 0, 0, 0x63}
	targetIP := net.ParseIP("10.0.0.7")

	raw := BuildARPReply(proxyMAC, targetIP, macA, ipA)

	f, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if f.ARP == nil || f.ARP.Opcode != ARPReply {
		t.Fatal("not an arp reply")
	}
	// requester must learn target IP -> proxy MAC
	if !f.ARP.SenderIP.Equal(targetIP) {
		t.Error("reply must claim the target IP")
	}
	if f.ARP.SenderMAC.String() != proxyMAC.String() {
		t.Error("reply must claim the proxy MAC")
	}
	if f.Dst.String() != macA.String() {
		t.Error("reply must be unicast to the requester")
	}
}

func TestDecodeVlanTagged(t *testing.T) {
	inner := BuildSYN(macB, macA, ipA, ipB, 80)

	// insert an 802.1Q tag with vid 100
	tagged := make([]byte, 0, len(inner)+4)
	tagged = append(tagged, inner[0:12]...)
	tagged = append(tagged, 0x81, 0x00, 0x00, 100)
	tagged = append(tagged, inner[12:]...)

	f, err := Decode(tagged)
	if err != nil {
		t.Fatal(err)
	}
	if !f.HasVlan || f.VlanID != 100 {
		t.Error("vlan tag not decoded: ", f.VlanID)
	}
	if !f.IsSYN() {
		t.Error("inner tcp lost behind vlan tag")
	}
}

func TestDecodeTruncated(t *testing.T) {
	raw := BuildSYN(macB, macA, ipA, ipB, 80)

	for _, n := range []int{0, 10, 14, 20, 34, 40} {
		if n >= len(raw) {
			continue
		}
		_, err := Decode(raw[:n])
		if n >= 14 && err == nil {
			// ethernet header alone decodes fine for non-IP types,
			// but truncated IP/TCP must error
			t.Errorf("truncated frame at %d bytes decoded without error", n)
		}
	}
}
