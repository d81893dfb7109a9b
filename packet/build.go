package packet

import (
	"encoding/binary"
	"net"
)

// BuildEthernet builds a raw Ethernet frame around payload
func BuildEthernet(dst, src net.HardwareAddr, etherType uint16, payload []byte) []byte {
	b := make([]byte, 14, 14+len(payload))
	copy(b[0:6], dst)
	copy(b[6:12], src)
	binary.BigEndian.PutUint16(b[12:14], etherType)
	return append(b, payload...)
}

// BuildARPRequest builds a who-has request for targetIP
func BuildARPRequest(senderMAC net.HardwareAddr, senderIP, targetIP net.IP) []byte {
	bcast := net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	return BuildEthernet(bcast, senderMAC, EtherTypeARP,
		buildARP(ARPRequest, senderMAC, senderIP, net.HardwareAddr{0, 0, 0, 0, 0, 0}, targetIP))
}

// BuildARPReply answers an ARP request claiming claimIP is at
// claimMAC. Used for proxy steering: the reply is unicast back to the
// requester.
func BuildARPReply(claimMAC net.HardwareAddr, claimIP net.IP,
	requesterMAC net.HardwareAddr, requesterIP net.IP) []byte {
	return BuildEthernet(requesterMAC, claimMAC, EtherTypeARP,
		buildARP(ARPReply, claimMAC, claimIP, requesterMAC, requesterIP))
}

func buildARP(opcode uint16, senderMAC net.HardwareAddr, senderIP net.IP,
	targetMAC net.HardwareAddr, targetIP net.IP) []byte {
	b := make([]byte, 28)
	binary.BigEndian.PutUint16(b[0:2], 1)             // htype ethernet
	binary.BigEndian.PutUint16(b[2:4], EtherTypeIPv4) // ptype
	b[4] = 6
	b[5] = 4
	binary.BigEndian.PutUint16(b[6:8], opcode)
	copy(b[8:14], senderMAC)
	copy(b[14:18], senderIP.To4())
	copy(b[18:24], targetMAC)
	copy(b[24:28], targetIP.To4())
	return b
}

// BuildTCP builds an IPv4/TCP frame with the given flags and no
// options or payload. Used by the simulator to generate SYN floods and
// normal traffic.
func BuildTCP(dst, src net.HardwareAddr, srcIP, dstIP net.IP,
	srcPort, dstPort uint16, flags uint16) []byte {
	tcp := make([]byte, 20)
	binary.BigEndian.PutUint16(tcp[0:2], srcPort)
	binary.BigEndian.PutUint16(tcp[2:4], dstPort)
	tcp[12] = 5 << 4 // data offset
	tcp[13] = byte(flags)

	ip := make([]byte, 20, 20+len(tcp))
	ip[0] = 0x45
	binary.BigEndian.PutUint16(ip[2:4], uint16(20+len(tcp)))
	ip[8] = 64 // ttl
	ip[9] = ProtoTCP
	copy(ip[12:16], srcIP.To4())
	copy(ip[16:20], dstIP.To4())
	ip = append(ip, tcp...)

	return BuildEthernet(dst, src, EtherTypeIPv4, ip)
}

// BuildSYN builds an initial TCP SYN frame
func BuildSYN(dst, src net.HardwareAddr, srcIP, dstIP net.IP, dstPort uint16) []byte {
	return BuildTCP(dst, src, srcIP, dstIP, 40000, dstPort, TCPFlagSYN)
}
