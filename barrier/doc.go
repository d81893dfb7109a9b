// Package barrier implements the mitigation core: SYN flood
// detection over packet-in traffic, the quarantine state machine with
// probe verification, and the three flow-table strategies (scout, box,
// swap) that translate a mitigation event into OpenFlow programs.
package barrier
