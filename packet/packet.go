// Package packet implements the in-memory representation of data and
// control-plane messages moved between routers and across links.
package packet

import "fmt"

// Type distinguishes the kinds of packets the simulator moves.
type Type int

// Packet types. UnknownAddr is reserved for future use and is never
// produced by this simulator, matching the original tool's enum.
const (
	Unknown Type = iota
	Data
	Routing
	ICMP
	Broadcast
	UnknownAddr
)

func (t Type) String() string {
	switch t {
	case Data:
		return "DATA"
	case Routing:
		return "ROUTING"
	case ICMP:
		return "ICMP"
	case Broadcast:
		return "BROADCAST"
	case UnknownAddr:
		return "UNKNOWNADDR"
	default:
		return "UNKNOWN"
	}
}

// BroadcastAddr is the destination address used by routing packets.
// A router buffers any packet addressed here instead of forwarding it.
const BroadcastAddr = "BROADCAST"

const (
	defaultSrcPort = 50000
	defaultDstPort = 8080
	defaultTTL     = 255
)

// Payload carries an ordered list of text entries. Data packets
// accumulate hop-trace entries here; routing packets carry their
// update/withdrawal lines.
type Payload struct {
	entries []string
}

// AddEntry appends a line to the payload.
func (p *Payload) AddEntry(entry string) {
	p.entries = append(p.entries, entry)
}

// Entries returns the payload's lines in the order they were added.
func (p *Payload) Entries() []string {
	return p.entries
}

// Packet is the unit moved between routers over links.
type Packet struct {
	Source      string
	Destination string
	SrcPort     int
	DstPort     int
	Type        Type
	Payload     Payload
	Seq         int
	TTL         int
}

// New creates a DATA packet with the field defaults the original tool uses:
// srcport 50000, dstport 8080, ttl 255.
func New(src, dst string) *Packet {
	return &Packet{
		Source:      src,
		Destination: dst,
		SrcPort:     defaultSrcPort,
		DstPort:     defaultDstPort,
		Type:        Data,
		TTL:         defaultTTL,
	}
}

// NewRouting creates a broadcast-destined routing packet.
func NewRouting(src string) *Packet {
	return &Packet{
		Source:      src,
		Destination: BroadcastAddr,
		SrcPort:     2300,
		DstPort:     2300,
		Type:        Routing,
		TTL:         defaultTTL,
	}
}

// NewICMP builds an ICMP packet destined back at the original source of
// an expired packet.
func NewICMP(src, dst string) *Packet {
	return &Packet{
		Source:      src,
		Destination: dst,
		SrcPort:     defaultSrcPort,
		DstPort:     defaultDstPort,
		Type:        ICMP,
		TTL:         defaultTTL,
	}
}

// DecrementTTL lowers the hop count by one, floored at 0.
func (p *Packet) DecrementTTL() {
	if p.TTL > 0 {
		p.TTL--
	}
}

// SetTTL overrides the packet's hop count.
func (p *Packet) SetTTL(ttl int) {
	p.TTL = ttl
}

func (p *Packet) String() string {
	return fmt.Sprintf("%s{%s->%s seq=%d ttl=%d}", p.Type, p.Source, p.Destination, p.Seq, p.TTL)
}
