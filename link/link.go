// Package link implements the bidirectional half-duplex link model
// connecting two router interfaces: four FIFO packet queues, an up/down
// flag, per-end traffic counters, and mutable economic properties.
//
// The queue shape (push/pop/length) is carried over from kbgp's
// queue.Queue, retyped for *packet.Packet since the structured payload
// trace this simulator needs (an ordered list of hop annotations) can't
// round-trip through kbgp's raw []byte queue. Counters use the labeled
// counter.Counter (see counter/counter.go).
package link

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/egpsim/egpsim/counter"
	"github.com/egpsim/egpsim/packet"
)

// packetQueue is queue.Queue's Push/Pop/Length shape, retyped.
type packetQueue struct {
	items []*packet.Packet
}

func newPacketQueue() *packetQueue {
	return &packetQueue{items: make([]*packet.Packet, 0, 16)}
}

func (q *packetQueue) push(p *packet.Packet) {
	q.items = append(q.items, p)
}

func (q *packetQueue) pop() *packet.Packet {
	if len(q.items) == 0 {
		return nil
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item
}

func (q *packetQueue) length() int {
	return len(q.items)
}

type end struct {
	routerID string
	iface    string
	in       *packetQueue
	out      *packetQueue
	sent     *counter.Counter
	recv     *counter.Counter
}

func newEnd(routerID, iface string) *end {
	return &end{
		routerID: routerID,
		iface:    iface,
		in:       newPacketQueue(),
		out:      newPacketQueue(),
		sent:     counter.New("sent"),
		recv:     counter.New("recv"),
	}
}

// Revenues holds a link's parsed economic properties: a forward and
// backward per-hop value, and whether they're asymmetric ("advanced peer").
type Revenues struct {
	Forward    int
	Backward   int
	Asymmetric bool
}

// GetRevenues parses the "revenues" link property per LinkUtils'
// contract: absent -> (0,0,false); "v" -> (v,v,false); "a;b" -> (a,b,true).
func GetRevenues(props map[string]string) (Revenues, error) {
	raw, ok := props["revenues"]
	if !ok || raw == "" {
		return Revenues{}, nil
	}
	if strings.Contains(raw, ";") {
		parts := strings.SplitN(raw, ";", 2)
		fwd, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			return Revenues{}, fmt.Errorf("link: invalid forward revenue %q: %w", parts[0], err)
		}
		back, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			return Revenues{}, fmt.Errorf("link: invalid backward revenue %q: %w", parts[1], err)
		}
		return Revenues{Forward: fwd, Backward: back, Asymmetric: true}, nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return Revenues{}, fmt.Errorf("link: invalid revenue %q: %w", raw, err)
	}
	return Revenues{Forward: v, Backward: v, Asymmetric: false}, nil
}

// Link is a bidirectional point-to-point connection between two router
// interfaces.
type Link struct {
	id         string
	ends       [2]*end
	up         bool
	properties map[string]string
}

// New creates a link between (r0,i0) and (r1,i1).
func New(id, r0, i0, r1, i1 string, up bool, properties map[string]string) *Link {
	props := make(map[string]string, len(properties))
	for k, v := range properties {
		props[k] = v
	}
	return &Link{
		id:         id,
		ends:       [2]*end{newEnd(r0, i0), newEnd(r1, i1)},
		up:         up,
		properties: props,
	}
}

// ID returns the link's identifier.
func (l *Link) ID() string { return l.id }

// GetRouter returns the router ID at end n (0 or 1).
func (l *Link) GetRouter(n int) string { return l.ends[n].routerID }

// GetInterface returns the interface name at end n (0 or 1).
func (l *Link) GetInterface(n int) string { return l.ends[n].iface }

// IsUp reports whether the link currently carries traffic.
func (l *Link) IsUp() bool { return l.up }

// SetState toggles the link's liveness.
func (l *Link) SetState(up bool) { l.up = up }

// GetProperties returns a copy of the link's current property map.
func (l *Link) GetProperties() map[string]string {
	cp := make(map[string]string, len(l.properties))
	for k, v := range l.properties {
		cp[k] = v
	}
	return cp
}

// UpdateProperties merges delta into the link's properties, key-wise,
// overwriting any existing values.
func (l *Link) UpdateProperties(delta map[string]string) {
	for k, v := range delta {
		l.properties[k] = v
	}
}

// endFor returns the end belonging to routerID, or -1 if routerID isn't
// one of this link's two endpoints.
func (l *Link) endFor(routerID string) int {
	for i, e := range l.ends {
		if e.routerID == routerID {
			return i
		}
	}
	return -1
}

// Enqueue appends p to routerID's outbound queue and increments its
// sent counter.
func (l *Link) Enqueue(routerID string, p *packet.Packet) error {
	i := l.endFor(routerID)
	if i < 0 {
		return fmt.Errorf("link %s: router %s is not an endpoint", l.id, routerID)
	}
	l.ends[i].out.push(p)
	l.ends[i].sent.Increment()
	return nil
}

// Dequeue pops the next packet from routerID's inbound queue, or nil if
// empty. Increments the receive counter on a hit.
func (l *Link) Dequeue(routerID string) *packet.Packet {
	i := l.endFor(routerID)
	if i < 0 {
		return nil
	}
	p := l.ends[i].in.pop()
	if p != nil {
		l.ends[i].recv.Increment()
	}
	return p
}

// MovePackets transfers, in FIFO order, every queued outbound packet to
// the opposite end's inbound queue, but only if the link is up at call
// time. Down-while-queued packets are silently discarded. Data packets
// get a hop-trace entry appended before the transfer.
func (l *Link) MovePackets() {
	for e := 0; e < 2; e++ {
		other := 1 - e
		src, dst := l.ends[e], l.ends[other]
		for src.out.length() > 0 {
			p := src.out.pop()
			if !l.up {
				continue
			}
			if p.Type == packet.Data {
				p.Payload.AddEntry(fmt.Sprintf("%s->%s", src.routerID, dst.routerID))
			}
			dst.in.push(p)
		}
	}
}

// DumpStats returns a per-end traffic summary line, matching the
// original tool's dumpPacketStats text.
func (l *Link) DumpStats() []string {
	lines := make([]string, 0, 2)
	for _, e := range l.ends {
		lines = append(lines, fmt.Sprintf("link %s iface %s: %s %s",
			l.id, e.iface, e.sent, e.recv))
	}
	return lines
}
