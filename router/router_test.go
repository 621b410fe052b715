package router

import (
	"testing"

	"github.com/egpsim/egpsim/link"
	"github.com/egpsim/egpsim/packet"
)

func wireRouters(t *testing.T) (*Router, *Router, *link.Link) {
	t.Helper()
	r0 := New("R0", "10.0.0.1")
	r1 := New("R1", "10.0.0.2")
	l := link.New("L0", "R0", "eth0", "R1", "eth0", true, nil)
	r0.AddLink("eth0", l, 0)
	r1.AddLink("eth0", l, 1)
	return r0, r1, l
}

func TestSendLoopbackDelivers(t *testing.T) {
	r0, _, _ := wireRouters(t)
	if err := r0.FIB().SetEntryLocal("10.0.0.1/32"); err != nil {
		t.Fatalf("SetEntryLocal: %v", err)
	}
	r0.Send(packet.New("9.9.9.9", "10.0.0.1"))
	stats := r0.DumpTrafficStats()
	if len(stats) == 0 {
		t.Fatal("DumpTrafficStats() is empty")
	}
}

func TestSendWithNoRouteDrops(t *testing.T) {
	r0, _, _ := wireRouters(t)
	r0.Send(packet.New("9.9.9.9", "1.2.3.4"))
	// No FIB entry for 1.2.3.4: the packet is dropped, nothing to assert
	// beyond "this does not panic and nothing is enqueued on the link".
}

func TestSendForwardsAndDecrementsTTL(t *testing.T) {
	r0, r1, l := wireRouters(t)
	if err := r0.FIB().SetEntry("10.0.0.2/32", []string{"eth0"}); err != nil {
		t.Fatalf("SetEntry: %v", err)
	}
	p := packet.New("10.0.0.1", "10.0.0.2")
	p.SetTTL(10)
	r0.Send(p)
	l.MovePackets()

	got := l.Dequeue("R1")
	if got == nil {
		t.Fatal("packet never reached R1's inbound queue")
	}
	if got.TTL != 9 {
		t.Errorf("TTL = %d, want 9", got.TTL)
	}
	_ = r1
}

func TestSendExpiredTTLGeneratesICMPOnForward(t *testing.T) {
	r0, r1, l := wireRouters(t)
	if err := r0.FIB().SetEntry("10.0.0.2/32", []string{"eth0"}); err != nil {
		t.Fatalf("SetEntry: %v", err)
	}
	// Deliver a TTL-expired packet inbound on r0's eth0 so Go() routes it
	// through send() with inIface set, the only path that can emit ICMP.
	expired := packet.New("9.9.9.9", "10.0.0.2")
	expired.SetTTL(0)
	if err := l.Enqueue("R1", expired); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	l.MovePackets()

	if _, _, err := r0.Go(); err != nil {
		t.Fatalf("Go: %v", err)
	}
	l.MovePackets()

	// The ICMP reply is destined back at 9.9.9.9, which r0 has no route
	// for, so it is dropped rather than forwarded anywhere observable;
	// the assertion here is only that Go() did not error handling it.
	_ = r1
}

func TestECMPIndexDeterministic(t *testing.T) {
	p := packet.New("10.0.0.1", "10.0.0.2")
	a := ecmpIndex("R0", p, 4)
	b := ecmpIndex("R0", p, 4)
	if a != b {
		t.Errorf("ecmpIndex is not deterministic: %d != %d", a, b)
	}
	if a < 0 || a >= 4 {
		t.Errorf("ecmpIndex = %d, want in [0,4)", a)
	}
}

func TestInterfacesSorted(t *testing.T) {
	r0 := New("R0", "10.0.0.1")
	l1 := link.New("L1", "R0", "zeta", "R1", "eth0", true, nil)
	l2 := link.New("L2", "R0", "alpha", "R1", "eth0", true, nil)
	r0.AddLink("zeta", l1, 0)
	r0.AddLink("alpha", l2, 0)
	got := r0.Interfaces()
	if len(got) != 2 || got[0] != "alpha" || got[1] != "zeta" {
		t.Errorf("Interfaces() = %v, want sorted [alpha zeta]", got)
	}
}
