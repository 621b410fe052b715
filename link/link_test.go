package link

import (
	"testing"

	"github.com/egpsim/egpsim/packet"
)

func TestGetRevenues(t *testing.T) {
	cases := []struct {
		props map[string]string
		want  Revenues
	}{
		{nil, Revenues{}},
		{map[string]string{"revenues": "5"}, Revenues{Forward: 5, Backward: 5}},
		{map[string]string{"revenues": "3;7"}, Revenues{Forward: 3, Backward: 7, Asymmetric: true}},
	}
	for _, c := range cases {
		got, err := GetRevenues(c.props)
		if err != nil {
			t.Fatalf("GetRevenues(%v): %v", c.props, err)
		}
		if got != c.want {
			t.Errorf("GetRevenues(%v) = %+v, want %+v", c.props, got, c.want)
		}
	}
}

func TestGetRevenuesInvalid(t *testing.T) {
	if _, err := GetRevenues(map[string]string{"revenues": "x;3"}); err == nil {
		t.Error("GetRevenues with non-numeric forward value should error")
	}
}

func TestEnqueueUnknownRouter(t *testing.T) {
	l := New("L0", "R0", "eth0", "R1", "eth0", true, nil)
	if err := l.Enqueue("R9", packet.New("a", "b")); err == nil {
		t.Error("Enqueue for a non-endpoint router should error")
	}
}

func TestMovePacketsWhileUp(t *testing.T) {
	l := New("L0", "R0", "eth0", "R1", "eth1", true, nil)
	p := packet.New("10.0.0.1", "10.0.0.2")
	if err := l.Enqueue("R0", p); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	l.MovePackets()

	got := l.Dequeue("R1")
	if got == nil {
		t.Fatal("Dequeue(R1) = nil, want the packet sent by R0")
	}
	if len(got.Payload.Entries()) != 1 || got.Payload.Entries()[0] != "R0->R1" {
		t.Errorf("hop trace = %v, want [R0->R1]", got.Payload.Entries())
	}
	if l.Dequeue("R0") != nil {
		t.Error("Dequeue(R0) should be empty, packet only flows toward R1")
	}
}

func TestMovePacketsWhileDownDiscards(t *testing.T) {
	l := New("L0", "R0", "eth0", "R1", "eth1", false, nil)
	if err := l.Enqueue("R0", packet.New("a", "b")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	l.MovePackets()
	if got := l.Dequeue("R1"); got != nil {
		t.Error("a down link must discard queued packets instead of delivering them")
	}
}

func TestUpdateProperties(t *testing.T) {
	l := New("L0", "R0", "eth0", "R1", "eth1", true, map[string]string{"revenues": "1"})
	l.UpdateProperties(map[string]string{"revenues": "2", "extra": "x"})
	got := l.GetProperties()
	if got["revenues"] != "2" || got["extra"] != "x" {
		t.Errorf("GetProperties() = %v, want merged revenues=2 extra=x", got)
	}
}
