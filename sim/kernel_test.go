package sim

import (
	"bytes"
	"strings"
	"testing"

	"github.com/egpsim/egpsim/link"
	"github.com/egpsim/egpsim/router"
)

func twoRouterKernel(t *testing.T) (*Kernel, *router.Router, *router.Router, *link.Link) {
	t.Helper()
	r0 := router.New("R0", "10.0.0.1")
	r1 := router.New("R1", "10.0.0.2")
	if err := r0.FIB().SetEntry("10.0.0.2/32", []string{"eth0"}); err != nil {
		t.Fatalf("SetEntry: %v", err)
	}
	if err := r1.FIB().SetEntryLocal("10.0.0.2/32"); err != nil {
		t.Fatalf("SetEntryLocal: %v", err)
	}
	l := link.New("L0", "R0", "eth0", "R1", "eth0", true, nil)

	k := New()
	k.AddRouter(r0)
	k.AddRouter(r1)
	k.AddLink(l, 0, 1)
	return k, r0, r1, l
}

func TestRunDeliversSendEventAcrossLink(t *testing.T) {
	k, _, r1, _ := twoRouterKernel(t)
	k.AddEvent(&Event{Op: OpSend, Time: 1, Args: SendArgs{Src: "R0", Dst: "10.0.0.2"}})
	k.StopTime = 3

	var out bytes.Buffer
	if err := k.Run(&out); err != nil {
		t.Fatalf("Run: %v", err)
	}
	stats := r1.DumpTrafficStats()
	if len(stats) == 0 || !strings.Contains(stats[0], "recv=1") {
		t.Errorf("R1 stats = %v, want recv=1", stats)
	}
}

func TestRunWarnsAboutUnprocessedEvents(t *testing.T) {
	k, _, _, _ := twoRouterKernel(t)
	var logged []string
	k.SetLogger(func(line string) { logged = append(logged, line) })
	k.AddEvent(&Event{Op: OpSend, Time: 100, Args: SendArgs{Src: "R0", Dst: "10.0.0.2"}})
	k.StopTime = 3

	var out bytes.Buffer
	if err := k.Run(&out); err != nil {
		t.Fatalf("Run: %v", err)
	}
	found := false
	for _, l := range logged {
		if strings.Contains(l, "not simulated") {
			found = true
		}
	}
	if !found {
		t.Error("expected a warning about the unprocessed future event")
	}
}

func TestLinkFlapDropsThenRestoresDelivery(t *testing.T) {
	k, _, r1, _ := twoRouterKernel(t)
	k.AddEvent(&Event{Op: OpDownlink, Time: 1, Args: LinkStateArgs{Iface0: "eth0", Iface1: "eth0"}})
	k.AddEvent(&Event{Op: OpSend, Time: 1, Args: SendArgs{Src: "R0", Dst: "10.0.0.2"}})
	k.AddEvent(&Event{Op: OpUplink, Time: 2, Args: LinkStateArgs{Iface0: "eth0", Iface1: "eth0"}})
	k.AddEvent(&Event{Op: OpSend, Time: 2, Args: SendArgs{Src: "R0", Dst: "10.0.0.2"}})
	k.StopTime = 4

	var out bytes.Buffer
	if err := k.Run(&out); err != nil {
		t.Fatalf("Run: %v", err)
	}
	stats := r1.DumpTrafficStats()
	if len(stats) == 0 || !strings.Contains(stats[0], "recv=1") {
		t.Errorf("R1 stats = %v, want exactly one delivery (the first was dropped while the link was down)", stats)
	}
}

func TestDumpFibAndDumpStatsEvents(t *testing.T) {
	k, _, _, _ := twoRouterKernel(t)
	var logged []string
	k.SetLogger(func(line string) { logged = append(logged, line) })
	k.AddEvent(&Event{Op: OpDumpFIB, Time: 1, Args: DumpArgs{Target: "all"}})
	k.AddEvent(&Event{Op: OpDumpStats, Time: 1, Args: DumpArgs{Target: "R0"}})
	k.StopTime = 2

	var out bytes.Buffer
	if err := k.Run(&out); err != nil {
		t.Fatalf("Run: %v", err)
	}
	found := false
	for _, l := range logged {
		if strings.Contains(l, "10.0.0.2/32") {
			found = true
		}
	}
	if !found {
		t.Error("dumpfib should have logged R0's route to 10.0.0.2/32")
	}
}

func TestStopEventLowersStopTime(t *testing.T) {
	k, _, _, _ := twoRouterKernel(t)
	k.StopTime = 100
	k.AddEvent(&Event{Op: OpStop, Time: 2, Args: StopArgs{Time: 2}})

	var out bytes.Buffer
	if err := k.Run(&out); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// processEvents fires the stop event at now == 2, lowering StopTime to
	// 2, so the loop exits after tick 2 instead of running to 99.
	if k.StopTime != 2 {
		t.Errorf("StopTime = %d, want 2 (lowered by the stop event)", k.StopTime)
	}
}

func TestDispatchUnknownRouterErrors(t *testing.T) {
	k := New()
	k.AddEvent(&Event{Op: OpSend, Time: 1, Args: SendArgs{Src: "ghost", Dst: "10.0.0.2"}})
	k.StopTime = 2
	var out bytes.Buffer
	if err := k.Run(&out); err == nil {
		t.Error("Run should error on a send event naming an unregistered router")
	}
}
