package fib

import (
	"reflect"
	"testing"
)

func TestSetEntryAndGetEntry(t *testing.T) {
	tbl := New()
	if err := tbl.SetEntry("10.0.0.0/24", []string{"eth1", "eth0"}); err != nil {
		t.Fatalf("SetEntry: %v", err)
	}
	got := tbl.GetEntry("10.0.0.0/24")
	want := []string{"eth0", "eth1"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("GetEntry = %v, want %v", got, want)
	}
}

func TestSetEntryLocalIsLoopback(t *testing.T) {
	tbl := New()
	if err := tbl.SetEntryLocal("192.168.1.1/32"); err != nil {
		t.Fatalf("SetEntryLocal: %v", err)
	}
	got := tbl.GetEntry("192.168.1.1/32")
	if !reflect.DeepEqual(got, []string{Loopback}) {
		t.Errorf("GetEntry after SetEntryLocal = %v, want [%s]", got, Loopback)
	}
}

func TestLongestPrefixMatch(t *testing.T) {
	tbl := New()
	_ = tbl.SetEntry("10.0.0.0/8", []string{"wide"})
	_ = tbl.SetEntry("10.1.0.0/16", []string{"narrow"})

	got := tbl.GetNextHops("10.1.2.3")
	if !reflect.DeepEqual(got, []string{"narrow"}) {
		t.Errorf("GetNextHops should prefer the more specific /16, got %v", got)
	}

	got = tbl.GetNextHops("10.2.2.3")
	if !reflect.DeepEqual(got, []string{"wide"}) {
		t.Errorf("GetNextHops should fall back to the /8, got %v", got)
	}
}

func TestGetNextHopsNoMatch(t *testing.T) {
	tbl := New()
	if got := tbl.GetNextHops("8.8.8.8"); len(got) != 0 {
		t.Errorf("GetNextHops with no entries = %v, want empty", got)
	}
}

func TestRemoveEntry(t *testing.T) {
	tbl := New()
	_ = tbl.SetEntry("10.0.0.0/24", []string{"eth0"})
	tbl.RemoveEntry("10.0.0.0/24")
	if got := tbl.GetEntry("10.0.0.0/24"); len(got) != 0 {
		t.Errorf("GetEntry after RemoveEntry = %v, want empty", got)
	}
}

func TestGetTotalWrites(t *testing.T) {
	tbl := New()
	_ = tbl.SetEntry("10.0.0.0/24", []string{"eth0"})
	_ = tbl.SetEntry("10.0.1.0/24", []string{"eth1"})
	tbl.RemoveEntry("10.0.0.0/24")
	if got := tbl.GetTotalWrites(); got != 3 {
		t.Errorf("GetTotalWrites = %d, want 3", got)
	}
}

func TestDump(t *testing.T) {
	tbl := New()
	_ = tbl.SetEntryLocal("10.0.0.1/32")
	_ = tbl.SetEntry("10.0.1.0/24", []string{"eth0", "eth1"})
	got := tbl.Dump()
	want := []string{
		"10.0.0.1/32 directly connected",
		"10.0.1.0/24 via eth0,eth1",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Dump() = %v, want %v", got, want)
	}
}
