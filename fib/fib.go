// Package fib implements the per-router forwarding table: a longest-prefix
// lookup from CIDR network to an ordered list of egress interface names.
//
// This reuses the lookup strategy of the radix trie in kbgp's radix
// package (most-specific-match-wins via Contains checks) but is rebuilt
// around ForwardingTable's exact contract: exact-match getEntry,
// longest-prefix getNextHops, a monotonic write counter and the LOOPBACK
// sentinel, none of which the original trie exposed.
package fib

import (
	"net"
	"sort"
	"sync"
)

// Loopback is the sentinel egress "interface" meaning deliver locally.
const Loopback = "LOOPBACK"

type entry struct {
	network *net.IPNet
	ifaces  []string
}

// Table is a CIDR-keyed forwarding table.
type Table struct {
	mu      sync.Mutex
	entries map[string]*entry
	writes  uint64
}

// New creates an empty forwarding table.
func New() *Table {
	return &Table{entries: make(map[string]*entry)}
}

// SetEntry installs ifaces as the egress interfaces for cidr, replacing
// any existing entry. Writes monotonically increment the write counter.
func (t *Table) SetEntry(cidr string, ifaces []string) error {
	_, network, err := net.ParseCIDR(cidr)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := make([]string, len(ifaces))
	copy(cp, ifaces)
	t.entries[network.String()] = &entry{network: network, ifaces: cp}
	t.writes++
	return nil
}

// SetEntryLocal is shorthand for SetEntry(cidr, [Loopback]).
func (t *Table) SetEntryLocal(cidr string) error {
	return t.SetEntry(cidr, []string{Loopback})
}

// RemoveEntry deletes the entry for cidr, if present. This still counts
// as a write.
func (t *Table) RemoveEntry(cidr string) {
	_, network, err := net.ParseCIDR(cidr)
	if err != nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, network.String())
	t.writes++
}

// GetEntry returns the egress interfaces for an exact CIDR match, sorted.
// An unmatched lookup returns an empty (never nil-panic-prone) slice.
func (t *Table) GetEntry(cidr string) []string {
	_, network, err := net.ParseCIDR(cidr)
	if err != nil {
		return []string{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[network.String()]
	if !ok {
		return []string{}
	}
	return sortedCopy(e.ifaces)
}

// GetNextHops returns the egress interfaces of the most specific entry
// whose network contains ip, sorted. Returns an empty slice on no match.
func (t *Table) GetNextHops(ip string) []string {
	addr := net.ParseIP(ip)
	if addr == nil {
		return []string{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	var best *entry
	bestOnes, _ := 0, 0
	for _, e := range t.entries {
		if !e.network.Contains(addr) {
			continue
		}
		ones, _ := e.network.Mask.Size()
		if best == nil || ones > bestOnes {
			best = e
			bestOnes = ones
		}
	}
	if best == nil {
		return []string{}
	}
	return sortedCopy(best.ifaces)
}

// GetTotalWrites returns the number of mutating operations performed.
func (t *Table) GetTotalWrites() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writes
}

// Dump returns every CIDR entry, sorted, formatted as the original tool's
// ForwardingTable.__str__ would: "<cidr> directly connected" for a
// Loopback-only entry, "<cidr> via <ifaces>" otherwise.
func (t *Table) Dump() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	cidrs := make([]string, 0, len(t.entries))
	for cidr := range t.entries {
		cidrs = append(cidrs, cidr)
	}
	sort.Strings(cidrs)
	lines := make([]string, 0, len(cidrs))
	for _, cidr := range cidrs {
		e := t.entries[cidr]
		if len(e.ifaces) == 1 && e.ifaces[0] == Loopback {
			lines = append(lines, cidr+" directly connected")
		} else {
			lines = append(lines, cidr+" via "+joinIfaces(sortedCopy(e.ifaces)))
		}
	}
	return lines
}

func sortedCopy(s []string) []string {
	cp := make([]string, len(s))
	copy(cp, s)
	sort.Strings(cp)
	return cp
}

func joinIfaces(ifaces []string) string {
	out := ""
	for i, iface := range ifaces {
		if i > 0 {
			out += ","
		}
		out += iface
	}
	return out
}
