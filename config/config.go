// Package config implements the JSON configuration loader: it decodes
// the routers/routingProtocols/links/events schema from spec.md §6 into
// the constructor arguments the simulator kernel and EGP checker need,
// including the routing graph the checker requires for its diameter
// computation.
//
// Grounded on the original tool's lib/config.py (the same field names
// and per-router routingProtocols merge order are preserved) and on
// kbgp's own preference for plain encoding/json struct decoding (kbgp
// has no config loader of its own, but nothing in the retrieved pack
// reaches for a config library — see DESIGN.md's standard-library
// justification).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/egpsim/egpsim/checker"
	"github.com/egpsim/egpsim/egp"
	"github.com/egpsim/egpsim/ext"
	"github.com/egpsim/egpsim/link"
	"github.com/egpsim/egpsim/router"
	"github.com/egpsim/egpsim/sim"
)

type rawRouter struct {
	RID             string          `json:"rId"`
	IPAddress       string          `json:"ipAddress"`
	RoutingProtocol string          `json:"routingProtocol"`
	UpdateInterval  int             `json:"updateInterval"`
	Verbose         json.RawMessage `json:"verbose"`
}

type rawLink struct {
	ID         string            `json:"id"`
	Interfaces [2]string         `json:"interfaces"`
	Status     string            `json:"status"`
	Properties map[string]string `json:"properties"`
}

// rawEvent's "link" key does double duty in the original schema: a
// two-element array of interface names for uplink/downlink, or a bare
// link-id string for newlinkproperties. Decoded lazily by toEvent.
type rawEvent struct {
	Type       string            `json:"type"`
	Time       int               `json:"time"`
	Src        string            `json:"src"`
	Dest       string            `json:"dest"`
	TTL        int               `json:"ttl"`
	Link       json.RawMessage   `json:"link"`
	Properties map[string]string `json:"properties"`
	Args       string            `json:"args"`
	Router     string            `json:"router"`
	Prefix     string            `json:"prefix"`
	ASPath     string            `json:"AS-path"`
}

type rawConfig struct {
	Routers          []rawRouter                           `json:"routers"`
	RoutingProtocols map[string]map[string]json.RawMessage `json:"routingProtocols"`
	Links            []rawLink                             `json:"links"`
	Events           []rawEvent                             `json:"events"`
}

// Result is everything Load produces: a fully wired kernel (routers,
// links, events) with its checker already attached.
type Result struct {
	Kernel *sim.Kernel
}

// Load reads path, decodes it against the schema in spec.md §6, and
// returns a simulation ready to Run.
func Load(path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var raw rawConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	k := sim.New()
	routerInfos := make(map[string]*checker.RouterInfo, len(raw.Routers))
	var linkInfos []checker.LinkInfo
	var destinations []checker.Destination

	for _, rr := range raw.Routers {
		r := router.New(rr.RID, rr.IPAddress)
		if rr.UpdateInterval > 1 {
			r.SetUpdateInterval(rr.UpdateInterval)
		}
		if verboseFlag(rr.Verbose) {
			r.SetVerbose(true)
		}

		info := &checker.RouterInfo{ID: rr.RID, Router: r}

		params, err := mergedParams(raw.RoutingProtocols, rr.RoutingProtocol, rr.RID)
		if err != nil {
			return nil, err
		}

		switch rr.RoutingProtocol {
		case "IGP":
			info.Kind = checker.KindIGP
			if err := r.FIB().SetEntryLocal(cidrFromIP(rr.IPAddress)); err != nil {
				return nil, fmt.Errorf("config: router %s: %w", rr.RID, err)
			}
		case "ext":
			d := ext.New()
			if err := d.SetParameters(params); err != nil {
				return nil, fmt.Errorf("config: router %s: %w", rr.RID, err)
			}
			if err := r.SetRoutingDaemon(d); err != nil {
				return nil, fmt.Errorf("config: router %s: %w", rr.RID, err)
			}
			info.Kind = checker.KindEXT
			info.ASID = d.GetASID()
			info.Relation = d.GetRelation()
			info.Routes = d
			info.Churn = d
		case "EGP":
			d := egp.New()
			if err := d.SetParameters(params); err != nil {
				return nil, fmt.Errorf("config: router %s: %w", rr.RID, err)
			}
			if err := r.SetRoutingDaemon(d); err != nil {
				return nil, fmt.Errorf("config: router %s: %w", rr.RID, err)
			}
			info.Kind = checker.KindEGP
			info.ASID = d.GetASID()
			info.Routes = d
			info.Churn = d
		default:
			return nil, fmt.Errorf("config: router %s: unknown routingProtocol %q", rr.RID, rr.RoutingProtocol)
		}

		k.AddRouter(r)
		routerInfos[rr.RID] = info
	}

	for _, rl := range raw.Links {
		r0, i0, err := splitInterface(rl.Interfaces[0])
		if err != nil {
			return nil, fmt.Errorf("config: link %s: %w", rl.ID, err)
		}
		r1, i1, err := splitInterface(rl.Interfaces[1])
		if err != nil {
			return nil, fmt.Errorf("config: link %s: %w", rl.ID, err)
		}
		up, err := parseLinkStatus(rl.Status)
		if err != nil {
			return nil, fmt.Errorf("config: link %s: %w", rl.ID, err)
		}
		revenues, err := link.GetRevenues(rl.Properties)
		if err != nil {
			return nil, fmt.Errorf("config: link %s: %w", rl.ID, err)
		}
		l := link.New(rl.ID, r0, i0, r1, i1, up, rl.Properties)
		k.AddLink(l, 0, 1)

		linkInfos = append(linkInfos, checker.LinkInfo{
			ID: rl.ID, RouterA: r0, IfaceA: i0, RouterB: r1, IfaceB: i1,
			Revenues: revenues, Link: l,
		})
	}

	for _, re := range raw.Events {
		e, dests, err := toEvent(re)
		if err != nil {
			return nil, err
		}
		if e.Op == sim.OpStop {
			k.StopTime = e.Args.(sim.StopArgs).Time
			continue
		}
		k.AddEvent(e)
		destinations = append(destinations, dests...)
	}

	c := checker.New(routerInfos, linkInfos, destinations)
	k.Checkers = append(k.Checkers, c)

	return &Result{Kernel: k}, nil
}

func verboseFlag(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s == "True" || s == "true"
	}
	return false
}

// mergedParams merges routingProtocols[proto]["all-routers"] with
// routingProtocols[proto][rID], the per-router entry overriding the
// blanket one key-wise, matching config.py's dict.update order.
func mergedParams(protocols map[string]map[string]json.RawMessage, proto, rID string) (json.RawMessage, error) {
	section, ok := protocols[proto]
	if !ok {
		return json.RawMessage("{}"), nil
	}
	merged := make(map[string]json.RawMessage)
	if all, ok := section["all-routers"]; ok {
		if err := mergeInto(merged, all); err != nil {
			return nil, err
		}
	}
	if perRouter, ok := section[rID]; ok {
		if err := mergeInto(merged, perRouter); err != nil {
			return nil, err
		}
	}
	out, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("config: marshaling merged %s params for %s: %w", proto, rID, err)
	}
	return out, nil
}

func mergeInto(dst map[string]json.RawMessage, raw json.RawMessage) error {
	var src map[string]json.RawMessage
	if err := json.Unmarshal(raw, &src); err != nil {
		return fmt.Errorf("config: invalid routingProtocols section: %w", err)
	}
	for k, v := range src {
		dst[k] = v
	}
	return nil
}

func splitInterface(spec string) (routerID, iface string, err error) {
	idx := strings.Index(spec, "-")
	if idx <= 0 || idx == len(spec)-1 {
		return "", "", fmt.Errorf("malformed interface %q, want <routerId>-<ifaceName>", spec)
	}
	return spec[:idx], spec, nil
}

func parseLinkStatus(status string) (bool, error) {
	switch status {
	case "up":
		return true, nil
	case "down":
		return false, nil
	default:
		return false, fmt.Errorf("unknown link status %q", status)
	}
}

func cidrFromIP(ip string) string {
	if strings.Contains(ip, "/") {
		return ip
	}
	return ip + "/32"
}

// toEvent converts one decoded JSON event into its typed sim.Event plus
// any destinations it introduces to the checker (advert/addprivatepath).
func toEvent(re rawEvent) (*sim.Event, []checker.Destination, error) {
	switch re.Type {
	case "send":
		return &sim.Event{Op: sim.OpSend, Time: re.Time, Args: sim.SendArgs{Src: re.Src, Dst: re.Dest, TTL: re.TTL}}, nil, nil
	case "uplink", "downlink":
		var ifaces [2]string
		if err := json.Unmarshal(re.Link, &ifaces); err != nil {
			return nil, nil, fmt.Errorf("config: event %s at t=%d: %q \"link\" must name exactly two interfaces: %w", re.Type, re.Time, re.Link, err)
		}
		op := sim.OpDownlink
		if re.Type == "uplink" {
			op = sim.OpUplink
		}
		return &sim.Event{Op: op, Time: re.Time, Args: sim.LinkStateArgs{Iface0: ifaces[0], Iface1: ifaces[1]}}, nil, nil
	case "newlinkproperties":
		var linkID string
		if err := json.Unmarshal(re.Link, &linkID); err != nil {
			return nil, nil, fmt.Errorf("config: event newlinkproperties at t=%d: \"link\" must be a link id: %w", re.Time, err)
		}
		return &sim.Event{Op: sim.OpNewLinkProps, Time: re.Time, Args: sim.LinkPropsArgs{LinkID: linkID, Properties: re.Properties}}, nil, nil
	case "advert":
		e := &sim.Event{Op: sim.OpAdvert, Time: re.Time, Args: sim.RouteArgs{Router: re.Router, Prefix: re.Prefix, ASPath: re.ASPath}}
		return e, destinationsFor(re.Router, re.Prefix), nil
	case "addprivatepath":
		e := &sim.Event{Op: sim.OpAddPrivatePath, Time: re.Time, Args: sim.RouteArgs{Router: re.Router, Prefix: re.Prefix, ASPath: re.ASPath}}
		return e, destinationsFor(re.Router, re.Prefix), nil
	case "dumpfib":
		return &sim.Event{Op: sim.OpDumpFIB, Time: re.Time, Args: sim.DumpArgs{Target: re.Args}}, nil, nil
	case "dumpstats":
		return &sim.Event{Op: sim.OpDumpStats, Time: re.Time, Args: sim.DumpArgs{Target: re.Args}}, nil, nil
	case "stop":
		return &sim.Event{Op: sim.OpStop, Time: re.Time, Args: sim.StopArgs{Time: re.Time}}, nil, nil
	default:
		return nil, nil, fmt.Errorf("config: event at t=%d: unrecognized type %q", re.Time, re.Type)
	}
}

func destinationsFor(routerID, prefix string) []checker.Destination {
	var dests []checker.Destination
	for _, p := range strings.Fields(prefix) {
		dests = append(dests, checker.Destination{Prefix: p, Origin: routerID})
	}
	return dests
}
