package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleConfig = `{
  "routers": [
    {"rId": "R0", "ipAddress": "10.0.0.1", "routingProtocol": "EGP"},
    {"rId": "R1", "ipAddress": "10.0.0.2", "routingProtocol": "ext"}
  ],
  "routingProtocols": {
    "EGP": {
      "all-routers": {"AS-ID": "1", "relations": {"R0-eth0": "customer"}}
    },
    "ext": {
      "all-routers": {"AS-ID": "2", "relation": "customer"}
    }
  },
  "links": [
    {"id": "L0", "interfaces": ["R0-eth0", "R1-eth0"], "status": "up", "properties": {}}
  ],
  "events": [
    {"type": "advert", "time": 1, "router": "R1", "prefix": "10.1.0.0/24", "AS-path": "2"},
    {"type": "dumpfib", "time": 3, "args": "all"},
    {"type": "stop", "time": 4}
  ]
}`

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "sim.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadBuildsRoutersAndLinks(t *testing.T) {
	path := writeTempConfig(t, sampleConfig)
	result, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(result.Kernel.Routers) != 2 {
		t.Fatalf("Kernel.Routers has %d entries, want 2", len(result.Kernel.Routers))
	}
	if _, ok := result.Kernel.Routers["R0"]; !ok {
		t.Error("router R0 missing from kernel")
	}
	if len(result.Kernel.Links) != 1 {
		t.Errorf("Kernel.Links has %d entries, want 1", len(result.Kernel.Links))
	}
	if len(result.Kernel.Checkers) != 1 {
		t.Errorf("Kernel.Checkers has %d entries, want 1", len(result.Kernel.Checkers))
	}
}

func TestLoadHonorsStopEvent(t *testing.T) {
	path := writeTempConfig(t, sampleConfig)
	result, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if result.Kernel.StopTime != 4 {
		t.Errorf("StopTime = %d, want 4 (from the stop event)", result.Kernel.StopTime)
	}
}

func TestLoadRunsEndToEnd(t *testing.T) {
	path := writeTempConfig(t, sampleConfig)
	result, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	var out bytes.Buffer
	if err := result.Kernel.Run(&out); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(out.String(), "Simulation Report") {
		t.Errorf("Run output missing report header:\n%s", out.String())
	}
}

func TestLoadRejectsUnknownRoutingProtocol(t *testing.T) {
	bad := strings.Replace(sampleConfig, `"routingProtocol": "ext"`, `"routingProtocol": "bogus"`, 1)
	path := writeTempConfig(t, bad)
	if _, err := Load(path); err == nil {
		t.Error("Load should reject an unrecognized routingProtocol")
	}
}

func TestSplitInterface(t *testing.T) {
	routerID, iface, err := splitInterface("R0-eth0")
	if err != nil {
		t.Fatalf("splitInterface: %v", err)
	}
	if routerID != "R0" {
		t.Errorf("routerID = %q, want R0", routerID)
	}
	if iface != "R0-eth0" {
		t.Errorf("iface = %q, want the full spec string R0-eth0", iface)
	}
}

func TestSplitInterfaceMalformed(t *testing.T) {
	if _, _, err := splitInterface("noeth"); err == nil {
		t.Error("splitInterface should reject a string with no dash")
	}
}

func TestMergedParamsOverridesAllRouters(t *testing.T) {
	protocols := map[string]map[string]json.RawMessage{
		"EGP": {
			"all-routers": json.RawMessage(`{"AS-ID":"1","relations":{"eth0":"peer"}}`),
			"R0":          json.RawMessage(`{"relations":{"eth0":"customer"}}`),
		},
	}
	got, err := mergedParams(protocols, "EGP", "R0")
	if err != nil {
		t.Fatalf("mergedParams: %v", err)
	}
	if !strings.Contains(string(got), `"customer"`) {
		t.Errorf("mergedParams() = %s, want the per-router override to win", got)
	}
	if !strings.Contains(string(got), `"AS-ID":"1"`) {
		t.Errorf("mergedParams() = %s, want the blanket AS-ID preserved", got)
	}
}
