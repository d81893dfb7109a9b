package data

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

var testMapping = Mapping{
	Hosts: []Host{
		{Name: "h1", Role: "host", IP: "10.0.0.1", MAC: "00:00:00:00:00:01", Dpid: 2, Port: 2},
		{Name: "h2", Role: "host", IP: "10.0.0.2", MAC: "00:00:00:00:00:02", Dpid: 2, Port: 3},
	},
	Proxies: []Host{
		{Name: "p1", Role: "proxy", IP: "10.0.0.251", MAC: "00:00:00:00:00:fb", Dpid: 2, Port: 1},
	},
}

func TestMappingLookups(t *testing.T) {
	m := testMapping

	h, ok := m.HostByIP("10.0.0.2")
	if !ok || h.Name != "h2" {
		t.Error("host lookup by ip failed")
	}

	if _, ok := m.HostByIP("10.9.9.9"); ok {
		t.Error("unknown ip should not resolve")
	}

	p, ok := m.ProxyForDpid(2)
	if !ok || p.Name != "p1" {
		t.Error("proxy lookup by dpid failed")
	}

	if _, ok := m.ProxyForDpid(7); ok {
		t.Error("dpid with no proxy should not resolve")
	}
}

func TestMappingSaveLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mapping.yaml")

	err := SaveMapping(path, &testMapping)
	if err != nil {
		t.Fatal("save error: ", err)
	}

	got, err := LoadMapping(path)
	if err != nil {
		t.Fatal("load error: ", err)
	}

	if diff := cmp.Diff(&testMapping, got); diff != "" {
		t.Error("mapping mismatch: ", diff)
	}
}

func TestMappingLoadJSON(t *testing.T) {
	// the original deployments shipped the mapping as JSON; it must
	// still load
	path := filepath.Join(t.TempDir(), "mapping.json")

	content := `{
  "hosts": [
    {"name": "h1", "role": "host", "ip": "10.0.0.1", "mac": "00:00:00:00:00:01", "dpid": 2, "port": 2}
  ],
  "proxies": [
    {"name": "p1", "role": "proxy", "ip": "10.0.0.251", "mac": "00:00:00:00:00:fb", "dpid": 2, "port": 1}
  ]
}`
	err := os.WriteFile(path, []byte(content), 0644)
	if err != nil {
		t.Fatal(err)
	}

	m, err := LoadMapping(path)
	if err != nil {
		t.Fatal("load error: ", err)
	}

	if len(m.Hosts) != 1 || m.Hosts[0].Dpid != 2 {
		t.Error("json mapping not decoded")
	}
}

func TestHostAddrParsing(t *testing.T) {
	h := testMapping.Hosts[0]

	if h.IPAddr() == nil {
		t.Error("ip did not parse")
	}

	mac, err := h.MACAddr()
	if err != nil {
		t.Fatal("mac did not parse: ", err)
	}
	if mac[5] != 1 {
		t.Error("wrong mac: ", mac)
	}
}

func TestSampleAverager(t *testing.T) {
	sa := NewSampleAverager(SampleTypeRTT)

	for _, v := range []float64{1, 2, 3} {
		sa.AddSample(Sample{Type: SampleTypeRTT, Value: v})
	}

	avg := sa.GetAverage()
	if avg.Value != 2 {
		t.Error("wrong average: ", avg.Value)
	}
	if sa.Min() != 1 || sa.Max() != 3 {
		t.Error("wrong min/max")
	}

	sa.ResetAverage()
	if sa.Count() != 0 {
		t.Error("reset did not clear count")
	}
}
