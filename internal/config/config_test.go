// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"strings"
	"testing"
	"time"
)

const sampleConf = `
# sample igmpproxy-style config
quickleave

phyint eth0 upstream ratelimit 0

phyint eth1 downstream threshold 1 altnet 192.168.1.0/24 whitelist 239.0.0.0/8
phyint eth2 disabled
`

func TestParseSampleConfig(t *testing.T) {
	cfg, err := Parse(strings.NewReader(sampleConf))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if !cfg.QuickLeave {
		t.Error("expected quickleave enabled")
	}
	if len(cfg.Interfaces) != 3 {
		t.Fatalf("expected 3 interfaces, got %d", len(cfg.Interfaces))
	}

	up, ok := cfg.Upstream()
	if !ok || up.Name != "eth0" {
		t.Fatalf("expected eth0 upstream, got %+v ok=%v", up, ok)
	}

	downs := cfg.Downstreams()
	if len(downs) != 1 || downs[0].Name != "eth1" {
		t.Fatalf("expected single downstream eth1, got %+v", downs)
	}
	if downs[0].Threshold != 1 {
		t.Errorf("expected threshold 1, got %d", downs[0].Threshold)
	}
	if len(downs[0].AltNets) != 1 || downs[0].AltNets[0].String() != "192.168.1.0/24" {
		t.Errorf("expected altnet 192.168.1.0/24, got %v", downs[0].AltNets)
	}
	if len(downs[0].Whitelists) != 1 || downs[0].Whitelists[0].String() != "239.0.0.0/8" {
		t.Errorf("expected whitelist 239.0.0.0/8, got %v", downs[0].Whitelists)
	}
}

func TestParseRejectsNoUpstream(t *testing.T) {
	_, err := Parse(strings.NewReader("phyint eth1 downstream\n"))
	if err == nil {
		t.Fatal("expected error for missing upstream")
	}
}

func TestParseRejectsMultipleUpstream(t *testing.T) {
	_, err := Parse(strings.NewReader("phyint eth0 upstream\nphyint eth1 upstream\n"))
	if err == nil {
		t.Fatal("expected error for multiple upstreams")
	}
}

func TestParseRejectsUnknownRole(t *testing.T) {
	_, err := Parse(strings.NewReader("phyint eth0 bogus\n"))
	if err == nil {
		t.Fatal("expected error for unknown role")
	}
}

func TestParseSkipsUnknownDirective(t *testing.T) {
	cfg, err := Parse(strings.NewReader("mumble frotz\nphyint eth0 upstream\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Interfaces) != 1 {
		t.Fatalf("expected unknown directive to be skipped, got %+v", cfg.Interfaces)
	}
}

func TestDefaultTimersFormulas(t *testing.T) {
	d := DefaultTimers()
	if got := d.GMI(); got != 260*time.Second {
		t.Errorf("GMI = %v, want 260s", got)
	}
	if got := d.OQPI(); got != 255*time.Second {
		t.Errorf("OQPI = %v, want 255s", got)
	}
	if got := d.LMQT(); got != 2*time.Second {
		t.Errorf("LMQT = %v, want 2s", got)
	}
}
