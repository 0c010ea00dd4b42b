package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"subforge/internal/model"
)

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Probe.URL == "" || cfg.Fetch.Timeout != 30*time.Second || len(cfg.Fetch.Identities) == 0 {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if !cfg.Routing.BlockQUIC || cfg.Routing.Inbound.MixedPort != 2080 {
		t.Errorf("routing defaults = %+v", cfg.Routing)
	}
	if got := cfg.HistoryDB(); got != filepath.Join("data", "history.db") {
		t.Errorf("HistoryDB = %q", got)
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := `
data:
  dir: /var/lib/subforge
fetch:
  timeout: 12s
  proxy: 127.0.0.1:1080
  identities: []
probe:
  timeout: 3s
  retries: -2
routing:
  block_quic: false
  rules:
    - name: corp
      type: domain_suffix
      values: [corp.example.com]
      target: {mode: direct}
  rule_sets:
    - tag: geosite-openai
      url: https://example.com/openai.srs
      target: {mode: node, profile: p1, node_name: "US 01"}
output:
  path: /etc/sing-box/config.json
  publishers:
    - name: disk
      type: file
    - name: screen
      type: stdout
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Fetch.Timeout != 12*time.Second || cfg.Fetch.Proxy != "127.0.0.1:1080" {
		t.Errorf("fetch = %+v", cfg.Fetch)
	}
	if len(cfg.Fetch.Identities) == 0 {
		t.Error("empty identity list should fall back to defaults")
	}
	if cfg.Probe.Timeout != 3*time.Second || cfg.Probe.Retries != 0 {
		t.Errorf("probe = %+v", cfg.Probe)
	}
	if cfg.Probe.URL == "" {
		t.Error("unset probe url lost its default")
	}
	if cfg.Routing.BlockQUIC || !cfg.Routing.BypassLAN {
		t.Errorf("routing flags = %+v", cfg.Routing)
	}
	if len(cfg.Routing.Rules) != 1 || cfg.Routing.Rules[0].Target.Mode != model.TargetDirect {
		t.Errorf("rules = %+v", cfg.Routing.Rules)
	}
	if rs := cfg.Routing.RuleSets; len(rs) != 1 || rs[0].Target.NodeName != "US 01" {
		t.Errorf("rule sets = %+v", rs)
	}
	if got := cfg.HistoryDB(); got != "/var/lib/subforge/history.db" {
		t.Errorf("HistoryDB = %q", got)
	}

	cfg.FilterPublishers([]string{"screen"})
	if len(cfg.Output.Publishers) != 1 || cfg.Output.Publishers[0].Type != "stdout" {
		t.Errorf("publishers = %+v", cfg.Output.Publishers)
	}
}

func TestLoad_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(path, []byte("probe: [unclosed"), 0o644)
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}
