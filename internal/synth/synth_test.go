package synth

import (
	"encoding/json"
	"strings"
	"testing"

	"subforge/internal/model"
	"subforge/internal/singbox/parser"
)

const (
	profA = "aaaa1111-0000-0000-0000-000000000000"
	profB = "bbbb2222-0000-0000-0000-000000000000"
)

func node(typ, tag string) *model.Outbound {
	return &model.Outbound{Type: typ, Tag: tag, Server: tag + ".example.com", ServerPort: 443, Password: "p"}
}

func fixture() Input {
	a := &model.Config{Outbounds: []*model.Outbound{
		{Type: model.TypeURLTest, Tag: "Auto", Outbounds: []string{"HK 01", "JP 01", "gone"}, Interval: "300"},
		node(model.TypeTrojan, "HK 01"),
		node(model.TypeTrojan, "JP 01"),
		{Type: model.TypeDirect, Tag: model.TagDirect},
	}}
	b := &model.Config{Outbounds: []*model.Outbound{
		{Type: model.TypeSelector, Tag: "Streaming", Outbounds: []string{"HK 01", "US 01"}},
		node(model.TypeHysteria2, "HK 01"),
		node(model.TypeHysteria2, "US 01"),
	}}
	return Input{
		ActiveProfileID: profA,
		Sources: []Source{
			{Profile: model.Profile{ID: profA, Name: "Alpha"}, Config: a},
			{Profile: model.Profile{ID: profB, Name: "Beta"}, Config: b},
		},
		Settings: model.DefaultRoutingSettings(),
	}
}

func checkInvariants(t *testing.T, cfg *model.SynthesizedConfig) {
	t.Helper()
	seen := map[string]bool{}
	for _, o := range cfg.Outbounds {
		if seen[o.Tag] {
			t.Errorf("duplicate tag %q", o.Tag)
		}
		seen[o.Tag] = true
	}
	for _, o := range cfg.Outbounds {
		if !o.IsGroup() {
			continue
		}
		if len(o.Outbounds) == 0 {
			t.Errorf("group %q is empty", o.Tag)
		}
		for _, m := range o.Outbounds {
			if !seen[m] {
				t.Errorf("group %q references missing %q", o.Tag, m)
			}
		}
	}
	for _, o := range cfg.Outbounds {
		if d := o.Detour(); d != "" && !seen[d] {
			t.Errorf("outbound %q detours through missing %q", o.Tag, d)
		}
	}
	for _, r := range cfg.Route.Rules {
		if !seen[r.Outbound] {
			t.Errorf("rule targets missing outbound %q", r.Outbound)
		}
	}
}

func chained(tag, via string) *model.Outbound {
	o := node(model.TypeShadowsocks, tag)
	o.SetDetour(via)
	return o
}

func TestSynthesize_ImportedDetour(t *testing.T) {
	in := fixture()
	b := in.Sources[1].Config
	b.Outbounds = append(b.Outbounds, chained("Chained", "HK 01"), chained("Orphan", "nowhere"))
	in.ActiveNodeID = parser.StableID(profB, "Chained")

	res := Synthesize(in)
	checkInvariants(t, res.Config)

	c := res.Config.Find(res.NodeTags[in.ActiveNodeID])
	if c == nil {
		t.Fatal("chained node not imported")
	}
	relay := res.NodeTags[parser.StableID(profB, "HK 01")]
	if relay != "HK 01-bbbb" || c.Detour() != relay {
		t.Errorf("detour = %q, relay tag = %q", c.Detour(), relay)
	}
	if res.Config.Find(relay).Type != model.TypeHysteria2 {
		t.Error("detour resolved to the active profile's node")
	}

	in.ActiveNodeID = parser.StableID(profB, "Orphan")
	res = Synthesize(in)
	checkInvariants(t, res.Config)
	if o := res.Config.Find(res.NodeTags[in.ActiveNodeID]); o == nil || o.Detour() != "" {
		t.Errorf("unresolved detour kept: %+v", o)
	}
}

func TestSynthesize_ActiveDetourFollowsRename(t *testing.T) {
	in := fixture()
	a := in.Sources[0].Config
	a.Outbounds = append(a.Outbounds, node(model.TypeTrojan, model.TagProxy), chained("Via", model.TagProxy), chained("Gone", "missing"))

	res := Synthesize(in)
	checkInvariants(t, res.Config)

	renamed := res.NodeTags[parser.StableID(profA, model.TagProxy)]
	if renamed == "" || renamed == model.TagProxy {
		t.Fatalf("reserved tag not renamed: %q", renamed)
	}
	if got := res.Config.Find("Via").Detour(); got != renamed {
		t.Errorf("detour = %q, want %q", got, renamed)
	}
	if got := res.Config.Find("Gone").Detour(); got != "" {
		t.Errorf("dangling detour = %q", got)
	}
}

func TestSynthesize_ImportCollision(t *testing.T) {
	in := fixture()
	bNode := parser.StableID(profB, "HK 01")
	in.Settings.Rules = []model.CustomRule{
		{Name: "media", Type: model.RuleDomainSuffix, Values: []string{"netflix.com"}, Target: model.NodeTarget(bNode)},
	}

	res := Synthesize(in)
	checkInvariants(t, res.Config)

	want := "HK 01-bbbb"
	if got := res.NodeTags[bNode]; got != want {
		t.Fatalf("node tag = %q, want %q", got, want)
	}
	imported := res.Config.Find(want)
	if imported == nil || imported.Type != model.TypeHysteria2 {
		t.Fatalf("imported outbound = %+v", imported)
	}
	if res.Config.Find("HK 01").Type != model.TypeTrojan {
		t.Error("active node was replaced")
	}

	var rule *model.Rule
	for i := range res.Config.Route.Rules {
		if len(res.Config.Route.Rules[i].DomainSuffix) > 0 {
			rule = &res.Config.Route.Rules[i]
		}
	}
	if rule == nil || rule.Outbound != want {
		t.Errorf("rule = %+v", rule)
	}
}

func TestSynthesize_SecondCollisionUsesHash(t *testing.T) {
	in := fixture()
	in.Sources[0].Config.Outbounds = append(in.Sources[0].Config.Outbounds, node(model.TypeTrojan, "HK 01-bbbb"))
	bNode := parser.StableID(profB, "HK 01")
	in.Settings.Apps = []model.AppRule{{App: "telegram", Target: model.NodeTarget(bNode)}}

	res := Synthesize(in)
	checkInvariants(t, res.Config)
	tag := res.NodeTags[bNode]
	if !strings.HasPrefix(tag, "HK 01-") || tag == "HK 01-bbbb" {
		t.Errorf("tag = %q", tag)
	}
	if again := Synthesize(fixtureWith(in)).NodeTags[bNode]; again != tag {
		t.Errorf("second collision not deterministic: %q vs %q", tag, again)
	}
}

func fixtureWith(in Input) Input {
	out := in
	out.Sources = nil
	for _, s := range in.Sources {
		out.Sources = append(out.Sources, Source{Profile: s.Profile, Config: s.Config.Clone()})
	}
	return out
}

func TestSynthesize_DeletedNodeFallsBackToProxy(t *testing.T) {
	in := fixture()
	in.Settings.RuleSets = []model.RuleSet{{
		Tag:    "geosite-openai",
		URL:    "https://example.com/geosite-openai.srs",
		Target: model.NodeTarget("0123456789abcdef0123456789abcdef"),
	}}
	res := Synthesize(in)
	checkInvariants(t, res.Config)

	for _, r := range res.Config.Route.Rules {
		if len(r.RuleSet) == 1 && r.RuleSet[0] == "geosite-openai" {
			if r.Outbound != model.TagProxy {
				t.Errorf("outbound = %q, want %q", r.Outbound, model.TagProxy)
			}
			return
		}
	}
	t.Fatal("rule set rule missing")
}

func TestSynthesize_GroupsAndProfiles(t *testing.T) {
	in := fixture()
	in.Settings.AppGroups = []model.AppGroup{
		{Name: "video", Apps: []string{"vlc"}, Target: model.GroupTarget("Streaming")},
		{Name: "work", Apps: []string{"slack"}, Target: model.ProfileTarget(profB)},
		{Name: "auto", Apps: []string{"curl"}, Target: model.GroupTarget("Auto")},
		{Name: "nothing", Apps: []string{"x"}, Target: model.GroupTarget("Missing")},
	}
	res := Synthesize(in)
	cfg := res.Config
	checkInvariants(t, cfg)

	if cfg.Outbounds[0].Tag != model.TagProxy {
		t.Fatalf("first outbound = %q, want master selector", cfg.Outbounds[0].Tag)
	}
	streaming := cfg.Find("Streaming")
	if streaming == nil || strings.Join(streaming.Outbounds, "|") != "HK 01-bbbb|US 01" {
		t.Fatalf("Streaming = %+v", streaming)
	}
	profile := cfg.Find("P:Beta")
	if profile == nil || strings.Join(profile.Outbounds, "|") != "HK 01-bbbb|US 01" {
		t.Fatalf("P:Beta = %+v", profile)
	}

	// Auto exists in the active profile: its dangling member is swept and
	// the url-test is downgraded to a selector.
	auto := cfg.Find("Auto")
	if auto.Type != model.TypeSelector || strings.Join(auto.Outbounds, "|") != "HK 01|JP 01" {
		t.Errorf("Auto = %+v", auto)
	}

	got := map[string]string{}
	for _, r := range cfg.Route.Rules {
		if len(r.ProcessName) == 1 {
			got[r.ProcessName[0]] = r.Outbound
		}
	}
	want := map[string]string{"vlc": "Streaming", "slack": "P:Beta", "curl": "Auto", "x": model.TagProxy}
	for app, tag := range want {
		if got[app] != tag {
			t.Errorf("%s -> %q, want %q", app, got[app], tag)
		}
	}

	master := cfg.Find(model.TagProxy)
	if strings.Join(master.Outbounds, "|") != "HK 01|JP 01|HK 01-bbbb|US 01" {
		t.Errorf("master members = %v", master.Outbounds)
	}
}

func TestSynthesize_ActiveNodeDefault(t *testing.T) {
	in := fixture()
	in.ActiveNodeID = parser.StableID(profA, "JP 01")
	if def := Synthesize(in).Config.Find(model.TagProxy).Default; def != "JP 01" {
		t.Errorf("default = %q", def)
	}

	in.ActiveNodeID = "unknown"
	if def := Synthesize(in).Config.Find(model.TagProxy).Default; def != "HK 01" {
		t.Errorf("fallback default = %q", def)
	}

	// A node picked from another profile is imported and selected.
	in.ActiveNodeID = parser.StableID(profB, "US 01")
	if def := Synthesize(in).Config.Find(model.TagProxy).Default; def != "US 01" {
		t.Errorf("cross-profile default = %q", def)
	}
}

func TestSynthesize_EmptyActive(t *testing.T) {
	res := Synthesize(Input{Settings: model.DefaultRoutingSettings()})
	checkInvariants(t, res.Config)
	master := res.Config.Find(model.TagProxy)
	if len(master.Outbounds) != 1 || master.Outbounds[0] != model.TagDirect {
		t.Errorf("master = %+v", master)
	}
	for _, tag := range []string{model.TagDirect, model.TagBlock, model.TagDNS} {
		if res.Config.Find(tag) == nil {
			t.Errorf("sentinel %s missing", tag)
		}
	}
}

func TestSynthesize_ReservedTagSquatters(t *testing.T) {
	in := fixture()
	in.Sources[0].Config.Outbounds = append(in.Sources[0].Config.Outbounds,
		node(model.TypeTrojan, model.TagProxy),
		node(model.TypeTrojan, model.TagBlock),
	)
	res := Synthesize(in)
	checkInvariants(t, res.Config)
	if res.Config.Find(model.TagProxy).Type != model.TypeSelector {
		t.Error("PROXY must be the master selector")
	}
	if res.Config.Find(model.TagBlock).Type != model.TypeBlock {
		t.Error("block must be the block sentinel")
	}
	if id := parser.StableID(profA, model.TagBlock); res.NodeTags[id] == model.TagBlock {
		t.Errorf("renamed squatter still mapped to %q", res.NodeTags[id])
	}
}

func TestSynthesize_RuleOrder(t *testing.T) {
	in := fixture()
	bNode := parser.StableID(profB, "US 01")
	in.Settings.AdBlock.Enabled = true
	in.Settings.Rules = []model.CustomRule{
		{Name: "corp", Type: model.RuleDomainSuffix, Values: []string{"corp.example"}, Target: model.Direct()},
	}
	in.Settings.RuleSets = []model.RuleSet{
		{Tag: "geoip-cn", URL: "https://example.com/geoip-cn.srs", Target: model.Direct()},
		{Tag: "geosite-youtube", URL: "https://example.com/geosite-youtube.srs", Target: model.GroupTarget("Streaming")},
		{Tag: "geosite-openai", URL: "https://example.com/geosite-openai.srs", Target: model.NodeTarget(bNode)},
		{Tag: "geosite-github", URL: "https://example.com/geosite-github.srs", Target: model.Proxy()},
	}
	in.Settings.Apps = []model.AppRule{{App: "steam", Target: model.Direct()}}

	var order []string
	for _, r := range Synthesize(in).Config.Route.Rules {
		switch {
		case len(r.Protocol) > 0:
			order = append(order, "dns")
		case len(r.Port) > 0:
			order = append(order, "quic")
		case len(r.IPCIDR) > 0:
			order = append(order, "lan")
		case len(r.DomainSuffix) > 0:
			order = append(order, "custom")
		case len(r.RuleSet) > 0:
			order = append(order, r.RuleSet[0])
		case len(r.ProcessName) > 0:
			order = append(order, "app")
		}
	}
	want := "dns|quic|lan|geosite-category-ads-all|custom|geosite-openai|geosite-youtube|geosite-github|geoip-cn|app"
	if got := strings.Join(order, "|"); got != want {
		t.Errorf("rule order:\n got %s\nwant %s", got, want)
	}
}

func TestSynthesize_Deterministic(t *testing.T) {
	build := func() []byte {
		in := fixture()
		in.Settings.AppGroups = []model.AppGroup{
			{Name: "a", Apps: []string{"a"}, Target: model.GroupTarget("Streaming")},
			{Name: "b", Apps: []string{"b"}, Target: model.ProfileTarget(profB)},
		}
		data, err := json.Marshal(Synthesize(in).Config)
		if err != nil {
			t.Fatal(err)
		}
		return data
	}
	first := build()
	for i := 0; i < 5; i++ {
		if string(build()) != string(first) {
			t.Fatal("output differs between runs")
		}
	}
}

func TestSynthesize_DoesNotMutateSources(t *testing.T) {
	in := fixture()
	before, _ := json.Marshal(in.Sources[0].Config)
	Synthesize(in)
	after, _ := json.Marshal(in.Sources[0].Config)
	if string(before) != string(after) {
		t.Error("active profile document was modified")
	}
}
