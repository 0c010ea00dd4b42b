package synth

import (
	"sort"
	"strconv"
	"strings"

	"subforge/internal/logger"
	"subforge/internal/model"
)

// LANCIDRs are bypassed when BypassLAN is set.
var LANCIDRs = []string{
	"10.0.0.0/8",
	"100.64.0.0/10",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"224.0.0.0/4",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
}

const (
	inboundMixed = "mixed-in"
	inboundTUN   = "tun-in"

	dnsRemote = "dns-remote"
	dnsLocal  = "dns-local"
	dnsBlock  = "dns-block"
)

// route compiles the rule list. Order is fixed: DNS, QUIC block, LAN
// bypass, ad block, custom rules, rule sets, apps.
func (b *builder) route() *model.Route {
	s := b.in.Settings
	r := &model.Route{Final: model.TagProxy, AutoDetectInterface: s.Inbound.TUN}

	r.Rules = append(r.Rules, model.Rule{Protocol: model.Listable{"dns"}, Outbound: model.TagDNS})
	if s.BlockQUIC {
		r.Rules = append(r.Rules, model.Rule{Network: model.Listable{"udp"}, Port: []int{443}, Outbound: model.TagBlock})
	}
	if s.BypassLAN {
		r.Rules = append(r.Rules, model.Rule{IPCIDR: LANCIDRs, Outbound: model.TagDirect})
	}
	if s.AdBlock.Enabled && s.AdBlock.Tag != "" {
		r.RuleSet = append(r.RuleSet, ruleSetDef(model.RuleSet{Tag: s.AdBlock.Tag, URL: s.AdBlock.URL}))
		r.Rules = append(r.Rules, model.Rule{RuleSet: model.Listable{s.AdBlock.Tag}, Outbound: model.TagBlock})
	}

	for _, cr := range s.Rules {
		if cr.Disabled {
			continue
		}
		rule, ok := customRule(cr)
		if !ok {
			logger.Log.Debugf("Skipping rule %q: nothing to match", cr.Name)
			continue
		}
		rule.Outbound = b.resolve(cr.Target)
		r.Rules = append(r.Rules, rule)
	}

	defined := map[string]bool{}
	for _, def := range r.RuleSet {
		defined[def.Tag] = true
	}
	for _, rs := range sortRuleSets(s.RuleSets) {
		if !defined[rs.Tag] {
			r.RuleSet = append(r.RuleSet, ruleSetDef(rs))
			defined[rs.Tag] = true
		}
		r.Rules = append(r.Rules, model.Rule{RuleSet: model.Listable{rs.Tag}, Outbound: b.resolve(rs.Target)})
	}

	for _, app := range s.Apps {
		if app.App == "" {
			continue
		}
		r.Rules = append(r.Rules, b.appRule([]string{app.App}, app.Target))
	}
	for _, g := range s.AppGroups {
		if g.Disabled || len(g.Apps) == 0 {
			continue
		}
		r.Rules = append(r.Rules, b.appRule(g.Apps, g.Target))
	}
	return r
}

func (b *builder) appRule(apps []string, t model.RoutingTarget) model.Rule {
	rule := model.Rule{Outbound: b.resolve(t)}
	if b.in.Settings.AppMatch == model.RulePackageName {
		rule.PackageName = apps
	} else {
		rule.ProcessName = apps
	}
	return rule
}

func customRule(cr model.CustomRule) (model.Rule, bool) {
	var values []string
	for _, v := range cr.Values {
		if v = strings.TrimSpace(v); v != "" {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return model.Rule{}, false
	}

	var rule model.Rule
	switch cr.Type {
	case model.RuleDomain:
		rule.Domain = values
	case model.RuleDomainSuffix:
		rule.DomainSuffix = values
	case model.RuleDomainKeyword:
		rule.DomainKeyword = values
	case model.RuleDomainRegex:
		rule.DomainRegex = values
	case model.RuleIPCIDR:
		rule.IPCIDR = values
	case model.RulePort:
		for _, v := range values {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 65535 {
				rule.Port = append(rule.Port, n)
			}
		}
		if len(rule.Port) == 0 {
			return model.Rule{}, false
		}
	case model.RuleProcessName:
		rule.ProcessName = values
	case model.RulePackageName:
		rule.PackageName = values
	default:
		return model.Rule{}, false
	}
	return rule, true
}

// catchAll reports whether a rule set matches whole countries rather than
// one service (geoip-cn, geosite-geolocation-!cn and similar).
func catchAll(tag string) bool {
	t := strings.ToLower(tag)
	return strings.HasPrefix(t, "geoip-") || strings.Contains(t, "geolocation") ||
		t == "geosite-cn" || strings.HasSuffix(t, "-private")
}

// sortRuleSets puts service rule sets before catch-all ones and, within
// each class, node targets first. The sort is stable so settings order
// breaks the remaining ties.
func sortRuleSets(sets []model.RuleSet) []model.RuleSet {
	var out []model.RuleSet
	for _, rs := range sets {
		if !rs.Disabled && rs.Tag != "" && (rs.URL != "" || rs.Path != "") {
			out = append(out, rs)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		ci, cj := catchAll(out[i].Tag), catchAll(out[j].Tag)
		if ci != cj {
			return !ci
		}
		return targetRank(out[i].Target) < targetRank(out[j].Target)
	})
	return out
}

func ruleSetDef(rs model.RuleSet) model.RouteRuleSet {
	def := model.RouteRuleSet{Tag: rs.Tag, Format: rs.Format, UpdateInterval: rs.UpdateInterval}
	if rs.URL != "" {
		def.Type = "remote"
		def.URL = rs.URL
		def.DownloadDetour = model.TagDirect
	} else {
		def.Type = "local"
		def.Path = rs.Path
	}
	if def.Format == "" {
		src := rs.URL + rs.Path
		if strings.HasSuffix(src, ".json") {
			def.Format = "source"
		} else {
			def.Format = "binary"
		}
	}
	return def
}

func dnsOptions(s model.RoutingSettings) *model.DNSOptions {
	remote := s.DNS.Remote
	if remote == "" {
		remote = "tls://8.8.8.8"
	}
	local := s.DNS.Local
	if local == "" {
		local = "local"
	}
	opts := &model.DNSOptions{
		Servers: []model.DNSServer{
			{Tag: dnsRemote, Address: remote, AddressResolver: dnsLocal, Detour: model.TagProxy},
			{Tag: dnsLocal, Address: local, Detour: model.TagDirect},
		},
		Rules: []model.DNSRule{
			{Outbound: model.Listable{"any"}, Server: dnsLocal},
		},
		Final:    dnsRemote,
		Strategy: s.DNS.Strategy,
	}
	if s.AdBlock.Enabled && s.AdBlock.Tag != "" {
		opts.Servers = append(opts.Servers, model.DNSServer{Tag: dnsBlock, Address: "rcode://success"})
		opts.Rules = append(opts.Rules, model.DNSRule{RuleSet: model.Listable{s.AdBlock.Tag}, Server: dnsBlock})
	}
	return opts
}

func inbounds(s model.RoutingSettings) []*model.Inbound {
	out := []*model.Inbound{}
	if s.Inbound.TUN {
		out = append(out, &model.Inbound{
			Type:        "tun",
			Tag:         inboundTUN,
			Address:     s.Inbound.TUNAddress,
			MTU:         s.Inbound.MTU,
			AutoRoute:   true,
			StrictRoute: true,
			Stack:       s.Inbound.TUNStack,
			Sniff:       true,
		})
	}
	if s.Inbound.MixedPort > 0 {
		listen := s.Inbound.Listen
		if listen == "" {
			listen = "127.0.0.1"
		}
		out = append(out, &model.Inbound{
			Type:       "mixed",
			Tag:        inboundMixed,
			Listen:     listen,
			ListenPort: s.Inbound.MixedPort,
			Sniff:      true,
		})
	}
	return out
}

func experimental(s model.RoutingSettings) *model.Experimental {
	if s.CachePath == "" && s.ClashAPI == "" {
		return nil
	}
	e := &model.Experimental{}
	if s.CachePath != "" {
		e.CacheFile = &model.CacheFile{Enabled: true, Path: s.CachePath}
	}
	if s.ClashAPI != "" {
		e.ClashAPI = &model.ClashAPI{ExternalController: s.ClashAPI}
	}
	return e
}
