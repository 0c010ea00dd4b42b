package model

// SynthesizedConfig is the document handed to the engine.
type SynthesizedConfig struct {
	Log          *LogOptions   `json:"log,omitempty"`
	DNS          *DNSOptions   `json:"dns,omitempty"`
	Inbounds     []*Inbound    `json:"inbounds"`
	Outbounds    []*Outbound   `json:"outbounds"`
	Route        *Route        `json:"route,omitempty"`
	Experimental *Experimental `json:"experimental,omitempty"`
}

// Find returns the outbound with the given tag, or nil.
func (c *SynthesizedConfig) Find(tag string) *Outbound {
	for _, o := range c.Outbounds {
		if o.Tag == tag {
			return o
		}
	}
	return nil
}

type LogOptions struct {
	Disabled  bool   `json:"disabled,omitempty"`
	Level     string `json:"level,omitempty"`
	Timestamp bool   `json:"timestamp,omitempty"`
}

type DNSServer struct {
	Tag             string `json:"tag"`
	Address         string `json:"address"`
	AddressResolver string `json:"address_resolver,omitempty"`
	Strategy        string `json:"strategy,omitempty"`
	Detour          string `json:"detour,omitempty"`
}

type DNSRule struct {
	Outbound Listable `json:"outbound,omitempty"`
	RuleSet  Listable `json:"rule_set,omitempty"`
	Server   string   `json:"server"`
}

type DNSOptions struct {
	Servers  []DNSServer `json:"servers"`
	Rules    []DNSRule   `json:"rules,omitempty"`
	Final    string      `json:"final,omitempty"`
	Strategy string      `json:"strategy,omitempty"`
}

type Inbound struct {
	Type        string   `json:"type"`
	Tag         string   `json:"tag"`
	Listen      string   `json:"listen,omitempty"`
	ListenPort  int      `json:"listen_port,omitempty"`
	Address     Listable `json:"address,omitempty"`
	MTU         int      `json:"mtu,omitempty"`
	AutoRoute   bool     `json:"auto_route,omitempty"`
	StrictRoute bool     `json:"strict_route,omitempty"`
	Stack       string   `json:"stack,omitempty"`
	Sniff       bool     `json:"sniff,omitempty"`
}

// Rule is one route rule. Exactly one match field group is set per rule.
type Rule struct {
	Inbound       Listable `json:"inbound,omitempty"`
	Protocol      Listable `json:"protocol,omitempty"`
	Network       Listable `json:"network,omitempty"`
	Port          []int    `json:"port,omitempty"`
	Domain        Listable `json:"domain,omitempty"`
	DomainSuffix  Listable `json:"domain_suffix,omitempty"`
	DomainKeyword Listable `json:"domain_keyword,omitempty"`
	DomainRegex   Listable `json:"domain_regex,omitempty"`
	IPCIDR        Listable `json:"ip_cidr,omitempty"`
	IPIsPrivate   bool     `json:"ip_is_private,omitempty"`
	ProcessName   Listable `json:"process_name,omitempty"`
	PackageName   Listable `json:"package_name,omitempty"`
	RuleSet       Listable `json:"rule_set,omitempty"`
	Outbound      string   `json:"outbound"`
}

type RouteRuleSet struct {
	Type           string `json:"type"`
	Tag            string `json:"tag"`
	Format         string `json:"format"`
	URL            string `json:"url,omitempty"`
	Path           string `json:"path,omitempty"`
	DownloadDetour string `json:"download_detour,omitempty"`
	UpdateInterval string `json:"update_interval,omitempty"`
}

type Route struct {
	Rules               []Rule         `json:"rules"`
	RuleSet             []RouteRuleSet `json:"rule_set,omitempty"`
	Final               string         `json:"final,omitempty"`
	AutoDetectInterface bool           `json:"auto_detect_interface,omitempty"`
}

type CacheFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

type ClashAPI struct {
	ExternalController string `json:"external_controller,omitempty"`
}

type Experimental struct {
	CacheFile *CacheFile `json:"cache_file,omitempty"`
	ClashAPI  *ClashAPI  `json:"clash_api,omitempty"`
}
