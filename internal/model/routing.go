package model

// TargetMode selects which variant of RoutingTarget is in use.
type TargetMode string

const (
	TargetDirect  TargetMode = "direct"
	TargetBlock   TargetMode = "block"
	TargetProxy   TargetMode = "proxy"
	TargetNode    TargetMode = "node"
	TargetGroup   TargetMode = "group"
	TargetProfile TargetMode = "profile"
)

// RoutingTarget is an unresolved reference stored in user settings.
// Node targets may carry a node id, or a profile id plus a node name.
type RoutingTarget struct {
	Mode      TargetMode `yaml:"mode" json:"mode"`
	ProfileID string     `yaml:"profile,omitempty" json:"profile,omitempty"`
	NodeID    string     `yaml:"node,omitempty" json:"node,omitempty"`
	NodeName  string     `yaml:"node_name,omitempty" json:"node_name,omitempty"`
	Group     string     `yaml:"group,omitempty" json:"group,omitempty"`
}

func Direct() RoutingTarget { return RoutingTarget{Mode: TargetDirect} }
func Block() RoutingTarget  { return RoutingTarget{Mode: TargetBlock} }
func Proxy() RoutingTarget  { return RoutingTarget{Mode: TargetProxy} }

func NodeTarget(nodeID string) RoutingTarget {
	return RoutingTarget{Mode: TargetNode, NodeID: nodeID}
}

func GroupTarget(name string) RoutingTarget {
	return RoutingTarget{Mode: TargetGroup, Group: name}
}

func ProfileTarget(profileID string) RoutingTarget {
	return RoutingTarget{Mode: TargetProfile, ProfileID: profileID}
}

// RuleType names the sing-box route rule field a custom rule matches on.
type RuleType string

const (
	RuleDomain        RuleType = "domain"
	RuleDomainSuffix  RuleType = "domain_suffix"
	RuleDomainKeyword RuleType = "domain_keyword"
	RuleDomainRegex   RuleType = "domain_regex"
	RuleIPCIDR        RuleType = "ip_cidr"
	RulePort          RuleType = "port"
	RuleProcessName   RuleType = "process_name"
	RulePackageName   RuleType = "package_name"
)

type CustomRule struct {
	Name     string        `yaml:"name"`
	Type     RuleType      `yaml:"type"`
	Values   []string      `yaml:"values"`
	Target   RoutingTarget `yaml:"target"`
	Disabled bool          `yaml:"disabled"`
}

type RuleSet struct {
	Tag            string        `yaml:"tag"`
	URL            string        `yaml:"url"`
	Path           string        `yaml:"path"`
	Format         string        `yaml:"format"`
	UpdateInterval string        `yaml:"update_interval"`
	Target         RoutingTarget `yaml:"target"`
	Disabled       bool          `yaml:"disabled"`
}

// AppRule routes traffic of one application.
type AppRule struct {
	App    string        `yaml:"app"`
	Target RoutingTarget `yaml:"target"`
}

// AppGroup routes a named set of applications to one target.
type AppGroup struct {
	Name     string        `yaml:"name"`
	Apps     []string      `yaml:"apps"`
	Target   RoutingTarget `yaml:"target"`
	Disabled bool          `yaml:"disabled"`
}

type DNSSettings struct {
	Remote   string `yaml:"remote"`
	Local    string `yaml:"local"`
	Strategy string `yaml:"strategy"`
}

type InboundSettings struct {
	Listen     string   `yaml:"listen"`
	MixedPort  int      `yaml:"mixed_port"`
	TUN        bool     `yaml:"tun"`
	TUNAddress []string `yaml:"tun_address"`
	TUNStack   string   `yaml:"tun_stack"`
	MTU        int      `yaml:"mtu"`
}

type AdBlockSettings struct {
	Enabled bool   `yaml:"enabled"`
	Tag     string `yaml:"tag"`
	URL     string `yaml:"url"`
}

// RoutingSettings is everything the user configures about traffic routing.
type RoutingSettings struct {
	BlockQUIC bool            `yaml:"block_quic"`
	BypassLAN bool            `yaml:"bypass_lan"`
	AdBlock   AdBlockSettings `yaml:"ad_block"`
	DNS       DNSSettings     `yaml:"dns"`
	Inbound   InboundSettings `yaml:"inbound"`
	LogLevel  string          `yaml:"log_level"`
	CachePath string          `yaml:"cache_path"`
	ClashAPI  string          `yaml:"clash_api"`

	// AppMatch is the rule field app names are matched with:
	// process_name on desktop systems, package_name on Android.
	AppMatch  RuleType     `yaml:"app_match"`
	Rules     []CustomRule `yaml:"rules"`
	RuleSets  []RuleSet    `yaml:"rule_sets"`
	Apps      []AppRule    `yaml:"apps"`
	AppGroups []AppGroup   `yaml:"app_groups"`
}

// DefaultRoutingSettings returns the settings used when the config file has none.
func DefaultRoutingSettings() RoutingSettings {
	return RoutingSettings{
		BlockQUIC: true,
		BypassLAN: true,
		AdBlock: AdBlockSettings{
			Tag: "geosite-category-ads-all",
			URL: "https://raw.githubusercontent.com/SagerNet/sing-geosite/rule-set/geosite-category-ads-all.srs",
		},
		DNS: DNSSettings{
			Remote:   "tls://8.8.8.8",
			Local:    "223.5.5.5",
			Strategy: "prefer_ipv4",
		},
		Inbound: InboundSettings{
			Listen:     "127.0.0.1",
			MixedPort:  2080,
			TUNAddress: []string{"172.19.0.1/30"},
			TUNStack:   "mixed",
			MTU:        9000,
		},
		LogLevel: "warn",
		AppMatch: RuleProcessName,
	}
}
