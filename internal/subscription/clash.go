package subscription

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"subforge/internal/model"
	"subforge/internal/singbox/parser"
)

// scalar accepts any YAML scalar (clash files mix `port: 443` and `port: "443"`).
type scalar string

func (s *scalar) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a scalar", n.Line)
	}
	*s = scalar(n.Value)
	return nil
}

func (s scalar) int() int {
	n, _ := strconv.Atoi(strings.TrimSpace(string(s)))
	return n
}

type clashWS struct {
	Path                string            `yaml:"path"`
	Headers             map[string]string `yaml:"headers"`
	MaxEarlyData        int               `yaml:"max-early-data"`
	EarlyDataHeaderName string            `yaml:"early-data-header-name"`
}

type clashGRPC struct {
	ServiceName string `yaml:"grpc-service-name"`
}

type clashH2 struct {
	Host []string `yaml:"host"`
	Path string   `yaml:"path"`
}

type clashReality struct {
	PublicKey string `yaml:"public-key"`
	ShortID   string `yaml:"short-id"`
}

type clashProxy struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Server   string `yaml:"server"`
	Port     scalar `yaml:"port"`
	Ports    string `yaml:"ports"`
	UDP      *bool  `yaml:"udp"`
	Username string `yaml:"username"`
	Password scalar `yaml:"password"`
	UUID     string `yaml:"uuid"`
	Cipher   string `yaml:"cipher"`
	AlterID  scalar `yaml:"alterId"`
	Flow     string `yaml:"flow"`

	PacketEncoding string         `yaml:"packet-encoding"`
	Plugin         string         `yaml:"plugin"`
	PluginOpts     map[string]any `yaml:"plugin-opts"`

	TLS               bool          `yaml:"tls"`
	SNI               string        `yaml:"sni"`
	ServerName        string        `yaml:"servername"`
	SkipCertVerify    bool          `yaml:"skip-cert-verify"`
	ALPN              []string      `yaml:"alpn"`
	ClientFingerprint string        `yaml:"client-fingerprint"`
	RealityOpts       *clashReality `yaml:"reality-opts"`

	Network  string     `yaml:"network"`
	WSOpts   *clashWS   `yaml:"ws-opts"`
	GRPCOpts *clashGRPC `yaml:"grpc-opts"`
	H2Opts   *clashH2   `yaml:"h2-opts"`

	AuthStr      string `yaml:"auth-str"`
	AuthStrAlt   string `yaml:"auth_str"`
	Up           scalar `yaml:"up"`
	Down         scalar `yaml:"down"`
	Obfs         string `yaml:"obfs"`
	ObfsPassword string `yaml:"obfs-password"`

	CongestionController string `yaml:"congestion-controller"`
	UDPRelayMode         string `yaml:"udp-relay-mode"`
	ReduceRTT            bool   `yaml:"reduce-rtt"`
	DisableSNI           bool   `yaml:"disable-sni"`

	PrivateKey   string   `yaml:"private-key"`
	PublicKey    string   `yaml:"public-key"`
	PreSharedKey string   `yaml:"pre-shared-key"`
	IP           string   `yaml:"ip"`
	IPv6         string   `yaml:"ipv6"`
	Reserved     []int    `yaml:"reserved"`
	MTU          int      `yaml:"mtu"`
	HostKey      []string `yaml:"host-key"`
	Passphrase   string   `yaml:"private-key-passphrase"`
}

type clashGroup struct {
	Name      string   `yaml:"name"`
	Type      string   `yaml:"type"`
	Proxies   []string `yaml:"proxies"`
	URL       string   `yaml:"url"`
	Interval  scalar   `yaml:"interval"`
	Tolerance scalar   `yaml:"tolerance"`
}

type clashDoc struct {
	Proxies     []clashProxy `yaml:"proxies"`
	ProxyGroups []clashGroup `yaml:"proxy-groups"`
}

// parseClash reads a rule-group YAML document (a root mapping with
// `proxies` and optional `proxy-groups`).
func parseClash(content string) (*model.Config, error) {
	var doc clashDoc
	if err := yaml.Unmarshal([]byte(content), &doc); err != nil {
		return nil, err
	}
	if len(doc.Proxies) == 0 {
		return nil, ErrNoOutbounds
	}

	cfg := &model.Config{}
	for i := range doc.Proxies {
		o, err := doc.Proxies[i].outbound()
		if err != nil {
			continue
		}
		cfg.Outbounds = append(cfg.Outbounds, o)
	}
	if len(cfg.Outbounds) == 0 {
		return nil, ErrNoOutbounds
	}
	uniqueTags(cfg.Outbounds)

	for _, g := range doc.ProxyGroups {
		if o := g.outbound(); o != nil {
			cfg.Outbounds = append(cfg.Outbounds, o)
		}
	}
	return cfg, nil
}

func (g clashGroup) outbound() *model.Outbound {
	if g.Name == "" {
		return nil
	}
	o := &model.Outbound{Tag: g.Name}
	switch strings.ToLower(g.Type) {
	case "url-test", "fallback", "load-balance":
		o.Type = model.TypeURLTest
		o.URL = g.URL
		if iv := strings.TrimSpace(string(g.Interval)); iv != "" {
			o.Interval = model.Duration(iv)
		}
		o.Tolerance = g.Tolerance.int()
	default:
		o.Type = model.TypeSelector
	}
	for _, member := range g.Proxies {
		switch strings.ToUpper(member) {
		case "DIRECT":
			member = model.TagDirect
		case "REJECT", "REJECT-DROP", "PASS":
			member = model.TagBlock
		}
		o.Outbounds = append(o.Outbounds, member)
	}
	return o
}

func (p *clashProxy) tls(forced bool) *model.TLS {
	if !forced && !p.TLS {
		return nil
	}
	t := &model.TLS{
		Enabled:    true,
		ServerName: p.SNI,
		Insecure:   p.SkipCertVerify,
		ALPN:       p.ALPN,
		DisableSNI: p.DisableSNI,
	}
	if t.ServerName == "" {
		t.ServerName = p.ServerName
	}
	if p.ClientFingerprint != "" {
		t.UTLS = &model.UTLS{Enabled: true, Fingerprint: p.ClientFingerprint}
	}
	if p.RealityOpts != nil && p.RealityOpts.PublicKey != "" {
		t.Reality = &model.Reality{Enabled: true, PublicKey: p.RealityOpts.PublicKey, ShortID: p.RealityOpts.ShortID}
	}
	return t
}

func (p *clashProxy) transport() *model.Transport {
	switch strings.ToLower(p.Network) {
	case "ws":
		t := &model.Transport{Type: model.TransportWS}
		if p.WSOpts != nil {
			t.Path, t.MaxEarlyData = parser.SplitEarlyData(p.WSOpts.Path)
			if p.WSOpts.MaxEarlyData > 0 {
				t.MaxEarlyData = p.WSOpts.MaxEarlyData
			}
			t.EarlyDataHeaderName = p.WSOpts.EarlyDataHeaderName
			if t.MaxEarlyData > 0 && t.EarlyDataHeaderName == "" {
				t.EarlyDataHeaderName = model.EarlyDataHeader
			}
			for k, v := range p.WSOpts.Headers {
				if t.Headers == nil {
					t.Headers = model.Headers{}
				}
				t.Headers[k] = model.Listable{v}
			}
		}
		return t
	case "grpc":
		t := &model.Transport{Type: model.TransportGRPC}
		if p.GRPCOpts != nil {
			t.ServiceName = p.GRPCOpts.ServiceName
		}
		return t
	case "h2", "http":
		t := &model.Transport{Type: model.TransportHTTP}
		if p.H2Opts != nil {
			t.Host = p.H2Opts.Host
			t.Path = p.H2Opts.Path
		}
		return t
	}
	return nil
}

func (p *clashProxy) outbound() (*model.Outbound, error) {
	port := p.Port.int()
	if p.Server == "" || port <= 0 || port > 65535 {
		return nil, fmt.Errorf("proxy %q: invalid address", p.Name)
	}
	o := &model.Outbound{
		Tag:        p.Name,
		Server:     p.Server,
		ServerPort: model.Port(port),
	}
	password := string(p.Password)

	switch strings.ToLower(p.Type) {
	case "ss":
		o.Type = model.TypeShadowsocks
		o.Method = p.Cipher
		o.Password = password
		if p.Plugin != "" {
			o.Plugin, o.PluginOpts = clashPlugin(p.Plugin, p.PluginOpts)
		}
	case "vmess":
		o.Type = model.TypeVMess
		o.UUID = p.UUID
		o.Security = p.Cipher
		if o.Security == "" {
			o.Security = "auto"
		}
		o.AlterID = p.AlterID.int()
		o.TLS = p.tls(false)
		o.Transport = p.transport()
	case "vless":
		o.Type = model.TypeVLESS
		o.UUID = p.UUID
		o.Flow = p.Flow
		o.PacketEncoding = p.PacketEncoding
		o.TLS = p.tls(p.RealityOpts != nil)
		o.Transport = p.transport()
	case "trojan":
		o.Type = model.TypeTrojan
		o.Password = password
		o.TLS = p.tls(true)
		o.Transport = p.transport()
	case "hysteria":
		o.Type = model.TypeHysteria
		o.AuthStr = p.AuthStr
		if o.AuthStr == "" {
			o.AuthStr = p.AuthStrAlt
		}
		o.UpMbps = mbps(string(p.Up))
		o.DownMbps = mbps(string(p.Down))
		if p.Obfs != "" {
			o.Obfs = model.LegacyObfs(p.Obfs)
		}
		o.ServerPorts = clashPorts(p.Ports)
		o.TLS = p.tls(true)
	case "hysteria2":
		o.Type = model.TypeHysteria2
		o.Password = password
		o.UpMbps = mbps(string(p.Up))
		o.DownMbps = mbps(string(p.Down))
		if p.Obfs != "" {
			o.Obfs = &model.Obfs{Type: p.Obfs, Password: p.ObfsPassword}
		}
		o.ServerPorts = clashPorts(p.Ports)
		o.TLS = p.tls(true)
	case "tuic":
		o.Type = model.TypeTUIC
		o.UUID = p.UUID
		o.Password = password
		o.CongestionControl = p.CongestionController
		o.UDPRelayMode = p.UDPRelayMode
		o.ZeroRTTHandshake = p.ReduceRTT
		o.TLS = p.tls(true)
	case "wireguard":
		o.Type = model.TypeWireGuard
		o.PrivateKey = p.PrivateKey
		o.PeerPublicKey = p.PublicKey
		o.PreSharedKey = p.PreSharedKey
		for _, addr := range []string{p.IP, p.IPv6} {
			if addr == "" {
				continue
			}
			if !strings.Contains(addr, "/") {
				if strings.Contains(addr, ":") {
					addr += "/128"
				} else {
					addr += "/32"
				}
			}
			o.LocalAddress = append(o.LocalAddress, addr)
		}
		o.Reserved = p.Reserved
		o.MTU = p.MTU
	case "ssh":
		o.Type = model.TypeSSH
		o.User = p.Username
		o.Password = password
		o.PrivateKey = p.PrivateKey
		o.PrivateKeyPassphrase = p.Passphrase
		o.HostKey = p.HostKey
	case "anytls":
		o.Type = model.TypeAnyTLS
		o.Password = password
		o.TLS = p.tls(true)
	case "socks5":
		o.Type = model.TypeSOCKS
		o.Version = "5"
		o.Username = p.Username
		o.Password = password
	case "http":
		o.Type = model.TypeHTTP
		o.Username = p.Username
		o.Password = password
		o.TLS = p.tls(false)
	default:
		return nil, fmt.Errorf("proxy %q: unsupported type %q", p.Name, p.Type)
	}
	if o.Tag == "" {
		o.Tag = fmt.Sprintf("%s-%s-%d", o.Type, o.Server, port)
	}
	if o.TLS != nil && o.Transport != nil && o.Transport.Type == model.TransportWS && len(o.TLS.ALPN) == 0 {
		o.TLS.ALPN = model.Listable{"http/1.1"}
	}
	return o, nil
}

func clashPlugin(name string, opts map[string]any) (string, string) {
	switch name {
	case "obfs":
		name = "obfs-local"
		var parts []string
		if mode, ok := opts["mode"]; ok {
			parts = append(parts, fmt.Sprintf("obfs=%v", mode))
		}
		if host, ok := opts["host"]; ok {
			parts = append(parts, fmt.Sprintf("obfs-host=%v", host))
		}
		return name, strings.Join(parts, ";")
	case "v2ray-plugin":
		var parts []string
		if mode, ok := opts["mode"]; ok {
			parts = append(parts, fmt.Sprintf("mode=%v", mode))
		}
		if tls, ok := opts["tls"].(bool); ok && tls {
			parts = append(parts, "tls")
		}
		if host, ok := opts["host"]; ok {
			parts = append(parts, fmt.Sprintf("host=%v", host))
		}
		if path, ok := opts["path"]; ok {
			parts = append(parts, fmt.Sprintf("path=%v", path))
		}
		return name, strings.Join(parts, ";")
	}
	return name, ""
}

// clashPorts converts "20000-30000,443" into sing-box server_ports ranges.
func clashPorts(s string) model.Listable {
	var out model.Listable
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		part = strings.ReplaceAll(part, "-", ":")
		if !strings.Contains(part, ":") {
			part += ":" + part
		}
		out = append(out, part)
	}
	return out
}

func mbps(s string) int {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimSpace(strings.TrimSuffix(s, "mbps"))
	n, _ := strconv.Atoi(s)
	return n
}
