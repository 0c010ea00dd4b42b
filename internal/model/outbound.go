package model

import (
	"bytes"
	"encoding/json"
	"reflect"
	"sort"
	"strings"
	"sync"
)

// Outbound types understood by the engine.
const (
	TypeShadowsocks = "shadowsocks"
	TypeVMess       = "vmess"
	TypeVLESS       = "vless"
	TypeTrojan      = "trojan"
	TypeHysteria    = "hysteria"
	TypeHysteria2   = "hysteria2"
	TypeTUIC        = "tuic"
	TypeWireGuard   = "wireguard"
	TypeSSH         = "ssh"
	TypeAnyTLS      = "anytls"
	TypeSOCKS       = "socks"
	TypeHTTP        = "http"
	TypeShadowTLS   = "shadowtls"

	TypeSelector = "selector"
	TypeURLTest  = "urltest"
	TypeDirect   = "direct"
	TypeBlock    = "block"
	TypeDNS      = "dns"
)

// Reserved outbound tags.
const (
	TagDirect = "direct"
	TagBlock  = "block"
	TagDNS    = "dns-out"
	TagProxy  = "PROXY"
)

var proxyTypes = map[string]bool{
	TypeShadowsocks: true,
	TypeVMess:       true,
	TypeVLESS:       true,
	TypeTrojan:      true,
	TypeHysteria:    true,
	TypeHysteria2:   true,
	TypeTUIC:        true,
	TypeWireGuard:   true,
	TypeSSH:         true,
	TypeAnyTLS:      true,
	TypeSOCKS:       true,
	TypeHTTP:        true,
	TypeShadowTLS:   true,
}

// IsProxyType reports whether t is a real egress protocol (not a group or sentinel).
func IsProxyType(t string) bool { return proxyTypes[t] }

// IsGroupType reports whether t selects among other outbounds.
func IsGroupType(t string) bool { return t == TypeSelector || t == TypeURLTest }

// Outbound is one entry of the engine's "outbounds" array: a proxy node,
// a selector/urltest group, or a sentinel. Keys this struct does not model
// are kept in Extra and written back untouched.
type Outbound struct {
	Type string `json:"type"`
	Tag  string `json:"tag"`

	Server      string   `json:"server,omitempty"`
	ServerPort  Port     `json:"server_port,omitempty"`
	ServerPorts Listable `json:"server_ports,omitempty"`
	HopInterval Duration `json:"hop_interval,omitempty"`

	Method         string `json:"method,omitempty"`
	Password       string `json:"password,omitempty"`
	UUID           string `json:"uuid,omitempty"`
	Security       string `json:"security,omitempty"`
	AlterID        int    `json:"alter_id,omitempty"`
	Flow           string `json:"flow,omitempty"`
	PacketEncoding string `json:"packet_encoding,omitempty"`
	Username       string `json:"username,omitempty"`
	Version        string `json:"version,omitempty"`
	Network        string `json:"network,omitempty"`
	Plugin         string `json:"plugin,omitempty"`
	PluginOpts     string `json:"plugin_opts,omitempty"`

	UpMbps   int    `json:"up_mbps,omitempty"`
	DownMbps int    `json:"down_mbps,omitempty"`
	Obfs     *Obfs  `json:"obfs,omitempty"`
	AuthStr  string `json:"auth_str,omitempty"`

	CongestionControl string `json:"congestion_control,omitempty"`
	UDPRelayMode      string `json:"udp_relay_mode,omitempty"`
	ZeroRTTHandshake  bool   `json:"zero_rtt_handshake,omitempty"`
	Heartbeat         string `json:"heartbeat,omitempty"`

	LocalAddress  Listable `json:"local_address,omitempty"`
	PrivateKey    string   `json:"private_key,omitempty"`
	PeerPublicKey string   `json:"peer_public_key,omitempty"`
	PreSharedKey  string   `json:"pre_shared_key,omitempty"`
	Reserved      Reserved `json:"reserved,omitempty"`
	MTU           int      `json:"mtu,omitempty"`

	User                 string   `json:"user,omitempty"`
	HostKey              Listable `json:"host_key,omitempty"`
	PrivateKeyPassphrase string   `json:"private_key_passphrase,omitempty"`
	ClientVersion        string   `json:"client_version,omitempty"`

	IdleSessionCheckInterval Duration `json:"idle_session_check_interval,omitempty"`
	IdleSessionTimeout       Duration `json:"idle_session_timeout,omitempty"`
	MinIdleSession           int      `json:"min_idle_session,omitempty"`

	TLS       *TLS       `json:"tls,omitempty"`
	Transport *Transport `json:"transport,omitempty"`

	Outbounds                 []string `json:"outbounds,omitempty"`
	Default                   string   `json:"default,omitempty"`
	URL                       string   `json:"url,omitempty"`
	Interval                  Duration `json:"interval,omitempty"`
	Tolerance                 int      `json:"tolerance,omitempty"`
	IdleTimeout               Duration `json:"idle_timeout,omitempty"`
	InterruptExistConnections bool     `json:"interrupt_exist_connections,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

type outboundFields Outbound

var (
	knownKeysOnce sync.Once
	knownKeys     map[string]bool
)

func outboundKeys() map[string]bool {
	knownKeysOnce.Do(func() {
		knownKeys = make(map[string]bool)
		t := reflect.TypeOf(Outbound{})
		for i := 0; i < t.NumField(); i++ {
			name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
			if name != "" && name != "-" {
				knownKeys[name] = true
			}
		}
	})
	return knownKeys
}

func (o *Outbound) UnmarshalJSON(b []byte) error {
	var f outboundFields
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(b, &all); err != nil {
		return err
	}
	keys := outboundKeys()
	for k, v := range all {
		if keys[k] {
			continue
		}
		if f.Extra == nil {
			f.Extra = make(map[string]json.RawMessage)
		}
		f.Extra[k] = v
	}
	*o = Outbound(f)
	return nil
}

func (o Outbound) MarshalJSON() ([]byte, error) {
	b, err := json.Marshal(outboundFields(o))
	if err != nil || len(o.Extra) == 0 {
		return b, err
	}
	names := make([]string, 0, len(o.Extra))
	for k := range o.Extra {
		if !outboundKeys()[k] {
			names = append(names, k)
		}
	}
	sort.Strings(names)

	var buf bytes.Buffer
	buf.Write(b[:len(b)-1])
	for _, k := range names {
		key, _ := json.Marshal(k)
		buf.WriteByte(',')
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(o.Extra[k])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// IsProxy reports whether the outbound is a real node.
func (o *Outbound) IsProxy() bool { return o != nil && IsProxyType(o.Type) }

// IsGroup reports whether the outbound is a selector or urltest.
func (o *Outbound) IsGroup() bool { return o != nil && IsGroupType(o.Type) }

// Detour returns the tag of the outbound this one dials through, if any.
func (o *Outbound) Detour() string {
	var tag string
	if raw, ok := o.Extra["detour"]; ok {
		_ = json.Unmarshal(raw, &tag)
	}
	return tag
}

// SetDetour points the outbound at tag. An empty tag removes the key.
func (o *Outbound) SetDetour(tag string) {
	if tag == "" {
		delete(o.Extra, "detour")
		return
	}
	raw, _ := json.Marshal(tag)
	if o.Extra == nil {
		o.Extra = make(map[string]json.RawMessage)
	}
	o.Extra["detour"] = raw
}

// Clone returns a deep copy so fixups never touch a cached document.
func (o *Outbound) Clone() *Outbound {
	if o == nil {
		return nil
	}
	c := *o
	c.ServerPorts = cloneStrings(o.ServerPorts)
	c.LocalAddress = cloneStrings(o.LocalAddress)
	c.HostKey = cloneStrings(o.HostKey)
	c.Outbounds = cloneStrings(o.Outbounds)
	if o.Reserved != nil {
		c.Reserved = append(Reserved(nil), o.Reserved...)
	}
	if o.Obfs != nil {
		obfs := *o.Obfs
		c.Obfs = &obfs
	}
	c.TLS = o.TLS.Clone()
	c.Transport = o.Transport.Clone()
	if o.Extra != nil {
		c.Extra = make(map[string]json.RawMessage, len(o.Extra))
		for k, v := range o.Extra {
			c.Extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	return &c
}

func cloneStrings[S ~[]string](s S) S {
	if s == nil {
		return nil
	}
	return append(S(nil), s...)
}

// Config is a parsed profile document: its outbound list.
type Config struct {
	Outbounds []*Outbound `json:"outbounds"`
}

// Tags returns every outbound tag in document order.
func (c *Config) Tags() []string {
	tags := make([]string, 0, len(c.Outbounds))
	for _, o := range c.Outbounds {
		tags = append(tags, o.Tag)
	}
	return tags
}

// Find returns the outbound with the given tag, or nil.
func (c *Config) Find(tag string) *Outbound {
	if c == nil {
		return nil
	}
	for _, o := range c.Outbounds {
		if o.Tag == tag {
			return o
		}
	}
	return nil
}

// Proxies returns the proxy-type outbounds only.
func (c *Config) Proxies() []*Outbound {
	var out []*Outbound
	for _, o := range c.Outbounds {
		if o.IsProxy() {
			out = append(out, o)
		}
	}
	return out
}

// Clone deep copies the document.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	out := &Config{Outbounds: make([]*Outbound, len(c.Outbounds))}
	for i, o := range c.Outbounds {
		out.Outbounds[i] = o.Clone()
	}
	return out
}
