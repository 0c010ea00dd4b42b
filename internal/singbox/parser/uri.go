package parser

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"subforge/internal/model"
)

// parseGenericURI handles the scheme://credential@host:port?query#name
// layout shared by most schemes. The credential lands in Password.
func parseGenericURI(raw, typ string) (*model.Outbound, url.Values, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, nil, err
	}
	if u.Hostname() == "" {
		return nil, nil, fmt.Errorf("missing hostname")
	}
	port, err := parsePort(u.Port(), 443)
	if err != nil {
		return nil, nil, err
	}

	o := &model.Outbound{
		Type:       typ,
		Tag:        label(u.EscapedFragment()),
		Server:     u.Hostname(),
		ServerPort: port,
	}
	if u.User != nil {
		o.Password = u.User.Username()
		if pass, ok := u.User.Password(); ok {
			o.Password += ":" + pass
		}
	}
	return o, u.Query(), nil
}

func parseVLESS(raw string) (*model.Outbound, error) {
	o, q, err := parseGenericURI(raw, model.TypeVLESS)
	if err != nil {
		return nil, err
	}
	if o.Password == "" {
		return nil, fmt.Errorf("missing uuid")
	}
	o.UUID, o.Password = o.Password, ""

	switch flow := q.Get("flow"); flow {
	case "":
	case "xtls-rprx-vision-udp443":
		o.Flow = "xtls-rprx-vision"
		o.PacketEncoding = "xudp"
	default:
		o.Flow = flow
	}
	if pe := q.Get("packetEncoding"); pe != "" {
		o.PacketEncoding = pe
	}

	o.TLS = tlsFromQuery(q, o.Server, false)
	o.Transport = transportFromQuery(q)
	return o, nil
}

func parseTrojan(raw string) (*model.Outbound, error) {
	o, q, err := parseGenericURI(raw, model.TypeTrojan)
	if err != nil {
		return nil, err
	}
	if o.Password == "" {
		return nil, fmt.Errorf("missing password")
	}
	// trojan is TLS unless explicitly disabled
	if security := q.Get("security"); security != "none" {
		o.TLS = tlsFromQuery(q, o.Server, true)
	}
	o.Transport = transportFromQuery(q)
	return o, nil
}

func parseAnyTLS(raw string) (*model.Outbound, error) {
	o, q, err := parseGenericURI(raw, model.TypeAnyTLS)
	if err != nil {
		return nil, err
	}
	if o.Password == "" {
		return nil, fmt.Errorf("missing password")
	}
	o.TLS = tlsFromQuery(q, o.Server, true)
	return o, nil
}

func parseHysteria(raw string) (*model.Outbound, error) {
	o, q, err := parseGenericURI(raw, model.TypeHysteria)
	if err != nil {
		return nil, err
	}
	o.Password = ""
	o.AuthStr = queryFirst(q, "auth", "auth_str")
	o.UpMbps = mbps(queryFirst(q, "upmbps", "up"))
	o.DownMbps = mbps(queryFirst(q, "downmbps", "down"))
	if o.UpMbps == 0 {
		o.UpMbps = 10
	}
	if o.DownMbps == 0 {
		o.DownMbps = 50
	}
	if obfs := q.Get("obfsParam"); obfs != "" {
		o.Obfs = model.LegacyObfs(obfs)
	}
	if mport := q.Get("mport"); mport != "" {
		o.ServerPorts = portRanges(mport)
	}
	o.TLS = tlsFromQuery(q, o.Server, true)
	return o, nil
}

func parseHysteria2(raw string) (*model.Outbound, error) {
	if strings.HasPrefix(strings.ToLower(raw), "hy2://") {
		raw = "hysteria2://" + raw[len("hy2://"):]
	}
	o, q, err := parseGenericURI(raw, model.TypeHysteria2)
	if err != nil {
		return nil, err
	}
	if mport := q.Get("mport"); mport != "" {
		o.ServerPorts = portRanges(mport)
	}
	if obfs := q.Get("obfs"); obfs == "salamander" {
		o.Obfs = &model.Obfs{Type: obfs, Password: q.Get("obfs-password")}
	}
	o.UpMbps = mbps(q.Get("upmbps"))
	o.DownMbps = mbps(q.Get("downmbps"))
	o.TLS = tlsFromQuery(q, o.Server, true)
	if o.TLS.ServerName == "" {
		o.TLS.ServerName = o.Server
	}
	return o, nil
}

func parseTUIC(raw string) (*model.Outbound, error) {
	o, q, err := parseGenericURI(raw, model.TypeTUIC)
	if err != nil {
		return nil, err
	}
	uuid, password, _ := strings.Cut(o.Password, ":")
	if uuid == "" {
		return nil, fmt.Errorf("missing uuid")
	}
	o.UUID, o.Password = uuid, password
	if o.Password == "" {
		o.Password = q.Get("password")
	}
	o.CongestionControl = queryFirst(q, "congestion_control", "congestion-control")
	o.UDPRelayMode = queryFirst(q, "udp_relay_mode", "udp-relay-mode")
	o.ZeroRTTHandshake = queryBool(q, "reduce_rtt", "zero_rtt_handshake")
	o.TLS = tlsFromQuery(q, o.Server, true)
	if len(o.TLS.ALPN) == 0 {
		o.TLS.ALPN = model.Listable{"h3"}
	}
	if queryBool(q, "disable_sni") {
		o.TLS.DisableSNI = true
	}
	return o, nil
}

// portRanges converts "2000-3000,4000" into sing-box "2000:3000" ranges.
func portRanges(s string) model.Listable {
	var out model.Listable
	for _, part := range splitList(s) {
		part = strings.ReplaceAll(part, "-", ":")
		if !strings.Contains(part, ":") {
			part = part + ":" + part
		}
		out = append(out, part)
	}
	return out
}

// mbps accepts "100", "100 Mbps" and "100mbps".
func mbps(s string) int {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimSpace(strings.TrimSuffix(s, "mbps"))
	n, _ := strconv.Atoi(s)
	return n
}
