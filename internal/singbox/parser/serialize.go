package parser

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"subforge/internal/model"
)

// ToURI converts an outbound back into its share link. Types without a
// share link format return "".
func ToURI(o *model.Outbound) string {
	switch o.Type {
	case model.TypeVMess:
		return toVMessURI(o)
	case model.TypeShadowsocks:
		return toShadowsocksURI(o)
	case model.TypeVLESS:
		return toGenericURI(o, "vless", url.User(o.UUID))
	case model.TypeTrojan:
		return toGenericURI(o, "trojan", url.User(o.Password))
	case model.TypeAnyTLS:
		return toGenericURI(o, "anytls", url.User(o.Password))
	case model.TypeHysteria2:
		return toGenericURI(o, "hysteria2", url.User(o.Password))
	case model.TypeTUIC:
		return toGenericURI(o, "tuic", url.UserPassword(o.UUID, o.Password))
	case model.TypeSOCKS:
		var user *url.Userinfo
		if o.Username != "" {
			user = url.UserPassword(o.Username, o.Password)
		}
		return toGenericURI(o, "socks", user)
	default:
		return ""
	}
}

func toVMessURI(o *model.Outbound) string {
	v := vmessJSON{
		V:    "2",
		Ps:   o.Tag,
		Add:  o.Server,
		Port: int(o.ServerPort),
		Id:   o.UUID,
		Aid:  o.AlterID,
		Scy:  o.Security,
		Net:  "tcp",
	}
	if t := o.Transport; t != nil {
		v.Net = t.Type
		v.Path = t.Path
		v.Host = t.Headers.Get("Host")
		switch t.Type {
		case model.TransportGRPC:
			v.Path = t.ServiceName
		case model.TransportHTTP:
			v.Net, v.Type = "tcp", "http"
			if len(t.Host) > 0 {
				v.Host = strings.Join(t.Host, ",")
			}
		}
		if t.MaxEarlyData > 0 {
			v.Path = withEarlyData(v.Path, t.MaxEarlyData)
		}
	}
	if o.TLS.Mode() != model.TLSPlain {
		v.Tls = "tls"
		v.Sni = o.TLS.ServerName
		v.Alpn = strings.Join(o.TLS.ALPN, ",")
		v.Fp = o.TLS.Fingerprint()
	}

	b, _ := json.Marshal(v)
	return "vmess://" + base64.StdEncoding.EncodeToString(b)
}

func toShadowsocksURI(o *model.Outbound) string {
	userInfo := fmt.Sprintf("%s:%s", o.Method, o.Password)

	// Use SIP002 (safe for special chars)
	safeUser := base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString([]byte(userInfo))

	u := url.URL{
		Scheme:   "ss",
		Host:     hostPort(o),
		Fragment: o.Tag,
	}
	if o.Plugin != "" {
		q := url.Values{}
		q.Set("plugin", strings.TrimSuffix(o.Plugin+";"+o.PluginOpts, ";"))
		u.RawQuery = q.Encode()
	}
	return strings.Replace(u.String(), "ss://", "ss://"+safeUser+"@", 1)
}

func toGenericURI(o *model.Outbound, scheme string, user *url.Userinfo) string {
	q := url.Values{}

	if o.Flow != "" {
		q.Set("flow", o.Flow)
	}
	if o.Type == model.TypeVLESS {
		q.Set("encryption", "none")
	}
	if o.Obfs != nil && o.Obfs.Type != "" {
		q.Set("obfs", o.Obfs.Type)
		q.Set("obfs-password", o.Obfs.Password)
	}
	if len(o.ServerPorts) > 0 {
		q.Set("mport", strings.ReplaceAll(strings.Join(o.ServerPorts, ","), ":", "-"))
	}
	if o.CongestionControl != "" {
		q.Set("congestion_control", o.CongestionControl)
	}

	switch o.TLS.Mode() {
	case model.TLSReality:
		q.Set("security", "reality")
		q.Set("pbk", o.TLS.Reality.PublicKey)
		if o.TLS.Reality.ShortID != "" {
			q.Set("sid", o.TLS.Reality.ShortID)
		}
	case model.TLSStandard:
		q.Set("security", "tls")
	}
	if t := o.TLS; t.Mode() != model.TLSPlain {
		if t.ServerName != "" {
			q.Set("sni", t.ServerName)
		}
		if len(t.ALPN) > 0 {
			q.Set("alpn", strings.Join(t.ALPN, ","))
		}
		if fp := t.Fingerprint(); fp != "" {
			q.Set("fp", fp)
		}
		if t.Insecure {
			q.Set("insecure", "1")
		}
	}

	if t := o.Transport; t != nil {
		switch t.Type {
		case model.TransportWS:
			q.Set("type", "ws")
			q.Set("path", withEarlyData(t.Path, t.MaxEarlyData))
			if host := t.Headers.Get("Host"); host != "" {
				q.Set("host", host)
			}
		case model.TransportGRPC:
			q.Set("type", "grpc")
			q.Set("serviceName", t.ServiceName)
		case model.TransportHTTP:
			q.Set("type", "http")
			q.Set("path", t.Path)
			if len(t.Host) > 0 {
				q.Set("host", strings.Join(t.Host, ","))
			}
		case model.TransportHTTPUpgrade:
			q.Set("type", "httpupgrade")
			q.Set("path", t.Path)
			if len(t.Host) > 0 {
				q.Set("host", t.Host[0])
			}
		}
	}

	u := url.URL{
		Scheme:   scheme,
		User:     user,
		Host:     hostPort(o),
		RawQuery: q.Encode(),
		Fragment: o.Tag,
	}
	return u.String()
}

func hostPort(o *model.Outbound) string {
	return net.JoinHostPort(o.Server, strconv.Itoa(int(o.ServerPort)))
}

func withEarlyData(path string, n int) string {
	if n <= 0 {
		return path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "ed=" + strconv.Itoa(n)
}
