package parser

import (
	"encoding/base64"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"subforge/internal/model"
)

// DecodeBase64 attempts to decode standard and URL-safe base64 strings,
// automatically fixing missing padding.
func DecodeBase64(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	s = strings.TrimRight(s, "=")
	if n := len(s) % 4; n != 0 {
		s += strings.Repeat("=", 4-n)
	}

	b, err := base64.StdEncoding.DecodeString(s)
	if err == nil {
		return string(b), nil
	}

	b, err = base64.URLEncoding.DecodeString(s)
	if err == nil {
		return string(b), nil
	}

	return "", err
}

// FixIllegalUrl cleans up common issues in scraped links.
func FixIllegalUrl(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	s = strings.TrimPrefix(s, "\ufeff")
	return s
}

var earlyDataRe = regexp.MustCompile(`([?&])ed=(\d+)(&|$)`)

// SplitEarlyData pulls an `ed=<n>` parameter out of a websocket path.
// It returns the clean path and the early data size (0 when absent).
func SplitEarlyData(path string) (string, int) {
	m := earlyDataRe.FindStringSubmatchIndex(path)
	if m == nil {
		return path, 0
	}
	n, _ := strconv.Atoi(path[m[4]:m[5]])
	sep, tail := path[m[2]:m[3]], path[m[6]:m[7]]

	var clean string
	switch {
	case tail == "&" && sep == "?":
		clean = path[:m[0]] + "?" + path[m[1]:]
	case tail == "&":
		clean = path[:m[0]] + "&" + path[m[1]:]
	default:
		clean = path[:m[0]]
	}
	return clean, n
}

func queryBool(q url.Values, keys ...string) bool {
	for _, key := range keys {
		if v := strings.ToLower(q.Get(key)); v != "" {
			return v == "1" || v == "true"
		}
	}
	return false
}

func queryFirst(q url.Values, keys ...string) string {
	for _, key := range keys {
		if v := q.Get(key); v != "" {
			return v
		}
	}
	return ""
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// label decodes a link fragment into a display name.
func label(fragment string) string {
	if decoded, err := url.PathUnescape(fragment); err == nil {
		fragment = decoded
	}
	if !utf8.ValidString(fragment) {
		fragment = strings.ToValidUTF8(fragment, "")
	}
	fragment = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, fragment)
	return strings.TrimSpace(fragment)
}

func defaultTag(scheme, server string, port int) string {
	return fmt.Sprintf("%s-%s-%d", scheme, server, port)
}

func parsePort(s string, fallback int) (model.Port, error) {
	if s == "" {
		return model.Port(fallback), nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 || n > 65535 {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return model.Port(n), nil
}

// tlsFromQuery builds the TLS block shared by the URI-style schemes.
// It returns nil when the link does not ask for TLS.
func tlsFromQuery(q url.Values, server string, forced bool) *model.TLS {
	security := strings.ToLower(q.Get("security"))
	if !forced && security != "tls" && security != "reality" && security != "xtls" {
		return nil
	}

	t := &model.TLS{
		Enabled:    true,
		ServerName: queryFirst(q, "sni", "peer", "serverName"),
		Insecure:   queryBool(q, "allowInsecure", "insecure", "allow_insecure", "skip-cert-verify"),
		ALPN:       splitList(q.Get("alpn")),
	}
	if t.ServerName == "" && net.ParseIP(server) == nil {
		t.ServerName = server
	}
	if fp := q.Get("fp"); fp != "" {
		t.UTLS = &model.UTLS{Enabled: true, Fingerprint: fp}
	}
	if pbk := q.Get("pbk"); pbk != "" || security == "reality" {
		t.Reality = &model.Reality{Enabled: true, PublicKey: pbk, ShortID: q.Get("sid")}
		if t.UTLS == nil {
			t.UTLS = &model.UTLS{Enabled: true, Fingerprint: "chrome"}
		}
	}
	return t
}

// transportFromQuery reads the v2rayN style transport parameters.
func transportFromQuery(q url.Values) *model.Transport {
	network := strings.ToLower(queryFirst(q, "type", "net"))
	host := q.Get("host")
	path := q.Get("path")

	switch network {
	case "ws", "websocket":
		return wsTransport(path, host)
	case "grpc", "gun":
		return &model.Transport{
			Type:        model.TransportGRPC,
			ServiceName: queryFirst(q, "serviceName", "service_name", "path"),
		}
	case "http", "h2":
		t := &model.Transport{Type: model.TransportHTTP, Path: path}
		if host != "" {
			t.Host = splitList(host)
		}
		return t
	case "httpupgrade":
		t := &model.Transport{Type: model.TransportHTTPUpgrade, Path: path}
		if host != "" {
			t.Host = model.Listable{host}
		}
		return t
	case "tcp":
		if strings.EqualFold(q.Get("headerType"), "http") {
			t := &model.Transport{Type: model.TransportHTTP, Path: path}
			if host != "" {
				t.Host = splitList(host)
			}
			return t
		}
	}
	return nil
}

func wsTransport(path, host string) *model.Transport {
	t := &model.Transport{Type: model.TransportWS}
	t.Path, t.MaxEarlyData = SplitEarlyData(path)
	if t.MaxEarlyData > 0 {
		t.EarlyDataHeaderName = model.EarlyDataHeader
	}
	if host != "" {
		t.Headers = model.Headers{"Host": model.Listable{host}}
	}
	return t
}

// finishTLS applies the defaults every decoder shares once the
// TLS and transport blocks are known.
func finishTLS(o *model.Outbound) {
	if o.TLS == nil || o.Transport == nil {
		return
	}
	if o.Transport.Type == model.TransportWS && len(o.TLS.ALPN) == 0 && o.TLS.Enabled {
		o.TLS.ALPN = model.Listable{"http/1.1"}
	}
}
