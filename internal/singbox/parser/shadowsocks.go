package parser

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"subforge/internal/model"
)

var ssMethods = map[string]bool{
	"2022-blake3-aes-128-gcm":       true,
	"2022-blake3-aes-256-gcm":       true,
	"2022-blake3-chacha20-poly1305": true,
	"none":                          true,
	"aes-128-gcm":                   true,
	"aes-192-gcm":                   true,
	"aes-256-gcm":                   true,
	"chacha20-ietf-poly1305":        true,
	"xchacha20-ietf-poly1305":       true,
	"aes-128-ctr":                   true,
	"aes-192-ctr":                   true,
	"aes-256-ctr":                   true,
	"aes-128-cfb":                   true,
	"aes-192-cfb":                   true,
	"aes-256-cfb":                   true,
	"rc4-md5":                       true,
	"chacha20-ietf":                 true,
	"xchacha20":                     true,
}

// parseShadowsocks handles both the SIP002 form
// (ss://base64(method:password)@host:port or ss://method:password@host:port)
// and the legacy form where everything after the scheme is one base64 blob.
func parseShadowsocks(raw string) (*model.Outbound, error) {
	body := raw[strings.Index(raw, "://")+3:]

	body, fragment, _ := strings.Cut(body, "#")
	body, rawQuery, _ := strings.Cut(body, "?")
	body = strings.TrimSuffix(body, "/")

	if !strings.Contains(body, "@") {
		decoded, err := DecodeBase64(body)
		if err != nil {
			return nil, fmt.Errorf("legacy base64: %w", err)
		}
		body = strings.TrimSpace(decoded)
		if !strings.Contains(body, "@") {
			return nil, fmt.Errorf("legacy link has no server")
		}
	}

	at := strings.LastIndex(body, "@")
	userinfo, hostport := body[:at], body[at+1:]

	if unescaped, err := url.PathUnescape(userinfo); err == nil {
		userinfo = unescaped
	}
	if !strings.Contains(userinfo, ":") {
		decoded, err := DecodeBase64(userinfo)
		if err != nil {
			return nil, fmt.Errorf("userinfo base64: %w", err)
		}
		userinfo = decoded
	}
	method, password, ok := strings.Cut(userinfo, ":")
	if !ok || method == "" {
		return nil, fmt.Errorf("invalid userinfo")
	}
	method = strings.ToLower(method)
	if !ssMethods[method] {
		return nil, fmt.Errorf("unsupported method %q", method)
	}

	host, portStr, err := net.SplitHostPort(strings.TrimSuffix(hostport, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", hostport, err)
	}
	port, err := parsePort(portStr, 0)
	if err != nil {
		return nil, err
	}

	o := &model.Outbound{
		Type:       model.TypeShadowsocks,
		Tag:        label(fragment),
		Server:     host,
		ServerPort: port,
		Method:     method,
		Password:   password,
	}

	if rawQuery != "" {
		q, _ := url.ParseQuery(rawQuery)
		if plugin := q.Get("plugin"); plugin != "" {
			name, opts, _ := strings.Cut(plugin, ";")
			if name == "simple-obfs" {
				name = "obfs-local"
			}
			o.Plugin = name
			o.PluginOpts = opts
		}
		if q.Get("udp") == "0" {
			o.Network = "tcp"
		}
	}
	return o, nil
}
