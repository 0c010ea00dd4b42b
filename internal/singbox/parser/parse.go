package parser

import (
	"errors"
	"fmt"
	"strings"

	"subforge/internal/model"
)

var ErrUnsupported = errors.New("unsupported scheme")

// Schemes lists every link prefix Parse understands.
var Schemes = []string{
	"ss", "vmess", "vless", "trojan", "hysteria", "hysteria2", "hy2",
	"tuic", "wireguard", "wg", "ssh", "anytls", "socks", "socks5",
}

// Parse decodes one share link into an outbound. It never panics; any
// malformed input yields an error.
func Parse(raw string) (out *model.Outbound, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("malformed link: %v", r)
		}
	}()

	raw = FixIllegalUrl(raw)
	scheme, _, ok := strings.Cut(raw, "://")
	if !ok {
		return nil, fmt.Errorf("invalid uri format")
	}

	switch strings.ToLower(scheme) {
	case "ss", "shadowsocks":
		out, err = parseShadowsocks(raw)
	case "vmess":
		out, err = parseVMess(raw)
	case "vless":
		out, err = parseVLESS(raw)
	case "trojan":
		out, err = parseTrojan(raw)
	case "hysteria":
		out, err = parseHysteria(raw)
	case "hysteria2", "hy2":
		out, err = parseHysteria2(raw)
	case "tuic":
		out, err = parseTUIC(raw)
	case "wireguard", "wg":
		out, err = parseWireGuard(raw)
	case "ssh":
		out, err = parseSSH(raw)
	case "anytls":
		out, err = parseAnyTLS(raw)
	case "socks", "socks5":
		out, err = parseSocks(raw)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, scheme)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", strings.ToLower(scheme), err)
	}
	if out.Server == "" {
		return nil, fmt.Errorf("%s: missing server", strings.ToLower(scheme))
	}
	if out.Tag == "" {
		out.Tag = defaultTag(out.Type, out.Server, int(out.ServerPort))
	}
	finishTLS(out)
	return out, nil
}

// IsLink reports whether s starts with a scheme Parse understands.
func IsLink(s string) bool {
	scheme, _, ok := strings.Cut(strings.TrimSpace(s), "://")
	if !ok {
		return false
	}
	scheme = strings.ToLower(scheme)
	for _, known := range Schemes {
		if scheme == known {
			return true
		}
	}
	return scheme == "shadowsocks"
}
