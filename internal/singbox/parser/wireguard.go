package parser

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"subforge/internal/model"
)

func parseWireGuard(raw string) (*model.Outbound, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	port, err := parsePort(u.Port(), 51820)
	if err != nil {
		return nil, err
	}

	o := &model.Outbound{
		Type:       model.TypeWireGuard,
		Tag:        label(u.EscapedFragment()),
		Server:     u.Hostname(),
		ServerPort: port,
	}
	// Private key in user info
	if u.User != nil {
		o.PrivateKey = u.User.String()
		if unescaped, err := url.PathUnescape(o.PrivateKey); err == nil {
			o.PrivateKey = unescaped
		}
	}

	q := u.Query()
	if o.PrivateKey == "" {
		o.PrivateKey = queryFirst(q, "privatekey", "private_key", "secretKey")
	}
	if o.PrivateKey == "" {
		return nil, fmt.Errorf("missing private key")
	}
	o.PeerPublicKey = queryFirst(q, "publickey", "public_key", "peer_public_key")
	if o.PeerPublicKey == "" {
		return nil, fmt.Errorf("missing peer public key")
	}
	o.PreSharedKey = queryFirst(q, "presharedkey", "pre_shared_key", "psk")

	o.LocalAddress = splitList(queryFirst(q, "address", "ip", "local_address"))
	if len(o.LocalAddress) == 0 {
		o.LocalAddress = model.Listable{"172.16.0.2/32"} // Default IPv4
	}
	for i, addr := range o.LocalAddress {
		if !strings.Contains(addr, "/") {
			if strings.Contains(addr, ":") {
				o.LocalAddress[i] = addr + "/128"
			} else {
				o.LocalAddress[i] = addr + "/32"
			}
		}
	}

	if mtuStr := q.Get("mtu"); mtuStr != "" {
		o.MTU, _ = strconv.Atoi(mtuStr)
	}

	// Reserved bytes "1,2,3" -> [1,2,3]
	if reserved := q.Get("reserved"); reserved != "" {
		for _, part := range splitList(reserved) {
			val, err := strconv.Atoi(part)
			if err != nil || val < 0 || val > 255 {
				return nil, fmt.Errorf("invalid reserved byte %q", part)
			}
			o.Reserved = append(o.Reserved, val)
		}
	}
	return o, nil
}
