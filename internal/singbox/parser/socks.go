package parser

import (
	"net/url"
	"strings"

	"subforge/internal/model"
)

func parseSocks(raw string) (*model.Outbound, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	port, err := parsePort(u.Port(), 1080)
	if err != nil {
		return nil, err
	}

	o := &model.Outbound{
		Type:       model.TypeSOCKS,
		Tag:        label(u.EscapedFragment()),
		Server:     u.Hostname(),
		ServerPort: port,
		Version:    "5",
	}
	if u.User == nil {
		return o, nil
	}

	o.Username = u.User.Username()
	pass, hasPass := u.User.Password()
	o.Password = pass
	// v2rayN writes base64(user:pass) as the whole userinfo
	if !hasPass && o.Username != "" {
		if decoded, err := DecodeBase64(o.Username); err == nil {
			if user, pass, ok := strings.Cut(decoded, ":"); ok {
				o.Username, o.Password = user, pass
			}
		}
	}
	return o, nil
}
