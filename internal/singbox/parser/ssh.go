package parser

import (
	"encoding/json"
	"net/url"

	"subforge/internal/model"
)

func parseSSH(raw string) (*model.Outbound, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	port, err := parsePort(u.Port(), 22)
	if err != nil {
		return nil, err
	}

	o := &model.Outbound{
		Type:       model.TypeSSH,
		Tag:        label(u.EscapedFragment()),
		Server:     u.Hostname(),
		ServerPort: port,
		User:       "root",
	}
	if u.User != nil {
		if name := u.User.Username(); name != "" {
			o.User = name
		}
		o.Password, _ = u.User.Password()
	}

	q := u.Query()
	if o.Password == "" {
		o.Password = q.Get("password")
	}
	o.PrivateKey = q.Get("private_key")
	o.PrivateKeyPassphrase = q.Get("private_key_passphrase")
	o.HostKey = splitList(q.Get("host_key"))
	o.ClientVersion = q.Get("client_version")

	// Fields the model does not carry go through Extra verbatim.
	if path := q.Get("private_key_path"); path != "" && o.PrivateKey == "" {
		setExtra(o, "private_key_path", path)
	}
	if algs := splitList(q.Get("host_key_algorithms")); len(algs) > 0 {
		setExtra(o, "host_key_algorithms", algs)
	}
	return o, nil
}

func setExtra(o *model.Outbound, key string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	if o.Extra == nil {
		o.Extra = make(map[string]json.RawMessage)
	}
	o.Extra[key] = b
}
