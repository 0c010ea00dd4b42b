package parser

import (
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"subforge/internal/model"
)

// vmessJSON is the v2rayN share format. Several fields appear as either
// strings or numbers depending on the exporting client.
type vmessJSON struct {
	V    any    `json:"v"`
	Ps   string `json:"ps"`
	Add  string `json:"add"`
	Port any    `json:"port"`
	Id   string `json:"id"`
	Aid  any    `json:"aid"`
	Scy  string `json:"scy"`
	Net  string `json:"net"`
	Type string `json:"type"`
	Host string `json:"host"`
	Path string `json:"path"`
	Tls  string `json:"tls"`
	Sni  string `json:"sni"`
	Alpn string `json:"alpn"`
	Fp   string `json:"fp"`

	Insecure any `json:"insecure"`
}

func parseVMess(raw string) (*model.Outbound, error) {
	body := raw[strings.Index(raw, "://")+3:]

	// Standard URI form (vmess://uuid@host:port?...). The base64 alphabet
	// has no '@'.
	b64, _, _ := strings.Cut(body, "#")
	if strings.Contains(b64, "@") {
		return parseVMessURI(raw)
	}

	jsonStr, err := DecodeBase64(b64)
	if err != nil {
		return nil, fmt.Errorf("base64: %w", err)
	}

	var v vmessJSON
	if err := json.Unmarshal([]byte(jsonStr), &v); err != nil {
		return nil, fmt.Errorf("json: %w", err)
	}
	if v.Add == "" || v.Id == "" {
		return nil, fmt.Errorf("missing address or id")
	}

	port, err := parsePort(anyString(v.Port), 0)
	if err != nil || port == 0 {
		return nil, fmt.Errorf("invalid port %v", v.Port)
	}

	o := &model.Outbound{
		Type:       model.TypeVMess,
		Tag:        strings.TrimSpace(v.Ps),
		Server:     v.Add,
		ServerPort: port,
		UUID:       v.Id,
		Security:   v.Scy,
	}
	if o.Security == "" {
		o.Security = "auto"
	}
	o.AlterID, _ = strconv.Atoi(anyString(v.Aid))

	q := url.Values{}
	q.Set("type", v.Net)
	q.Set("host", v.Host)
	q.Set("path", v.Path)
	q.Set("headerType", v.Type)
	if v.Net == "grpc" {
		q.Set("serviceName", v.Path)
	}
	o.Transport = transportFromQuery(q)

	if strings.EqualFold(v.Tls, "tls") {
		o.TLS = &model.TLS{
			Enabled:    true,
			ServerName: v.Sni,
			ALPN:       splitList(v.Alpn),
			Insecure:   anyString(v.Insecure) == "1" || anyString(v.Insecure) == "true",
		}
		if o.TLS.ServerName == "" {
			o.TLS.ServerName = v.Host
		}
		if o.TLS.ServerName == "" && net.ParseIP(v.Add) == nil {
			o.TLS.ServerName = v.Add
		}
		if v.Fp != "" {
			o.TLS.UTLS = &model.UTLS{Enabled: true, Fingerprint: v.Fp}
		}
	}
	return o, nil
}

func parseVMessURI(raw string) (*model.Outbound, error) {
	o, q, err := parseGenericURI(raw, model.TypeVMess)
	if err != nil {
		return nil, err
	}
	o.UUID = o.Password
	o.Password = ""
	o.Security = queryFirst(q, "encryption", "scy")
	if o.Security == "" {
		o.Security = "auto"
	}
	o.AlterID, _ = strconv.Atoi(q.Get("aid"))
	o.TLS = tlsFromQuery(q, o.Server, false)
	o.Transport = transportFromQuery(q)
	return o, nil
}

func anyString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}
