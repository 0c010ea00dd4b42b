package model

import "encoding/json"

// Transport types.
const (
	TransportWS          = "ws"
	TransportGRPC        = "grpc"
	TransportHTTP        = "http"
	TransportHTTPUpgrade = "httpupgrade"
	TransportQUIC        = "quic"
)

// EarlyDataHeader is the header xray-style links carry early data in.
const EarlyDataHeader = "Sec-WebSocket-Protocol"

// Transport is the V2Ray transport block. Which fields apply depends on
// Type; MarshalJSON emits only those.
type Transport struct {
	Type string `json:"type"`

	Path                string  `json:"path,omitempty"`
	Headers             Headers `json:"headers,omitempty"`
	MaxEarlyData        int     `json:"max_early_data,omitempty"`
	EarlyDataHeaderName string  `json:"early_data_header_name,omitempty"`

	Host   Listable `json:"host,omitempty"`
	Method string   `json:"method,omitempty"`

	ServiceName         string   `json:"service_name,omitempty"`
	IdleTimeout         Duration `json:"idle_timeout,omitempty"`
	PingTimeout         Duration `json:"ping_timeout,omitempty"`
	PermitWithoutStream bool     `json:"permit_without_stream,omitempty"`
}

type wsTransport struct {
	Type                string  `json:"type"`
	Path                string  `json:"path,omitempty"`
	Headers             Headers `json:"headers,omitempty"`
	MaxEarlyData        int     `json:"max_early_data,omitempty"`
	EarlyDataHeaderName string  `json:"early_data_header_name,omitempty"`
}

type grpcTransport struct {
	Type                string   `json:"type"`
	ServiceName         string   `json:"service_name,omitempty"`
	IdleTimeout         Duration `json:"idle_timeout,omitempty"`
	PingTimeout         Duration `json:"ping_timeout,omitempty"`
	PermitWithoutStream bool     `json:"permit_without_stream,omitempty"`
}

type httpTransport struct {
	Type        string   `json:"type"`
	Host        Listable `json:"host,omitempty"`
	Path        string   `json:"path,omitempty"`
	Method      string   `json:"method,omitempty"`
	Headers     Headers  `json:"headers,omitempty"`
	IdleTimeout Duration `json:"idle_timeout,omitempty"`
	PingTimeout Duration `json:"ping_timeout,omitempty"`
}

type upgradeTransport struct {
	Type    string  `json:"type"`
	Host    string  `json:"host,omitempty"`
	Path    string  `json:"path,omitempty"`
	Headers Headers `json:"headers,omitempty"`
}

func (t Transport) MarshalJSON() ([]byte, error) {
	switch t.Type {
	case TransportWS:
		return json.Marshal(wsTransport{
			Type:                t.Type,
			Path:                t.Path,
			Headers:             t.Headers,
			MaxEarlyData:        t.MaxEarlyData,
			EarlyDataHeaderName: t.EarlyDataHeaderName,
		})
	case TransportGRPC:
		return json.Marshal(grpcTransport{
			Type:                t.Type,
			ServiceName:         t.ServiceName,
			IdleTimeout:         t.IdleTimeout,
			PingTimeout:         t.PingTimeout,
			PermitWithoutStream: t.PermitWithoutStream,
		})
	case TransportHTTP:
		return json.Marshal(httpTransport{
			Type:        t.Type,
			Host:        t.Host,
			Path:        t.Path,
			Method:      t.Method,
			Headers:     t.Headers,
			IdleTimeout: t.IdleTimeout,
			PingTimeout: t.PingTimeout,
		})
	case TransportHTTPUpgrade:
		var host string
		if len(t.Host) > 0 {
			host = t.Host[0]
		}
		return json.Marshal(upgradeTransport{Type: t.Type, Host: host, Path: t.Path, Headers: t.Headers})
	case TransportQUIC:
		return json.Marshal(struct {
			Type string `json:"type"`
		}{t.Type})
	default:
		type plain Transport
		return json.Marshal(plain(t))
	}
}

func (t *Transport) Clone() *Transport {
	if t == nil {
		return nil
	}
	c := *t
	c.Host = cloneStrings(t.Host)
	if t.Headers != nil {
		c.Headers = make(Headers, len(t.Headers))
		for k, v := range t.Headers {
			c.Headers[k] = cloneStrings(v)
		}
	}
	return &c
}
