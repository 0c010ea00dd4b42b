package model

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestOutbound_UnmarshalLenientTypes(t *testing.T) {
	raw := `{
		"type": "hysteria2",
		"tag": "hy",
		"server": "h.example.com",
		"server_port": "8443",
		"obfs": {"type": "salamander", "password": "ob"},
		"tls": {"enabled": true, "alpn": "h3"},
		"multiplex": {"enabled": true, "protocol": "h2mux"},
		"domain_strategy": "ipv4_only"
	}`

	var o Outbound
	if err := json.Unmarshal([]byte(raw), &o); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if o.ServerPort != 8443 {
		t.Errorf("server_port = %d, want 8443", o.ServerPort)
	}
	if o.Obfs == nil || o.Obfs.Type != "salamander" {
		t.Errorf("obfs = %+v", o.Obfs)
	}
	if len(o.TLS.ALPN) != 1 || o.TLS.ALPN[0] != "h3" {
		t.Errorf("alpn = %v", o.TLS.ALPN)
	}
	if len(o.Extra) != 2 {
		t.Fatalf("extra keys = %v, want multiplex and domain_strategy", o.Extra)
	}

	b, err := json.Marshal(o)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	out := string(b)
	for _, want := range []string{`"server_port":8443`, `"multiplex":{"enabled":true,"protocol":"h2mux"}`, `"domain_strategy":"ipv4_only"`, `"alpn":"h3"`} {
		if !strings.Contains(out, want) {
			t.Errorf("marshalled outbound missing %s:\n%s", want, out)
		}
	}
	if !strings.HasPrefix(out, `{"type":"hysteria2","tag":"hy"`) {
		t.Errorf("type and tag should lead the object: %s", out)
	}
}

func TestOutbound_LegacyObfs(t *testing.T) {
	var o Outbound
	if err := json.Unmarshal([]byte(`{"type":"hysteria","tag":"h","obfs":"secret"}`), &o); err != nil {
		t.Fatal(err)
	}
	b, _ := json.Marshal(o)
	if !strings.Contains(string(b), `"obfs":"secret"`) {
		t.Errorf("hysteria obfs should stay a string: %s", b)
	}
}

func TestDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    Duration
		hasUnit bool
	}{
		{`"3m"`, "3m", true},
		{`300`, "300", false},
		{`"300"`, "300", false},
		{`null`, "", false},
	}
	for _, tt := range tests {
		var d Duration
		if err := json.Unmarshal([]byte(tt.in), &d); err != nil {
			t.Fatalf("Unmarshal(%s): %v", tt.in, err)
		}
		if d != tt.want || d.HasUnit() != tt.hasUnit {
			t.Errorf("Unmarshal(%s) = %q (unit %v), want %q (unit %v)", tt.in, d, d.HasUnit(), tt.want, tt.hasUnit)
		}
	}
}

func TestTLS_MarshalByMode(t *testing.T) {
	tests := []struct {
		name    string
		tls     TLS
		want    []string
		notWant []string
	}{
		{
			name:    "Disabled block drops everything",
			tls:     TLS{Enabled: false, ServerName: "x.com", Reality: &Reality{PublicKey: "k"}},
			want:    []string{`{"enabled":false}`},
			notWant: []string{"server_name", "reality"},
		},
		{
			name:    "Standard TLS drops a disabled reality block",
			tls:     TLS{Enabled: true, ServerName: "x.com", Reality: &Reality{Enabled: false, PublicKey: "k"}},
			want:    []string{`"server_name":"x.com"`},
			notWant: []string{"reality"},
		},
		{
			name: "Reality forces uTLS",
			tls:  TLS{Enabled: true, Reality: &Reality{Enabled: true, PublicKey: "k"}},
			want: []string{`"public_key":"k"`, `"utls":{"enabled":true,"fingerprint":"chrome"}`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := json.Marshal(tt.tls)
			if err != nil {
				t.Fatal(err)
			}
			for _, w := range tt.want {
				if !strings.Contains(string(b), w) {
					t.Errorf("%s missing %s", b, w)
				}
			}
			for _, w := range tt.notWant {
				if strings.Contains(string(b), w) {
					t.Errorf("%s should not contain %s", b, w)
				}
			}
		})
	}
}

func TestTransport_MarshalByType(t *testing.T) {
	tr := Transport{
		Type:        TransportGRPC,
		Path:        "/ignored",
		ServiceName: "svc",
		Headers:     Headers{"Host": {"h"}},
	}
	b, _ := json.Marshal(tr)
	if string(b) != `{"type":"grpc","service_name":"svc"}` {
		t.Errorf("grpc transport = %s", b)
	}

	tr = Transport{Type: TransportWS, Path: "/ws", ServiceName: "ignored", Headers: Headers{"Host": {"h"}}}
	b, _ = json.Marshal(tr)
	if string(b) != `{"type":"ws","path":"/ws","headers":{"Host":"h"}}` {
		t.Errorf("ws transport = %s", b)
	}
}

func TestOutbound_CloneIsDeep(t *testing.T) {
	o := &Outbound{
		Type:      TypeSelector,
		Tag:       "g",
		Outbounds: []string{"a", "b"},
		TLS:       &TLS{Enabled: true, ALPN: Listable{"h2"}},
		Transport: &Transport{Type: TransportWS, Headers: Headers{"Host": {"x"}}},
	}
	c := o.Clone()
	c.Outbounds[0] = "z"
	c.TLS.ALPN[0] = "h3"
	c.Transport.Headers["Host"][0] = "y"

	if o.Outbounds[0] != "a" || o.TLS.ALPN[0] != "h2" || o.Transport.Headers.Get("Host") != "x" {
		t.Errorf("Clone shares state with the original: %+v", o)
	}
}
