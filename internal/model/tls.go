package model

import "encoding/json"

// TLSMode is the security layer variant of an outbound.
type TLSMode int

const (
	TLSPlain TLSMode = iota
	TLSStandard
	TLSReality
)

func (m TLSMode) String() string {
	switch m {
	case TLSStandard:
		return "tls"
	case TLSReality:
		return "reality"
	default:
		return "none"
	}
}

type TLS struct {
	Enabled    bool     `json:"enabled"`
	DisableSNI bool     `json:"disable_sni,omitempty"`
	ServerName string   `json:"server_name,omitempty"`
	Insecure   bool     `json:"insecure,omitempty"`
	ALPN       Listable `json:"alpn,omitempty"`
	UTLS       *UTLS    `json:"utls,omitempty"`
	Reality    *Reality `json:"reality,omitempty"`
}

type UTLS struct {
	Enabled     bool   `json:"enabled"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

type Reality struct {
	Enabled   bool   `json:"enabled"`
	PublicKey string `json:"public_key,omitempty"`
	ShortID   string `json:"short_id,omitempty"`
}

// Mode classifies the block. A nil or disabled block is plain.
func (t *TLS) Mode() TLSMode {
	switch {
	case t == nil || !t.Enabled:
		return TLSPlain
	case t.Reality != nil && t.Reality.Enabled:
		return TLSReality
	default:
		return TLSStandard
	}
}

// Fingerprint returns the uTLS fingerprint, or "".
func (t *TLS) Fingerprint() string {
	if t == nil || t.UTLS == nil || !t.UTLS.Enabled {
		return ""
	}
	return t.UTLS.Fingerprint
}

// MarshalJSON writes only the fields valid for the block's mode.
func (t TLS) MarshalJSON() ([]byte, error) {
	type plain TLS
	p := plain(t)
	switch t.Mode() {
	case TLSPlain:
		return []byte(`{"enabled":false}`), nil
	case TLSStandard:
		p.Reality = nil
	case TLSReality:
		// reality always runs over a uTLS hello
		if p.UTLS == nil || !p.UTLS.Enabled {
			p.UTLS = &UTLS{Enabled: true, Fingerprint: "chrome"}
		}
	}
	return json.Marshal(p)
}

func (t *TLS) Clone() *TLS {
	if t == nil {
		return nil
	}
	c := *t
	c.ALPN = cloneStrings(t.ALPN)
	if t.UTLS != nil {
		u := *t.UTLS
		c.UTLS = &u
	}
	if t.Reality != nil {
		r := *t.Reality
		c.Reality = &r
	}
	return &c
}
