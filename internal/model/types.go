package model

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Port accepts both `443` and `"443"` on input and always writes a number.
type Port uint16

func (p *Port) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	if s == "" || s == "null" {
		*p = 0
		return nil
	}
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return fmt.Errorf("invalid port %q: %w", s, err)
	}
	*p = Port(n)
	return nil
}

// Duration keeps sing-box duration strings verbatim ("10s", "1m").
// Bare numbers are accepted and kept without a unit.
type Duration string

func (d *Duration) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*d = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*d = Duration(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("invalid duration %s", b)
	}
	*d = Duration(n.String())
	return nil
}

// HasUnit reports whether the value ends in a unit suffix.
func (d Duration) HasUnit() bool {
	s := string(d)
	if s == "" {
		return false
	}
	last := s[len(s)-1]
	return last < '0' || last > '9'
}

// Listable is a string list that also accepts a single string.
// A one element list is written back as a plain string.
type Listable []string

func (l *Listable) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*l = nil
		return nil
	}
	if b[0] == '[' {
		var items []string
		if err := json.Unmarshal(b, &items); err != nil {
			return err
		}
		*l = items
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*l = nil
		return nil
	}
	*l = Listable{s}
	return nil
}

func (l Listable) MarshalJSON() ([]byte, error) {
	if len(l) == 1 {
		return json.Marshal(l[0])
	}
	return json.Marshal([]string(l))
}

// Headers maps an HTTP header name to one or more values.
type Headers map[string]Listable

// Get returns the first value of a header, matching names case-insensitively.
func (h Headers) Get(name string) string {
	for k, v := range h {
		if strings.EqualFold(k, name) && len(v) > 0 {
			return v[0]
		}
	}
	return ""
}

// Has reports whether the header is set to a non-empty value.
func (h Headers) Has(name string) bool {
	return h.Get(name) != ""
}

// Reserved is the wireguard reserved field: a list of bytes or a base64 string.
type Reserved []int

func (r *Reserved) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*r = nil
		return nil
	}
	if b[0] == '[' {
		var items []int
		if err := json.Unmarshal(b, &items); err != nil {
			return err
		}
		*r = items
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return fmt.Errorf("invalid reserved %q: %w", s, err)
	}
	out := make(Reserved, len(raw))
	for i, c := range raw {
		out[i] = int(c)
	}
	*r = out
	return nil
}

// Obfs covers both obfuscation shapes: hysteria writes a bare password
// string, hysteria2 writes {"type": "salamander", "password": "..."}.
type Obfs struct {
	Type     string `json:"type,omitempty"`
	Password string `json:"password,omitempty"`

	legacy bool
}

// LegacyObfs builds the hysteria (v1) string form.
func LegacyObfs(password string) *Obfs {
	return &Obfs{Password: password, legacy: true}
}

func (o *Obfs) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*o = Obfs{Password: s, legacy: true}
		return nil
	}
	type plain Obfs
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*o = Obfs(p)
	return nil
}

func (o Obfs) MarshalJSON() ([]byte, error) {
	if o.legacy {
		return json.Marshal(o.Password)
	}
	type plain Obfs
	return json.Marshal(plain(o))
}
