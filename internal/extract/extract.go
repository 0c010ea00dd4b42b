// Package extract turns a parsed profile into the flat node list shown to
// users and referenced by routing rules.
package extract

import (
	"subforge/internal/model"
	"subforge/internal/singbox/parser"
)

// CountryResolver maps a server address to an ISO country code.
type CountryResolver interface {
	Country(host string) (string, bool)
}

type Extractor struct {
	// GeoIP is consulted only when the node name carries no region hint.
	GeoIP CountryResolver
}

// Extract returns one ProxyNode per proxy-type outbound, in document order.
func (e *Extractor) Extract(cfg *model.Config, profileID string) []model.ProxyNode {
	if cfg == nil {
		return nil
	}
	groups := Groups(cfg)

	var nodes []model.ProxyNode
	for _, o := range cfg.Outbounds {
		if !o.IsProxy() {
			continue
		}
		nodes = append(nodes, model.ProxyNode{
			ID:              parser.StableID(profileID, o.Tag),
			Name:            o.Tag,
			Protocol:        o.Type,
			Group:           groups[o.Tag],
			RegionTag:       e.regionTag(o),
			SourceProfileID: profileID,
		})
	}
	return nodes
}

// Extract with no GeoIP fallback.
func Extract(cfg *model.Config, profileID string) []model.ProxyNode {
	return (&Extractor{}).Extract(cfg, profileID)
}

// RegionTag computes the flag for a node name. A name that already shows a
// flag gets no tag.
func RegionTag(name string) string {
	return (&Extractor{}).regionTag(&model.Outbound{Tag: name})
}

func (e *Extractor) regionTag(o *model.Outbound) string {
	if HasFlag(o.Tag) {
		return ""
	}
	if iso, ok := matchRegion(o.Tag); ok {
		return Flag(iso)
	}
	if e.GeoIP != nil {
		if iso, ok := e.GeoIP.Country(o.Server); ok {
			return Flag(iso)
		}
	}
	return GlobeTag
}

// Groups maps member tag to the group it is shown under. Every node gets at
// most one group: url-test groups are applied first and selectors overwrite
// them, so a node listed in both lands in the selector. Within one kind the
// later group in document order wins.
func Groups(cfg *model.Config) map[string]string {
	out := map[string]string{}
	for _, kind := range []string{model.TypeURLTest, model.TypeSelector} {
		for _, o := range cfg.Outbounds {
			if o.Type != kind {
				continue
			}
			for _, member := range o.Outbounds {
				out[member] = o.Tag
			}
		}
	}
	return out
}
