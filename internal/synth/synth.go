// Package synth compiles the active profile, cross-profile references and
// the user's routing settings into the document the engine runs.
package synth

import (
	"strconv"

	"github.com/samber/lo"

	"subforge/internal/extract"
	"subforge/internal/fixup"
	"subforge/internal/logger"
	"subforge/internal/model"
	"subforge/internal/singbox/parser"
)

// Source is one saved profile together with its parsed document. Config
// may be nil when the document failed to load.
type Source struct {
	Profile model.Profile
	Config  *model.Config
}

type Input struct {
	// ActiveProfileID selects which source provides the base outbound list.
	ActiveProfileID string
	// ActiveNodeID is the node the master selector defaults to.
	ActiveNodeID string
	// Sources lists every profile that may be referenced, active included.
	Sources  []Source
	Settings model.RoutingSettings
}

type Result struct {
	Config *model.SynthesizedConfig
	// NodeTags maps every materialized node id to its final outbound tag.
	NodeTags map[string]string
}

// nodeRef locates one proxy outbound of a saved profile.
type nodeRef struct {
	profileID string
	outbound  *model.Outbound
}

type builder struct {
	in        Input
	outbounds []*model.Outbound
	taken     map[string]bool

	index       map[string]nodeRef // node id -> source outbound
	nodeTags    map[string]string  // node id -> final tag
	groupTags   map[string]string  // group name -> final tag
	profileTags map[string]string  // profile id -> final tag
	front       []*model.Outbound  // synthesized groups, placed before everything else
}

// Synthesize never fails: dangling references fall back to the master
// selector and groups that end up empty fall back to direct.
func Synthesize(in Input) *Result {
	b := &builder{
		in:          in,
		taken:       map[string]bool{model.TagProxy: true},
		index:       map[string]nodeRef{},
		nodeTags:    map[string]string{},
		groupTags:   map[string]string{},
		profileTags: map[string]string{},
	}
	b.indexNodes()
	b.base()

	req := collect(in)
	for _, id := range req.nodes {
		b.requireNode(id)
	}
	for _, name := range req.groups {
		b.requireGroup(name)
	}
	for _, id := range req.profiles {
		b.requireProfile(id)
	}

	master := b.master()
	b.outbounds = append(append([]*model.Outbound{master}, b.front...), b.outbounds...)
	b.sweep()

	cfg := &model.SynthesizedConfig{
		Log:          &model.LogOptions{Level: lo.Ternary(in.Settings.LogLevel != "", in.Settings.LogLevel, "warn"), Timestamp: true},
		DNS:          dnsOptions(in.Settings),
		Inbounds:     inbounds(in.Settings),
		Outbounds:    b.outbounds,
		Route:        b.route(),
		Experimental: experimental(in.Settings),
	}
	logger.Log.Debugf("Synthesized %d outbounds, %d route rules", len(cfg.Outbounds), len(cfg.Route.Rules))
	return &Result{Config: cfg, NodeTags: b.nodeTags}
}

func (b *builder) source(profileID string) (Source, bool) {
	return lo.Find(b.in.Sources, func(s Source) bool { return s.Profile.ID == profileID })
}

func (b *builder) indexNodes() {
	for _, src := range b.in.Sources {
		if src.Config == nil {
			continue
		}
		for _, o := range src.Config.Outbounds {
			if !o.IsProxy() {
				continue
			}
			id := parser.StableID(src.Profile.ID, o.Tag)
			if _, dup := b.index[id]; !dup {
				b.index[id] = nodeRef{profileID: src.Profile.ID, outbound: o}
			}
		}
	}
}

// base copies and fixes the active profile's outbounds and makes sure the
// sentinels exist with their reserved tags.
func (b *builder) base() {
	var detoured []*model.Outbound
	if src, ok := b.source(b.in.ActiveProfileID); ok && src.Config != nil {
		for _, o := range src.Config.Outbounds {
			c := fixup.Apply(o.Clone())
			c.Tag = b.free(c.Tag, "")
			b.add(c)
			if id := parser.StableID(src.Profile.ID, o.Tag); c.IsProxy() && b.nodeTags[id] == "" {
				b.nodeTags[id] = c.Tag
			}
			if c.Detour() != "" {
				detoured = append(detoured, c)
			}
		}
	}

	for _, s := range sentinels() {
		existing := b.find(s.Tag)
		if existing != nil && existing.Type == s.Type {
			continue
		}
		if existing != nil {
			// Something else squats on a reserved tag.
			b.retag(existing, b.free(existing.Tag, ""))
		}
		b.add(s)
	}
	for _, c := range detoured {
		b.linkDetour(c, b.in.ActiveProfileID)
	}
}

func sentinels() []*model.Outbound {
	return []*model.Outbound{
		{Type: model.TypeDirect, Tag: model.TagDirect},
		{Type: model.TypeBlock, Tag: model.TagBlock},
		{Type: model.TypeDNS, Tag: model.TagDNS},
	}
}

func (b *builder) retag(o *model.Outbound, tag string) {
	for id, t := range b.nodeTags {
		if t == o.Tag {
			b.nodeTags[id] = tag
		}
	}
	o.Tag = tag
	b.taken[tag] = true
}

func (b *builder) add(o *model.Outbound) {
	b.outbounds = append(b.outbounds, o)
	b.taken[o.Tag] = true
}

func (b *builder) find(tag string) *model.Outbound {
	for _, o := range b.front {
		if o.Tag == tag {
			return o
		}
	}
	for _, o := range b.outbounds {
		if o.Tag == tag {
			return o
		}
	}
	return nil
}

// free returns tag when unused, else tag-<suffix>, else tag-<hash> with the
// hash re-derived until it is free. Every step is a pure function of its
// inputs so output stays stable across runs.
func (b *builder) free(tag, suffix string) string {
	if !b.taken[tag] {
		return tag
	}
	if suffix != "" {
		if c := tag + "-" + suffix; !b.taken[c] {
			return c
		}
	}
	for attempt := 0; ; attempt++ {
		c := tag + "-" + parser.ShortHash(6, tag, suffix, strconv.Itoa(attempt))
		if !b.taken[c] {
			return c
		}
	}
}

func shortID(id string) string {
	if len(id) > 4 {
		return id[:4]
	}
	return id
}

// requireNode imports a node from any profile and records its final tag.
// Unknown ids are left unresolved.
func (b *builder) requireNode(id string) (string, bool) {
	if tag, ok := b.nodeTags[id]; ok {
		return tag, true
	}
	ref, ok := b.index[id]
	if !ok {
		logger.Log.Debugf("Node %s not found in any profile", id)
		return "", false
	}
	c := fixup.Apply(ref.outbound.Clone())
	c.Tag = b.free(c.Tag, shortID(ref.profileID))
	b.add(c)
	b.nodeTags[id] = c.Tag
	b.linkDetour(c, ref.profileID)
	return c.Tag, true
}

// linkDetour rewrites o's detour to the final tag of the node it names in
// the same profile, importing that node when needed. Detours that resolve
// to nothing in the output are dropped.
func (b *builder) linkDetour(o *model.Outbound, profileID string) {
	target := o.Detour()
	if target == "" {
		return
	}
	if tag, ok := b.requireNode(parser.StableID(profileID, target)); ok {
		o.SetDetour(tag)
		return
	}
	if target == model.TagDirect || (profileID == b.in.ActiveProfileID && b.find(target) != nil) {
		return
	}
	logger.Log.Debugf("Outbound %s: dropping unresolved detour %q", o.Tag, target)
	o.SetDetour("")
}

// requireGroup materializes a named group over every node that extraction
// places in it, across all profiles.
func (b *builder) requireGroup(name string) (string, bool) {
	if tag, ok := b.groupTags[name]; ok {
		return tag, true
	}

	var members []string
	for _, src := range b.in.Sources {
		if src.Config == nil {
			continue
		}
		groups := extract.Groups(src.Config)
		for _, o := range src.Config.Outbounds {
			if !o.IsProxy() || groups[o.Tag] != name {
				continue
			}
			if tag, ok := b.requireNode(parser.StableID(src.Profile.ID, o.Tag)); ok {
				members = append(members, tag)
			}
		}
	}
	members = lo.Uniq(members)

	if existing := b.find(name); existing != nil && existing.IsGroup() {
		existing.Outbounds = lo.Uniq(append(existing.Outbounds, members...))
		b.groupTags[name] = existing.Tag
		return existing.Tag, true
	}
	if len(members) == 0 {
		return "", false
	}
	sel := &model.Outbound{Type: model.TypeSelector, Tag: b.free(name, "group"), Outbounds: members, Default: members[0]}
	b.taken[sel.Tag] = true
	b.front = append(b.front, sel)
	b.groupTags[name] = sel.Tag
	return sel.Tag, true
}

// requireProfile builds the "P:<name>" selector over all nodes of a profile.
func (b *builder) requireProfile(id string) (string, bool) {
	if tag, ok := b.profileTags[id]; ok {
		return tag, true
	}
	src, ok := b.source(id)
	if !ok || src.Config == nil {
		return "", false
	}
	var members []string
	for _, o := range src.Config.Outbounds {
		if !o.IsProxy() {
			continue
		}
		if tag, ok := b.requireNode(parser.StableID(id, o.Tag)); ok {
			members = append(members, tag)
		}
	}
	if len(members) == 0 {
		return "", false
	}
	name := src.Profile.Name
	if name == "" {
		name = id
	}
	sel := &model.Outbound{Type: model.TypeSelector, Tag: b.free("P:"+name, shortID(id)), Outbounds: members, Default: members[0]}
	b.taken[sel.Tag] = true
	b.front = append(b.front, sel)
	b.profileTags[id] = sel.Tag
	return sel.Tag, true
}

// master builds the PROXY selector over every proxy outbound.
func (b *builder) master() *model.Outbound {
	var members []string
	for _, o := range b.outbounds {
		if o.IsProxy() {
			members = append(members, o.Tag)
		}
	}
	if len(members) == 0 {
		members = []string{model.TagDirect}
	}
	def := members[0]
	if tag, ok := b.nodeTags[b.in.ActiveNodeID]; ok && lo.Contains(members, tag) {
		def = tag
	}
	return &model.Outbound{Type: model.TypeSelector, Tag: model.TagProxy, Outbounds: members, Default: def}
}

// sweep drops group members and detours that do not exist (or point at
// the outbound itself) and gives emptied groups a direct fallback.
func (b *builder) sweep() {
	exists := make(map[string]bool, len(b.outbounds))
	for _, o := range b.outbounds {
		exists[o.Tag] = true
	}
	for _, o := range b.outbounds {
		if d := o.Detour(); d != "" && (!exists[d] || d == o.Tag) {
			logger.Log.Debugf("Outbound %s: detour %q removed", o.Tag, d)
			o.SetDetour("")
		}
		if !o.IsGroup() {
			continue
		}
		members := lo.Uniq(lo.Filter(o.Outbounds, func(m string, _ int) bool {
			return exists[m] && m != o.Tag
		}))
		if len(members) == 0 {
			members = []string{model.TagDirect}
		}
		if len(members) != len(o.Outbounds) {
			logger.Log.Debugf("Group %s: %d dangling members removed", o.Tag, len(o.Outbounds)-len(members))
		}
		o.Outbounds = members
		if o.Default != "" && !lo.Contains(members, o.Default) {
			o.Default = members[0]
		}
	}
}
