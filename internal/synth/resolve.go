package synth

import (
	"github.com/samber/lo"

	"subforge/internal/model"
	"subforge/internal/singbox/parser"
)

// requirements lists what routing settings reference, in settings order.
type requirements struct {
	nodes    []string
	groups   []string
	profiles []string
}

func (r *requirements) add(t model.RoutingTarget) {
	switch t.Mode {
	case model.TargetNode:
		if id := nodeID(t); id != "" {
			r.nodes = append(r.nodes, id)
		}
	case model.TargetGroup:
		if t.Group != "" {
			r.groups = append(r.groups, t.Group)
		}
	case model.TargetProfile:
		if t.ProfileID != "" {
			r.profiles = append(r.profiles, t.ProfileID)
		}
	}
}

// collect walks every target in the settings. The active node is required
// too so a node picked from another profile is materialized.
func collect(in Input) requirements {
	var r requirements
	if in.ActiveNodeID != "" {
		r.add(model.NodeTarget(in.ActiveNodeID))
	}
	s := in.Settings
	for _, rule := range s.Rules {
		if !rule.Disabled {
			r.add(rule.Target)
		}
	}
	for _, rs := range s.RuleSets {
		if !rs.Disabled {
			r.add(rs.Target)
		}
	}
	for _, app := range s.Apps {
		r.add(app.Target)
	}
	for _, g := range s.AppGroups {
		if !g.Disabled {
			r.add(g.Target)
		}
	}
	r.nodes = lo.Uniq(r.nodes)
	r.groups = lo.Uniq(r.groups)
	r.profiles = lo.Uniq(r.profiles)
	return r
}

// nodeID accepts either an explicit id or a profile id plus node name.
func nodeID(t model.RoutingTarget) string {
	if t.NodeID != "" {
		return t.NodeID
	}
	if t.ProfileID != "" && t.NodeName != "" {
		return parser.StableID(t.ProfileID, t.NodeName)
	}
	return ""
}

// resolve maps a target onto a final outbound tag. Anything that cannot be
// resolved goes through the master selector.
func (b *builder) resolve(t model.RoutingTarget) string {
	var (
		tag string
		ok  bool
	)
	switch t.Mode {
	case model.TargetDirect:
		return model.TagDirect
	case model.TargetBlock:
		return model.TagBlock
	case model.TargetNode:
		tag, ok = b.nodeTags[nodeID(t)]
	case model.TargetGroup:
		tag, ok = b.groupTags[t.Group]
	case model.TargetProfile:
		tag, ok = b.profileTags[t.ProfileID]
	}
	if !ok || tag == "" {
		return model.TagProxy
	}
	return tag
}

// targetRank orders rules sharing a specificity: node, group, profile,
// then the fixed outbounds.
func targetRank(t model.RoutingTarget) int {
	switch t.Mode {
	case model.TargetNode:
		return 0
	case model.TargetGroup:
		return 1
	case model.TargetProfile:
		return 2
	default:
		return 3
	}
}
