package service

import (
	"fmt"
	"strings"

	"github.com/samber/lo"

	"subforge/internal/history"
	"subforge/internal/logger"
	"subforge/internal/model"
	"subforge/internal/singbox/parser"
)

// Nodes lists the proxies of a profile; an empty id means the active one.
// Latency comes from probe history when available.
func (s *Service) Nodes(profileID string) ([]model.ProxyNode, error) {
	if profileID == "" {
		profileID, _ = s.store.Active()
	}
	if profileID == "" {
		return nil, nil
	}
	cfg, err := s.store.Config(profileID)
	if err != nil {
		return nil, err
	}
	nodes := s.extractor.Extract(cfg, profileID)
	s.fillLatency(nodes)
	return nodes, nil
}

func (s *Service) fillLatency(nodes []model.ProxyNode) {
	if s.history == nil || len(nodes) == 0 {
		return
	}
	recs, err := s.history.Get(lo.Map(nodes, func(n model.ProxyNode, _ int) string { return n.ID }))
	if err != nil {
		logger.Log.Warnf("Failed to load latency history: %v", err)
		return
	}
	for i := range nodes {
		rec, ok := recs[nodes[i].ID]
		nodes[i].LatencyMs = history.Latency(rec, ok)
	}
}

// NodeServers maps node ids of a profile to their server address.
func (s *Service) NodeServers(profileID string) map[string]string {
	if profileID == "" {
		profileID, _ = s.store.Active()
	}
	out := map[string]string{}
	cfg, err := s.store.Config(profileID)
	if err != nil {
		return out
	}
	for _, o := range cfg.Proxies() {
		out[parser.StableID(profileID, o.Tag)] = o.Server
	}
	return out
}

// nodeRef is a node located in the store.
type nodeRef struct {
	profileID string
	outbound  *model.Outbound
}

// locate finds a node id in any profile. Profiles whose document fails to
// load are skipped.
func (s *Service) locate(nodeID string) (nodeRef, error) {
	for _, p := range s.store.Profiles() {
		cfg, err := s.store.Config(p.ID)
		if err != nil {
			logger.Log.Debugf("Skipping profile %s: %v", p.ID, err)
			continue
		}
		for _, o := range cfg.Outbounds {
			if o.IsProxy() && parser.StableID(p.ID, o.Tag) == nodeID {
				return nodeRef{profileID: p.ID, outbound: o}, nil
			}
		}
	}
	return nodeRef{}, fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
}

// SelectNode makes nodeID the default of the master selector. The node may
// belong to any profile.
func (s *Service) SelectNode(nodeID string) error {
	if _, err := s.locate(nodeID); err != nil {
		return err
	}
	return s.store.SetActiveNode(nodeID)
}

// RenameNode changes a node's tag inside its profile and rewrites group
// references to it. It returns the node's new id.
func (s *Service) RenameNode(profileID, nodeID, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("empty name")
	}
	cfg, o, err := s.profileNode(profileID, nodeID)
	if err != nil {
		return "", err
	}
	if cfg.Find(name) != nil {
		return "", ErrNameTaken
	}
	old := o.Tag
	o.Tag = name
	for _, g := range cfg.Outbounds {
		if !g.IsGroup() {
			continue
		}
		g.Outbounds = lo.Map(g.Outbounds, func(m string, _ int) string { return lo.Ternary(m == old, name, m) })
		if g.Default == old {
			g.Default = name
		}
	}
	if err := s.store.SaveConfig(profileID, cfg); err != nil {
		return "", err
	}

	newID := parser.StableID(profileID, name)
	if _, active := s.store.Active(); active == nodeID {
		if err := s.store.SetActiveNode(newID); err != nil {
			return newID, err
		}
	}
	if s.history != nil {
		s.history.Clear([]string{nodeID})
	}
	return newID, nil
}

// DeleteNode removes a node from its profile and from every group there.
func (s *Service) DeleteNode(profileID, nodeID string) error {
	cfg, o, err := s.profileNode(profileID, nodeID)
	if err != nil {
		return err
	}
	tag := o.Tag
	cfg.Outbounds = lo.Filter(cfg.Outbounds, func(x *model.Outbound, _ int) bool { return x != o })
	for _, g := range cfg.Outbounds {
		if !g.IsGroup() {
			continue
		}
		g.Outbounds = lo.Without(g.Outbounds, tag)
		if g.Default == tag {
			g.Default = ""
		}
	}
	if err := s.store.SaveConfig(profileID, cfg); err != nil {
		return err
	}
	if _, active := s.store.Active(); active == nodeID {
		if err := s.store.SetActiveNode(""); err != nil {
			return err
		}
	}
	if s.history != nil {
		if _, err := s.history.PruneProfile(profileID, s.nodeIDs(profileID, cfg)); err != nil {
			logger.Log.Warnf("Failed to prune history of %s: %v", profileID, err)
		}
	}
	return nil
}

func (s *Service) profileNode(profileID, nodeID string) (*model.Config, *model.Outbound, error) {
	cfg, err := s.store.Config(profileID)
	if err != nil {
		return nil, nil, err
	}
	for _, o := range cfg.Outbounds {
		if o.IsProxy() && parser.StableID(profileID, o.Tag) == nodeID {
			return cfg, o, nil
		}
	}
	return nil, nil, fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
}

func (s *Service) nodeIDs(profileID string, cfg *model.Config) []string {
	return lo.Map(cfg.Proxies(), func(o *model.Outbound, _ int) string { return parser.StableID(profileID, o.Tag) })
}

func (s *Service) pruneProfileHistory(profileID string, cfg *model.Config) {
	if s.history == nil {
		return
	}
	n, err := s.history.PruneProfile(profileID, s.nodeIDs(profileID, cfg))
	if err != nil {
		logger.Log.Warnf("Failed to prune history of %s: %v", profileID, err)
		return
	}
	if n > 0 {
		logger.Log.Debugf("Dropped history of %d vanished nodes", n)
	}
}

// PruneHistory drops probe records of nodes that no longer exist anywhere.
func (s *Service) PruneHistory() (int64, error) {
	if s.history == nil {
		return 0, nil
	}
	var valid []string
	for _, p := range s.store.Profiles() {
		cfg, err := s.store.Config(p.ID)
		if err != nil {
			// Keep history of profiles that merely failed to load.
			return 0, fmt.Errorf("profile %s: %w", p.Name, err)
		}
		valid = append(valid, s.nodeIDs(p.ID, cfg)...)
	}
	return s.history.Prune(valid)
}
