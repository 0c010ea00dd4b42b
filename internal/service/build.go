package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"subforge/internal/fsutil"
	"subforge/internal/logger"
	"subforge/internal/model"
	"subforge/internal/publishers"
	"subforge/internal/synth"
)

// Sources returns the profiles the synthesizer may draw from: every enabled
// profile plus the active one. A profile whose document cannot be loaded is
// passed with a nil Config so its nodes are simply absent.
func (s *Service) Sources() []synth.Source {
	active, _ := s.store.Active()
	var out []synth.Source
	for _, p := range s.store.Profiles() {
		if !p.Enabled && p.ID != active {
			continue
		}
		cfg, err := s.store.Config(p.ID)
		if err != nil {
			logger.Log.Warnf("⚠️ Profile %q unavailable: %v", p.Name, err)
		}
		out = append(out, synth.Source{Profile: p, Config: cfg})
	}
	return out
}

// Synthesize compiles the runtime config without writing it anywhere.
func (s *Service) Synthesize() *synth.Result {
	active, node := s.store.Active()
	return synth.Synthesize(synth.Input{
		ActiveProfileID: active,
		ActiveNodeID:    node,
		Sources:         s.Sources(),
		Settings:        s.cfg.Routing,
	})
}

// Build synthesizes the runtime config, lets the engine check it when one
// is available, writes it to the output path and runs the configured
// publishers. A config the engine rejects is not written.
func (s *Service) Build(ctx context.Context) (*model.SynthesizedConfig, error) {
	res := s.Synthesize()
	raw, err := json.MarshalIndent(res.Config, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode runtime config: %w", err)
	}

	if s.engine != nil && s.cfg.Engine.Validate {
		if err := s.engine.Validate(ctx, raw); err != nil {
			return res.Config, fmt.Errorf("engine rejected config: %w", err)
		}
	}

	if path := s.cfg.Output.Path; path != "" {
		if err := fsutil.WriteFileAtomic(path, raw, 0o644); err != nil {
			return res.Config, fmt.Errorf("write %s: %w", path, err)
		}
		logger.Log.Infof("✅ Wrote %s (%d outbounds, %d rules)", path, len(res.Config.Outbounds), len(res.Config.Route.Rules))
	}

	var errs []error
	for _, pc := range s.cfg.Output.Publishers {
		pub, err := publishers.Get(pc.Type)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := pub.Publish(ctx, res.Config, pc.Params); err != nil {
			logger.Log.Errorf("❌ Publisher %s failed: %v", pc.Name, err)
			errs = append(errs, fmt.Errorf("publisher %s: %w", pc.Name, err))
		}
	}
	return res.Config, errors.Join(errs...)
}
