package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"subforge/internal/logger"
	"subforge/internal/model"
	"subforge/internal/subscription"
)

// ImportURL downloads a subscription and stores it as a new profile.
func (s *Service) ImportURL(ctx context.Context, name, url string) (model.Profile, error) {
	return s.importFrom(ctx, name, url, model.ProfileSubscription)
}

// ImportFile reads a local document and stores it as a profile that can be
// re-read with Update.
func (s *Service) ImportFile(ctx context.Context, name, path string) (model.Profile, error) {
	return s.importFrom(ctx, name, path, model.ProfileLocal)
}

func (s *Service) importFrom(ctx context.Context, name, source string, kind model.ProfileType) (model.Profile, error) {
	c, release, err := s.collectorFor(ctx, kind)
	if err != nil {
		return model.Profile{}, err
	}
	defer release()
	cfg, err := c.Collect(ctx, source)
	if err != nil {
		return model.Profile{}, err
	}
	if name == "" {
		name = defaultName(source)
	}
	p, err := s.store.Add(model.Profile{
		Name:         name,
		Type:         kind,
		SourceURL:    source,
		Enabled:      true,
		UpdateStatus: model.StatusSuccess,
	}, cfg)
	if err != nil {
		return model.Profile{}, err
	}
	s.scheduleReset(p.ID, model.StatusSuccess)
	logger.Log.Infof("📥 Imported %q: %d proxies", p.Name, len(cfg.Proxies()))
	return p, nil
}

// ImportContent parses pasted content (links, YAML, JSON) into a profile
// with no update source.
func (s *Service) ImportContent(name, content string) (model.Profile, error) {
	cfg, err := subscription.Parse(content)
	if err != nil {
		return model.Profile{}, err
	}
	if name == "" {
		name = "Imported"
	}
	p, err := s.store.Add(model.Profile{Name: name, Type: model.ProfileImported, Enabled: true}, cfg)
	if err != nil {
		return model.Profile{}, err
	}
	logger.Log.Infof("📥 Imported %q: %d proxies", p.Name, len(cfg.Proxies()))
	return p, nil
}

func defaultName(source string) string {
	s := source
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexAny(s, "/?#"); i > 0 && strings.Contains(source, "://") {
		s = s[:i]
	}
	if i := strings.LastIndexAny(s, `/\`); i >= 0 {
		s = s[i+1:]
	}
	if s == "" {
		return "Profile"
	}
	return s
}

// Update re-fetches one profile. Concurrent calls for the same id share one
// fetch. On failure the stored document is kept and the error recorded.
func (s *Service) Update(ctx context.Context, id string) (model.Profile, error) {
	v, err, _ := s.updates.Do(id, func() (interface{}, error) {
		return s.update(ctx, id)
	})
	p, _ := v.(model.Profile)
	return p, err
}

func (s *Service) update(ctx context.Context, id string) (model.Profile, error) {
	p, err := s.store.Profile(id)
	if err != nil {
		return p, err
	}
	if p.Type != model.ProfileSubscription && p.Type != model.ProfileLocal || p.SourceURL == "" {
		return p, ErrNotUpdatable
	}
	if _, err := s.setStatus(id, model.StatusUpdating, ""); err != nil {
		return p, err
	}
	c, release, err := s.collectorFor(ctx, p.Type)
	if err != nil {
		p, _ = s.setStatus(id, model.StatusFailed, userMessage(err))
		return p, err
	}
	defer release()

	cfg, err := c.Collect(ctx, p.SourceURL)
	if err == nil {
		err = s.store.SaveConfig(id, cfg)
	}
	if err != nil {
		logger.Log.Warnf("⚠️ Update of %q failed: %v", p.Name, err)
		p, _ = s.setStatus(id, model.StatusFailed, userMessage(err))
		return p, err
	}

	s.pruneProfileHistory(id, cfg)
	p, err = s.setStatus(id, model.StatusSuccess, "")
	logger.Log.Infof("🔄 Updated %q: %d proxies", p.Name, len(cfg.Proxies()))
	return p, err
}

func userMessage(err error) string {
	var fe *subscription.FetchError
	if errors.As(err, &fe) {
		return fe.UserMessage()
	}
	if errors.Is(err, subscription.ErrNoOutbounds) || errors.Is(err, subscription.ErrEmpty) {
		return "The subscription contains no usable proxies."
	}
	return err.Error()
}

// UpdateAll refreshes every enabled profile with a source, a few at a time.
func (s *Service) UpdateAll(ctx context.Context) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(4)
	for _, p := range s.store.Profiles() {
		if !p.Enabled || p.SourceURL == "" || p.Type == model.ProfileImported {
			continue
		}
		p := p
		g.Go(func() error {
			if _, err := s.Update(ctx, p.ID); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", p.Name, err))
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()
	return errors.Join(errs...)
}

// Delete removes a profile with its document, cache entry and history.
func (s *Service) Delete(id string) error {
	s.cancelReset(id)
	if err := s.store.Delete(id); err != nil {
		return err
	}
	if s.history != nil {
		if err := s.history.DeleteProfile(id); err != nil {
			logger.Log.Warnf("Failed to drop history of %s: %v", id, err)
		}
	}
	return nil
}

func (s *Service) Rename(id, name string) (model.Profile, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Profile{}, fmt.Errorf("empty name")
	}
	return s.store.Update(id, func(p *model.Profile) { p.Name = name })
}

func (s *Service) SetEnabled(id string, enabled bool) (model.Profile, error) {
	return s.store.Update(id, func(p *model.Profile) { p.Enabled = enabled })
}

// Activate makes id the profile whose outbounds form the runtime config.
func (s *Service) Activate(id string) error {
	p, err := s.store.Profile(id)
	if err != nil {
		return err
	}
	if !p.Enabled {
		return ErrProfileDisabled
	}
	return s.store.SetActive(id)
}
