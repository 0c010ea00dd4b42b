// Package service owns the profile store and everything that reads or
// writes it: imports, updates, node edits, runtime config builds and
// latency probes. One Service is built at start-up and handed to callers.
package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"subforge/internal/bootstrap"
	"subforge/internal/collectors"
	"subforge/internal/config"
	"subforge/internal/extract"
	"subforge/internal/history"
	"subforge/internal/logger"
	"subforge/internal/model"
	"subforge/internal/singbox"
	"subforge/internal/store"
	"subforge/internal/tester"
)

// DefaultStatusResetDelay is how long Success/Failed stays visible before a
// profile returns to Idle.
const DefaultStatusResetDelay = 5 * time.Second

var (
	ErrNotUpdatable    = errors.New("profile has no source to update from")
	ErrProfileDisabled = errors.New("profile is disabled")
	ErrNodeNotFound    = errors.New("node not found")
	ErrNameTaken       = errors.New("name already used in this profile")
)

type Options struct {
	Config  *config.Config
	Store   *store.Store
	History *history.History
	// GeoIP backs region tags for nodes whose names carry no hint. Optional.
	GeoIP extract.CountryResolver
	// Engine is nil when no sing-box binary is available.
	Engine      singbox.Engine
	Coordinator *tester.Coordinator

	StatusResetDelay time.Duration
}

type Service struct {
	cfg       *config.Config
	store     *store.Store
	history   *history.History
	extractor *extract.Extractor
	engine    singbox.Engine
	tester    *tester.Tester

	collector func(kind model.ProfileType, fetch config.FetchConfig) (collectors.Collector, error)
	updates   singleflight.Group

	resetDelay time.Duration
	mu         sync.Mutex
	timers     map[string]*time.Timer
}

func New(opts Options) *Service {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	delay := opts.StatusResetDelay
	if delay <= 0 {
		delay = DefaultStatusResetDelay
	}
	s := &Service{
		cfg:        cfg,
		store:      opts.Store,
		history:    opts.History,
		extractor:  &extract.Extractor{GeoIP: opts.GeoIP},
		engine:     opts.Engine,
		tester:     tester.New(cfg.Probe, opts.Engine, opts.Coordinator),
		resetDelay: delay,
		timers:     map[string]*time.Timer{},
	}
	s.collector = collectors.Get
	return s
}

// collectorFor returns the collector for kind. Subscription downloads go
// through a bootstrap node when fetch.through names any; release stops it.
func (s *Service) collectorFor(ctx context.Context, kind model.ProfileType) (c collectors.Collector, release func(), err error) {
	fetch := s.cfg.Fetch
	release = func() {}
	if kind == model.ProfileSubscription && len(fetch.Through) > 0 && s.engine != nil {
		var targets []singbox.Target
		for _, id := range fetch.Through {
			ref, err := s.locate(id)
			if err != nil {
				logger.Log.Debugf("Bootstrap candidate skipped: %v", err)
				continue
			}
			targets = append(targets, singbox.Target{NodeID: id, Outbound: ref.outbound})
		}
		m := bootstrap.New(s.engine, s.sessionOptions(), fetch.Proxy)
		addr, err := m.GetProxy(ctx, targets)
		if err != nil {
			return nil, release, err
		}
		fetch.Proxy = addr
		release = m.Stop
	}
	c, err = s.collector(kind, fetch)
	if err != nil {
		release()
		return nil, func() {}, err
	}
	return c, release, nil
}

func (s *Service) sessionOptions() singbox.SessionOptions {
	p := s.cfg.Probe
	return singbox.SessionOptions{URL: p.URL, Timeout: p.Timeout, StartTimeout: p.StartTimeout}
}

// Close stops pending status resets.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

// setStatus records an update state. Success and Failed fall back to Idle
// after the reset delay unless another update started meanwhile.
func (s *Service) setStatus(id string, status model.UpdateStatus, lastErr string) (model.Profile, error) {
	s.mu.Lock()
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	p, err := s.store.Update(id, func(p *model.Profile) {
		p.UpdateStatus = status
		p.LastError = lastErr
		if status == model.StatusSuccess {
			p.LastUpdated = time.Now()
		}
	})
	if err != nil {
		return p, err
	}
	if status == model.StatusSuccess || status == model.StatusFailed {
		s.scheduleReset(id, status)
	}
	return p, nil
}

func (s *Service) scheduleReset(id string, from model.UpdateStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timers[id] = time.AfterFunc(s.resetDelay, func() {
		s.mu.Lock()
		delete(s.timers, id)
		s.mu.Unlock()
		_, err := s.store.Update(id, func(p *model.Profile) {
			if p.UpdateStatus == from {
				p.UpdateStatus = model.StatusIdle
			}
		})
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			logger.Log.Warnf("Failed to reset status of %s: %v", id, err)
		}
	})
}

func (s *Service) cancelReset(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
}

// Status is a snapshot for display.
type Status struct {
	Profiles        []model.Profile
	ActiveProfileID string
	ActiveNodeID    string
	Cached          []string
	Engine          singbox.Capabilities

	// ProbesInFlight counts callers currently waiting on a measurement.
	ProbesInFlight int64
}

func (s *Service) Status() Status {
	active, node := s.store.Active()
	return Status{
		Profiles:        s.store.Profiles(),
		ActiveProfileID: active,
		ActiveNodeID:    node,
		Cached:          s.store.Cached(),
		Engine:          s.cfg.Engine.Capabilities,
		ProbesInFlight:  s.tester.InFlight(),
	}
}
