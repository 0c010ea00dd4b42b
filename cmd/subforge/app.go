package main

import (
	"context"
	"time"

	"gorm.io/gorm"

	"subforge/internal/config"
	"subforge/internal/db"
	"subforge/internal/geoip"
	"subforge/internal/history"
	"subforge/internal/logger"
	"subforge/internal/service"
	"subforge/internal/singbox"
	"subforge/internal/store"
	"subforge/internal/tester"
)

// app is everything a command needs, opened from the config file.
type app struct {
	cfg *config.Config
	svc *service.Service
	geo *geoip.DB
	db  *gorm.DB
}

func openApp() (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	return openAppWith(cfg)
}

func openAppWith(cfg *config.Config) (*app, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	cfg.Engine.Capabilities = singbox.Detect(ctx, cfg.Engine.Path)
	cancel()
	if !cfg.Engine.Capabilities.Available {
		logger.Log.Warnf("⚠️ sing-box not found at %q: validation and probes are disabled", cfg.Engine.Path)
	}

	st, err := store.Open(cfg.Data.Dir)
	if err != nil {
		return nil, err
	}

	database, err := db.Connect(cfg.HistoryDB())
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(database); err != nil {
		db.Close(database)
		return nil, err
	}

	geo, err := geoip.Open(cfg.GeoIP.CountryPath, cfg.GeoIP.ASNPath)
	if err != nil {
		logger.Log.Warnf("GeoIP disabled: %v", err)
	}

	opts := service.Options{
		Config:      cfg,
		Store:       st,
		History:     history.New(database),
		Coordinator: tester.NewCoordinator(),
	}
	if geo != nil {
		opts.GeoIP = geo
	}
	if cfg.Engine.Capabilities.Available {
		opts.Engine = singbox.NewBinary(cfg.Engine.Path)
	}

	return &app{cfg: cfg, svc: service.New(opts), geo: geo, db: database}, nil
}

func (a *app) Close() {
	a.svc.Close()
	a.geo.Close()
	db.Close(a.db)
}
