package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"subforge/internal/config"
	"subforge/internal/logger"
)

var flagServeNow bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Update profiles and rebuild the config on a schedule",
	Long: `Run in the foreground, refreshing every enabled profile on schedule.update
and rebuilding the runtime config afterwards when schedule.rebuild is set.
Changes to the config file are picked up without a restart.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d := &daemon{path: cfgFile}
		if d.path == "" {
			d.path = "config.yaml"
		}
		cfg, err := config.Load(d.path)
		if err != nil {
			return err
		}
		if err := d.reload(cmd.Context(), cfg); err != nil {
			return err
		}
		defer d.stop()

		watcher, err := d.watch(cmd.Context())
		if err != nil {
			logger.Log.Warnf("Config reload disabled: %v", err)
		} else {
			defer watcher.Close()
		}

		if flagServeNow {
			d.run(cmd.Context())
		}
		<-cmd.Context().Done()
		logger.Log.Info("👋 Shutting down")
		return nil
	},
}

// daemon owns the app and its schedule; both are replaced on reload.
type daemon struct {
	path string

	mu   sync.Mutex
	app  *app
	cron *cron.Cron
}

func (d *daemon) reload(ctx context.Context, cfg *config.Config) error {
	a, err := openAppWith(cfg)
	if err != nil {
		return err
	}
	c := cron.New()
	if _, err := c.AddFunc(cfg.Schedule.Update, func() { d.run(ctx) }); err != nil {
		a.Close()
		return fmt.Errorf("invalid schedule.update %q: %w", cfg.Schedule.Update, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cron != nil {
		d.cron.Stop()
	}
	if d.app != nil {
		d.app.Close()
	}
	d.app, d.cron = a, c
	c.Start()
	logger.Log.Infof("⏰ Scheduled updates: %s", cfg.Schedule.Update)
	return nil
}

func (d *daemon) run(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.app == nil {
		return
	}
	logger.Log.Info("🔄 Scheduled update started")
	if err := d.app.svc.UpdateAll(ctx); err != nil {
		logger.Log.Warnf("Some profiles failed to update: %v", err)
	}
	if !d.app.cfg.Schedule.Rebuild {
		return
	}
	if _, err := d.app.svc.Build(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Log.Errorf("❌ Rebuild failed: %v", err)
	}
}

// watch reloads the config file when it changes. Bursts of events are
// debounced to one reload.
func (d *daemon) watch(ctx context.Context) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	absPath, _ := filepath.Abs(d.path)

	var debounce *time.Timer
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if name, _ := filepath.Abs(event.Name); name != absPath {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(100*time.Millisecond, func() {
					logger.Log.Info("Config file changed, reloading")
					cfg, err := config.Load(d.path)
					if err != nil {
						logger.Log.Errorf("Failed to reload config: %v", err)
						return
					}
					if err := d.reload(ctx, cfg); err != nil {
						logger.Log.Errorf("Failed to apply config: %v", err)
					}
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Log.Errorf("Config watcher error: %v", err)
			}
		}
	}()

	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", absPath, err)
	}
	return watcher, nil
}

func (d *daemon) stop() {
	d.mu.Lock()
	c := d.cron
	d.cron = nil
	d.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.app != nil {
		d.app.Close()
		d.app = nil
	}
}

func init() {
	serveCmd.Flags().BoolVar(&flagServeNow, "now", false, "Run one update cycle immediately")
	rootCmd.AddCommand(serveCmd)
}
