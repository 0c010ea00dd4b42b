package local

import (
	"context"
	"fmt"
	"os"

	"subforge/internal/collectors"
	"subforge/internal/config"
	"subforge/internal/logger"
	"subforge/internal/model"
	"subforge/internal/subscription"
)

// FileCollector reads a document from disk and runs it through the parser chain.
type FileCollector struct {
	maxBytes int64
}

func (c *FileCollector) Collect(_ context.Context, source string) (*model.Config, error) {
	info, err := os.Stat(source)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", source, err)
	}
	if c.maxBytes > 0 && info.Size() > c.maxBytes {
		return nil, fmt.Errorf("%s exceeds %d bytes", source, c.maxBytes)
	}
	data, err := os.ReadFile(source)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", source, err)
	}
	logger.Log.Debugf("Parsing local file: %s (%d bytes)", source, len(data))
	return subscription.Parse(string(data))
}

func init() {
	collectors.Register(model.ProfileLocal, func(cfg config.FetchConfig) (collectors.Collector, error) {
		return &FileCollector{maxBytes: cfg.MaxBodyMB << 20}, nil
	})
}
