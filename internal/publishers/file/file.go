package file

import (
	"context"
	"fmt"

	"subforge/internal/fsutil"
	"subforge/internal/logger"
	"subforge/internal/model"
	"subforge/internal/publishers"
)

// Publisher writes the rendered config to params["path"] atomically.
type Publisher struct{}

func (p *Publisher) Publish(_ context.Context, cfg *model.SynthesizedConfig, params map[string]interface{}) error {
	path := publishers.String(params, "path", "")
	if path == "" {
		return fmt.Errorf("file publisher requires path")
	}
	payload, err := publishers.Render(cfg, params)
	if err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(path, payload, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	logger.Log.Debugf("Wrote %d bytes to %s", len(payload), path)
	return nil
}

func init() {
	publishers.Register("file", func() publishers.Publisher { return &Publisher{} })
}
