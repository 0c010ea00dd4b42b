package stdout

import (
	"context"
	"fmt"
	"io"
	"os"

	"subforge/internal/model"
	"subforge/internal/publishers"
)

type Publisher struct {
	out io.Writer
}

func (p *Publisher) Publish(_ context.Context, cfg *model.SynthesizedConfig, params map[string]interface{}) error {
	payload, err := publishers.Render(cfg, params)
	if err != nil {
		return err
	}
	out := p.out
	if out == nil {
		out = os.Stdout
	}
	_, err = fmt.Fprintln(out, string(payload))
	return err
}

func init() {
	publishers.Register("stdout", func() publishers.Publisher { return &Publisher{} })
}
