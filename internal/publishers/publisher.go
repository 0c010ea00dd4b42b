// Package publishers delivers a synthesized runtime config to its sinks.
package publishers

import (
	"context"
	"fmt"

	"subforge/internal/model"
)

type Publisher interface {
	Publish(ctx context.Context, cfg *model.SynthesizedConfig, params map[string]interface{}) error
}

type Factory func() Publisher

var registry = make(map[string]Factory)

func Register(name string, factory Factory) {
	registry[name] = factory
}

func Get(name string) (Publisher, error) {
	factory, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("publisher plugin '%s' not found", name)
	}
	return factory(), nil
}
