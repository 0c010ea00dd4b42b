// Package collectors turns a profile source (a subscription URL, a local
// file) into a parsed outbound document. Implementations register
// themselves under the profile type they serve.
package collectors

import (
	"context"
	"fmt"
	"sort"

	"subforge/internal/config"
	"subforge/internal/model"
)

type Collector interface {
	Collect(ctx context.Context, source string) (*model.Config, error)
}

type Factory func(cfg config.FetchConfig) (Collector, error)

var registry = make(map[model.ProfileType]Factory)

func Register(kind model.ProfileType, factory Factory) {
	registry[kind] = factory
}

func Get(kind model.ProfileType, cfg config.FetchConfig) (Collector, error) {
	factory, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("collector for profile type '%s' not found", kind)
	}
	return factory(cfg)
}

// Kinds lists the registered profile types.
func Kinds() []string {
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, string(k))
	}
	sort.Strings(out)
	return out
}
