package http

import (
	"context"

	"subforge/internal/collectors"
	"subforge/internal/config"
	"subforge/internal/logger"
	"subforge/internal/model"
	"subforge/internal/subscription"
)

// SubscriptionCollector downloads a subscription, retrying with each
// configured client identity.
type SubscriptionCollector struct {
	strategy *subscription.Strategy
}

func New(cfg config.FetchConfig) (*SubscriptionCollector, error) {
	fetcher, err := subscription.NewHTTPFetcher(cfg.Timeout, cfg.Proxy, cfg.MaxBodyMB<<20)
	if err != nil {
		return nil, err
	}
	return &SubscriptionCollector{strategy: &subscription.Strategy{Fetcher: fetcher, Identities: cfg.Identities}}, nil
}

func (c *SubscriptionCollector) Collect(ctx context.Context, source string) (*model.Config, error) {
	logger.Log.Debugf("Fetching subscription: %s", source)
	return c.strategy.FetchAndParse(ctx, source)
}

func init() {
	collectors.Register(model.ProfileSubscription, func(cfg config.FetchConfig) (collectors.Collector, error) {
		return New(cfg)
	})
}
