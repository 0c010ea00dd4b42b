package tester

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"subforge/internal/logger"
)

// Prober measures the delay of one node in milliseconds.
type Prober interface {
	Probe(ctx context.Context, nodeID string) (int64, error)
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context, nodeID string) (int64, error)

func (f ProberFunc) Probe(ctx context.Context, nodeID string) (int64, error) { return f(ctx, nodeID) }

// Coordinator allows at most one in-flight probe per node id. Later callers
// for the same id wait for the running probe and get its result. The
// in-flight entry is dropped before results are delivered, so the next call
// after completion starts a fresh probe.
type Coordinator struct {
	group   singleflight.Group
	waiting atomic.Int64
}

func NewCoordinator() *Coordinator {
	return &Coordinator{}
}

// Probe runs p for nodeID unless a probe for it is already running. The
// first caller's p is the one used. A caller whose ctx ends stops waiting;
// the probe itself keeps running for the others and is bounded by the
// prober's own timeout.
func (c *Coordinator) Probe(ctx context.Context, nodeID string, p Prober) (int64, error) {
	c.waiting.Add(1)
	defer c.waiting.Add(-1)

	probeCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(nodeID, func() (v interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Log.Errorf("Probe of %s panicked: %v", nodeID, r)
				v, err = int64(-1), fmt.Errorf("probe panic: %v", r)
			}
		}()
		return p.Probe(probeCtx, nodeID)
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			return -1, r.Err
		}
		return r.Val.(int64), nil
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

// Waiting reports how many callers are inside Probe.
func (c *Coordinator) Waiting() int64 {
	return c.waiting.Load()
}
