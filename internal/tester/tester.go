// Package tester measures node latency through short lived engine sessions.
package tester

import (
	"context"
	"errors"
	"fmt"
	"time"

	"subforge/internal/config"
	"subforge/internal/logger"
	"subforge/internal/metrics"
	"subforge/internal/singbox"
)

// ErrNotProbeable is reported for targets the session could not host.
var ErrNotProbeable = errors.New("node cannot be probed")

// session is the part of singbox.Session the tester uses.
type session interface {
	Prober
	Has(nodeID string) bool
	Close() error
}

type Tester struct {
	cfg   config.ProbeConfig
	coord *Coordinator

	start func(ctx context.Context, targets []singbox.Target) (session, error)
}

// Result is the outcome for one node. LatencyMs is -1 on failure.
type Result struct {
	NodeID    string
	LatencyMs int64
	Err       error
}

func New(cfg config.ProbeConfig, eng singbox.Engine, coord *Coordinator) *Tester {
	if coord == nil {
		coord = NewCoordinator()
	}
	opts := singbox.SessionOptions{URL: cfg.URL, Timeout: cfg.Timeout, StartTimeout: cfg.StartTimeout}
	return &Tester{
		cfg:   cfg,
		coord: coord,
		start: func(ctx context.Context, targets []singbox.Target) (session, error) {
			return singbox.StartSession(ctx, eng, targets, opts)
		},
	}
}

// Batch probes targets one after another inside a single engine session.
// The session is released on every exit path. onResult may be nil.
func (t *Tester) Batch(ctx context.Context, targets []singbox.Target, mc *metrics.Collector, onResult func(Result)) (err error) {
	if len(targets) == 0 {
		return nil
	}
	sess, err := t.start(ctx, targets)
	if err != nil {
		return fmt.Errorf("start probe session: %w", err)
	}
	defer sess.Close()
	defer func() {
		if r := recover(); r != nil {
			logger.Log.Errorf("CRITICAL: probe batch panic recovered: %v", r)
			err = fmt.Errorf("probe batch panic: %v", r)
		}
	}()

	for _, target := range targets {
		if err := ctx.Err(); err != nil {
			return err
		}
		res := Result{NodeID: target.NodeID, LatencyMs: -1}
		if !sess.Has(target.NodeID) {
			res.Err = ErrNotProbeable
		} else {
			res.LatencyMs, res.Err = t.attempt(ctx, target.NodeID, sess, mc)
		}
		if onResult != nil {
			onResult(res)
		}
	}
	return nil
}

// Probe measures a single node in its own session.
func (t *Tester) Probe(ctx context.Context, target singbox.Target) (int64, error) {
	one := ProberFunc(func(ctx context.Context, nodeID string) (int64, error) {
		sess, err := t.start(ctx, []singbox.Target{target})
		if err != nil {
			return -1, err
		}
		defer sess.Close()
		if !sess.Has(nodeID) {
			return -1, ErrNotProbeable
		}
		return sess.Probe(ctx, nodeID)
	})
	return t.attempt(ctx, target.NodeID, one, nil)
}

// InFlight reports how many callers are waiting on a measurement.
func (t *Tester) InFlight() int64 { return t.coord.Waiting() }

// attempt retries a probe through the coordinator with a short backoff.
func (t *Tester) attempt(ctx context.Context, nodeID string, p Prober, mc *metrics.Collector) (int64, error) {
	var lastErr error
	for i := 0; i <= t.cfg.Retries; i++ {
		ms, err := t.coord.Probe(ctx, nodeID, p)
		if err == nil {
			if mc != nil {
				mc.RecordSuccess(i, time.Duration(ms)*time.Millisecond)
			}
			return ms, nil
		}
		lastErr = err
		if mc != nil {
			mc.RecordFailure(err)
		}
		if ctx.Err() != nil {
			break
		}
		if i < t.cfg.Retries {
			select {
			case <-ctx.Done():
			case <-time.After(200 * time.Millisecond):
			}
		}
	}
	logger.Log.Debugf("Probe %s failed: %v", nodeID, lastErr)
	return -1, lastErr
}
