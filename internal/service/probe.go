package service

import (
	"context"
	"errors"

	"subforge/internal/logger"
	"subforge/internal/metrics"
	"subforge/internal/singbox"
	"subforge/internal/tester"
)

// ProbeNodes measures the given nodes in one engine session and stores the
// results. Empty ids means every node of the active profile. Unknown ids are
// reported through onResult with ErrNodeNotFound.
func (s *Service) ProbeNodes(ctx context.Context, ids []string, mc *metrics.Collector, onResult func(tester.Result)) error {
	if len(ids) == 0 {
		nodes, err := s.Nodes("")
		if err != nil {
			return err
		}
		for _, n := range nodes {
			ids = append(ids, n.ID)
		}
	}

	var targets []singbox.Target
	owner := map[string]string{}
	for _, id := range ids {
		ref, err := s.locate(id)
		if err != nil {
			if onResult != nil {
				onResult(tester.Result{NodeID: id, LatencyMs: -1, Err: err})
			}
			continue
		}
		owner[id] = ref.profileID
		targets = append(targets, singbox.Target{NodeID: id, Outbound: ref.outbound})
	}
	if len(targets) == 0 {
		return nil
	}

	return s.tester.Batch(ctx, targets, mc, func(r tester.Result) {
		s.record(owner[r.NodeID], r.NodeID, r.LatencyMs)
		if onResult != nil {
			onResult(r)
		}
	})
}

// ProbeNode measures a single node. Concurrent calls for the same node
// share one measurement.
func (s *Service) ProbeNode(ctx context.Context, nodeID string) (int64, error) {
	ref, err := s.locate(nodeID)
	if err != nil {
		return -1, err
	}
	ms, err := s.tester.Probe(ctx, singbox.Target{NodeID: nodeID, Outbound: ref.outbound})
	if errors.Is(err, context.Canceled) || errors.Is(err, singbox.ErrEngineUnavailable) {
		return ms, err
	}
	s.record(ref.profileID, nodeID, ms)
	return ms, err
}

func (s *Service) record(profileID, nodeID string, ms int64) {
	if s.history == nil {
		return
	}
	if _, err := s.history.Record(profileID, nodeID, ms); err != nil {
		logger.Log.Warnf("Failed to store latency of %s: %v", nodeID, err)
	}
}

// ClearLatency forgets measured latency for ids.
func (s *Service) ClearLatency(ids []string) error {
	if s.history == nil {
		return nil
	}
	return s.history.Clear(ids)
}
