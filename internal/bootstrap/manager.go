// Package bootstrap lends a working node to the subscription fetcher, for
// servers that are only reachable through a proxy.
package bootstrap

import (
	"context"
	"fmt"

	"subforge/internal/logger"
	"subforge/internal/singbox"
	"subforge/internal/tester"
)

type Manager struct {
	eng      singbox.Engine
	opts     singbox.SessionOptions
	fallback string

	sess *singbox.Session
}

// New returns a manager racing candidates through eng. fallback is the
// SOCKS5 address handed out when no candidate works; it may be empty.
func New(eng singbox.Engine, opts singbox.SessionOptions, fallback string) *Manager {
	return &Manager{eng: eng, opts: opts, fallback: fallback}
}

// GetProxy starts one engine session over candidates and returns the
// host:port of the first node that answers the probe URL. The session stays
// up until Stop.
func (m *Manager) GetProxy(ctx context.Context, candidates []singbox.Target) (string, error) {
	if len(candidates) == 0 {
		return m.fallback, nil
	}
	sess, err := singbox.StartSession(ctx, m.eng, candidates, m.opts)
	if err != nil {
		logger.Log.Warnf("Bootstrap proxy unavailable (%v). Using fallback.", err)
		return m.fallback, nil
	}

	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if sess.Has(c.NodeID) {
			ids = append(ids, c.NodeID)
		}
	}
	winner, err := tester.Race(ctx, sess, ids)
	if err != nil {
		sess.Close()
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		logger.Log.Warnf("Bootstrap proxy: %v. Using fallback.", err)
		return m.fallback, nil
	}

	addr, ok := sess.Addr(winner)
	if !ok {
		sess.Close()
		return "", fmt.Errorf("bootstrap node %s has no inbound", winner)
	}
	m.sess = sess
	logger.Log.Debugf("Bootstrap proxy: node %s on %s", winner, addr)
	return addr, nil
}

func (m *Manager) Stop() {
	if m.sess != nil {
		m.sess.Close()
		m.sess = nil
	}
}
