package singbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/net/proxy"

	"subforge/internal/fixup"
	"subforge/internal/logger"
	"subforge/internal/model"
)

// Target is one outbound to host in a probe session, keyed by node id.
type Target struct {
	NodeID   string
	Outbound *model.Outbound
}

type SessionOptions struct {
	// URL is fetched through each outbound to measure delay.
	URL string
	// Timeout bounds one delay measurement.
	Timeout time.Duration
	// StartTimeout bounds engine start-up and inbound readiness.
	StartTimeout time.Duration
}

// Session is a TUN-less engine instance where every hosted outbound sits
// behind its own loopback mixed inbound.
type Session struct {
	handle Handle
	opts   SessionOptions
	ports  map[string]int
}

// StartSession hosts targets on free loopback ports. Targets that are not
// proxies are skipped.
func StartSession(ctx context.Context, eng Engine, targets []Target, opts SessionOptions) (sess *Session, err error) {
	if eng == nil {
		return nil, ErrEngineUnavailable
	}
	var usable []Target
	for _, t := range targets {
		if t.Outbound != nil && t.Outbound.IsProxy() {
			usable = append(usable, t)
		}
	}
	if len(usable) == 0 {
		return nil, fmt.Errorf("no probeable outbounds")
	}

	ports, err := GetFreePorts(len(usable))
	if err != nil {
		return nil, err
	}
	cfg, portMap := sessionConfig(usable, ports)
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode session config: %w", err)
	}

	if opts.StartTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.StartTimeout)
		defer cancel()
	}
	h, err := eng.Start(ctx, raw)
	if err != nil {
		return nil, err
	}
	sess = &Session{handle: h, opts: opts, ports: portMap}
	if err := sess.waitReady(ctx); err != nil {
		sess.Close()
		return nil, err
	}
	logger.Log.Debugf("Probe session up with %d outbounds", len(portMap))
	return sess, nil
}

func sessionConfig(targets []Target, ports []int) (*model.SynthesizedConfig, map[string]int) {
	cfg := &model.SynthesizedConfig{
		Log:   &model.LogOptions{Level: "error"},
		Route: &model.Route{Final: model.TagBlock},
	}
	portMap := make(map[string]int, len(targets))
	for i, t := range targets {
		if _, dup := portMap[t.NodeID]; dup {
			continue
		}
		tagIn := "in_" + strconv.Itoa(i)
		tagOut := "out_" + strconv.Itoa(i)

		o := fixup.Apply(t.Outbound.Clone())
		o.Tag = tagOut
		// Chained detours would need the whole profile; probe the node alone.
		o.SetDetour("")

		cfg.Inbounds = append(cfg.Inbounds, &model.Inbound{Type: "mixed", Tag: tagIn, Listen: "127.0.0.1", ListenPort: ports[i]})
		cfg.Outbounds = append(cfg.Outbounds, o)
		cfg.Route.Rules = append(cfg.Route.Rules, model.Rule{Inbound: model.Listable{tagIn}, Outbound: tagOut})
		portMap[t.NodeID] = ports[i]
	}
	cfg.Outbounds = append(cfg.Outbounds,
		&model.Outbound{Type: model.TypeDirect, Tag: model.TagDirect},
		&model.Outbound{Type: model.TypeBlock, Tag: model.TagBlock},
	)
	return cfg, portMap
}

// waitReady blocks until every inbound accepts connections.
func (s *Session) waitReady(ctx context.Context) error {
	for _, port := range s.ports {
		addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
		for {
			conn, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
			if err == nil {
				conn.Close()
				break
			}
			select {
			case <-s.handle.Done():
				return errors.New("engine exited before inbounds were ready")
			case <-ctx.Done():
				return fmt.Errorf("inbound %s not ready: %w", addr, ctx.Err())
			case <-time.After(50 * time.Millisecond):
			}
		}
	}
	return nil
}

// Has reports whether nodeID is hosted by the session.
func (s *Session) Has(nodeID string) bool {
	_, ok := s.ports[nodeID]
	return ok
}

// Addr is the loopback host:port of the node's mixed inbound.
func (s *Session) Addr(nodeID string) (string, bool) {
	port, ok := s.ports[nodeID]
	if !ok {
		return "", false
	}
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), true
}

// Probe implements the tester's prober contract.
func (s *Session) Probe(ctx context.Context, nodeID string) (int64, error) {
	return s.Delay(ctx, nodeID, s.opts.URL)
}

// Delay measures one HTTP round trip to url through the node's inbound.
// It returns -1 and an error on failure.
func (s *Session) Delay(ctx context.Context, nodeID, url string) (int64, error) {
	port, ok := s.ports[nodeID]
	if !ok {
		return -1, fmt.Errorf("node %s is not part of this session", nodeID)
	}
	timeout := s.opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := socksClient(port, timeout)
	if err != nil {
		return -1, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return -1, err
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return -1, err
	}
	elapsed := time.Since(start)
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()

	if resp.StatusCode >= 400 {
		return -1, fmt.Errorf("delay test status: %d", resp.StatusCode)
	}
	ms := elapsed.Milliseconds()
	if ms == 0 {
		ms = 1
	}
	return ms, nil
}

func socksClient(port int, timeout time.Duration) (*http.Client, error) {
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	dialer, err := proxy.SOCKS5("tcp", addr, nil, &net.Dialer{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("socks dialer: %w", err)
	}
	cd, ok := dialer.(proxy.ContextDialer)
	if !ok {
		return nil, errors.New("socks dialer does not support contexts")
	}
	return &http.Client{
		Transport: &http.Transport{
			DialContext:           cd.DialContext,
			ResponseHeaderTimeout: timeout,
			DisableKeepAlives:     true,
		},
		Timeout: timeout,
	}, nil
}

func (s *Session) Close() error {
	if s == nil || s.handle == nil {
		return nil
	}
	return s.handle.Close()
}

// GetFreePorts reserves count loopback ports and releases them together so
// the same port is not handed out twice.
func GetFreePorts(count int) ([]int, error) {
	listeners := make([]net.Listener, 0, count)
	defer func() {
		for _, l := range listeners {
			l.Close()
		}
	}()

	ports := make([]int, 0, count)
	for i := 0; i < count; i++ {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return nil, fmt.Errorf("failed to allocate ports: %w", err)
		}
		listeners = append(listeners, l)
		ports = append(ports, l.Addr().(*net.TCPAddr).Port)
	}
	return ports, nil
}
