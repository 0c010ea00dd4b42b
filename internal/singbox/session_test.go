package singbox

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"subforge/internal/model"
)

// fakeEngine serves every mixed inbound of the started config as a bare
// SOCKS5 proxy that dials targets directly.
type fakeEngine struct {
	mu      sync.Mutex
	configs []*model.SynthesizedConfig
	handles []*fakeHandle
	failing bool
}

func (e *fakeEngine) Validate(context.Context, []byte) error { return nil }

func (e *fakeEngine) Start(_ context.Context, raw []byte) (Handle, error) {
	if e.failing {
		return nil, errors.New("boom")
	}
	var cfg model.SynthesizedConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	h := &fakeHandle{done: make(chan struct{})}
	for _, in := range cfg.Inbounds {
		l, err := net.Listen("tcp", net.JoinHostPort(in.Listen, strconv.Itoa(in.ListenPort)))
		if err != nil {
			h.Close()
			return nil, err
		}
		h.listeners = append(h.listeners, l)
		go serveSOCKS(l)
	}
	e.mu.Lock()
	e.configs = append(e.configs, &cfg)
	e.handles = append(e.handles, h)
	e.mu.Unlock()
	return h, nil
}

type fakeHandle struct {
	listeners []net.Listener
	done      chan struct{}
	once      sync.Once
}

func (h *fakeHandle) Done() <-chan struct{} { return h.done }

func (h *fakeHandle) Close() error {
	h.once.Do(func() {
		for _, l := range h.listeners {
			l.Close()
		}
		close(h.done)
	})
	return nil
}

func (h *fakeHandle) closed() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

func serveSOCKS(l net.Listener) {
	for {
		c, err := l.Accept()
		if err != nil {
			return
		}
		go func(c net.Conn) {
			defer c.Close()
			buf := make([]byte, 262)
			// greeting
			if _, err := io.ReadFull(c, buf[:2]); err != nil {
				return
			}
			if _, err := io.ReadFull(c, buf[:buf[1]]); err != nil {
				return
			}
			c.Write([]byte{5, 0})
			// request
			if _, err := io.ReadFull(c, buf[:4]); err != nil {
				return
			}
			var host string
			switch buf[3] {
			case 1:
				io.ReadFull(c, buf[:4])
				host = net.IP(buf[:4]).String()
			case 3:
				io.ReadFull(c, buf[:1])
				n := int(buf[0])
				io.ReadFull(c, buf[:n])
				host = string(buf[:n])
			default:
				return
			}
			io.ReadFull(c, buf[:2])
			port := binary.BigEndian.Uint16(buf[:2])
			up, err := net.Dial("tcp", net.JoinHostPort(host, strconv.Itoa(int(port))))
			if err != nil {
				c.Write([]byte{5, 5, 0, 1, 0, 0, 0, 0, 0, 0})
				return
			}
			defer up.Close()
			c.Write([]byte{5, 0, 0, 1, 0, 0, 0, 0, 0, 0})
			go io.Copy(up, c)
			io.Copy(c, up)
		}(c)
	}
}

func targets() []Target {
	return []Target{
		{NodeID: "n1", Outbound: &model.Outbound{Type: model.TypeTrojan, Tag: "HK 01", Server: "a.example.com", ServerPort: 443, Password: "p",
			Extra: map[string]json.RawMessage{"detour": json.RawMessage(`"other"`)}}},
		{NodeID: "n2", Outbound: &model.Outbound{Type: model.TypeShadowsocks, Tag: "JP 01", Server: "b.example.com", ServerPort: 8388, Method: "aes-128-gcm", Password: "p"}},
		{NodeID: "g", Outbound: &model.Outbound{Type: model.TypeSelector, Tag: "Auto", Outbounds: []string{"HK 01"}}},
	}
}

func TestSessionConfig(t *testing.T) {
	cfg, ports := sessionConfig(targets()[:2], []int{20001, 20002})
	if ports["n1"] != 20001 || ports["n2"] != 20002 {
		t.Fatalf("ports = %v", ports)
	}
	if len(cfg.Inbounds) != 2 || cfg.Inbounds[0].Type != "mixed" || cfg.Inbounds[0].Listen != "127.0.0.1" {
		t.Errorf("inbounds = %+v", cfg.Inbounds)
	}
	if got := cfg.Route.Rules[1]; got.Inbound[0] != "in_1" || got.Outbound != "out_1" {
		t.Errorf("rule = %+v", got)
	}
	if cfg.Outbounds[0].Tag != "out_0" || cfg.Outbounds[0].Extra["detour"] != nil {
		t.Errorf("outbound = %+v", cfg.Outbounds[0])
	}
	if cfg.Find(model.TagDirect) == nil || cfg.Route.Final != model.TagBlock {
		t.Error("sentinels missing")
	}
}

func TestSession_Delay(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	eng := &fakeEngine{}
	ctx := context.Background()
	sess, err := StartSession(ctx, eng, targets(), SessionOptions{URL: srv.URL, Timeout: 2 * time.Second, StartTimeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if sess.Has("g") {
		t.Error("group outbound should not be hosted")
	}

	ms, err := sess.Probe(ctx, "n1")
	if err != nil || ms <= 0 {
		t.Errorf("Probe = %d, %v", ms, err)
	}
	if ms, err := sess.Delay(ctx, "missing", srv.URL); err == nil || ms != -1 {
		t.Errorf("unknown node = %d, %v", ms, err)
	}

	sess.Close()
	sess.Close()
	if !eng.handles[0].closed() {
		t.Error("handle not released")
	}
}

func TestSession_DelayStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	sess, err := StartSession(context.Background(), &fakeEngine{}, targets()[:1], SessionOptions{URL: srv.URL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	defer sess.Close()
	if ms, err := sess.Probe(context.Background(), "n1"); err == nil || ms != -1 {
		t.Errorf("Probe = %d, %v", ms, err)
	}
}

func TestStartSession_Errors(t *testing.T) {
	if _, err := StartSession(context.Background(), nil, targets(), SessionOptions{}); !errors.Is(err, ErrEngineUnavailable) {
		t.Errorf("nil engine: %v", err)
	}
	if _, err := StartSession(context.Background(), &fakeEngine{}, targets()[2:], SessionOptions{}); err == nil {
		t.Error("groups only: expected error")
	}
	if _, err := StartSession(context.Background(), &fakeEngine{failing: true}, targets(), SessionOptions{}); err == nil {
		t.Error("failing engine: expected error")
	}
}

func TestGetFreePorts(t *testing.T) {
	ports, err := GetFreePorts(5)
	if err != nil {
		t.Fatal(err)
	}
	seen := map[int]bool{}
	for _, p := range ports {
		if p <= 0 || seen[p] {
			t.Errorf("bad port set %v", ports)
		}
		seen[p] = true
	}
}

func TestParseVersion(t *testing.T) {
	cases := map[string]string{
		"sing-box version 1.9.3\n\nEnvironment: go1.22 linux/amd64\n": "1.9.3",
		"":   "",
		"\n": "",
	}
	for in, want := range cases {
		if got := parseVersion(in); got != want {
			t.Errorf("parseVersion(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBinary_Missing(t *testing.T) {
	b := NewBinary("/nonexistent/sing-box")
	if err := b.Validate(context.Background(), []byte("{}")); !errors.Is(err, ErrEngineUnavailable) {
		t.Errorf("Validate: %v", err)
	}
	if _, err := b.Start(context.Background(), []byte("{}")); !errors.Is(err, ErrEngineUnavailable) {
		t.Errorf("Start: %v", err)
	}
	if caps := Detect(context.Background(), "/nonexistent/sing-box"); caps.Available {
		t.Errorf("Detect = %+v", caps)
	}
}
