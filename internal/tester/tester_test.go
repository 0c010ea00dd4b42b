package tester

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"subforge/internal/config"
	"subforge/internal/metrics"
	"subforge/internal/model"
	"subforge/internal/singbox"
)

// blockingProber holds every probe until release is closed.
type blockingProber struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func newBlockingProber() *blockingProber {
	return &blockingProber{started: make(chan struct{}, 8), release: make(chan struct{})}
}

func (p *blockingProber) Probe(ctx context.Context, nodeID string) (int64, error) {
	n := p.calls.Add(1)
	p.started <- struct{}{}
	<-p.release
	return 100 + int64(n), nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCoordinator_SharesInFlightProbe(t *testing.T) {
	c := NewCoordinator()
	p := newBlockingProber()

	var wg sync.WaitGroup
	results := make([]int64, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ms, err := c.Probe(context.Background(), "node-1", p)
			if err != nil {
				t.Errorf("caller %d: %v", i, err)
			}
			results[i] = ms
		}(i)
		if i == 0 {
			<-p.started
		}
	}
	waitFor(t, func() bool { return c.Waiting() == 2 })
	time.Sleep(20 * time.Millisecond)
	close(p.release)
	wg.Wait()

	if got := p.calls.Load(); got != 1 {
		t.Fatalf("underlying probes = %d, want 1", got)
	}
	if results[0] != results[1] || results[0] != 101 {
		t.Errorf("results = %v", results)
	}

	// Completed entries are cleared: the next call probes again.
	if ms, _ := c.Probe(context.Background(), "node-1", p); ms != 102 {
		t.Errorf("fresh probe = %d", ms)
	}
}

func TestCoordinator_DistinctNodesRunConcurrently(t *testing.T) {
	c := NewCoordinator()
	p := newBlockingProber()

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			c.Probe(context.Background(), id, p)
		}(id)
	}
	<-p.started
	<-p.started
	close(p.release)
	wg.Wait()
	if got := p.calls.Load(); got != 2 {
		t.Errorf("probes = %d, want 2", got)
	}
}

func TestCoordinator_CallerCancel(t *testing.T) {
	c := NewCoordinator()
	p := newBlockingProber()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Probe(ctx, "n", p)
		done <- err
	}()
	<-p.started
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v", err)
	}
	close(p.release)
	waitFor(t, func() bool { return c.Waiting() == 0 })

	// The abandoned probe finishes on its own and the entry is gone.
	waitFor(t, func() bool {
		ms, err := c.Probe(context.Background(), "n", ProberFunc(func(context.Context, string) (int64, error) { return 7, nil }))
		return err == nil && ms == 7
	})
}

func TestCoordinator_RecoversPanic(t *testing.T) {
	c := NewCoordinator()
	ms, err := c.Probe(context.Background(), "n", ProberFunc(func(context.Context, string) (int64, error) {
		panic("engine exploded")
	}))
	if err == nil || ms != -1 {
		t.Errorf("Probe = %d, %v", ms, err)
	}
}

type fakeSession struct {
	hosted  map[string]int64
	closed  atomic.Bool
	probed  []string
	panicOn string
	onProbe func()
}

func (s *fakeSession) Has(id string) bool { _, ok := s.hosted[id]; return ok }
func (s *fakeSession) Close() error       { s.closed.Store(true); return nil }

func (s *fakeSession) Probe(ctx context.Context, id string) (int64, error) {
	s.probed = append(s.probed, id)
	if s.onProbe != nil {
		s.onProbe()
	}
	if id == s.panicOn {
		panic("boom")
	}
	if ms := s.hosted[id]; ms > 0 {
		return ms, nil
	}
	return -1, errors.New("connection refused")
}

func newTester(sess *fakeSession, retries int) *Tester {
	t := New(config.ProbeConfig{Retries: retries}, nil, nil)
	t.start = func(context.Context, []singbox.Target) (session, error) { return sess, nil }
	return t
}

func batchTargets(ids ...string) []singbox.Target {
	var out []singbox.Target
	for _, id := range ids {
		out = append(out, singbox.Target{NodeID: id, Outbound: &model.Outbound{Type: model.TypeTrojan, Tag: id}})
	}
	return out
}

func TestBatch_Sequential(t *testing.T) {
	sess := &fakeSession{hosted: map[string]int64{"a": 120, "b": 0, "c": 80}}
	tr := newTester(sess, 1)
	mc := metrics.New()

	var got []Result
	err := tr.Batch(context.Background(), batchTargets("a", "b", "c", "x"), mc, func(r Result) { got = append(got, r) })
	if err != nil {
		t.Fatalf("Batch: %v", err)
	}
	if !sess.closed.Load() {
		t.Error("session not released")
	}
	if len(got) != 4 || got[0].LatencyMs != 120 || got[2].LatencyMs != 80 {
		t.Fatalf("results = %+v", got)
	}
	if got[1].Err == nil || got[1].LatencyMs != -1 {
		t.Errorf("failed node = %+v", got[1])
	}
	if !errors.Is(got[3].Err, ErrNotProbeable) {
		t.Errorf("unhosted node = %+v", got[3])
	}
	// b is retried once, x is never probed.
	want := []string{"a", "b", "b", "c"}
	if len(sess.probed) != len(want) {
		t.Fatalf("probe order = %v, want %v", sess.probed, want)
	}
	for i := range want {
		if sess.probed[i] != want[i] {
			t.Fatalf("probe order = %v, want %v", sess.probed, want)
		}
	}
	if s := mc.Summary(); s.Success != 2 || s.Failures != 2 {
		t.Errorf("metrics = %+v", s)
	}
}

func TestBatch_CancelReleasesSession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sess := &fakeSession{hosted: map[string]int64{"a": 1, "b": 1, "c": 1}}
	sess.onProbe = cancel

	err := newTester(sess, 0).Batch(ctx, batchTargets("a", "b", "c"), nil, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v", err)
	}
	if !sess.closed.Load() {
		t.Error("session not released after cancel")
	}
	if len(sess.probed) != 1 {
		t.Errorf("probed after cancel: %v", sess.probed)
	}
}

func TestBatch_PanicReleasesSession(t *testing.T) {
	sess := &fakeSession{hosted: map[string]int64{"a": 1}, panicOn: "a"}
	tr := newTester(sess, 0)
	err := tr.Batch(context.Background(), batchTargets("a"), nil, func(Result) { panic("callback") })
	if err == nil {
		t.Error("expected error from panicking callback")
	}
	if !sess.closed.Load() {
		t.Error("session not released after panic")
	}
}

func TestBatch_StartFailure(t *testing.T) {
	tr := New(config.ProbeConfig{}, nil, nil)
	if err := tr.Batch(context.Background(), batchTargets("a"), nil, nil); !errors.Is(err, singbox.ErrEngineUnavailable) {
		t.Errorf("err = %v", err)
	}
}

func TestProbe_Single(t *testing.T) {
	sess := &fakeSession{hosted: map[string]int64{"a": 42}}
	ms, err := newTester(sess, 0).Probe(context.Background(), batchTargets("a")[0])
	if err != nil || ms != 42 {
		t.Errorf("Probe = %d, %v", ms, err)
	}
	if !sess.closed.Load() {
		t.Error("single probe session not released")
	}
}

func TestTester_InFlight(t *testing.T) {
	c := NewCoordinator()
	tr := New(config.ProbeConfig{}, nil, c)
	p := newBlockingProber()

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Probe(context.Background(), "node-1", p)
	}()
	<-p.started
	if n := tr.InFlight(); n != 1 {
		t.Errorf("InFlight = %d, want 1", n)
	}
	close(p.release)
	<-done
	if n := tr.InFlight(); n != 0 {
		t.Errorf("InFlight after release = %d", n)
	}
}

func TestRace(t *testing.T) {
	slowStarted := make(chan struct{})
	slowCancelled := make(chan struct{})
	p := ProberFunc(func(ctx context.Context, id string) (int64, error) {
		switch id {
		case "dead":
			return -1, errors.New("refused")
		case "fast":
			<-slowStarted
			return 10, nil
		default:
			close(slowStarted)
			<-ctx.Done()
			close(slowCancelled)
			return -1, ctx.Err()
		}
	})

	winner, err := Race(context.Background(), p, []string{"dead", "slow", "fast"})
	if err != nil || winner != "fast" {
		t.Fatalf("Race = %q, %v", winner, err)
	}
	select {
	case <-slowCancelled:
	case <-time.After(2 * time.Second):
		t.Error("losing probe was not cancelled")
	}

	if _, err := Race(context.Background(), p, []string{"dead"}); !errors.Is(err, ErrNoneAlive) {
		t.Errorf("all dead: %v", err)
	}
	if _, err := Race(context.Background(), p, nil); !errors.Is(err, ErrNoneAlive) {
		t.Errorf("no candidates: %v", err)
	}
}
