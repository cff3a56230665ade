package routing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ar-io/wayfinder-go/pkg/wferr"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return u
}

func gatewaySet(t *testing.T, hosts ...string) []*url.URL {
	t.Helper()
	out := make([]*url.URL, len(hosts))
	for i, h := range hosts {
		out[i] = mustURL(t, "https://"+h)
	}
	return out
}

func TestRandom_Distribution(t *testing.T) {
	urls := gatewaySet(t, "a.example", "b.example", "c.example", "d.example", "e.example")
	s := NewRandom(nil)

	counts := make(map[string]int)
	for i := 0; i < 1000; i++ {
		gw, err := s.SelectGateway(context.Background(), SelectionParams{Gateways: urls})
		if err != nil {
			t.Fatalf("SelectGateway: %v", err)
		}
		counts[gw.Host]++
	}

	for _, u := range urls {
		n := counts[u.Host]
		if n == 0 {
			t.Errorf("gateway %s never chosen", u.Host)
		}
		if n > 500 {
			t.Errorf("gateway %s chosen %d times, exceeds 50%%", u.Host, n)
		}
	}
}

func TestRandom_Empty(t *testing.T) {
	s := NewRandom(nil)
	_, err := s.SelectGateway(context.Background(), SelectionParams{})
	if !wferr.IsKind(err, wferr.KindNoGateways) {
		t.Errorf("err = %v, want no_gateways", err)
	}
}

func TestRoundRobin_Sequence(t *testing.T) {
	urls := gatewaySet(t, "a.example", "b.example", "c.example")
	s := NewRoundRobin(nil)

	want := []string{"a.example", "b.example", "c.example", "a.example"}
	for i, w := range want {
		gw, err := s.SelectGateway(context.Background(), SelectionParams{Gateways: urls})
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if gw.Host != w {
			t.Errorf("call %d = %s, want %s", i, gw.Host, w)
		}
	}
}

func TestRoundRobin_InstancesDoNotShareState(t *testing.T) {
	urls := gatewaySet(t, "a.example", "b.example", "c.example")
	s1 := NewRoundRobin(nil)
	s2 := NewRoundRobin(nil)

	g1, _ := s1.SelectGateway(context.Background(), SelectionParams{Gateways: urls})
	g2, _ := s2.SelectGateway(context.Background(), SelectionParams{Gateways: urls})

	if g1.Host != "a.example" || g2.Host != "a.example" {
		t.Errorf("fresh instances returned %s, %s; want a.example twice", g1.Host, g2.Host)
	}
}

func TestRoundRobin_DoesNotMutateInput(t *testing.T) {
	urls := gatewaySet(t, "a.example", "b.example")
	orig := make([]*url.URL, len(urls))
	copy(orig, urls)

	s := NewRoundRobin(nil)
	for i := 0; i < 5; i++ {
		if _, err := s.SelectGateway(context.Background(), SelectionParams{Gateways: urls}); err != nil {
			t.Fatal(err)
		}
	}
	for i := range urls {
		if urls[i] != orig[i] {
			t.Fatal("input slice was mutated")
		}
	}
}

func TestStatic_AlwaysReturnsConfigured(t *testing.T) {
	gw := mustURL(t, "https://pinned.example")
	s := NewStatic(gw, nil)

	got, err := s.SelectGateway(context.Background(), SelectionParams{
		Gateways: gatewaySet(t, "a.example", "b.example"),
	})
	if err != nil {
		t.Fatalf("SelectGateway: %v", err)
	}
	if got != gw {
		t.Errorf("got %s, want pinned.example", got)
	}
}

// latencyServer answers HEAD after delay with the given status.
func latencyServer(t *testing.T, delay time.Duration, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(delay)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFastestPing_PicksFastest(t *testing.T) {
	slow := latencyServer(t, 300*time.Millisecond, http.StatusOK)
	fast := latencyServer(t, 50*time.Millisecond, http.StatusOK)
	medium := latencyServer(t, 150*time.Millisecond, http.StatusOK)

	s := NewFastestPing(nil, WithProbeTimeout(500*time.Millisecond))
	got, err := s.SelectGateway(context.Background(), SelectionParams{
		Gateways: []*url.URL{mustURL(t, slow.URL), mustURL(t, fast.URL), mustURL(t, medium.URL)},
	})
	if err != nil {
		t.Fatalf("SelectGateway: %v", err)
	}
	if got.String() != fast.URL {
		t.Errorf("got %s, want the fast gateway %s", got, fast.URL)
	}
}

func TestFastestPing_OnlyHealthyWins(t *testing.T) {
	bad1 := latencyServer(t, 10*time.Millisecond, http.StatusInternalServerError)
	good := latencyServer(t, 100*time.Millisecond, http.StatusOK)
	bad2 := latencyServer(t, 10*time.Millisecond, http.StatusNotFound)

	s := NewFastestPing(nil, WithProbeTimeout(500*time.Millisecond))
	got, err := s.SelectGateway(context.Background(), SelectionParams{
		Gateways: []*url.URL{mustURL(t, bad1.URL), mustURL(t, good.URL), mustURL(t, bad2.URL)},
	})
	if err != nil {
		t.Fatalf("SelectGateway: %v", err)
	}
	if got.String() != good.URL {
		t.Errorf("got %s, want the healthy gateway %s", got, good.URL)
	}
}

func TestFastestPing_AllUnhealthy(t *testing.T) {
	bad1 := latencyServer(t, 5*time.Millisecond, http.StatusBadGateway)
	bad2 := latencyServer(t, 5*time.Millisecond, http.StatusServiceUnavailable)

	s := NewFastestPing(nil, WithProbeTimeout(500*time.Millisecond))
	_, err := s.SelectGateway(context.Background(), SelectionParams{
		Gateways: []*url.URL{mustURL(t, bad1.URL), mustURL(t, bad2.URL)},
	})
	if !wferr.IsKind(err, wferr.KindNoHealthyGateway) {
		t.Errorf("err = %v, want no_healthy_gateway", err)
	}
}

func TestFastestPing_TimeoutExcludesSlow(t *testing.T) {
	slow := latencyServer(t, 300*time.Millisecond, http.StatusOK)
	fast := latencyServer(t, 50*time.Millisecond, http.StatusOK)

	s := NewFastestPing(nil, WithProbeTimeout(100*time.Millisecond))
	got, err := s.SelectGateway(context.Background(), SelectionParams{
		Gateways: []*url.URL{mustURL(t, slow.URL), mustURL(t, fast.URL)},
	})
	if err != nil {
		t.Fatalf("SelectGateway: %v", err)
	}
	if got.String() != fast.URL {
		t.Errorf("got %s, want %s", got, fast.URL)
	}

	// Both above the timeout → no healthy gateway.
	s2 := NewFastestPing(nil, WithProbeTimeout(20*time.Millisecond))
	_, err = s2.SelectGateway(context.Background(), SelectionParams{
		Gateways: []*url.URL{mustURL(t, slow.URL), mustURL(t, fast.URL)},
	})
	if !wferr.IsKind(err, wferr.KindNoHealthyGateway) {
		t.Errorf("err = %v, want no_healthy_gateway", err)
	}
}

func TestPing_RetriesThenSucceeds(t *testing.T) {
	var hits int32
	flaky := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer flaky.Close()

	s := NewPing(NewStatic(mustURL(t, flaky.URL), nil), WithPingRetries(5))
	got, err := s.SelectGateway(context.Background(), SelectionParams{})
	if err != nil {
		t.Fatalf("SelectGateway: %v", err)
	}
	if got.String() != flaky.URL {
		t.Errorf("got %s, want %s", got, flaky.URL)
	}
	if n := atomic.LoadInt32(&hits); n != 3 {
		t.Errorf("probe count = %d, want 3", n)
	}
}

func TestPing_Exhaustion(t *testing.T) {
	down := latencyServer(t, time.Millisecond, http.StatusBadGateway)
	s := NewPing(NewStatic(mustURL(t, down.URL), nil), WithPingRetries(2))
	_, err := s.SelectGateway(context.Background(), SelectionParams{})
	if !wferr.IsKind(err, wferr.KindNoHealthyGateway) {
		t.Errorf("err = %v, want no_healthy_gateway", err)
	}
}

type stubStrategy struct {
	gw   *url.URL
	err  error
	hits int32
}

func (s *stubStrategy) Name() string { return "stub" }
func (s *stubStrategy) SelectGateway(context.Context, SelectionParams) (*url.URL, error) {
	atomic.AddInt32(&s.hits, 1)
	if s.err != nil {
		return nil, s.err
	}
	return s.gw, nil
}

func TestComposite_FirstSuccessWins(t *testing.T) {
	failing := &stubStrategy{err: wferr.New(wferr.KindNoHealthyGateway, "down")}
	ok := &stubStrategy{gw: mustURL(t, "https://b.example")}
	never := &stubStrategy{gw: mustURL(t, "https://c.example")}

	c, err := NewComposite(nil, failing, ok, never)
	if err != nil {
		t.Fatalf("NewComposite: %v", err)
	}

	got, err := c.SelectGateway(context.Background(), SelectionParams{})
	if err != nil {
		t.Fatalf("SelectGateway: %v", err)
	}
	if got.Host != "b.example" {
		t.Errorf("got %s, want b.example", got.Host)
	}
	if atomic.LoadInt32(&never.hits) != 0 {
		t.Error("strategy after the first success was consulted")
	}
}

func TestComposite_AllFail(t *testing.T) {
	c, err := NewComposite(nil,
		&stubStrategy{err: wferr.New(wferr.KindNoHealthyGateway, "down")},
		&stubStrategy{err: wferr.New(wferr.KindNoGateways, "empty")},
	)
	if err != nil {
		t.Fatalf("NewComposite: %v", err)
	}
	_, err = c.SelectGateway(context.Background(), SelectionParams{})
	if !wferr.IsKind(err, wferr.KindAllStrategiesFailed) {
		t.Errorf("err = %v, want all_strategies_failed", err)
	}
}

func TestComposite_RequiresStrategy(t *testing.T) {
	if _, err := NewComposite(nil); err == nil {
		t.Fatal("NewComposite() succeeded with no strategies")
	}
}

func TestPreferredWithFallback_UsesPreferredWhenHealthy(t *testing.T) {
	preferred := latencyServer(t, time.Millisecond, http.StatusOK)
	fallback := &stubStrategy{gw: mustURL(t, "https://fallback.example")}

	s := NewPreferredWithFallback(mustURL(t, preferred.URL), fallback, nil, nil)
	got, err := s.SelectGateway(context.Background(), SelectionParams{})
	if err != nil {
		t.Fatalf("SelectGateway: %v", err)
	}
	if got.String() != preferred.URL {
		t.Errorf("got %s, want preferred %s", got, preferred.URL)
	}
	if atomic.LoadInt32(&fallback.hits) != 0 {
		t.Error("fallback consulted although preferred is healthy")
	}
}

func TestPreferredWithFallback_FallsBack(t *testing.T) {
	preferred := latencyServer(t, time.Millisecond, http.StatusBadGateway)
	fallback := &stubStrategy{gw: mustURL(t, "https://fallback.example")}

	s := NewPreferredWithFallback(mustURL(t, preferred.URL), fallback, nil, nil)
	got, err := s.SelectGateway(context.Background(), SelectionParams{})
	if err != nil {
		t.Fatalf("SelectGateway: %v", err)
	}
	if got.Host != "fallback.example" {
		t.Errorf("got %s, want fallback.example", got.Host)
	}
}

func TestCached_SingleFlight(t *testing.T) {
	slowInner := &slowStrategy{gw: mustURL(t, "https://a.example")}
	c := NewCachedStrategy(slowInner, time.Minute, nil)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.SelectGateway(context.Background(), SelectionParams{}); err != nil {
				t.Errorf("SelectGateway: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := atomic.LoadInt32(&slowInner.hits); n != 1 {
		t.Errorf("inner selections = %d, want 1 (single flight)", n)
	}
}

type slowStrategy struct {
	gw   *url.URL
	hits int32
}

func (s *slowStrategy) Name() string { return "slow" }
func (s *slowStrategy) SelectGateway(context.Context, SelectionParams) (*url.URL, error) {
	atomic.AddInt32(&s.hits, 1)
	time.Sleep(50 * time.Millisecond)
	return s.gw, nil
}

func TestCached_StaleOnFailure(t *testing.T) {
	inner := &stubStrategy{gw: mustURL(t, "https://a.example")}
	c := NewCachedStrategy(inner, 10*time.Millisecond, nil)

	if _, err := c.SelectGateway(context.Background(), SelectionParams{}); err != nil {
		t.Fatalf("prime: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	inner.err = wferr.New(wferr.KindNoHealthyGateway, "down")

	got, err := c.SelectGateway(context.Background(), SelectionParams{})
	if err != nil {
		t.Fatalf("SelectGateway after failure: %v (want stale pick)", err)
	}
	if got.Host != "a.example" {
		t.Errorf("got %s, want stale a.example", got.Host)
	}
}

func TestCached_ErrorWithNoStaleValue(t *testing.T) {
	inner := &stubStrategy{err: wferr.New(wferr.KindNoGateways, "empty")}
	c := NewCachedStrategy(inner, time.Minute, nil)
	if _, err := c.SelectGateway(context.Background(), SelectionParams{}); !wferr.IsKind(err, wferr.KindNoGateways) {
		t.Errorf("err = %v, want no_gateways", err)
	}
}

func TestProbeURL_SubdomainPrepended(t *testing.T) {
	gw := mustURL(t, "https://gw.example:8443")
	got := probeURL(gw, "index.html", "sandbox")
	want := "https://sandbox.gw.example:8443/index.html"
	if got != want {
		t.Errorf("probeURL = %q, want %q", got, want)
	}
}

func TestProbeURL_NoSubdomain(t *testing.T) {
	gw := mustURL(t, "https://gw.example")
	got := probeURL(gw, "/path/deep", "")
	want := "https://gw.example/path/deep"
	if got != want {
		t.Errorf("probeURL = %q, want %q", got, want)
	}
}
