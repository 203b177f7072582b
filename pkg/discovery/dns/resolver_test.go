package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeMonkeyCybersecurity/surface/internal/config"
	"github.com/CodeMonkeyCybersecurity/surface/internal/logger"
	"github.com/CodeMonkeyCybersecurity/surface/internal/telemetry"
	"github.com/CodeMonkeyCybersecurity/surface/pkg/types"
)

type fakeLookup struct {
	mu      sync.Mutex
	answers map[string][]string
	calls   map[string]int
}

func (f *fakeLookup) LookupHost(ctx context.Context, host string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[host]++
	if addrs, ok := f.answers[host]; ok {
		return addrs, nil
	}
	return nil, fmt.Errorf("lookup %s: no such host", host)
}

func testConfig() config.ResolverConfig {
	return config.ResolverConfig{Concurrency: 4, Timeout: time.Second}
}

func TestResolve(t *testing.T) {
	lookup := &fakeLookup{answers: map[string][]string{
		"a.example.com": {"2001:db8::1", "93.184.216.34"},
		"b.example.com": {"2001:db8::2"},
	}}
	r := NewResolverWithLookup(lookup, testConfig(), logger.NewNop(), telemetry.NewNoop())

	assets, stats, err := r.Resolve(context.Background(), []string{
		"a.example.com", "B.example.com", "missing.example.com", "-bad.example.com", "a.example.com",
	})
	require.NoError(t, err)

	got := map[types.AssetIdentity]string{}
	for _, a := range assets {
		got[a.Identity] = a.Address
	}
	assert.Equal(t, map[types.AssetIdentity]string{
		"a.example.com":       "93.184.216.34",
		"b.example.com":       "2001:db8::2",
		"missing.example.com": "",
	}, got)

	assert.Equal(t, 5, stats.Input)
	assert.Equal(t, 3, stats.Valid)
	assert.Equal(t, 1, stats.Dropped)
	assert.Equal(t, 1, stats.Duplicates)
	assert.Equal(t, 1, stats.Unresolved)
	assert.Equal(t, []string{"-bad.example.com"}, stats.Rejected)
}

func TestResolveEmptyAfterFiltering(t *testing.T) {
	r := NewResolverWithLookup(&fakeLookup{}, testConfig(), logger.NewNop(), telemetry.NewNoop())

	_, stats, err := r.Resolve(context.Background(), []string{"", "bad_host", "-x.com"})
	require.Error(t, err)

	var batchErr *types.BatchError
	require.True(t, errors.As(err, &batchErr))
	assert.Equal(t, types.CategoryEmptyIdentityList, batchErr.Category)
	assert.Equal(t, 3, stats.Dropped)
}

func TestResolveCancelled(t *testing.T) {
	r := NewResolverWithLookup(&fakeLookup{}, testConfig(), logger.NewNop(), telemetry.NewNoop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := r.Resolve(ctx, []string{"a.example.com"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPreferIPv4(t *testing.T) {
	assert.Equal(t, "10.0.0.1", preferIPv4([]string{"::1", "10.0.0.1"}))
	assert.Equal(t, "::1", preferIPv4([]string{"garbage", "::1"}))
	assert.Equal(t, "", preferIPv4(nil))
}

func startDNSServer(t *testing.T, records map[string]string) string {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	mux := dns.NewServeMux()
	mux.HandleFunc(".", func(w dns.ResponseWriter, req *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(req)
		q := req.Question[0]
		ip, ok := records[q.Name]
		switch {
		case !ok:
			m.Rcode = dns.RcodeNameError
		case q.Qtype == dns.TypeA:
			rr, err := dns.NewRR(fmt.Sprintf("%s 60 IN A %s", q.Name, ip))
			if err == nil {
				m.Answer = append(m.Answer, rr)
			}
		}
		_ = w.WriteMsg(m)
	})

	started := make(chan struct{})
	srv := &dns.Server{PacketConn: pc, Handler: mux, NotifyStartedFunc: func() { close(started) }}
	go func() { _ = srv.ActivateAndServe() }()
	<-started
	t.Cleanup(func() { _ = srv.Shutdown() })

	return pc.LocalAddr().String()
}

func TestDNSLookup(t *testing.T) {
	addr := startDNSServer(t, map[string]string{"www.example.com.": "192.0.2.10"})
	lookup := NewDNSLookup([]string{addr}, time.Second)

	addrs, err := lookup.LookupHost(context.Background(), "www.example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"192.0.2.10"}, addrs)

	_, err = lookup.LookupHost(context.Background(), "nope.example.com")
	assert.Error(t, err)
}

func TestNewDNSLookupAddsPort(t *testing.T) {
	lookup := NewDNSLookup([]string{"8.8.8.8", "1.1.1.1:5353"}, time.Second)
	assert.Equal(t, []string{"8.8.8.8:53", "1.1.1.1:5353"}, lookup.servers)
}

type memoryCache struct {
	mu   sync.Mutex
	data map[string]string
}

func (m *memoryCache) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memoryCache) Set(_ context.Context, key, value string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memoryCache) Close() error { return nil }

func TestCachedLookup(t *testing.T) {
	next := &fakeLookup{answers: map[string][]string{"a.example.com": {"10.1.1.1"}}}
	cache := &memoryCache{data: map[string]string{}}
	lookup := NewCachedLookup(next, cache, time.Minute)

	for i := 0; i < 3; i++ {
		addrs, err := lookup.LookupHost(context.Background(), "a.example.com")
		require.NoError(t, err)
		assert.Equal(t, []string{"10.1.1.1"}, addrs)
	}
	assert.Equal(t, 1, next.calls["a.example.com"])

	_, err := lookup.LookupHost(context.Background(), "missing.example.com")
	assert.Error(t, err)
	_, cached, _ := cache.Get(context.Background(), "dns:missing.example.com")
	assert.False(t, cached)
}
