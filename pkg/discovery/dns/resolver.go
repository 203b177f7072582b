package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/miekg/dns"

	"github.com/CodeMonkeyCybersecurity/surface/internal/config"
	"github.com/CodeMonkeyCybersecurity/surface/internal/core"
	"github.com/CodeMonkeyCybersecurity/surface/internal/gate"
	"github.com/CodeMonkeyCybersecurity/surface/internal/logger"
	"github.com/CodeMonkeyCybersecurity/surface/pkg/types"
)

// HostLookup returns the addresses of a hostname. *net.Resolver
// satisfies it.
type HostLookup interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

var ErrNoAddresses = errors.New("no addresses found")

// ResolveStats reports what happened to the raw input list.
type ResolveStats struct {
	Input      int      `json:"input"`
	Valid      int      `json:"valid"`
	Duplicates int      `json:"duplicates"`
	Dropped    int      `json:"dropped"`
	Rejected   []string `json:"rejected,omitempty"`
	Unresolved int      `json:"unresolved"`
}

type Resolver struct {
	lookup      HostLookup
	concurrency int
	timeout     time.Duration
	logger      *logger.Logger
	telemetry   core.Telemetry
}

// NewResolver builds a resolver backed by the configured DNS servers, or
// by the system resolver when none are configured.
func NewResolver(cfg config.ResolverConfig, log *logger.Logger, telemetry core.Telemetry) *Resolver {
	var lookup HostLookup = net.DefaultResolver
	if len(cfg.Servers) > 0 {
		lookup = NewDNSLookup(cfg.Servers, cfg.Timeout)
	}
	return NewResolverWithLookup(lookup, cfg, log, telemetry)
}

func NewResolverWithLookup(lookup HostLookup, cfg config.ResolverConfig, log *logger.Logger, telemetry core.Telemetry) *Resolver {
	return &Resolver{
		lookup:      lookup,
		concurrency: cfg.Concurrency,
		timeout:     cfg.Timeout,
		logger:      log.WithComponent("resolver"),
		telemetry:   telemetry,
	}
}

// Identities validates raw hostnames, dropping invalid entries and
// duplicates. Order of first appearance is kept.
func Identities(hostnames []string) ([]types.AssetIdentity, ResolveStats) {
	stats := ResolveStats{Input: len(hostnames)}
	seen := make(map[types.AssetIdentity]struct{}, len(hostnames))
	ids := make([]types.AssetIdentity, 0, len(hostnames))

	for _, raw := range hostnames {
		id, err := types.NewAssetIdentity(raw)
		if err != nil {
			stats.Dropped++
			stats.Rejected = append(stats.Rejected, raw)
			continue
		}
		if _, dup := seen[id]; dup {
			stats.Duplicates++
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	stats.Valid = len(ids)
	return ids, stats
}

// Resolve maps every valid hostname to its first address. Lookup
// failures yield an unresolved asset, never an error. Zero valid
// hostnames is a batch error.
func (r *Resolver) Resolve(ctx context.Context, hostnames []string) ([]types.ResolvedAsset, ResolveStats, error) {
	start := time.Now()
	ids, stats := Identities(hostnames)

	if stats.Dropped > 0 {
		r.logger.Warnw("Dropped invalid hostnames",
			"dropped", stats.Dropped,
			"examples", firstN(stats.Rejected, 5))
		r.telemetry.RecordDropped(ctx, "resolve", stats.Dropped)
	}
	if len(ids) == 0 {
		return nil, stats, types.NewBatchError(types.CategoryEmptyIdentityList,
			fmt.Errorf("none of %d hostnames are valid", stats.Input))
	}

	assets := make([]types.ResolvedAsset, len(ids))
	g := gate.New(r.concurrency)
	var wg sync.WaitGroup
	var dispatchErr error

	for i, id := range ids {
		if err := g.Acquire(ctx); err != nil {
			dispatchErr = err
			break
		}
		wg.Add(1)
		go func(slot int, id types.AssetIdentity) {
			defer wg.Done()
			defer g.Release()
			assets[slot] = types.ResolvedAsset{Identity: id, Address: r.resolveOne(ctx, id)}
		}(i, id)
	}
	wg.Wait()

	if dispatchErr != nil {
		return nil, stats, dispatchErr
	}
	if err := ctx.Err(); err != nil {
		return nil, stats, err
	}

	for _, a := range assets {
		if !a.Resolved() {
			stats.Unresolved++
		}
	}

	duration := time.Since(start)
	r.telemetry.RecordStage(ctx, "resolve", len(assets), stats.Unresolved, duration)
	r.logger.Infow("Resolution completed",
		"hostnames", stats.Input,
		"valid", stats.Valid,
		"unresolved", stats.Unresolved,
		"duration", duration)

	return assets, stats, nil
}

func (r *Resolver) resolveOne(ctx context.Context, id types.AssetIdentity) string {
	lookupCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	addrs, err := r.lookup.LookupHost(lookupCtx, string(id))
	if err != nil {
		r.logger.Debugw("Lookup failed", "host", id, "error", err)
		return ""
	}
	return preferIPv4(addrs)
}

// preferIPv4 returns the first IPv4 address, falling back to the first
// parseable address of any family.
func preferIPv4(addrs []string) string {
	fallback := ""
	for _, a := range addrs {
		ip := net.ParseIP(a)
		if ip == nil {
			continue
		}
		if ip.To4() != nil {
			return ip.String()
		}
		if fallback == "" {
			fallback = ip.String()
		}
	}
	return fallback
}

func firstN(s []string, n int) []string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// DNSLookup queries explicit DNS servers for A then AAAA records.
type DNSLookup struct {
	servers []string
	client  *dns.Client
}

func NewDNSLookup(servers []string, timeout time.Duration) *DNSLookup {
	normalized := make([]string, 0, len(servers))
	for _, s := range servers {
		if _, _, err := net.SplitHostPort(s); err != nil {
			s = net.JoinHostPort(s, "53")
		}
		normalized = append(normalized, s)
	}
	return &DNSLookup{
		servers: normalized,
		client:  &dns.Client{Timeout: timeout},
	}
}

func (l *DNSLookup) LookupHost(ctx context.Context, host string) ([]string, error) {
	var lastErr error
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		addrs, err := l.query(ctx, host, qtype)
		if err != nil {
			lastErr = err
			continue
		}
		if len(addrs) > 0 {
			return addrs, nil
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, fmt.Errorf("%s: %w", host, ErrNoAddresses)
}

func (l *DNSLookup) query(ctx context.Context, host string, qtype uint16) ([]string, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), qtype)
	m.RecursionDesired = true

	var lastErr error
	for _, server := range l.servers {
		resp, _, err := l.client.ExchangeContext(ctx, m, server)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		if resp.Rcode == dns.RcodeNameError {
			return nil, fmt.Errorf("%s: NXDOMAIN", host)
		}
		if resp.Rcode != dns.RcodeSuccess {
			lastErr = fmt.Errorf("%s: rcode %s from %s", host, dns.RcodeToString[resp.Rcode], server)
			continue
		}

		var addrs []string
		for _, ans := range resp.Answer {
			switch v := ans.(type) {
			case *dns.A:
				addrs = append(addrs, v.A.String())
			case *dns.AAAA:
				addrs = append(addrs, v.AAAA.String())
			}
		}
		return addrs, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no DNS servers configured")
	}
	return nil, lastErr
}

// CachedLookup consults cache before delegating to next. Negative
// answers are not cached.
type CachedLookup struct {
	next  HostLookup
	cache core.Cache
	ttl   time.Duration
}

func NewCachedLookup(next HostLookup, cache core.Cache, ttl time.Duration) *CachedLookup {
	return &CachedLookup{next: next, cache: cache, ttl: ttl}
}

func (c *CachedLookup) LookupHost(ctx context.Context, host string) ([]string, error) {
	key := "dns:" + host
	if addr, ok, err := c.cache.Get(ctx, key); err == nil && ok {
		return []string{addr}, nil
	}

	addrs, err := c.next.LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}
	if addr := preferIPv4(addrs); addr != "" {
		_ = c.cache.Set(ctx, key, addr, c.ttl)
	}
	return addrs, nil
}
