package portscan

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/CodeMonkeyCybersecurity/surface/internal/config"
	"github.com/CodeMonkeyCybersecurity/surface/internal/gate"
	"github.com/CodeMonkeyCybersecurity/surface/internal/logger"
	"github.com/CodeMonkeyCybersecurity/surface/pkg/types"
)

// Dialer opens TCP connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Prober checks which TCP ports accept connections on resolved assets.
type Prober struct {
	dialer      Dialer
	timeout     time.Duration
	concurrency int
	logger      *logger.Logger
	observe     func(*gate.Gate)
}

type Option func(*Prober)

func WithDialer(d Dialer) Option {
	return func(p *Prober) { p.dialer = d }
}

// WithGateObserver hands the admission gate of every Probe call to fn
// before any dial is attempted.
func WithGateObserver(fn func(*gate.Gate)) Option {
	return func(p *Prober) { p.observe = fn }
}

func NewProber(cfg config.PortsConfig, log *logger.Logger, opts ...Option) *Prober {
	p := &Prober{
		dialer:      &net.Dialer{},
		timeout:     cfg.Timeout,
		concurrency: cfg.Concurrency,
		logger:      log.WithComponent("portscan"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// hostProbe collects the outcome of every port attempt against one asset.
// Each open[i] slot is written by exactly one goroutine.
type hostProbe struct {
	open    []bool
	errOnce sync.Once
	err     error
}

func (h *hostProbe) fail(err error) {
	h.errOnce.Do(func() { h.err = err })
}

// Probe dials every port in portSpec on every resolved asset. A single
// admission gate bounds the number of dials in flight across all assets.
// The returned slice is parallel to assets. An error is returned only for
// an invalid port spec or when ctx ends before the probe finishes.
func (p *Prober) Probe(ctx context.Context, assets []types.ResolvedAsset, portSpec string) ([]types.PortScanResult, error) {
	ports, err := ParsePortSpec(portSpec)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	g := gate.New(p.concurrency)
	if p.observe != nil {
		p.observe(g)
	}

	p.logger.Infow("Starting port probe",
		"assets", len(assets),
		"ports", len(ports),
		"concurrency", g.Limit(),
		"timeout", p.timeout)

	hosts := make([]*hostProbe, len(assets))
	var wg sync.WaitGroup
	var dispatchErr error

dispatch:
	for i, asset := range assets {
		if !asset.Resolved() {
			continue
		}
		hp := &hostProbe{open: make([]bool, len(ports))}
		hosts[i] = hp

		addr, err := netip.ParseAddr(asset.Address)
		if err != nil {
			hp.fail(fmt.Errorf("invalid address %q: %w", asset.Address, err))
			continue
		}

		for j, port := range ports {
			if err := g.Acquire(ctx); err != nil {
				dispatchErr = err
				break dispatch
			}
			wg.Add(1)
			go func(hp *hostProbe, slot int, target string) {
				defer wg.Done()
				defer g.Release()

				open, err := p.dial(ctx, target)
				if err != nil {
					hp.fail(err)
					return
				}
				hp.open[slot] = open
			}(hp, j, net.JoinHostPort(addr.String(), strconv.Itoa(port)))
		}
	}
	wg.Wait()

	if dispatchErr != nil {
		return nil, dispatchErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	results := make([]types.PortScanResult, len(assets))
	openTotal, failed := 0, 0
	for i, asset := range assets {
		res := types.PortScanResult{
			Identity:     asset.Identity,
			Address:      asset.Address,
			Observations: []types.PortObservation{},
		}
		if hp := hosts[i]; hp != nil {
			for j, open := range hp.open {
				if open {
					res.Observations = append(res.Observations, types.PortObservation{
						Port:     ports[j],
						Protocol: "tcp",
						State:    types.PortStateOpen,
					})
				}
			}
			if hp.err != nil {
				res.Error = hp.err.Error()
				failed++
				p.logger.Debugw("Port probe error", "asset", asset.Identity, "error", hp.err)
			}
		}
		openTotal += len(res.Observations)
		results[i] = res
	}

	p.logger.Infow("Port probe completed",
		"assets", len(assets),
		"open_ports", openTotal,
		"failed_assets", failed,
		"peak_in_flight", g.Peak(),
		"duration", time.Since(start))

	return results, nil
}

// dial reports whether target accepted a connection. Timeouts, refusals
// and resets mean closed and are not errors.
func (p *Prober) dial(ctx context.Context, target string) (bool, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	conn, err := p.dialer.DialContext(attemptCtx, "tcp", target)
	if err == nil {
		conn.Close()
		return true, nil
	}
	if ctx.Err() != nil || isClosed(err) {
		return false, nil
	}
	return false, fmt.Errorf("dial %s: %w", target, err)
}

func isClosed(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// ServiceName guesses the service usually bound to port.
func ServiceName(port int) string {
	if service, ok := services[port]; ok {
		return service
	}
	return fmt.Sprintf("unknown-%d", port)
}

var services = map[int]string{
	21:    "ftp",
	22:    "ssh",
	23:    "telnet",
	25:    "smtp",
	53:    "dns",
	80:    "http",
	110:   "pop3",
	143:   "imap",
	443:   "https",
	445:   "microsoft-ds",
	993:   "imaps",
	995:   "pop3s",
	3306:  "mysql",
	3389:  "ms-wbt-server",
	5432:  "postgresql",
	5900:  "vnc",
	6379:  "redis",
	8080:  "http-proxy",
	8443:  "https-alt",
	27017: "mongodb",
}
