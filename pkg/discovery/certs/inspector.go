// Package certs inspects the TLS certificate each asset presents.
package certs

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/CodeMonkeyCybersecurity/surface/internal/config"
	"github.com/CodeMonkeyCybersecurity/surface/internal/core"
	"github.com/CodeMonkeyCybersecurity/surface/internal/gate"
	"github.com/CodeMonkeyCybersecurity/surface/internal/logger"
	"github.com/CodeMonkeyCybersecurity/surface/pkg/types"
)

type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

var (
	ErrNoPeerCertificate = errors.New("no peer certificate presented")
	ErrMalformedValidity = errors.New("malformed certificate validity period")
)

type Inspector struct {
	dialer      Dialer
	port        int
	timeout     time.Duration
	concurrency int
	roots       *x509.CertPool
	now         func() time.Time
	logger      *logger.Logger
	telemetry   core.Telemetry
}

type Option func(*Inspector)

func WithDialer(d Dialer) Option {
	return func(i *Inspector) { i.dialer = d }
}

// WithRoots replaces the system trust store used for chain verification.
func WithRoots(pool *x509.CertPool) Option {
	return func(i *Inspector) { i.roots = pool }
}

func WithClock(now func() time.Time) Option {
	return func(i *Inspector) { i.now = now }
}

func NewInspector(cfg config.CertConfig, log *logger.Logger, telemetry core.Telemetry, opts ...Option) *Inspector {
	port := cfg.Port
	if port == 0 {
		port = 443
	}
	i := &Inspector{
		dialer:      &net.Dialer{},
		port:        port,
		timeout:     cfg.Timeout,
		concurrency: cfg.Concurrency,
		now:         time.Now,
		logger:      log.WithComponent("certs"),
		telemetry:   telemetry,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Inspect performs one handshake per resolved asset. Unresolved assets
// produce no record. Per-asset failures become error records; only ctx
// ending aborts the batch.
func (i *Inspector) Inspect(ctx context.Context, assets []types.ResolvedAsset) ([]types.CertificateInfo, error) {
	start := time.Now()

	targets := make([]types.ResolvedAsset, 0, len(assets))
	for _, a := range assets {
		if a.Resolved() {
			targets = append(targets, a)
		}
	}

	results := make([]types.CertificateInfo, len(targets))
	g := gate.New(i.concurrency)
	var wg sync.WaitGroup
	var dispatchErr error

	for n, asset := range targets {
		if err := g.Acquire(ctx); err != nil {
			dispatchErr = err
			break
		}
		wg.Add(1)
		go func(slot int, asset types.ResolvedAsset) {
			defer wg.Done()
			defer g.Release()
			results[slot] = i.inspectOne(ctx, asset)
		}(n, asset)
	}
	wg.Wait()

	if dispatchErr != nil {
		return nil, dispatchErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	failed := 0
	for _, r := range results {
		if !r.OK() {
			failed++
		}
	}
	duration := time.Since(start)
	i.telemetry.RecordStage(ctx, "certs", len(results), failed, duration)
	i.logger.Infow("Certificate inspection completed",
		"assets", len(results),
		"skipped", len(assets)-len(targets),
		"failed", failed,
		"duration", duration)

	return results, nil
}

func (i *Inspector) inspectOne(ctx context.Context, asset types.ResolvedAsset) types.CertificateInfo {
	chain, err := i.handshake(ctx, asset)
	if err != nil {
		i.logger.Debugw("TLS handshake failed", "asset", asset.Identity, "error", err)
		return types.CertErr(asset.Identity, err)
	}

	details, err := Describe(chain, string(asset.Identity), i.roots, i.now())
	if err != nil {
		return types.CertErr(asset.Identity, err)
	}
	return types.CertOK(asset.Identity, details)
}

func (i *Inspector) handshake(ctx context.Context, asset types.ResolvedAsset) ([]*x509.Certificate, error) {
	hsCtx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	target := net.JoinHostPort(asset.Address, strconv.Itoa(i.port))
	tcpConn, err := i.dialer.DialContext(hsCtx, "tcp", target)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", target, err)
	}

	// Verification happens in Describe so expired or untrusted
	// certificates can still be reported.
	tlsConn := tls.Client(tcpConn, &tls.Config{
		ServerName:         string(asset.Identity),
		InsecureSkipVerify: true, // #nosec G402
	})
	defer tlsConn.Close()

	if deadline, ok := hsCtx.Deadline(); ok {
		_ = tlsConn.SetDeadline(deadline)
	}
	if err := tlsConn.HandshakeContext(hsCtx); err != nil {
		return nil, fmt.Errorf("handshake %s: %w", target, err)
	}

	chain := tlsConn.ConnectionState().PeerCertificates
	if len(chain) == 0 {
		return nil, ErrNoPeerCertificate
	}
	return chain, nil
}

// Describe extracts the health metadata of the leaf certificate in chain.
// roots may be nil to use the system pool.
func Describe(chain []*x509.Certificate, host string, roots *x509.CertPool, now time.Time) (types.CertificateDetails, error) {
	if len(chain) == 0 || chain[0] == nil {
		return types.CertificateDetails{}, ErrNoPeerCertificate
	}
	leaf := chain[0]

	if leaf.NotAfter.IsZero() || leaf.NotAfter.Before(leaf.NotBefore) {
		return types.CertificateDetails{}, fmt.Errorf("%w: not_before=%s not_after=%s",
			ErrMalformedValidity, leaf.NotBefore, leaf.NotAfter)
	}

	days := DaysToExpiry(leaf.NotAfter, now)
	details := types.CertificateDetails{
		Issuer:       nameAttributes(leaf.Issuer),
		Subject:      nameAttributes(leaf.Subject),
		SerialNumber: serialHex(leaf),
		Version:      leaf.Version,
		NotBefore:    leaf.NotBefore.UTC(),
		NotAfter:     leaf.NotAfter.UTC(),
		DaysToExpiry: days,
		IsExpired:    days < 0,
		SANs:         leaf.DNSNames,
	}

	intermediates := x509.NewCertPool()
	for _, c := range chain[1:] {
		intermediates.AddCert(c)
	}
	_, verifyErr := leaf.Verify(x509.VerifyOptions{
		DNSName:       host,
		Roots:         roots,
		Intermediates: intermediates,
		CurrentTime:   now,
	})
	details.Trusted = verifyErr == nil
	if verifyErr != nil {
		details.TrustError = verifyErr.Error()
	}
	return details, nil
}

// DaysToExpiry is the whole number of days from now until notAfter,
// rounded toward negative infinity. A certificate that expired one
// second ago reports -1.
func DaysToExpiry(notAfter, now time.Time) int {
	const day = 24 * time.Hour
	remaining := notAfter.Sub(now.UTC())
	days := remaining / day
	if remaining < 0 && remaining%day != 0 {
		days--
	}
	return int(days)
}

func serialHex(c *x509.Certificate) string {
	if c.SerialNumber == nil {
		return ""
	}
	return fmt.Sprintf("%X", c.SerialNumber)
}

var attributeNames = map[string]string{
	"2.5.4.3":              "commonName",
	"2.5.4.5":              "serialNumber",
	"2.5.4.6":              "countryName",
	"2.5.4.7":              "localityName",
	"2.5.4.8":              "stateOrProvinceName",
	"2.5.4.9":              "streetAddress",
	"2.5.4.10":             "organizationName",
	"2.5.4.11":             "organizationalUnitName",
	"2.5.4.17":             "postalCode",
	"1.2.840.113549.1.9.1": "emailAddress",
}

func nameAttributes(name pkix.Name) map[string]string {
	attrs := make(map[string]string, len(name.Names))
	for _, atv := range name.Names {
		key := atv.Type.String()
		if friendly, ok := attributeNames[key]; ok {
			key = friendly
		}
		value := fmt.Sprint(atv.Value)
		if existing, ok := attrs[key]; ok {
			value = existing + ", " + value
		}
		attrs[key] = value
	}
	return attrs
}
