// Package techstack identifies the web technologies an asset serves.
package techstack

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/twmb/murmur3"

	"github.com/CodeMonkeyCybersecurity/surface/internal/config"
	"github.com/CodeMonkeyCybersecurity/surface/internal/core"
	"github.com/CodeMonkeyCybersecurity/surface/internal/gate"
	"github.com/CodeMonkeyCybersecurity/surface/internal/httpclient"
	"github.com/CodeMonkeyCybersecurity/surface/internal/logger"
	"github.com/CodeMonkeyCybersecurity/surface/internal/ratelimit"
	"github.com/CodeMonkeyCybersecurity/surface/pkg/types"
)

const maxFaviconBytes = 256 << 10

type Fingerprinter struct {
	client       *http.Client
	signatures   SignatureDB
	limiter      *ratelimit.Limiter
	concurrency  int
	maxBody      int64
	fetchFavicon bool
	urlFor       func(types.AssetIdentity) string
	logger       *logger.Logger
	telemetry    core.Telemetry
}

type Option func(*Fingerprinter)

func WithHTTPClient(c *http.Client) Option {
	return func(f *Fingerprinter) { f.client = c }
}

func WithSignatures(db SignatureDB) Option {
	return func(f *Fingerprinter) { f.signatures = db }
}

// WithURLFunc overrides how an identity maps to the URL that is fetched.
func WithURLFunc(fn func(types.AssetIdentity) string) Option {
	return func(f *Fingerprinter) { f.urlFor = fn }
}

func NewFingerprinter(cfg config.TechConfig, log *logger.Logger, telemetry core.Telemetry, opts ...Option) *Fingerprinter {
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = config.DefaultUserAgent
	}
	f := &Fingerprinter{
		client: httpclient.New(httpclient.ClientConfig{
			Timeout:            cfg.Timeout,
			UserAgent:          userAgent,
			MaxRedirects:       5,
			InsecureSkipVerify: cfg.InsecureSkipTLS,
		}),
		signatures: DefaultSignatures(),
		limiter: ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerSecond: cfg.RequestsPerSecond,
			BurstSize:         cfg.Burst,
		}),
		concurrency:  cfg.Concurrency,
		maxBody:      cfg.MaxBodyBytes,
		fetchFavicon: cfg.FetchFavicon,
		urlFor: func(id types.AssetIdentity) string {
			return "https://" + string(id) + "/"
		},
		logger:    log.WithComponent("techstack"),
		telemetry: telemetry,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fingerprint fetches each identity's landing page and labels the
// technologies it reveals. Failures yield an empty label set for that
// identity; only ctx ending aborts the batch.
func (f *Fingerprinter) Fingerprint(ctx context.Context, ids []types.AssetIdentity) ([]types.TechnologyResult, error) {
	start := time.Now()
	results := make([]types.TechnologyResult, len(ids))
	g := gate.New(f.concurrency)
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

			labels, err := f.fingerprintOne(ctx, id)
			if err != nil {
				f.logger.Debugw("Fingerprint failed", "asset", id, "error", err)
				labels = []string{}
			}
			results[slot] = types.TechnologyResult{Identity: id, Technologies: labels}
		}(i, id)
	}
	wg.Wait()

	if dispatchErr != nil {
		return nil, dispatchErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	empty := 0
	for _, r := range results {
		if len(r.Technologies) == 0 {
			empty++
		}
	}
	duration := time.Since(start)
	f.telemetry.RecordStage(ctx, "tech", len(results), empty, duration)
	f.logger.Infow("Technology fingerprinting completed",
		"assets", len(results),
		"unidentified", empty,
		"duration", duration)

	return results, nil
}

func (f *Fingerprinter) fingerprintOne(ctx context.Context, id types.AssetIdentity) (labels []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			labels, err = nil, fmt.Errorf("signature matcher panicked: %v", r)
		}
	}()

	page, err := f.capture(ctx, f.urlFor(id))
	if err != nil {
		return nil, err
	}
	labels, err = f.signatures.Match(page)
	if err != nil {
		return nil, err
	}
	if labels == nil {
		labels = []string{}
	}
	return labels, nil
}

func (f *Fingerprinter) capture(ctx context.Context, target string) (*Page, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		httpclient.CloseBody(resp)
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := httpclient.ReadBody(resp, f.maxBody)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	page := &Page{
		URL:        resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Cookies:    resp.Header.Values("Set-Cookie"),
		Body:       string(body),
		Meta:       map[string]string{},
	}

	iconHref := "/favicon.ico"
	if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body)); err == nil {
		doc.Find("meta[name]").Each(func(_ int, s *goquery.Selection) {
			name, _ := s.Attr("name")
			content, _ := s.Attr("content")
			page.Meta[strings.ToLower(name)] = content
		})
		doc.Find("script[src]").Each(func(_ int, s *goquery.Selection) {
			if src, ok := s.Attr("src"); ok {
				page.Scripts = append(page.Scripts, src)
			}
		})
		doc.Find(`link[rel~="icon"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if href, ok := s.Attr("href"); ok && href != "" {
				iconHref = href
				return false
			}
			return true
		})
	}

	if f.fetchFavicon {
		if hash, err := f.faviconHash(ctx, resp.Request.URL, iconHref); err == nil {
			page.FaviconHash = &hash
		}
	}
	return page, nil
}

func (f *Fingerprinter) faviconHash(ctx context.Context, base *url.URL, href string) (int32, error) {
	ref, err := url.Parse(href)
	if err != nil {
		return 0, err
	}
	iconURL := base.ResolveReference(ref)
	if iconURL.Host != base.Host {
		return 0, fmt.Errorf("favicon on foreign host %s", iconURL.Host)
	}

	if err := f.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, iconURL.String(), nil)
	if err != nil {
		return 0, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return 0, err
	}
	if resp.StatusCode != http.StatusOK {
		httpclient.CloseBody(resp)
		return 0, fmt.Errorf("favicon status %d", resp.StatusCode)
	}
	data, err := httpclient.ReadBody(resp, maxFaviconBytes)
	if err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, fmt.Errorf("empty favicon")
	}
	return FaviconHash(data), nil
}

// FaviconHash is the Shodan-compatible mmh3 hash: murmur3 over the
// MIME base64 encoding (76-column lines, trailing newline).
func FaviconHash(data []byte) int32 {
	encoded := base64.StdEncoding.EncodeToString(data)
	var b strings.Builder
	b.Grow(len(encoded) + len(encoded)/76 + 1)
	for len(encoded) > 76 {
		b.WriteString(encoded[:76])
		b.WriteByte('\n')
		encoded = encoded[76:]
	}
	b.WriteString(encoded)
	b.WriteByte('\n')
	return int32(murmur3.Sum32([]byte(b.String())))
}
