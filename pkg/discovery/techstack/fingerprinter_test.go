package techstack

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeMonkeyCybersecurity/surface/internal/config"
	"github.com/CodeMonkeyCybersecurity/surface/internal/logger"
	"github.com/CodeMonkeyCybersecurity/surface/internal/telemetry"
	"github.com/CodeMonkeyCybersecurity/surface/pkg/types"
)

const wordpressPage = `<!DOCTYPE html>
<html>
<head>
  <meta name="Generator" content="WordPress 6.5">
  <link rel="shortcut icon" href="/static/icon.png">
  <script src="/wp-includes/js/jquery/jquery.min.js"></script>
</head>
<body>hello</body>
</html>`

var faviconBytes = []byte("hello favicon")

func testTechConfig() config.TechConfig {
	return config.TechConfig{
		Concurrency:  4,
		Timeout:      2 * time.Second,
		MaxBodyBytes: 1 << 20,
		FetchFavicon: true,
	}
}

func newWordPressServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "nginx/1.25.3")
		w.Header().Set("X-Powered-By", "PHP/8.2.1")
		http.SetCookie(w, &http.Cookie{Name: "PHPSESSID", Value: "abc"})
		_, _ = w.Write([]byte(wordpressPage))
	})
	mux.HandleFunc("/static/icon.png", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(faviconBytes)
	})
	server := httptest.NewTLSServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestFingerprint(t *testing.T) {
	server := newWordPressServer(t)

	f := NewFingerprinter(testTechConfig(), logger.NewNop(), telemetry.NewNoop(),
		WithHTTPClient(server.Client()),
		WithURLFunc(func(types.AssetIdentity) string { return server.URL + "/" }),
	)

	results, err := f.Fingerprint(context.Background(), []types.AssetIdentity{"blog.example.com"})
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.Equal(t, types.AssetIdentity("blog.example.com"), results[0].Identity)
	assert.Equal(t, []string{"MySQL", "Nginx", "PHP", "WordPress", "jQuery"}, results[0].Technologies)
}

func TestFingerprintMatchesFavicon(t *testing.T) {
	server := newWordPressServer(t)

	db, err := NewSignatures([]Signature{
		{Name: "Custom Panel", Patterns: []Pattern{{Type: PatternFavicon, Regex: strconv.Itoa(int(FaviconHash(faviconBytes)))}}},
	})
	require.NoError(t, err)

	f := NewFingerprinter(testTechConfig(), logger.NewNop(), telemetry.NewNoop(),
		WithHTTPClient(server.Client()),
		WithSignatures(db),
		WithURLFunc(func(types.AssetIdentity) string { return server.URL + "/" }),
	)

	results, err := f.Fingerprint(context.Background(), []types.AssetIdentity{"panel.example.com"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Custom Panel"}, results[0].Technologies)
}

func TestFingerprintFailureYieldsEmptySet(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	f := NewFingerprinter(testTechConfig(), logger.NewNop(), telemetry.NewNoop(),
		WithURLFunc(func(types.AssetIdentity) string { return "https://" + addr + "/" }),
	)

	results, err := f.Fingerprint(context.Background(), []types.AssetIdentity{"down.example.com"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.NotNil(t, results[0].Technologies)
	assert.Empty(t, results[0].Technologies)
}

func TestFingerprintUntrustedCertificateYieldsEmptySet(t *testing.T) {
	server := newWordPressServer(t)

	// default client does not trust the test server's certificate
	f := NewFingerprinter(testTechConfig(), logger.NewNop(), telemetry.NewNoop(),
		WithURLFunc(func(types.AssetIdentity) string { return server.URL + "/" }),
	)

	results, err := f.Fingerprint(context.Background(), []types.AssetIdentity{"blog.example.com"})
	require.NoError(t, err)
	assert.Empty(t, results[0].Technologies)
}

func TestFingerprintNon2xxYieldsEmptySet(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "nginx/1.25.3")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(wordpressPage))
	}))
	t.Cleanup(server.Close)

	f := NewFingerprinter(testTechConfig(), logger.NewNop(), telemetry.NewNoop(),
		WithHTTPClient(server.Client()),
		WithURLFunc(func(types.AssetIdentity) string { return server.URL + "/" }),
	)

	results, err := f.Fingerprint(context.Background(), []types.AssetIdentity{"maint.example.com"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.NotNil(t, results[0].Technologies)
	assert.Empty(t, results[0].Technologies)
}

type panickingDB struct{}

func (panickingDB) Match(*Page) ([]string, error) { panic("boom") }

type failingDB struct{}

func (failingDB) Match(*Page) ([]string, error) { return nil, errors.New("matcher unavailable") }

func TestFingerprintMatcherFailures(t *testing.T) {
	server := newWordPressServer(t)

	for name, db := range map[string]SignatureDB{"panic": panickingDB{}, "error": failingDB{}} {
		t.Run(name, func(t *testing.T) {
			f := NewFingerprinter(testTechConfig(), logger.NewNop(), telemetry.NewNoop(),
				WithHTTPClient(server.Client()),
				WithSignatures(db),
				WithURLFunc(func(types.AssetIdentity) string { return server.URL + "/" }),
			)
			results, err := f.Fingerprint(context.Background(), []types.AssetIdentity{"a.example.com", "b.example.com"})
			require.NoError(t, err)
			require.Len(t, results, 2)
			for _, r := range results {
				assert.Empty(t, r.Technologies)
			}
		})
	}
}

func TestFingerprintCancelled(t *testing.T) {
	f := NewFingerprinter(testTechConfig(), logger.NewNop(), telemetry.NewNoop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := f.Fingerprint(ctx, []types.AssetIdentity{"a.example.com"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, results)
}

func TestFaviconHash(t *testing.T) {
	assert.Equal(t, int32(508473084), FaviconHash([]byte("hello favicon")))

	data := make([]byte, 100)
	for i := range data {
		data[i] = byte(i)
	}
	// 136 base64 characters wrap onto two lines
	assert.Equal(t, int32(-1165240594), FaviconHash(data))
}
