package techstack

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignaturesMatch(t *testing.T) {
	db := DefaultSignatures()

	tests := []struct {
		name string
		page *Page
		want []string
	}{
		{
			name: "iis implies windows",
			page: &Page{Headers: map[string][]string{"Server": {"Microsoft-IIS/10.0"}}},
			want: []string{"Microsoft IIS", "Windows Server"},
		},
		{
			name: "asp.net implies iis and windows transitively",
			page: &Page{Cookies: []string{"ASP.NET_SessionId=xyz; path=/"}},
			want: []string{"ASP.NET", "Microsoft IIS", "Windows Server"},
		},
		{
			name: "header key is respected",
			page: &Page{Headers: map[string][]string{"X-Note": {"nginx"}}},
			want: []string{},
		},
		{
			name: "meta generator",
			page: &Page{Meta: map[string]string{"generator": "Drupal 10"}},
			want: []string{"Drupal", "PHP"},
		},
		{
			name: "next.js scripts",
			page: &Page{Scripts: []string{"/_next/static/chunks/main.js"}},
			want: []string{"Next.js", "Node.js", "React"},
		},
		{
			name: "nothing",
			page: &Page{Body: "<html></html>"},
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := db.Match(tt.page)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewSignaturesRejectsBadPatterns(t *testing.T) {
	_, err := NewSignatures([]Signature{{Name: "x", Patterns: []Pattern{{Type: PatternBody, Regex: "("}}}})
	assert.Error(t, err)

	_, err = NewSignatures([]Signature{{Name: "x", Patterns: []Pattern{{Type: "url", Regex: "a"}}}})
	assert.Error(t, err)

	_, err = NewSignatures([]Signature{{Name: "x", Patterns: []Pattern{{Type: PatternFavicon, Regex: "abc"}}}})
	assert.Error(t, err)

	_, err = NewSignatures([]Signature{{Patterns: []Pattern{{Type: PatternBody, Regex: "a"}}}})
	assert.Error(t, err)
}

func TestLoadSignatures(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signatures.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
- name: Traefik
  category: Reverse Proxy
  patterns:
    - type: header
      key: Server
      regex: "^traefik"
- name: Go
  category: Programming Language
- name: Custom
  patterns:
    - type: body
      regex: "powered by traefik"
  implies: [Go]
`), 0o600))

	db, err := LoadSignatures(path)
	require.NoError(t, err)
	assert.Equal(t, 3, db.Len())

	got, err := db.Match(&Page{
		Headers: map[string][]string{"Server": {"Traefik"}},
		Body:    "Powered by Traefik",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Custom", "Go", "Traefik"}, got)

	_, err = LoadSignatures(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
