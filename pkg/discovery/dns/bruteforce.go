package dns

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/CodeMonkeyCybersecurity/surface/internal/gate"
	"github.com/CodeMonkeyCybersecurity/surface/internal/logger"
	"github.com/CodeMonkeyCybersecurity/surface/pkg/types"
)

// Bruteforcer discovers subdomains by resolving wordlist candidates.
// Names that only resolve to the domain's wildcard addresses are
// discarded.
type Bruteforcer struct {
	lookup      HostLookup
	wordlist    []string
	concurrency int
	timeout     time.Duration
	logger      *logger.Logger
	now         func() time.Time
}

func NewBruteforcer(lookup HostLookup, wordlist []string, concurrency int, timeout time.Duration, log *logger.Logger) *Bruteforcer {
	if len(wordlist) == 0 {
		wordlist = DefaultWordlist()
	}
	return &Bruteforcer{
		lookup:      lookup,
		wordlist:    wordlist,
		concurrency: concurrency,
		timeout:     timeout,
		logger:      log.WithComponent("bruteforce"),
		now:         time.Now,
	}
}

// Enumerate returns the resolving candidates of domain in sorted order.
func (b *Bruteforcer) Enumerate(ctx context.Context, domain string) ([]string, error) {
	root, err := types.NewAssetIdentity(domain)
	if err != nil {
		return nil, err
	}

	wildcard := b.wildcardAddrs(ctx, string(root))
	if len(wildcard) > 0 {
		b.logger.Infow("Wildcard DNS detected", "domain", root, "addresses", wildcard)
	}

	candidates := b.candidates(string(root))
	var (
		mu    sync.Mutex
		found []string
		wg    sync.WaitGroup
	)
	g := gate.New(b.concurrency)

	for _, name := range candidates {
		if err := g.Acquire(ctx); err != nil {
			break
		}
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			defer g.Release()

			addrs := b.resolve(ctx, name)
			if len(addrs) == 0 || onlyWildcard(addrs, wildcard) {
				return
			}
			mu.Lock()
			found = append(found, name)
			mu.Unlock()
		}(name)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Strings(found)
	b.logger.Infow("DNS brute-force completed",
		"domain", root,
		"tested", len(candidates),
		"found", len(found))
	return found, nil
}

func (b *Bruteforcer) resolve(ctx context.Context, host string) []string {
	lookupCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	addrs, err := b.lookup.LookupHost(lookupCtx, host)
	if err != nil {
		return nil
	}
	return addrs
}

func (b *Bruteforcer) wildcardAddrs(ctx context.Context, domain string) map[string]struct{} {
	probe := fmt.Sprintf("wildcard-test-%d.%s", b.now().UnixNano(), domain)
	set := make(map[string]struct{})
	for _, a := range b.resolve(ctx, probe) {
		set[a] = struct{}{}
	}
	return set
}

func onlyWildcard(addrs []string, wildcard map[string]struct{}) bool {
	if len(wildcard) == 0 {
		return false
	}
	for _, a := range addrs {
		if _, ok := wildcard[a]; !ok {
			return false
		}
	}
	return true
}

// candidates joins each word and each permutation of the domain's first
// label with the domain, skipping invalid or repeated names.
func (b *Bruteforcer) candidates(domain string) []string {
	words := append([]string(nil), b.wordlist...)
	words = append(words, permutations(domain, b.now().Year())...)

	seen := make(map[string]struct{}, len(words))
	out := make([]string, 0, len(words))
	for _, w := range words {
		id, err := types.NewAssetIdentity(w + "." + domain)
		if err != nil {
			continue
		}
		if _, dup := seen[string(id)]; dup {
			continue
		}
		seen[string(id)] = struct{}{}
		out = append(out, string(id))
	}
	return out
}

func permutations(domain string, year int) []string {
	parts := strings.Split(domain, ".")
	if len(parts) < 2 {
		return nil
	}
	base := parts[0]

	patterns := []string{
		"%s-dev", "%s-staging", "%s-prod", "%s-test",
		"%s-api", "%s-admin", "%s-portal", "%s-app",
		"dev-%s", "staging-%s", "api-%s", "admin-%s",
		"%s1", "%s2", "new-%s", "old-%s", "beta-%s",
		"%s-backup", "%s-cdn", "%s-us", "%s-eu",
	}
	out := make([]string, 0, len(patterns)+4)
	for _, p := range patterns {
		out = append(out, fmt.Sprintf(p, base))
	}
	for y := year - 1; y <= year; y++ {
		out = append(out, fmt.Sprintf("%s%d", base, y), fmt.Sprintf("%s-%d", base, y))
	}
	return out
}

// LoadWordlist reads one word per line, skipping blanks and # comments.
func LoadWordlist(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var words []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		word := strings.TrimSpace(scanner.Text())
		if word != "" && !strings.HasPrefix(word, "#") {
			words = append(words, word)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return words, nil
}

// DefaultWordlist returns common subdomain labels.
func DefaultWordlist() []string {
	return []string{
		"www", "mail", "ftp", "webmail", "smtp", "pop", "imap", "ns1", "ns2", "mx", "mx1",
		"autodiscover", "vpn", "remote", "gateway", "proxy", "cdn", "static", "assets", "img",
		"api", "api-v1", "api-v2", "graphql", "app", "apps", "web", "portal", "m", "mobile",
		"dev", "test", "qa", "uat", "stage", "staging", "sandbox", "demo", "beta", "preprod",
		"admin", "panel", "cpanel", "console", "dashboard", "backend", "internal", "intranet",
		"auth", "sso", "login", "id", "oauth", "ldap",
		"git", "gitlab", "jenkins", "ci", "jira", "confluence", "wiki", "docs", "status",
		"grafana", "kibana", "prometheus", "monitor", "logs",
		"db", "mysql", "postgres", "redis", "elastic", "mongo",
		"backup", "files", "download", "storage", "s3", "old", "legacy", "shop", "blog", "support",
	}
}
