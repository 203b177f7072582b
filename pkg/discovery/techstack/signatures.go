package techstack

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Page is everything captured from one HTTP exchange that signatures
// can match against.
type Page struct {
	URL         string
	StatusCode  int
	Headers     map[string][]string
	Cookies     []string
	Body        string
	Meta        map[string]string // lower-cased meta name -> content
	Scripts     []string          // script src attributes
	FaviconHash *int32
}

// SignatureDB maps a captured page to technology labels.
type SignatureDB interface {
	Match(page *Page) ([]string, error)
}

// Pattern types understood by Signatures.
const (
	PatternHeader  = "header"
	PatternCookie  = "cookie"
	PatternBody    = "body"
	PatternMeta    = "meta"
	PatternScript  = "script"
	PatternFavicon = "favicon"
)

type Pattern struct {
	Type string `yaml:"type"`
	// Key selects the header or meta name. Empty matches any.
	Key   string `yaml:"key,omitempty"`
	Regex string `yaml:"regex"`

	compiled *regexp.Regexp
	hash     int32
}

type Signature struct {
	Name     string    `yaml:"name"`
	Category string    `yaml:"category"`
	Patterns []Pattern `yaml:"patterns"`
	Implies  []string  `yaml:"implies,omitempty"`
}

// Signatures is a compiled, read-only signature set.
type Signatures struct {
	byName map[string]*Signature
	order  []*Signature
}

func NewSignatures(sigs []Signature) (*Signatures, error) {
	db := &Signatures{byName: make(map[string]*Signature, len(sigs))}
	for i := range sigs {
		sig := sigs[i]
		sig.Patterns = append([]Pattern(nil), sig.Patterns...)
		if sig.Name == "" {
			return nil, fmt.Errorf("signature %d has no name", i)
		}
		for j := range sig.Patterns {
			if err := compilePattern(&sig.Patterns[j]); err != nil {
				return nil, fmt.Errorf("signature %s: %w", sig.Name, err)
			}
		}
		db.byName[sig.Name] = &sig
		db.order = append(db.order, &sig)
	}
	return db, nil
}

func compilePattern(p *Pattern) error {
	switch p.Type {
	case PatternFavicon:
		hash, err := strconv.ParseInt(strings.TrimSpace(p.Regex), 10, 32)
		if err != nil {
			return fmt.Errorf("favicon pattern %q is not an mmh3 hash: %w", p.Regex, err)
		}
		p.hash = int32(hash)
		return nil
	case PatternHeader, PatternCookie, PatternBody, PatternMeta, PatternScript:
		re, err := regexp.Compile("(?i)" + p.Regex)
		if err != nil {
			return fmt.Errorf("pattern %q: %w", p.Regex, err)
		}
		p.compiled = re
		return nil
	default:
		return fmt.Errorf("unknown pattern type %q", p.Type)
	}
}

// LoadSignatures reads a YAML list of signatures.
func LoadSignatures(path string) (*Signatures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read signatures: %w", err)
	}
	var sigs []Signature
	if err := yaml.Unmarshal(data, &sigs); err != nil {
		return nil, fmt.Errorf("parse signatures %s: %w", path, err)
	}
	return NewSignatures(sigs)
}

func (s *Signatures) Len() int { return len(s.order) }

// Match returns the sorted names of every signature with at least one
// matching pattern, plus everything those imply.
func (s *Signatures) Match(page *Page) ([]string, error) {
	found := make(map[string]struct{})
	for _, sig := range s.order {
		for i := range sig.Patterns {
			if sig.Patterns[i].matches(page) {
				found[sig.Name] = struct{}{}
				break
			}
		}
	}

	// implied technologies may themselves imply more
	queue := make([]string, 0, len(found))
	for name := range found {
		queue = append(queue, name)
	}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		sig, ok := s.byName[name]
		if !ok {
			continue
		}
		for _, implied := range sig.Implies {
			if _, seen := found[implied]; !seen {
				found[implied] = struct{}{}
				queue = append(queue, implied)
			}
		}
	}

	names := make([]string, 0, len(found))
	for name := range found {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (p *Pattern) matches(page *Page) bool {
	switch p.Type {
	case PatternHeader:
		for name, values := range page.Headers {
			if p.Key != "" && !strings.EqualFold(name, p.Key) {
				continue
			}
			for _, v := range values {
				if p.compiled.MatchString(v) {
					return true
				}
			}
		}
	case PatternCookie:
		for _, c := range page.Cookies {
			if p.compiled.MatchString(c) {
				return true
			}
		}
	case PatternBody:
		return p.compiled.MatchString(page.Body)
	case PatternMeta:
		for name, content := range page.Meta {
			if p.Key != "" && !strings.EqualFold(name, p.Key) {
				continue
			}
			if p.compiled.MatchString(content) {
				return true
			}
		}
	case PatternScript:
		for _, src := range page.Scripts {
			if p.compiled.MatchString(src) {
				return true
			}
		}
	case PatternFavicon:
		return page.FaviconHash != nil && *page.FaviconHash == p.hash
	}
	return false
}

// DefaultSignatures returns a small built-in signature set covering
// common servers, languages, frameworks and front-end libraries.
func DefaultSignatures() *Signatures {
	db, err := NewSignatures(builtinSignatures())
	if err != nil {
		panic(fmt.Sprintf("builtin signatures invalid: %v", err))
	}
	return db
}

func builtinSignatures() []Signature {
	return []Signature{
		// Web servers
		{Name: "Nginx", Category: "Web Server", Patterns: []Pattern{
			{Type: PatternHeader, Key: "Server", Regex: `nginx`},
		}},
		{Name: "Apache", Category: "Web Server", Patterns: []Pattern{
			{Type: PatternHeader, Key: "Server", Regex: `apache(?:$|/| )`},
		}},
		{Name: "Microsoft IIS", Category: "Web Server", Patterns: []Pattern{
			{Type: PatternHeader, Key: "Server", Regex: `Microsoft-IIS`},
		}, Implies: []string{"Windows Server"}},
		{Name: "Windows Server", Category: "Operating System"},
		{Name: "LiteSpeed", Category: "Web Server", Patterns: []Pattern{
			{Type: PatternHeader, Key: "Server", Regex: `LiteSpeed`},
		}},
		{Name: "Caddy", Category: "Web Server", Patterns: []Pattern{
			{Type: PatternHeader, Key: "Server", Regex: `^Caddy`},
		}},
		{Name: "Apache Tomcat", Category: "Web Server", Patterns: []Pattern{
			{Type: PatternHeader, Key: "Server", Regex: `Apache-Coyote`},
			{Type: PatternFavicon, Regex: "-297069493"},
		}, Implies: []string{"Java"}},

		// CDN and edge
		{Name: "Cloudflare", Category: "CDN", Patterns: []Pattern{
			{Type: PatternHeader, Key: "Server", Regex: `^cloudflare$`},
			{Type: PatternHeader, Key: "CF-RAY", Regex: `.+`},
			{Type: PatternCookie, Regex: `^__cf_bm=`},
		}},
		{Name: "Amazon CloudFront", Category: "CDN", Patterns: []Pattern{
			{Type: PatternHeader, Key: "Via", Regex: `CloudFront`},
			{Type: PatternHeader, Key: "X-Amz-Cf-Id", Regex: `.+`},
		}},
		{Name: "Fastly", Category: "CDN", Patterns: []Pattern{
			{Type: PatternHeader, Key: "X-Served-By", Regex: `cache-.*`},
			{Type: PatternHeader, Key: "Fastly-Debug-Digest", Regex: `.+`},
		}},

		// Languages and runtimes
		{Name: "PHP", Category: "Programming Language", Patterns: []Pattern{
			{Type: PatternHeader, Key: "X-Powered-By", Regex: `PHP`},
			{Type: PatternCookie, Regex: `^PHPSESSID=`},
		}},
		{Name: "Java", Category: "Programming Language", Patterns: []Pattern{
			{Type: PatternCookie, Regex: `^JSESSIONID=`},
		}},
		{Name: "ASP.NET", Category: "Web Framework", Patterns: []Pattern{
			{Type: PatternHeader, Key: "X-Powered-By", Regex: `ASP\.NET`},
			{Type: PatternHeader, Key: "X-AspNet-Version", Regex: `.+`},
			{Type: PatternCookie, Regex: `^ASP\.NET_SessionId=`},
		}, Implies: []string{"Microsoft IIS"}},
		{Name: "Express", Category: "Web Framework", Patterns: []Pattern{
			{Type: PatternHeader, Key: "X-Powered-By", Regex: `^Express$`},
		}, Implies: []string{"Node.js"}},
		{Name: "Node.js", Category: "Programming Language"},

		// Frameworks and CMS
		{Name: "Django", Category: "Web Framework", Patterns: []Pattern{
			{Type: PatternCookie, Regex: `^csrftoken=`},
			{Type: PatternBody, Regex: `name=["']csrfmiddlewaretoken["']`},
		}, Implies: []string{"Python"}},
		{Name: "Python", Category: "Programming Language"},
		{Name: "Laravel", Category: "Web Framework", Patterns: []Pattern{
			{Type: PatternCookie, Regex: `^laravel_session=`},
		}, Implies: []string{"PHP"}},
		{Name: "Ruby on Rails", Category: "Web Framework", Patterns: []Pattern{
			{Type: PatternCookie, Regex: `^_[a-z0-9_]+_session=`},
			{Type: PatternMeta, Key: "csrf-param", Regex: `^authenticity_token$`},
		}},
		{Name: "Spring Boot", Category: "Web Framework", Patterns: []Pattern{
			{Type: PatternFavicon, Regex: "116323821"},
			{Type: PatternBody, Regex: `Whitelabel Error Page`},
		}, Implies: []string{"Java"}},
		{Name: "WordPress", Category: "CMS", Patterns: []Pattern{
			{Type: PatternMeta, Key: "generator", Regex: `WordPress`},
			{Type: PatternScript, Regex: `/wp-(?:content|includes)/`},
			{Type: PatternHeader, Key: "Link", Regex: `rel="https://api\.w\.org/"`},
		}, Implies: []string{"PHP", "MySQL"}},
		{Name: "MySQL", Category: "Database"},
		{Name: "Drupal", Category: "CMS", Patterns: []Pattern{
			{Type: PatternMeta, Key: "generator", Regex: `Drupal`},
			{Type: PatternHeader, Key: "X-Generator", Regex: `Drupal`},
		}, Implies: []string{"PHP"}},
		{Name: "Joomla", Category: "CMS", Patterns: []Pattern{
			{Type: PatternMeta, Key: "generator", Regex: `Joomla`},
		}, Implies: []string{"PHP"}},
		{Name: "Jenkins", Category: "CI", Patterns: []Pattern{
			{Type: PatternHeader, Key: "X-Jenkins", Regex: `.+`},
			{Type: PatternFavicon, Regex: "81586312"},
		}, Implies: []string{"Java"}},
		{Name: "Grafana", Category: "Monitoring", Patterns: []Pattern{
			{Type: PatternBody, Regex: `<title>Grafana</title>`},
		}},

		// Front-end
		{Name: "jQuery", Category: "JavaScript Library", Patterns: []Pattern{
			{Type: PatternScript, Regex: `jquery(?:[.-]\d[\d.]*)?(?:\.min)?\.js`},
		}},
		{Name: "React", Category: "JavaScript Framework", Patterns: []Pattern{
			{Type: PatternBody, Regex: `data-reactroot`},
			{Type: PatternScript, Regex: `react(?:-dom)?(?:\.production)?(?:\.min)?\.js`},
		}},
		{Name: "Next.js", Category: "Web Framework", Patterns: []Pattern{
			{Type: PatternHeader, Key: "X-Powered-By", Regex: `^Next\.js`},
			{Type: PatternScript, Regex: `/_next/static/`},
		}, Implies: []string{"React", "Node.js"}},
		{Name: "Vue.js", Category: "JavaScript Framework", Patterns: []Pattern{
			{Type: PatternScript, Regex: `vue(?:\.runtime)?(?:\.min)?\.js`},
			{Type: PatternBody, Regex: `data-v-[0-9a-f]{8}`},
		}},
		{Name: "Angular", Category: "JavaScript Framework", Patterns: []Pattern{
			{Type: PatternBody, Regex: `ng-version=`},
		}},
		{Name: "Bootstrap", Category: "UI Framework", Patterns: []Pattern{
			{Type: PatternScript, Regex: `bootstrap(?:\.bundle)?(?:\.min)?\.js`},
		}},
		{Name: "Google Analytics", Category: "Analytics", Patterns: []Pattern{
			{Type: PatternScript, Regex: `google-analytics\.com/|googletagmanager\.com/gtag/js`},
		}},
	}
}
