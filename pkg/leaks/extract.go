package leaks

import (
	"regexp"
	"sort"
	"strings"
	"time"
)

// Leak categories assigned by ClassifyLine.
const (
	TypeCredentials = "credentials"
	TypeAPIKey      = "api_key"
	TypeEmail       = "email"
	TypeUnknown     = "unknown"
)

var (
	credentialLine = regexp.MustCompile(`(?i)(password|pwd)[=: ]`)
	apiKeyLine     = regexp.MustCompile(`(?i)(key|token|secret)[=: ]`)
	emailPattern   = regexp.MustCompile(`[a-zA-Z0-9_.+-]+@[a-zA-Z0-9-]+\.[a-zA-Z0-9-.]+`)
	ipPattern      = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	urlPattern     = regexp.MustCompile(`https?://(?:www\.)?[a-zA-Z0-9./?=#_-]+`)
	credPattern    = regexp.MustCompile(`(?i)(?:username|password|pass|login)['":\s]+([a-zA-Z0-9@#$_!%^&*\-+=]+)`)
)

// Leak is a raw line mentioning the target, before any labelling.
type Leak struct {
	Content   string    `json:"content"`
	Type      string    `json:"type"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// ClassifyLine assigns a coarse category to a leaked line. Credentials
// win over API keys, which win over e-mail addresses.
func ClassifyLine(line string) string {
	switch {
	case credentialLine.MatchString(line):
		return TypeCredentials
	case apiKeyLine.MatchString(line):
		return TypeAPIKey
	case emailPattern.MatchString(line):
		return TypeEmail
	}
	return TypeUnknown
}

// ExtractLines returns every line of text that mentions domain.
func ExtractLines(text, domain, source string, now time.Time) []Leak {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return nil
	}
	var out []Leak
	for _, line := range strings.Split(text, "\n") {
		if !strings.Contains(strings.ToLower(line), domain) {
			continue
		}
		out = append(out, Leak{
			Content:   strings.TrimSpace(line),
			Type:      ClassifyLine(line),
			Source:    source,
			Timestamp: now,
		})
	}
	return out
}

type Entities struct {
	Emails      []string `json:"emails"`
	IPs         []string `json:"ips"`
	URLs        []string `json:"urls"`
	Credentials []string `json:"credentials"`
}

// ExtractEntities pulls e-mail addresses, IPv4 addresses, URLs and
// credential values out of text. Each list is sorted and de-duplicated.
func ExtractEntities(text string) Entities {
	var creds []string
	for _, m := range credPattern.FindAllStringSubmatch(text, -1) {
		creds = append(creds, m[1])
	}
	return Entities{
		Emails:      uniqueSorted(emailPattern.FindAllString(text, -1)),
		IPs:         uniqueSorted(ipPattern.FindAllString(text, -1)),
		URLs:        uniqueSorted(urlPattern.FindAllString(text, -1)),
		Credentials: uniqueSorted(creds),
	}
}

func uniqueSorted(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
