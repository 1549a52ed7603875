package scope

import (
	"net/url"
	"strings"
)

// DefaultExcludePatterns keeps the crawl away from session-ending and
// binary URLs.
var DefaultExcludePatterns = []string{
	`.*[?&]logout.*`,
	`.*[?&]signout.*`,
	`.*\/logout.*`,
	`.*\/signout.*`,
	`.*\/delete-account.*`,
	`.*\/unsubscribe.*`,
	`.*\.pdf$`,
	`.*\.zip$`,
	`.*\.exe$`,
	`.*\.dmg$`,
}

var skipExtensions = []string{
	".jpg", ".jpeg", ".png", ".gif", ".ico", ".svg", ".webp",
	".css", ".js", ".woff", ".woff2", ".ttf", ".eot",
	".pdf", ".zip", ".tar", ".gz", ".rar",
	".mp3", ".mp4", ".wav", ".avi", ".mov",
	".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx",
}

// RuleBuilder helps build scope rules.
type RuleBuilder struct {
	rules Rules
}

// NewRuleBuilder creates a builder for domain scope with depth 10.
func NewRuleBuilder() *RuleBuilder {
	return &RuleBuilder{
		rules: Rules{
			Mode:     ModeDomain,
			MaxDepth: 10,
		},
	}
}

// WithMode sets the scope mode.
func (b *RuleBuilder) WithMode(m Mode) *RuleBuilder {
	b.rules.Mode = m
	return b
}

// WithIncludePatterns adds include patterns.
func (b *RuleBuilder) WithIncludePatterns(patterns ...string) *RuleBuilder {
	b.rules.IncludePatterns = append(b.rules.IncludePatterns, patterns...)
	return b
}

// WithExcludePatterns adds exclude patterns.
func (b *RuleBuilder) WithExcludePatterns(patterns ...string) *RuleBuilder {
	b.rules.ExcludePatterns = append(b.rules.ExcludePatterns, patterns...)
	return b
}

// WithDefaultExcludes adds default exclude patterns.
func (b *RuleBuilder) WithDefaultExcludes() *RuleBuilder {
	b.rules.ExcludePatterns = append(b.rules.ExcludePatterns, DefaultExcludePatterns...)
	return b
}

// WithAllowedDomains sets allowed domains.
func (b *RuleBuilder) WithAllowedDomains(domains ...string) *RuleBuilder {
	b.rules.AllowedDomains = append(b.rules.AllowedDomains, domains...)
	return b
}

// WithSameSite allows every host of the target's registrable domain.
func (b *RuleBuilder) WithSameSite(on bool) *RuleBuilder {
	b.rules.SameSite = on
	return b
}

// WithMaxDepth sets the maximum crawl depth.
func (b *RuleBuilder) WithMaxDepth(depth int) *RuleBuilder {
	b.rules.MaxDepth = depth
	return b
}

// Build returns the configured rules.
func (b *RuleBuilder) Build() Rules {
	return b.rules
}

// IsCrawlable reports whether an absolute URL is an http(s) page worth
// loading in a browser.
func IsCrawlable(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}

	if parsed.Host == "" {
		return false
	}

	path := strings.ToLower(parsed.Path)
	for _, ext := range skipExtensions {
		if strings.HasSuffix(path, ext) {
			return false
		}
	}

	return true
}
