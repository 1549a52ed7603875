// Package scope decides which discovered requests a crawl follows.
package scope

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/net/publicsuffix"
)

// Checker validates URLs against scope rules.
type Checker struct {
	mu             sync.RWMutex
	rules          Rules
	target         *url.URL
	targetSite     string
	baseDir        string
	includeRegexps []*regexp.Regexp
	excludeRegexps []*regexp.Regexp
	allowedDomains map[string]struct{}
	wildcards      []string
}

// NewChecker creates a new scope checker.
func NewChecker(targetURL string, rules Rules) (*Checker, error) {
	parsed, err := url.Parse(targetURL)
	if err != nil {
		return nil, err
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("target %q has no host", targetURL)
	}
	if rules.Mode == "" {
		rules.Mode = ModeDomain
	}
	if !rules.Mode.Valid() {
		return nil, fmt.Errorf("unknown scope mode %q", rules.Mode)
	}

	c := &Checker{
		rules:          rules,
		target:         parsed,
		baseDir:        directoryOf(parsed.Path),
		allowedDomains: make(map[string]struct{}),
	}

	host := strings.ToLower(parsed.Hostname())
	c.targetSite, err = publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		c.targetSite = host
	}

	for _, pattern := range rules.IncludePatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, err
		}
		c.includeRegexps = append(c.includeRegexps, re)
	}

	for _, pattern := range rules.ExcludePatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, err
		}
		c.excludeRegexps = append(c.excludeRegexps, re)
	}

	c.allowedDomains[strings.ToLower(parsed.Host)] = struct{}{}
	for _, domain := range rules.AllowedDomains {
		c.addDomain(domain)
	}

	return c, nil
}

func (c *Checker) addDomain(domain string) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if strings.HasPrefix(domain, "*.") {
		c.wildcards = append(c.wildcards, domain[1:])
		return
	}
	c.allowedDomains[domain] = struct{}{}
}

// directoryOf returns the directory part of an URL path, with a trailing slash.
func directoryOf(p string) string {
	if p == "" {
		return "/"
	}
	if strings.HasSuffix(p, "/") {
		return p
	}
	dir := path.Dir(p)
	if dir == "/" || dir == "." {
		return "/"
	}
	return dir + "/"
}

// IsInScope checks if a URL is within the crawling scope at depth.
func (c *Checker) IsInScope(urlStr string, depth int) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.rules.MaxDepth > 0 && depth > c.rules.MaxDepth {
		return false
	}

	parsed, err := url.Parse(urlStr)
	if err != nil {
		return false
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}

	switch c.rules.Mode {
	case ModeURL:
		if !sameResource(parsed, c.target) {
			return false
		}
	case ModeDirectory:
		if !strings.EqualFold(parsed.Host, c.target.Host) || !strings.HasPrefix(parsed.Path, c.baseDir) {
			return false
		}
	default:
		if !c.isDomainAllowed(parsed.Host) {
			return false
		}
	}

	for _, re := range c.excludeRegexps {
		if re.MatchString(urlStr) {
			return false
		}
	}

	if len(c.includeRegexps) > 0 {
		for _, re := range c.includeRegexps {
			if re.MatchString(urlStr) {
				return true
			}
		}
		return false
	}

	return true
}

func sameResource(a, b *url.URL) bool {
	pa, pb := a.Path, b.Path
	if pa == "" {
		pa = "/"
	}
	if pb == "" {
		pb = "/"
	}
	return strings.EqualFold(a.Host, b.Host) && pa == pb && a.RawQuery == b.RawQuery
}

// isDomainAllowed checks if a host is allowed.
func (c *Checker) isDomainAllowed(host string) bool {
	host = strings.ToLower(host)

	if _, ok := c.allowedDomains[host]; ok {
		return true
	}

	hostname := host
	if h, _, found := strings.Cut(host, ":"); found {
		hostname = h
	}
	for _, suffix := range c.wildcards {
		if strings.HasSuffix(hostname, suffix) {
			return true
		}
	}

	if c.rules.SameSite {
		site, err := publicsuffix.EffectiveTLDPlusOne(hostname)
		if err == nil && site == c.targetSite {
			return true
		}
	}

	return false
}

// AddAllowedDomain adds a domain to the allowed list.
func (c *Checker) AddAllowedDomain(domain string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addDomain(domain)
}

// AddExcludePattern adds an exclude pattern.
func (c *Checker) AddExcludePattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.excludeRegexps = append(c.excludeRegexps, re)
	c.rules.ExcludePatterns = append(c.rules.ExcludePatterns, pattern)
	return nil
}

// Rules returns a copy of the active rules.
func (c *Checker) Rules() Rules {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r := c.rules
	r.ExcludePatterns = append([]string(nil), c.rules.ExcludePatterns...)
	return r
}
