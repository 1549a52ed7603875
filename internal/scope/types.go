package scope

// Mode selects which URLs a crawl may follow.
type Mode string

const (
	// ModeDomain follows URLs on the target host and the allowed domains.
	ModeDomain Mode = "domain"
	// ModeDirectory follows URLs below the target's directory.
	ModeDirectory Mode = "directory"
	// ModeURL probes the target page only.
	ModeURL Mode = "url"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeDomain, ModeDirectory, ModeURL:
		return true
	}
	return false
}

// Rules defines crawling scope rules.
type Rules struct {
	Mode            Mode     `json:"mode" yaml:"mode"`
	IncludePatterns []string `json:"include_patterns,omitempty" yaml:"include_patterns,omitempty"`
	ExcludePatterns []string `json:"exclude_patterns,omitempty" yaml:"exclude_patterns,omitempty"`
	// AllowedDomains extends ModeDomain; "*.example.com" also allows
	// subdomains.
	AllowedDomains []string `json:"allowed_domains,omitempty" yaml:"allowed_domains,omitempty"`
	// SameSite allows every host sharing the target's registrable domain.
	SameSite bool `json:"same_site" yaml:"same_site"`
	MaxDepth int  `json:"max_depth" yaml:"max_depth"`
}
