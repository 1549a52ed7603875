package scope

import (
	"testing"
)

// =============================================================================
// Checker Tests
// =============================================================================

func TestNewChecker(t *testing.T) {
	tests := []struct {
		name      string
		targetURL string
		rules     Rules
		wantErr   bool
	}{
		{"valid URL", "https://example.com", Rules{MaxDepth: 10}, false},
		{"URL with path", "https://example.com/app", Rules{Mode: ModeDirectory}, false},
		{"invalid URL", "://invalid", Rules{}, true},
		{"no host", "/relative", Rules{}, true},
		{"unknown mode", "https://example.com", Rules{Mode: "site"}, true},
		{"invalid include", "https://example.com", Rules{IncludePatterns: []string{"[invalid"}}, true},
		{"invalid exclude", "https://example.com", Rules{ExcludePatterns: []string{"[invalid"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewChecker(tt.targetURL, tt.rules)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewChecker() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && c == nil {
				t.Error("NewChecker() returned nil checker")
			}
		})
	}
}

func TestNewChecker_DefaultMode(t *testing.T) {
	c, err := NewChecker("https://example.com", Rules{})
	if err != nil {
		t.Fatalf("NewChecker() error = %v", err)
	}
	if c.Rules().Mode != ModeDomain {
		t.Errorf("Mode = %q, want domain", c.Rules().Mode)
	}
}

func TestChecker_IsInScope(t *testing.T) {
	tests := []struct {
		name   string
		target string
		rules  Rules
		url    string
		depth  int
		want   bool
	}{
		{"same host", "https://example.com/app/", Rules{}, "https://example.com/other", 1, true},
		{"other host", "https://example.com/", Rules{}, "https://evil.com/", 1, false},
		{"subdomain not allowed", "https://example.com/", Rules{}, "https://api.example.com/", 1, false},
		{"allowed domain", "https://example.com/", Rules{AllowedDomains: []string{"cdn.example.net"}}, "https://cdn.example.net/x", 1, true},
		{"wildcard domain", "https://example.com/", Rules{AllowedDomains: []string{"*.example.com"}}, "https://api.example.com/v1", 1, true},
		{"wildcard with port", "https://example.com/", Rules{AllowedDomains: []string{"*.example.com"}}, "https://api.example.com:8443/", 1, true},
		{"same site", "https://www.example.co.uk/", Rules{SameSite: true}, "https://shop.example.co.uk/", 1, true},
		{"same site other registrable", "https://www.example.co.uk/", Rules{SameSite: true}, "https://other.co.uk/", 1, false},
		{"non http scheme", "https://example.com/", Rules{}, "ftp://example.com/", 1, false},
		{"javascript", "https://example.com/", Rules{}, "javascript:void(0)", 1, false},
		{"depth exceeded", "https://example.com/", Rules{MaxDepth: 2}, "https://example.com/a", 3, false},
		{"depth at limit", "https://example.com/", Rules{MaxDepth: 2}, "https://example.com/a", 2, true},
		{"unlimited depth", "https://example.com/", Rules{}, "https://example.com/a", 100, true},
		{"directory inside", "https://example.com/app/index.php", Rules{Mode: ModeDirectory}, "https://example.com/app/users", 1, true},
		{"directory outside", "https://example.com/app/index.php", Rules{Mode: ModeDirectory}, "https://example.com/admin", 1, false},
		{"directory trailing slash", "https://example.com/app/", Rules{Mode: ModeDirectory}, "https://example.com/app/x/y", 1, true},
		{"directory other host", "https://example.com/app/", Rules{Mode: ModeDirectory}, "https://other.com/app/", 1, false},
		{"url same", "https://example.com/page?id=1", Rules{Mode: ModeURL}, "https://example.com/page?id=1", 0, true},
		{"url other query", "https://example.com/page?id=1", Rules{Mode: ModeURL}, "https://example.com/page?id=2", 0, false},
		{"url root", "https://example.com", Rules{Mode: ModeURL}, "https://example.com/", 0, true},
		{"excluded", "https://example.com/", Rules{ExcludePatterns: DefaultExcludePatterns}, "https://example.com/logout", 1, false},
		{"excluded pdf", "https://example.com/", Rules{ExcludePatterns: DefaultExcludePatterns}, "https://example.com/doc.pdf", 1, false},
		{"included", "https://example.com/", Rules{IncludePatterns: []string{`/api/`}}, "https://example.com/api/users", 1, true},
		{"not included", "https://example.com/", Rules{IncludePatterns: []string{`/api/`}}, "https://example.com/home", 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewChecker(tt.target, tt.rules)
			if err != nil {
				t.Fatalf("NewChecker() error = %v", err)
			}
			if got := c.IsInScope(tt.url, tt.depth); got != tt.want {
				t.Errorf("IsInScope(%q, %d) = %v, want %v", tt.url, tt.depth, got, tt.want)
			}
		})
	}
}

func TestChecker_AddAllowedDomain(t *testing.T) {
	c, _ := NewChecker("https://example.com", Rules{})
	if c.IsInScope("https://a.test.com/", 0) {
		t.Fatal("domain should start out of scope")
	}
	c.AddAllowedDomain("*.test.com")
	if !c.IsInScope("https://a.test.com/", 0) {
		t.Error("wildcard domain should be in scope after AddAllowedDomain")
	}
}

func TestChecker_AddExcludePattern(t *testing.T) {
	c, _ := NewChecker("https://example.com", Rules{})
	if err := c.AddExcludePattern(`/admin`); err != nil {
		t.Fatalf("AddExcludePattern() error = %v", err)
	}
	if c.IsInScope("https://example.com/admin/users", 0) {
		t.Error("excluded URL should be out of scope")
	}
	if err := c.AddExcludePattern("[invalid"); err == nil {
		t.Error("invalid pattern should fail")
	}
	if got := c.Rules().ExcludePatterns; len(got) != 1 {
		t.Errorf("ExcludePatterns = %v", got)
	}
}

func TestDirectoryOf(t *testing.T) {
	tests := map[string]string{
		"":           "/",
		"/":          "/",
		"/index.php": "/",
		"/app/":      "/app/",
		"/app/x.php": "/app/",
		"/a/b/c":     "/a/b/",
	}
	for in, want := range tests {
		if got := directoryOf(in); got != want {
			t.Errorf("directoryOf(%q) = %q, want %q", in, got, want)
		}
	}
}

// =============================================================================
// Rules Tests
// =============================================================================

func TestRuleBuilder(t *testing.T) {
	rules := NewRuleBuilder().
		WithMode(ModeDirectory).
		WithIncludePatterns(`/app/`).
		WithExcludePatterns(`/app/logout`).
		WithAllowedDomains("*.example.com").
		WithSameSite(true).
		WithMaxDepth(3).
		Build()

	if rules.Mode != ModeDirectory || rules.MaxDepth != 3 || !rules.SameSite {
		t.Errorf("rules = %+v", rules)
	}
	if len(rules.IncludePatterns) != 1 || len(rules.ExcludePatterns) != 1 || len(rules.AllowedDomains) != 1 {
		t.Errorf("rules = %+v", rules)
	}
}

func TestRuleBuilder_WithDefaultExcludes(t *testing.T) {
	rules := NewRuleBuilder().WithDefaultExcludes().Build()
	if len(rules.ExcludePatterns) != len(DefaultExcludePatterns) {
		t.Errorf("ExcludePatterns = %d, want %d", len(rules.ExcludePatterns), len(DefaultExcludePatterns))
	}
	if rules.Mode != ModeDomain || rules.MaxDepth != 10 {
		t.Errorf("defaults = %+v", rules)
	}
}

func TestMode_Valid(t *testing.T) {
	for _, m := range []Mode{ModeDomain, ModeDirectory, ModeURL} {
		if !m.Valid() {
			t.Errorf("%q should be valid", m)
		}
	}
	if Mode("page").Valid() {
		t.Error("unknown mode should be invalid")
	}
}

func TestIsCrawlable(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://example.com/", true},
		{"http://example.com/page.php?id=1", true},
		{"https://example.com/logo.PNG", false},
		{"https://example.com/app.js", false},
		{"mailto:a@example.com", false},
		{"https:///nohost", false},
		{"://bad", false},
	}
	for _, tt := range tests {
		if got := IsCrawlable(tt.url); got != tt.want {
			t.Errorf("IsCrawlable(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}
