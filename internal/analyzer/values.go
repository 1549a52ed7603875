package analyzer

import (
	"fmt"
	"math/rand"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Category selects how a synthetic input value is generated.
type Category string

const (
	CategoryString   Category = "string"
	CategoryNumber   Category = "number"
	CategoryEmail    Category = "email"
	CategoryPassword Category = "password"
	CategoryPhone    Category = "phone"
	CategoryURL      Category = "url"
	CategoryName     Category = "name"
	CategoryUsername Category = "username"
	CategoryAddress  Category = "address"
	CategoryCity     Category = "city"
	CategoryZip      Category = "zip"
	CategoryCountry  Category = "country"
	CategoryDate     Category = "date"
	CategoryTime     Category = "time"
	CategoryDateTime Category = "datetime"
	CategoryMonth    Category = "month"
	CategoryWeek     Category = "week"
	CategoryColor    Category = "color"
	CategoryText     Category = "text"
)

// ValueRule maps input names matching Pattern to a Category.
type ValueRule struct {
	Pattern  string   `json:"pattern" yaml:"pattern"`
	Category Category `json:"category" yaml:"category"`
}

// DefaultValueRules returns the built-in name rules, most specific first.
func DefaultValueRules() []ValueRule {
	return []ValueRule{
		{Pattern: `(?i)e-?mail`, Category: CategoryEmail},
		{Pattern: `(?i)pass(word|wd)?|pwd`, Category: CategoryPassword},
		{Pattern: `(?i)phone|mobile|^tel`, Category: CategoryPhone},
		{Pattern: `(?i)url|website|homepage|link`, Category: CategoryURL},
		{Pattern: `(?i)user(name)?|login|nick`, Category: CategoryUsername},
		{Pattern: `(?i)zip|postal|postcode`, Category: CategoryZip},
		{Pattern: `(?i)city|town`, Category: CategoryCity},
		{Pattern: `(?i)country`, Category: CategoryCountry},
		{Pattern: `(?i)addr|street`, Category: CategoryAddress},
		{Pattern: `(?i)birth|date|dob`, Category: CategoryDate},
		{Pattern: `(?i)name`, Category: CategoryName},
		{Pattern: `(?i)^(age|qty|quantity|amount|count|num|number|year)$`, Category: CategoryNumber},
	}
}

type compiledRule struct {
	re       *regexp.Regexp
	category Category
}

func compileRules(rules []ValueRule) ([]compiledRule, error) {
	out := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid value rule %q: %w", r.Pattern, err)
		}
		out = append(out, compiledRule{re: re, category: r.Category})
	}
	return out, nil
}

// typeCategories infers a category from the input type when no name
// rule matches.
var typeCategories = map[string]Category{
	"email":          CategoryEmail,
	"password":       CategoryPassword,
	"tel":            CategoryPhone,
	"url":            CategoryURL,
	"number":         CategoryNumber,
	"range":          CategoryNumber,
	"date":           CategoryDate,
	"time":           CategoryTime,
	"datetime-local": CategoryDateTime,
	"month":          CategoryMonth,
	"week":           CategoryWeek,
	"color":          CategoryColor,
}

// Generator produces values for categories.
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewGenerator returns a generator seeded with seed; zero means time based.
func NewGenerator(seed int64) *Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Generator{rng: rand.New(rand.NewSource(seed))}
}

const letters = "abcdefghijklmnopqrstuvwxyz"

func (g *Generator) word(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = letters[g.rng.Intn(len(letters))]
	}
	return string(b)
}

// Value returns a synthetic value for c.
func (g *Generator) Value(c Category) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch c {
	case CategoryNumber:
		return fmt.Sprintf("%d", 1+g.rng.Intn(9999))
	case CategoryEmail:
		return g.word(6) + "@example.com"
	case CategoryPassword:
		return "Pp" + g.word(6) + "1!"
	case CategoryPhone:
		return fmt.Sprintf("+1555%07d", g.rng.Intn(10000000))
	case CategoryURL:
		return "https://example.com/" + g.word(5)
	case CategoryName:
		return "John Doe"
	case CategoryUsername:
		return "user" + g.word(4)
	case CategoryAddress:
		return "123 Test Street"
	case CategoryCity:
		return "Test City"
	case CategoryZip:
		return "12345"
	case CategoryCountry:
		return "US"
	case CategoryDate:
		return "2024-01-15"
	case CategoryTime:
		return "12:00"
	case CategoryDateTime:
		return "2024-01-15T12:00"
	case CategoryMonth:
		return "2024-01"
	case CategoryWeek:
		return "2024-W03"
	case CategoryColor:
		return "#336699"
	case CategoryText:
		return "This is a test message " + g.word(6)
	default:
		return g.word(8)
	}
}

// categoryFor picks the category for an input: first matching name rule,
// then the input type, then the generic string.
func categoryFor(rules []compiledRule, name, inputType string) Category {
	if name != "" {
		for _, r := range rules {
			if r.re.MatchString(name) {
				return r.category
			}
		}
	}
	if c, ok := typeCategories[strings.ToLower(inputType)]; ok {
		return c
	}
	return CategoryString
}
