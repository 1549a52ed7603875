package browser

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"

	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"

	"github.com/PentesterFlow/PageProbe/internal/dom"
	"github.com/PentesterFlow/PageProbe/internal/driver"
	"github.com/PentesterFlow/PageProbe/internal/request"
)

// =============================================================================
// Target Tests
// =============================================================================

func TestTarget_RequestHeaders(t *testing.T) {
	target := Target{
		URL:      "http://x/",
		Headers:  map[string]string{"X-Test": "1"},
		Username: "admin",
		Password: "secret",
	}
	headers := target.RequestHeaders()
	if headers["X-Test"] != "1" {
		t.Errorf("X-Test = %q", headers["X-Test"])
	}
	if got := headers["Authorization"]; got != "Basic YWRtaW46c2VjcmV0" {
		t.Errorf("Authorization = %q", got)
	}

	if _, ok := (Target{URL: "http://x/"}).RequestHeaders()["Authorization"]; ok {
		t.Error("no credentials means no Authorization header")
	}
}

func TestCookieParams(t *testing.T) {
	params := cookieParams("http://x/app", []*http.Cookie{
		{Name: "a", Value: "1"},
		{Name: "b", Value: "2", Domain: "x", Path: "/", HttpOnly: true},
	})
	if len(params) != 2 {
		t.Fatalf("len = %d", len(params))
	}
	if params[0].URL != "http://x/app" {
		t.Errorf("host-only cookie should be bound to the page URL, got %q", params[0].URL)
	}
	if params[1].URL != "" || !params[1].HTTPOnly || params[1].Domain != "x" {
		t.Errorf("param = %+v", params[1])
	}
}

func TestHTTPCookies(t *testing.T) {
	got := httpCookies([]*proto.NetworkCookie{
		{Name: "sid", Value: "abc", Domain: "x", Path: "/", Secure: true, HTTPOnly: true, Expires: 1700000000},
		{Name: "tmp", Value: "1", Expires: -1},
	})
	if len(got) != 2 {
		t.Fatalf("len = %d", len(got))
	}
	if got[0].Name != "sid" || !got[0].Secure || !got[0].HttpOnly || got[0].Expires.Unix() != 1700000000 {
		t.Errorf("cookie = %+v", got[0])
	}
	if !got[1].Expires.IsZero() {
		t.Error("session cookie should have no expiry")
	}
}

// =============================================================================
// Load Helpers Tests
// =============================================================================

func TestIsHTML(t *testing.T) {
	tests := []struct {
		ct   string
		want bool
	}{
		{"", true},
		{"text/html", true},
		{"text/html; charset=utf-8", true},
		{"application/xhtml+xml", true},
		{"application/json", false},
		{"image/png", false},
		{"text/html;;;", false},
	}
	for _, tt := range tests {
		if got := isHTML(tt.ct); got != tt.want {
			t.Errorf("isHTML(%q) = %v, want %v", tt.ct, got, tt.want)
		}
	}
}

func TestResolveLocation(t *testing.T) {
	base, _ := url.Parse("http://x/a/b?q=1")
	tests := []struct {
		loc  string
		want string
	}{
		{"/login", "http://x/login"},
		{"c", "http://x/a/c"},
		{"https://y/", "https://y/"},
	}
	for _, tt := range tests {
		if got := resolveLocation(base, tt.loc); got != tt.want {
			t.Errorf("resolveLocation(%q) = %q, want %q", tt.loc, got, tt.want)
		}
	}
}

// =============================================================================
// Probe Message Tests
// =============================================================================

func newTestPage() *Page {
	return newPage(nil, Target{URL: "http://x/app"}, DefaultConfig(), nil)
}

func mustReceive(t *testing.T, p *Page, raw string) {
	t.Helper()
	if _, err := p.receive(gson.NewFrom(raw)); err != nil {
		t.Fatalf("receive(%s) error = %v", raw, err)
	}
}

func TestReceive_Network(t *testing.T) {
	p := newTestPage()
	mustReceive(t, p, `{"t":"request","type":"xhr","method":"post","url":"/api","data":"a=1"}`)
	mustReceive(t, p, `{"t":"sent","ref":1}`)
	mustReceive(t, p, `{"t":"done","ref":1}`)
	mustReceive(t, p, `{"t":"navigate","url":"http://x/next"}`)

	items := p.Notifications().Drain()
	if len(items) != 4 {
		t.Fatalf("notifications = %d, want 4", len(items))
	}
	found := items[0]
	if found.Kind != driver.Found || found.Request.Type != request.TypeXHR ||
		found.Request.Method != "POST" || found.Request.URL != "http://x/api" || found.Request.Data != "a=1" {
		t.Errorf("found = %+v", found.Request)
	}
	if items[1].Kind != driver.RequestSent || items[2].Kind != driver.RequestCompleted || items[1].Ref != items[2].Ref {
		t.Errorf("sent/done = %+v %+v", items[1], items[2])
	}
	if items[3].Kind != driver.Navigation || items[3].URL != "http://x/next" {
		t.Errorf("navigation = %+v", items[3])
	}
	if p.received.Load() != 4 {
		t.Errorf("received = %d, want 4", p.received.Load())
	}
}

func TestReceive_InvalidRequestDropped(t *testing.T) {
	p := newTestPage()
	mustReceive(t, p, `{"t":"request","type":"xhr","method":"GET","url":"data:text/plain,hi"}`)
	if p.Notifications().Len() != 0 {
		t.Error("a request with a disallowed scheme must be dropped")
	}
	if p.received.Load() != 1 {
		t.Error("dropped messages still count as received")
	}
}

func TestReceive_Mutations(t *testing.T) {
	p := newTestPage()
	mustReceive(t, p, `{"t":"mutations","records":[
		{"k":"added","e":[4,"div","div#list"]},
		{"k":"added","e":null},
		{"k":"attr","e":[4,"div","div#list.open"],"a":"class"},
		{"k":"attr","e":null,"a":"x"}
	]}`)

	items := p.Notifications().Drain()
	if len(items) != 1 || items[0].Kind != driver.Mutation {
		t.Fatalf("notifications = %+v", items)
	}
	batch := items[0].Mutations
	if len(batch) != 3 {
		t.Fatalf("batch = %d, want 3", len(batch))
	}
	if batch[0].Element == nil || batch[0].Element.TagName() != "div" {
		t.Errorf("added = %+v", batch[0])
	}
	if batch[1].Element != nil {
		t.Error("text node should carry a nil element")
	}
	if batch[2].Kind != dom.AttributeChanged || batch[2].Attribute != "class" {
		t.Errorf("attr = %+v", batch[2])
	}
	if batch[0].Element != batch[2].Element {
		t.Error("the same id must map to the same element")
	}
	if got := batch[0].Element.Describe(); got != "div#list.open" {
		t.Errorf("Describe() = %q, want the latest label", got)
	}
}

func TestReceive_Unknown(t *testing.T) {
	p := newTestPage()
	mustReceive(t, p, `{"t":"bogus"}`)
	if p.Notifications().Len() != 0 {
		t.Error("unknown messages are ignored")
	}
}

// =============================================================================
// Pool Tests
// =============================================================================

func fakeLauncher(launched *int) Launcher {
	return func(cfg Config) (*Browser, error) {
		*launched++
		return &Browser{config: cfg}, nil
	}
}

func TestPool_AcquireRelease(t *testing.T) {
	launched := 0
	pool, err := newPool(Config{PoolSize: 2}, fakeLauncher(&launched))
	if err != nil {
		t.Fatalf("newPool() error = %v", err)
	}
	defer pool.Close()

	if launched != 2 || pool.Size() != 2 {
		t.Fatalf("launched = %d, size = %d", launched, pool.Size())
	}

	ctx := context.Background()
	a, _ := pool.Acquire(ctx)
	b, _ := pool.Acquire(ctx)
	if a == b {
		t.Error("pool should rotate browsers")
	}
	if s := pool.Stats(); s.InUse != 2 || s.Available != 0 {
		t.Errorf("stats = %+v", s)
	}

	timeout, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := pool.Acquire(timeout); !errors.Is(err, context.Canceled) {
		t.Errorf("Acquire on an exhausted pool with a done context = %v", err)
	}

	pool.Release(a)
	if s := pool.Stats(); s.Available != 1 {
		t.Errorf("Available = %d after Release", s.Available)
	}
}

func TestPool_Recycle(t *testing.T) {
	launched := 0
	pool, err := newPool(Config{PoolSize: 1, RecycleAfter: 1}, fakeLauncher(&launched))
	if err != nil {
		t.Fatalf("newPool() error = %v", err)
	}
	defer pool.Close()

	b, _ := pool.Acquire(context.Background())
	b.pageCount = 1
	pool.Release(b)

	fresh, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if fresh == b || launched != 2 {
		t.Errorf("browser should be recycled, launched = %d", launched)
	}
}

func TestPool_LaunchFailure(t *testing.T) {
	_, err := newPool(Config{PoolSize: 1}, func(Config) (*Browser, error) {
		return nil, errors.New("no chrome")
	})
	if err == nil {
		t.Error("newPool() should fail when a browser cannot launch")
	}
}

func TestPool_Closed(t *testing.T) {
	launched := 0
	pool, _ := newPool(Config{PoolSize: 1}, fakeLauncher(&launched))
	if err := pool.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := pool.Acquire(context.Background()); err == nil {
		t.Error("Acquire on a closed pool should fail")
	}
	if err := pool.Close(); err != nil {
		t.Error("Close is idempotent")
	}
}
