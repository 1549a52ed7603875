package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/PentesterFlow/PageProbe/internal/auth"
	"github.com/PentesterFlow/PageProbe/internal/logger"
	"github.com/PentesterFlow/PageProbe/internal/scope"
	"github.com/PentesterFlow/PageProbe/internal/shutdown"
	"github.com/PentesterFlow/PageProbe/pkg/crawler"
)

var (
	version = "1.0.0"

	// Global flags
	configFile string
	verbose    bool
	debug      bool
	logFile    string

	// Probe flags
	timeout        int
	bufferCycles   int
	afterXHR       time.Duration
	afterEvent     time.Duration
	beforeClosing  time.Duration
	noFill         bool
	noTrigger      bool
	seed           int64
	method         string
	postData       string
	outputFile     string
	outputFormat   string
	prettyOutput   bool
	headers        []string
	cookies        string
	username       string
	password       string
	token          string
	userAgent      string
	showBrowser    bool
	noWebSocket    bool
	retries        int
	presetThorough bool
	presetQuick    bool
	fallbackStatic bool

	// Crawl flags
	workers         int
	maxDepth        int
	maxPages        int
	rateLimit       float64
	browserPool     int
	stateFile       string
	scopeMode       string
	includePatterns []string
	excludePatterns []string
	allowedDomains  []string
	showProgress    bool
	setReferer      bool

	// Analyze flags
	baseURL string
)

// errProbeFailed marks a run whose records were written but whose target
// page could not be explored.
var errProbeFailed = errors.New("probe failed")

func main() {
	rootCmd := &cobra.Command{
		Use:   "pageprobe",
		Short: "PageProbe - single page interaction crawler",
		Long: `PageProbe loads a page in a headless browser, fills its inputs and fires
its event handlers, and reports every request the page tries to make:
links, forms, XHR and fetch calls, JSONP scripts, websockets and redirects.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	probeCmd := &cobra.Command{
		Use:   "probe [target]",
		Short: "Explore a single page",
		Long:  "Load the target page, trigger its events and report the requests it makes.",
		Args:  cobra.ExactArgs(1),
		RunE:  runProbe,
	}

	crawlCmd := &cobra.Command{
		Use:   "crawl [target]",
		Short: "Probe a target and every in-scope page it leads to",
		Long:  "Probe the target, then follow the navigable requests it reports, up to the configured depth.",
		Args:  cobra.ExactArgs(1),
		RunE:  runCrawl,
	}

	analyzeCmd := &cobra.Command{
		Use:   "analyze [file|url]",
		Short: "Analyze a static HTML document",
		Long: `Run the analyzer over a saved HTML file or a document fetched over plain
HTTP. Scripts are not executed, so only requests visible in the markup are
reported.`,
		Args: cobra.ExactArgs(1),
		RunE: runAnalyze,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file (YAML or JSON)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Debug mode")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Also write JSON logs to this rotating file")

	for _, cmd := range []*cobra.Command{probeCmd, crawlCmd, analyzeCmd} {
		addProbeFlags(cmd)
	}

	// Crawl flags
	crawlCmd.Flags().IntVarP(&workers, "workers", "w", 4, "Number of concurrent probes")
	crawlCmd.Flags().IntVarP(&maxDepth, "max-depth", "d", 3, "Maximum crawl depth")
	crawlCmd.Flags().IntVar(&maxPages, "max-pages", 0, "Maximum number of pages to probe (0 = unlimited)")
	crawlCmd.Flags().Float64VarP(&rateLimit, "rate-limit", "r", 5, "Page loads per second")
	crawlCmd.Flags().IntVar(&browserPool, "browser-pool", 2, "Browser pool size")
	crawlCmd.Flags().StringVar(&stateFile, "state-file", "", "Persist found requests and probe results to this file")
	crawlCmd.Flags().StringVar(&scopeMode, "scope", "domain", "Scope mode (domain, directory, url)")
	crawlCmd.Flags().StringArrayVar(&includePatterns, "include", nil, "URL patterns to include (regex)")
	crawlCmd.Flags().StringArrayVar(&excludePatterns, "exclude", nil, "URL patterns to exclude (regex)")
	crawlCmd.Flags().StringArrayVar(&allowedDomains, "allow-domain", nil, "Additional domains to follow")
	crawlCmd.Flags().BoolVar(&showProgress, "progress", false, "Show progress on stderr")
	crawlCmd.Flags().BoolVar(&setReferer, "referer", false, "Send the parent page as Referer")

	// Analyze flags
	analyzeCmd.Flags().StringVar(&baseURL, "base", "", "Base URL of a local file")

	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(crawlCmd)
	rootCmd.AddCommand(analyzeCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		if !errors.Is(err, errProbeFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func addProbeFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.IntVarP(&timeout, "timeout", "t", 180, "Page probe timeout in seconds")
	f.IntVar(&bufferCycles, "buffer-cycles", 2, "Idle ticks before the scheduler decides")
	f.DurationVar(&afterXHR, "after-xhr", 50*time.Millisecond, "Wait after the last request completed")
	f.DurationVar(&afterEvent, "after-event", 10*time.Millisecond, "Wait after an event was triggered")
	f.DurationVar(&beforeClosing, "before-closing", 150*time.Millisecond, "Grace period before the page is closed")
	f.BoolVar(&noFill, "no-fill", false, "Do not fill input values")
	f.BoolVar(&noTrigger, "no-trigger", false, "Do not trigger events")
	f.Int64Var(&seed, "seed", 0, "Seed for generated input values (0 = random)")
	f.StringVarP(&method, "method", "X", "GET", "Method of the initial request")
	f.StringVar(&postData, "data", "", "Body of the initial request")
	f.StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")
	f.StringVarP(&outputFormat, "format", "f", "jsonl", "Output format (jsonl, json, htcap)")
	f.BoolVar(&prettyOutput, "pretty", false, "Indent JSON output")
	f.StringArrayVarP(&headers, "header", "H", nil, `Extra request header ("Name: value")`)
	f.StringVar(&cookies, "cookie", "", `Cookies to send ("a=1; b=2")`)
	f.StringVarP(&username, "username", "u", "", "Basic auth username")
	f.StringVarP(&password, "password", "p", "", "Basic auth password")
	f.StringVar(&token, "token", "", "Bearer token")
	f.StringVar(&userAgent, "user-agent", "", "Browser user agent")
	f.BoolVar(&showBrowser, "show-browser", false, "Run the browser with a visible window")
	f.BoolVar(&noWebSocket, "no-websocket", false, "Do not verify reported websockets")
	f.IntVar(&retries, "retries", 2, "Retries after an environment failure")
	f.BoolVar(&presetThorough, "thorough", false, "Start from the thorough preset")
	f.BoolVar(&presetQuick, "quick", false, "Start from the quick preset")
	f.BoolVar(&fallbackStatic, "fallback-static", false, "Analyze the plain HTTP response when the browser fails")
}

// buildConfig merges the config file or preset with the flags that were
// set explicitly. Flags win.
func buildConfig(cmd *cobra.Command, target string) (*crawler.Config, error) {
	var config *crawler.Config
	switch {
	case configFile != "":
		fileConfig, err := crawler.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
		config = fileConfig
	case presetThorough:
		config = crawler.ThoroughConfig()
	case presetQuick:
		config = crawler.QuickConfig()
	default:
		config = crawler.DefaultConfig()
	}

	if target != "" {
		config.Target = target
	}

	flags := cmd.Flags()
	changed := flags.Changed

	if changed("timeout") {
		config.Timeout = time.Duration(timeout) * time.Second
	}
	if changed("buffer-cycles") {
		config.Probe.BufferCycleSize = bufferCycles
	}
	if changed("after-xhr") {
		config.Probe.AfterDoneXHRTimeout = afterXHR
	}
	if changed("after-event") {
		config.Probe.AfterEventTriggeredTimeout = afterEvent
	}
	if changed("before-closing") {
		config.Probe.BeforeClosingTimeout = beforeClosing
	}
	if noFill {
		config.Probe.FillValues = false
	}
	if noTrigger {
		config.Probe.TriggerEvents = false
	}
	if changed("seed") {
		config.Probe.Seed = seed
	}
	if changed("method") {
		config.Method = strings.ToUpper(method)
	}
	if changed("data") {
		config.Data = postData
	}
	if outputFile != "" {
		config.Output.FilePath = outputFile
	}
	if changed("format") {
		config.Output.Format = outputFormat
	}
	if prettyOutput {
		config.Output.Pretty = true
	}
	if userAgent != "" {
		config.Browser.UserAgent = userAgent
	}
	if showBrowser {
		config.Browser.Headless = false
	}
	if noWebSocket {
		config.WebSocket.Verify = false
	}
	if changed("retries") {
		config.Retry.MaxRetries = retries
	}
	if fallbackStatic {
		config.FallbackStatic = true
	}

	for _, h := range headers {
		name, value, ok := strings.Cut(h, ":")
		if !ok {
			return nil, fmt.Errorf("invalid header %q, expected \"Name: value\"", h)
		}
		if config.CustomHeaders == nil {
			config.CustomHeaders = make(map[string]string)
		}
		config.CustomHeaders[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}

	if cookies != "" {
		if config.Cookies == nil {
			config.Cookies = make(map[string]string)
		}
		for _, c := range auth.ParseCookieHeader(cookies) {
			config.Cookies[c.Name] = c.Value
		}
	}

	switch {
	case username != "":
		config.Auth = auth.Credentials{
			Type:     auth.AuthTypeBasic,
			Username: username,
			Password: password,
		}
	case token != "":
		config.Auth = auth.Credentials{
			Type:  auth.AuthTypeBearer,
			Token: token,
		}
	}

	// Crawl flags only exist on the crawl command.
	if flags.Lookup("workers") != nil {
		if changed("workers") {
			config.Workers = workers
		}
		if changed("max-depth") {
			config.MaxDepth = maxDepth
		}
		if changed("max-pages") {
			config.MaxPages = maxPages
		}
		if changed("rate-limit") {
			config.RateLimit.RequestsPerSecond = rateLimit
		}
		if changed("browser-pool") {
			config.Browser.PoolSize = browserPool
		}
		if setReferer {
			config.SetReferer = true
		}
		if stateFile != "" {
			config.State.Enabled = true
			config.State.FilePath = stateFile
		}
		if changed("scope") {
			config.Scope.Mode = scope.Mode(scopeMode)
		}
		config.Scope.IncludePatterns = append(config.Scope.IncludePatterns, includePatterns...)
		config.Scope.ExcludePatterns = append(config.Scope.ExcludePatterns, excludePatterns...)
		config.Scope.AllowedDomains = append(config.Scope.AllowedDomains, allowedDomains...)
	}

	config.Verbose = config.Verbose || verbose
	config.Debug = config.Debug || debug
	return config, nil
}

// newLogger builds the console logger, with a rotating JSON file when
// --log-file is set.
func newLogger(config *crawler.Config) *logger.Logger {
	cfg := logger.DefaultConfig()
	cfg.Level = logger.WarnLevel
	if config.Verbose {
		cfg.Level = logger.InfoLevel
	}
	if config.Debug {
		cfg.Level = logger.DebugLevel
	}
	if logFile != "" {
		cfg.File = &logger.FileConfig{
			Path:       logFile,
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 7,
		}
	}
	return logger.New(cfg)
}

// setup creates the crawler and a shutdown handler that closes it.
func setup(cmd *cobra.Command, target string, opts ...crawler.Option) (*crawler.Crawler, *shutdown.Handler, error) {
	config, err := buildConfig(cmd, target)
	if err != nil {
		return nil, nil, err
	}
	log := newLogger(config)

	c, err := crawler.New(append([]crawler.Option{
		crawler.WithConfig(config),
		crawler.WithLogger(log),
	}, opts...)...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create crawler: %w", err)
	}

	sd := shutdown.New(cmd.Context(), shutdown.Config{
		Timeout: 30 * time.Second,
		Logger:  log,
	})
	sd.RegisterFunc("crawler", c.Close)
	return c, sd, nil
}

func runProbe(cmd *cobra.Command, args []string) error {
	c, sd, err := setup(cmd, args[0])
	if err != nil {
		return err
	}
	defer sd.Shutdown()

	res, err := c.Probe(sd.Context())
	if err != nil {
		return fmt.Errorf("probe failed: %w", err)
	}
	if err := sd.Shutdown(); err != nil {
		return err
	}

	if verbose {
		printPage(res)
	}
	if !res.OK() {
		return errProbeFailed
	}
	return nil
}

func runCrawl(cmd *cobra.Command, args []string) error {
	c, sd, err := setup(cmd, args[0], crawler.WithProgress(showProgress, os.Stderr))
	if err != nil {
		return err
	}
	defer sd.Shutdown()

	if !showProgress && verbose {
		printBanner(c.Config())
	}

	result, err := c.Start(sd.Context())
	if err != nil && !sd.Interrupted() {
		return fmt.Errorf("crawl failed: %w", err)
	}
	if serr := sd.Shutdown(); serr != nil {
		return serr
	}

	if result != nil && !showProgress && verbose {
		printSummary(result)
	}
	if sd.Interrupted() || result == nil {
		return fmt.Errorf("crawl interrupted")
	}
	for _, p := range result.Pages {
		if p.Depth == 0 && !p.OK() {
			return errProbeFailed
		}
	}
	return nil
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	source := args[0]
	isURL := strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")

	target := baseURL
	if isURL {
		target = source
	}
	if target == "" {
		return fmt.Errorf("--base is required when analyzing a file")
	}

	c, sd, err := setup(cmd, target)
	if err != nil {
		return err
	}
	defer sd.Shutdown()

	var res *crawler.PageResult
	if isURL {
		res, err = c.AnalyzeURL(sd.Context(), source)
	} else {
		f, ferr := os.Open(source)
		if ferr != nil {
			return fmt.Errorf("failed to open document: %w", ferr)
		}
		defer f.Close()
		res, err = c.AnalyzeHTML(sd.Context(), f, baseURL)
	}
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}
	if err := sd.Shutdown(); err != nil {
		return err
	}

	if verbose {
		printPage(res)
	}
	if !res.OK() {
		return errProbeFailed
	}
	return nil
}

func printBanner(config *crawler.Config) {
	fmt.Fprintln(os.Stderr)
	fmt.Fprintf(os.Stderr, "PageProbe v%s\n", version)
	fmt.Fprintf(os.Stderr, "Target:     %s\n", config.Target)
	fmt.Fprintf(os.Stderr, "Workers:    %d\n", config.Workers)
	fmt.Fprintf(os.Stderr, "Max Depth:  %d\n", config.MaxDepth)
	fmt.Fprintf(os.Stderr, "Rate Limit: %.1f pages/s\n", config.RateLimit.RequestsPerSecond)
	fmt.Fprintln(os.Stderr)
}

func printPage(res *crawler.PageResult) {
	s := res.Status
	fmt.Fprintf(os.Stderr, "%s  %s", s.Status, res.URL)
	if s.Code != "" {
		fmt.Fprintf(os.Stderr, "  [%s] %s", s.Code, s.Message)
	}
	fmt.Fprintf(os.Stderr, "\n  requests: %d  websockets: %d  duration: %v\n",
		s.Requests, res.WebSockets, s.Duration.Round(time.Millisecond))
}

func printSummary(result *crawler.CrawlResult) {
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Crawl Summary")
	fmt.Fprintf(os.Stderr, "Duration:      %v\n", result.CompletedAt.Sub(result.StartedAt).Round(time.Second))
	fmt.Fprintf(os.Stderr, "Pages Probed:  %d\n", result.Stats.PagesProbed)
	fmt.Fprintf(os.Stderr, "Pages Failed:  %d\n", result.Stats.PagesFailed)
	fmt.Fprintf(os.Stderr, "Requests:      %d\n", result.Stats.Requests)
	fmt.Fprintf(os.Stderr, "Out of Scope:  %d\n", result.Stats.OutOfScope)
	for t, n := range result.Stats.ByType {
		fmt.Fprintf(os.Stderr, "  %-10s %d\n", t+":", n)
	}
	fmt.Fprintln(os.Stderr)

	if failed := result.Failed(); len(failed) > 0 {
		fmt.Fprintln(os.Stderr, "Failed Pages:")
		count := 10
		if len(failed) < count {
			count = len(failed)
		}
		for _, p := range failed[:count] {
			fmt.Fprintf(os.Stderr, "  [%s] %s\n", p.Status.Code, p.URL)
		}
		if len(failed) > 10 {
			fmt.Fprintf(os.Stderr, "  ... and %d more\n", len(failed)-10)
		}
		fmt.Fprintln(os.Stderr)
	}
}
