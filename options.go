package hub

import (
	"net/http"
	"regexp"
	"strings"
	"time"
)

// Concurrency constants for file downloads.
const (
	// DefaultConcurrency is the default number of concurrent file downloads.
	DefaultConcurrency = 8

	// MaxConcurrency is the maximum allowed concurrent file downloads.
	MaxConcurrency = 16

	// DefaultRequestTimeout bounds metadata requests. File transfers are
	// bounded by the caller's context only.
	DefaultRequestTimeout = 30 * time.Second
)

// DownloadOption configures a download operation.
type DownloadOption func(*downloadConfig)

// downloadConfig holds configuration for a download operation.
type downloadConfig struct {
	// revision is the branch, tag or commit to resolve.
	revision string

	// cacheDir overrides the client's cache directory for this call.
	cacheDir string

	// force re-downloads blobs even if they are cached.
	force bool

	// concurrency is the number of concurrent file downloads.
	concurrency int

	// allowPatterns keeps only files matching at least one pattern.
	allowPatterns []string

	// ignorePatterns drops files matching any pattern.
	ignorePatterns []string

	// progressFn is called with progress updates during download.
	progressFn func(DownloadProgress)
}

// newDownloadConfig returns a downloadConfig with default values.
func newDownloadConfig(opts ...DownloadOption) *downloadConfig {
	c := &downloadConfig{
		revision:    DefaultRevision,
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithRevision selects the branch, tag or commit to download.
// Default is DefaultRevision ("main").
func WithRevision(rev string) DownloadOption {
	return func(c *downloadConfig) {
		if rev != "" {
			c.revision = rev
		}
	}
}

// WithCacheDir downloads into dir instead of the client's cache directory.
func WithCacheDir(dir string) DownloadOption {
	return func(c *downloadConfig) {
		c.cacheDir = dir
	}
}

// WithForce re-downloads files even if their blobs are cached.
func WithForce() DownloadOption {
	return func(c *downloadConfig) {
		c.force = true
	}
}

// WithConcurrency sets the number of concurrent file downloads.
// Values are clamped to the range [1, MaxConcurrency].
func WithConcurrency(n int) DownloadOption {
	return func(c *downloadConfig) {
		if n < 1 {
			n = 1
		}
		if n > MaxConcurrency {
			n = MaxConcurrency
		}
		c.concurrency = n
	}
}

// WithAllowPatterns keeps only files whose path matches one of the
// shell patterns, e.g. "*.safetensors" or "images/".
func WithAllowPatterns(patterns ...string) DownloadOption {
	return func(c *downloadConfig) {
		c.allowPatterns = append(c.allowPatterns, patterns...)
	}
}

// WithIgnorePatterns drops files whose path matches any of the patterns.
func WithIgnorePatterns(patterns ...string) DownloadOption {
	return func(c *downloadConfig) {
		c.ignorePatterns = append(c.ignorePatterns, patterns...)
	}
}

// WithProgress sets a callback for progress updates during download.
// The callback is invoked from download goroutines and must be thread-safe.
func WithProgress(fn func(DownloadProgress)) DownloadOption {
	return func(c *downloadConfig) {
		c.progressFn = fn
	}
}

// report calls the progress callback if one is set.
func (c *downloadConfig) report(p DownloadProgress) {
	if c.progressFn != nil {
		c.progressFn(p)
	}
}

// wants reports whether a repository file passes the allow/ignore filters.
func (c *downloadConfig) wants(name string) bool {
	if len(c.allowPatterns) > 0 && !matchAny(c.allowPatterns, name) {
		return false
	}
	return !matchAny(c.ignorePatterns, name)
}

func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if fnmatch(p, name) {
			return true
		}
	}
	return false
}

// fnmatch matches name against a shell pattern where "*" also crosses
// directory separators. A pattern ending in "/" matches everything below
// that directory.
func fnmatch(pattern, name string) bool {
	if strings.HasSuffix(pattern, "/") {
		pattern += "*"
	}
	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < len(pattern); i++ {
		switch c := pattern[i]; c {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		case '[':
			j := strings.IndexByte(pattern[i:], ']')
			if j < 0 {
				b.WriteString(`\[`)
				continue
			}
			class := pattern[i+1 : i+j]
			if strings.HasPrefix(class, "!") {
				class = "^" + class[1:]
			}
			b.WriteString("[" + class + "]")
			i += j
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return false
	}
	return re.MatchString(name)
}

// ManagerOption configures a Manager.
type ManagerOption func(*managerConfig)

// managerConfig holds configuration for Manager construction.
type managerConfig struct {
	// httpClient is used for all HTTP requests to the Hub.
	httpClient HTTPClient

	// logger receives diagnostic log messages.
	logger Logger

	// userAgent is sent with every request.
	userAgent string
}

// newManagerConfig returns a managerConfig with default values.
func newManagerConfig() *managerConfig {
	return &managerConfig{
		httpClient: http.DefaultClient,
		userAgent:  "lazyslide-setup",
	}
}

// WithHTTPClient sets a custom HTTP client for Hub requests.
// Useful for testing with mock servers or customizing transports.
// If not set, http.DefaultClient is used.
func WithHTTPClient(client HTTPClient) ManagerOption {
	return func(c *managerConfig) {
		c.httpClient = client
	}
}

// WithLogger sets a logger for diagnostic output.
// If not set, logging is disabled.
func WithLogger(logger Logger) ManagerOption {
	return func(c *managerConfig) {
		c.logger = logger
	}
}

// WithUserAgent sets the User-Agent header sent to the Hub.
func WithUserAgent(ua string) ManagerOption {
	return func(c *managerConfig) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// HTTPClient is the interface for HTTP operations.
// *http.Client satisfies this interface.
type HTTPClient interface {
	// Do sends an HTTP request and returns an HTTP response.
	Do(req *http.Request) (*http.Response, error)
}

// Logger is the interface for diagnostic logging.
// Compatible with slog, zap, logrus adapters, and other structured loggers.
type Logger interface {
	// Debug logs a debug-level message with optional key-value pairs.
	Debug(msg string, keysAndValues ...any)

	// Info logs an info-level message with optional key-value pairs.
	Info(msg string, keysAndValues ...any)

	// Warn logs a warning-level message with optional key-value pairs.
	Warn(msg string, keysAndValues ...any)

	// Error logs an error-level message with optional key-value pairs.
	Error(msg string, keysAndValues ...any)
}

// nopLogger discards everything.
type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
