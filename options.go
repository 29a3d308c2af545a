package cget

import (
	"net/http"
	"time"
)

// Options carries the per-call (or per-Cache-default) knobs spec.md §6
// names as CacheOptions/FetchOptions. A Cache holds a resolved Options as
// its defaults; each Fetch call overlays zero or more Option funcs on top of
// a copy of those defaults, so call-site values override, and everything
// else falls back to the Cache's configured default. Cache.Store takes no
// Option funcs and uses the Cache's defaults as they are.
type Options struct {
	AllowLocal      bool
	AllowRemote     bool
	AllowCacheRead  bool
	AllowCacheWrite bool

	Rewrite  func(string) string
	Username string
	Password string

	Timeout time.Duration
	Cwd     string

	CacheKey string

	// Transport is the opaque "requestConfig" surface: a custom
	// http.RoundTripper used for outbound remote requests instead of the
	// cache's default conntrack-instrumented transport.
	Transport http.RoundTripper

	RetryCount         int
	RetryDelay         time.Duration
	RetryBackoffFactor float64

	RedirectCount int

	IndexName   string
	Concurrency int
}

// DefaultOptions returns spec.md §6's documented defaults.
func DefaultOptions() Options {
	return Options{
		AllowLocal:         false,
		AllowRemote:        true,
		AllowCacheRead:     true,
		AllowCacheWrite:    true,
		RetryCount:         0,
		RetryDelay:         time.Second,
		RetryBackoffFactor: 2,
		RedirectCount:      20,
		IndexName:          "index.html",
		Concurrency:        2,
	}
}

// Option mutates an Options in place; used both for per-Cache defaults
// (CacheOption) and per-call overrides (FetchOption) since both overlay the
// same struct.
type Option func(*Options)

func WithAllowLocal(v bool) Option      { return func(o *Options) { o.AllowLocal = v } }
func WithAllowRemote(v bool) Option     { return func(o *Options) { o.AllowRemote = v } }
func WithAllowCacheRead(v bool) Option  { return func(o *Options) { o.AllowCacheRead = v } }
func WithAllowCacheWrite(v bool) Option { return func(o *Options) { o.AllowCacheWrite = v } }

func WithRewrite(fn func(string) string) Option { return func(o *Options) { o.Rewrite = fn } }

func WithBasicAuth(username, password string) Option {
	return func(o *Options) { o.Username = username; o.Password = password }
}

func WithTimeout(d time.Duration) Option { return func(o *Options) { o.Timeout = d } }
func WithCwd(dir string) Option          { return func(o *Options) { o.Cwd = dir } }
func WithCacheKey(key string) Option     { return func(o *Options) { o.CacheKey = key } }

func WithTransport(rt http.RoundTripper) Option { return func(o *Options) { o.Transport = rt } }

func WithRetry(count int, delay time.Duration, backoffFactor float64) Option {
	return func(o *Options) {
		o.RetryCount = count
		o.RetryDelay = delay
		o.RetryBackoffFactor = backoffFactor
	}
}

func WithRedirectCount(n int) Option { return func(o *Options) { o.RedirectCount = n } }
func WithIndexName(name string) Option {
	return func(o *Options) { o.IndexName = name }
}
func WithConcurrency(n int) Option { return func(o *Options) { o.Concurrency = n } }

// resolve returns a copy of base with every opt applied in order.
func resolve(base Options, opts []Option) Options {
	o := base
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
