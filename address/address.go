// Package address classifies a URI into exactly one of three kinds — local,
// urn, or remote — and derives the cache key and on-disk path a fetch cache
// uses to mirror it.
package address

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/grafana/regexp"
	"github.com/jellydator/ttlcache/v3"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Kind classifies the URI an Address was parsed from.
type Kind int

const (
	// KindLocal addresses name a file on the local filesystem: a file://
	// URL or a relative/absolute path.
	KindLocal Kind = iota
	// KindURN addresses have no reachable URL but are still cacheable.
	KindURN
	// KindRemote addresses are http(s) URLs fetched over the network.
	KindRemote
)

func (k Kind) String() string {
	switch k {
	case KindLocal:
		return "local"
	case KindURN:
		return "urn"
	case KindRemote:
		return "remote"
	default:
		return "unknown"
	}
}

// HistoryEntry records one hop of a redirect chain.
type HistoryEntry struct {
	URL    string
	Path   string
	DirKey bool
	Status int
	Data   []byte
}

// Address is the parsed, classified form of a URI passed to Cache.Fetch.
// Redirect mutates it in place; History accumulates the pre-redirect state
// at each hop.
type Address struct {
	Kind     Kind
	URL      string
	Path     string
	CacheKey string

	// DirKey is true when the source URL's path component named a
	// directory (empty, or ending in "/"), per spec.md §6: a cache body
	// for a directory-style key is stored under the configured index
	// filename inside that directory rather than as a flat file.
	DirKey bool

	History []HistoryEntry

	explicitCacheKey bool
	wasLocal         bool
	wasRemote        bool
}

// IsLocal reports whether the address names a file on the local filesystem.
func (a *Address) IsLocal() bool { return a.Kind == KindLocal }

// IsRemote reports whether the address names an http(s) resource.
func (a *Address) IsRemote() bool { return a.Kind == KindRemote }

// IsURN reports whether the address is a urn: identifier (neither local nor remote).
func (a *Address) IsURN() bool { return a.Kind == KindURN }

// WasLocal is a sticky flag: true if this address, or any address earlier in
// its redirect history, was local.
func (a *Address) WasLocal() bool { return a.wasLocal }

// WasRemote is a sticky flag: true if this address, or any address earlier in
// its redirect history, was remote.
func (a *Address) WasRemote() bool { return a.wasRemote }

// Clone returns an independent copy; History is copied, not shared, so that
// mutating the clone's redirect chain never affects the original.
func (a *Address) Clone() *Address {
	clone := *a
	if a.History != nil {
		clone.History = make([]HistoryEntry, len(a.History))
		copy(clone.History, a.History)
	}
	return &clone
}

type parseOptions struct {
	baseURL  *url.URL
	cacheKey string
}

// ParseOption customizes Parse.
type ParseOption func(*parseOptions)

// WithBaseURL resolves relative URIs against base instead of the process cwd.
func WithBaseURL(base *url.URL) ParseOption {
	return func(o *parseOptions) { o.baseURL = base }
}

// WithCacheKey overrides scheme-derived cache-key/path derivation; the
// supplied key is preserved across subsequent redirects.
func WithCacheKey(key string) ParseOption {
	return func(o *parseOptions) { o.cacheKey = key }
}

var pathSanitizeRe = regexp.MustCompile(`[^-_./0-9A-Za-z]`)

// sanitizeComponent percent-decodes a single path segment (best effort) and
// replaces any byte outside [-_./0-9A-Za-z] with '_', then strips leading and
// trailing runs of -_./ from the result.
func sanitizeComponent(s string) string {
	if dec, err := url.PathUnescape(s); err == nil {
		s = dec
	}
	s = pathSanitizeRe.ReplaceAllString(s, "_")
	return strings.Trim(s, "-_./")
}

// splitAny splits s on any of the bytes in cutset via strings.FieldsFunc,
// so runs of separators produce no empty fields.
func splitAny(s string, cutset string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return strings.ContainsRune(cutset, r)
	})
}

// deriveCacheKeyFromParts sanitizes and rejoins path parts with "/", dropping
// any part that sanitizes to empty (e.g. a bare separator run).
func deriveCacheKeyFromParts(parts []string) string {
	sanitized := make([]string, 0, len(parts))
	for _, p := range parts {
		if sp := sanitizeComponent(p); sp != "" {
			sanitized = append(sanitized, sp)
		}
	}
	return strings.Join(sanitized, "/")
}

// deriveRemoteCacheKey implements spec §3: scheme + host(no port) + path +
// query, split on /:?, percent-decoded per part, re-joined with /, sanitized.
// The scheme and host are joined with "/" before splitting so they land as
// distinct components (http://example.com/a/b -> http/example.com/a/b), not
// concatenated into one run.
func deriveRemoteCacheKey(u *url.URL) string {
	raw := u.Scheme + "/" + u.Hostname() + u.Path
	if u.RawQuery != "" {
		raw += "?" + u.RawQuery
	}
	return deriveCacheKeyFromParts(splitAny(raw, "/:?"))
}

// deriveURNCacheKey implements spec §3: urn:a:b:c -> "a/b/c".
func deriveURNCacheKey(opaque string) string {
	return deriveCacheKeyFromParts(strings.Split(opaque, ":"))
}

// isDirPath reports whether a URL path component names a directory: empty
// (the bare "http://host" root) or ending in "/".
func isDirPath(p string) bool {
	return p == "" || strings.HasSuffix(p, "/")
}

// cacheKeyToPath converts a forward-slash cache key into a platform path.
func cacheKeyToPath(key string) string {
	if key == "" {
		return ""
	}
	return filepath.FromSlash(key)
}

func defaultBaseURL() *url.URL {
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	return &url.URL{Scheme: "file", Path: filepath.ToSlash(wd) + "/"}
}

// classify resolves rawURI against base and returns its kind, normalized URL
// string, scheme-derived cache key, and whether that key names a directory
// (see isDirPath). It never fails: an unparseable or unrecognized-scheme URI
// falls through to the remote branch, which may sanitize down to an empty
// cache key; callers detect that and fail later.
func classify(rawURI string, base *url.URL) (kind Kind, urlStr string, cacheKey string, dirKey bool) {
	if strings.HasPrefix(rawURI, "urn:") {
		return KindURN, rawURI, deriveURNCacheKey(strings.TrimPrefix(rawURI, "urn:")), false
	}

	ref, err := url.Parse(rawURI)
	if err != nil {
		// Malformed URI: still resolve it as a best-effort remote reference
		// so sanitization produces a (possibly empty) path downstream.
		return KindRemote, rawURI, deriveCacheKeyFromParts(splitAny(rawURI, "/:?")), false
	}

	resolved := ref
	if base != nil {
		resolved = base.ResolveReference(ref)
	}

	switch resolved.Scheme {
	case "file", "":
		p := resolved.Path
		if p == "" {
			p = resolved.Opaque
		}
		return KindLocal, resolved.String(), "", false
	case "http", "https":
		return KindRemote, resolved.String(), deriveRemoteCacheKey(resolved), isDirPath(resolved.Path)
	case "urn":
		return KindURN, resolved.String(), deriveURNCacheKey(resolved.Opaque), false
	default:
		return KindRemote, resolved.String(), deriveRemoteCacheKey(resolved), isDirPath(resolved.Path)
	}
}

// localPathFromURL extracts the on-disk path from a local Address's URL.
func localPathFromURL(urlStr string) string {
	u, err := url.Parse(urlStr)
	if err != nil {
		return filepath.FromSlash(urlStr)
	}
	p := u.Path
	if p == "" {
		p = u.Opaque
	}
	return filepath.FromSlash(p)
}

type parseSnapshot struct {
	kind     Kind
	urlStr   string
	cacheKey string
	path     string
	dirKey   bool
}

var (
	parseCache = ttlcache.New[string, parseSnapshot](
		ttlcache.WithTTL[string, parseSnapshot](5 * time.Minute),
	)
	parseGroup singleflight.Group
)

func init() {
	go parseCache.Start()
}

func parseCacheKeyFor(rawURI string, base *url.URL, explicitKey string) string {
	baseStr := ""
	if base != nil {
		baseStr = base.String()
	}
	return rawURI + "\x00" + baseStr + "\x00" + explicitKey
}

// parseUncached performs the actual classification, bypassing memoization.
func parseUncached(rawURI string, base *url.URL, explicitKey string) parseSnapshot {
	kind, urlStr, derivedKey, dirKey := classify(rawURI, base)

	snap := parseSnapshot{kind: kind, urlStr: urlStr, dirKey: dirKey}
	switch kind {
	case KindLocal:
		snap.path = localPathFromURL(urlStr)
	default:
		snap.cacheKey = derivedKey
		snap.path = cacheKeyToPath(derivedKey)
	}
	if explicitKey != "" {
		snap.cacheKey = explicitKey
		snap.path = cacheKeyToPath(explicitKey)
		// An explicit cache key is an exact, caller-chosen path: it never
		// gets an index filename appended underneath it.
		snap.dirKey = false
	}
	return snap
}

// Parse resolves uri against an optional base URL (defaulting to the process
// working directory expressed as a file:// URL), classifies it, and derives
// its cache key and filesystem path. Parsing never fails; a malformed or
// exotic URI simply classifies as remote with a best-effort (possibly empty)
// cache key, and downstream strategies detect that and report failure.
//
// Repeated calls for the same (uri, base, cacheKey) are memoized for a short
// window via a ttlcache-backed, singleflight-suppressed loader; Address
// itself is mutable (Redirect), so each call returns an independent clone of
// the cached classification rather than a shared pointer.
func Parse(uri string, opts ...ParseOption) *Address {
	o := &parseOptions{}
	for _, opt := range opts {
		opt(o)
	}
	base := o.baseURL
	if base == nil {
		base = defaultBaseURL()
	}

	key := parseCacheKeyFor(uri, base, o.cacheKey)
	if item := parseCache.Get(key); item != nil {
		snap := item.Value()
		return snapshotToAddress(snap, o.cacheKey != "")
	}

	v, err, _ := parseGroup.Do(key, func() (interface{}, error) {
		snap := parseUncached(uri, base, o.cacheKey)
		parseCache.Set(key, snap, ttlcache.DefaultTTL)
		return snap, nil
	})
	if err != nil {
		// classify/parseUncached never returns an error; this is unreachable,
		// but log defensively rather than panic on a nil type assertion.
		log.WithError(err).Error("address: unexpected error memoizing parse")
		snap := parseUncached(uri, base, o.cacheKey)
		return snapshotToAddress(snap, o.cacheKey != "")
	}
	return snapshotToAddress(v.(parseSnapshot), o.cacheKey != "")
}

func snapshotToAddress(snap parseSnapshot, explicitCacheKey bool) *Address {
	a := &Address{
		Kind:             snap.kind,
		URL:              snap.urlStr,
		Path:             snap.path,
		CacheKey:         snap.cacheKey,
		DirKey:           snap.dirKey,
		explicitCacheKey: explicitCacheKey,
	}
	if a.Kind == KindLocal {
		a.wasLocal = true
	}
	if a.Kind == KindRemote {
		a.wasRemote = true
	}
	return a
}

// Redirect resolves newURL against the address's current URL, reclassifies
// it, and re-derives the cache key/path unless an explicit cache key is in
// effect. Unless isFake, the address's prior {url, path} (plus status, the
// 3xx this hop answered with, and any caller-supplied data such as a
// snapshot of response headers) is pushed onto History before the
// mutation.
func (a *Address) Redirect(newURL string, isFake bool, status int, data []byte) {
	base, err := url.Parse(a.URL)
	if err != nil {
		base = &url.URL{}
	}
	kind, urlStr, derivedKey, dirKey := classify(newURL, base)

	if !isFake {
		a.History = append(a.History, HistoryEntry{URL: a.URL, Path: a.Path, DirKey: a.DirKey, Status: status, Data: data})
	}

	a.Kind = kind
	a.URL = urlStr
	if kind == KindLocal {
		a.wasLocal = true
	}
	if kind == KindRemote {
		a.wasRemote = true
	}

	if a.explicitCacheKey {
		return
	}
	switch kind {
	case KindLocal:
		a.Path = localPathFromURL(urlStr)
		a.CacheKey = ""
		a.DirKey = false
	default:
		a.CacheKey = derivedKey
		a.Path = cacheKeyToPath(derivedKey)
		a.DirKey = dirKey
	}
}
