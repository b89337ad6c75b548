package catalogingest

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/docker/mcp-fleet/mcpfleetd/internal/errs"
	"github.com/docker/mcp-fleet/mcpfleetd/internal/obslog"
	"github.com/docker/mcp-fleet/mcpfleetd/internal/taskreg"
)

const defaultCacheTTL = 5 * time.Minute

// Ingester implements get_catalog: per-source caching with a background
// refresh kicked off on a cache hit, and a synchronous fetch on a cold
// miss, per spec.md section 4.9.
type Ingester struct {
	http     HTTPDoer
	listTag  func(ctx context.Context) TagLister
	tasks    *taskreg.Registry
	now      func() time.Time
	sleep    func(time.Duration)
	cacheTTL time.Duration
	official OfficialConfig

	mu    sync.Mutex
	cache map[string]cacheEntry // keyed by source+"|"+url
}

// Option configures an Ingester.
type Option func(*Ingester)

func WithClock(now func() time.Time) Option  { return func(i *Ingester) { i.now = now } }
func WithHTTPDoer(d HTTPDoer) Option         { return func(i *Ingester) { i.http = d } }
func WithSleep(f func(time.Duration)) Option { return func(i *Ingester) { i.sleep = f } }
func WithCacheTTL(d time.Duration) Option    { return func(i *Ingester) { i.cacheTTL = d } }
func WithOfficialConfig(cfg OfficialConfig) Option {
	return func(i *Ingester) { i.official = cfg }
}
func WithTagLister(f func(ctx context.Context) TagLister) Option {
	return func(i *Ingester) { i.listTag = f }
}

// New builds an Ingester. tasks is the registry shared with
// internal/remotemcp and internal/gatewayhealth so one Shutdown call stops
// every background refresh as well.
func New(tasks *taskreg.Registry, opts ...Option) *Ingester {
	i := &Ingester{
		http:     http.DefaultClient,
		listTag:  craneListTags,
		tasks:    tasks,
		now:      time.Now,
		sleep:    time.Sleep,
		cacheTTL: defaultCacheTTL,
		official: OfficialConfig{MaxPages: 20, Delay: 200 * time.Millisecond},
		cache:    make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

func cacheKey(source, url string) string { return source + "|" + url }

// GetCatalogResult is the output of GetCatalog.
type GetCatalogResult struct {
	Items   []CatalogItem
	Cached  bool
	Partial bool
}

// GetCatalog returns the catalog items for (source, url). An unknown
// source fails with invalid_source before any outbound call. A live
// cache entry serves immediately while a background refresh is kicked
// off; a cold miss fetches synchronously.
func (i *Ingester) GetCatalog(ctx context.Context, source, url string) (*GetCatalogResult, error) {
	if source != SourceDocker && source != SourceOfficial {
		return nil, errs.New(errs.KindCatalogInvalidSource, "unknown catalog source: "+source)
	}

	key := cacheKey(source, url)

	i.mu.Lock()
	entry, ok := i.cache[key]
	i.mu.Unlock()

	if ok && i.now().Before(entry.expiresAt) {
		i.spawnRefresh(source, url, key)
		return &GetCatalogResult{Items: entry.items, Cached: true}, nil
	}

	items, partial, err := i.fetch(ctx, source, url)
	if err != nil {
		return nil, err
	}
	i.store(key, items)
	return &GetCatalogResult{Items: items, Cached: false, Partial: partial}, nil
}

// InvalidateCache clears every cached catalog entry, implementing
// DELETE /api/catalog/cache.
func (i *Ingester) InvalidateCache() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.cache = make(map[string]cacheEntry)
}

func (i *Ingester) store(key string, items []CatalogItem) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.cache[key] = cacheEntry{items: items, expiresAt: i.now().Add(i.cacheTTL)}
}

// spawnRefresh kicks off a background re-fetch under the shared task
// registry. On failure the cached items are left untouched per spec.md
// ("on refresh failure the cached items remain and the response is
// marked cached") — the failure is only logged, never surfaced to the
// caller that triggered the refresh, since that caller already got its
// (cached) response.
func (i *Ingester) spawnRefresh(source, url, key string) {
	i.tasks.Spawn(context.Background(), "catalogingest-refresh-"+key, func(ctx context.Context) {
		items, _, err := i.fetch(ctx, source, url)
		if err != nil {
			obslog.L().Warnw("catalog background refresh failed, serving stale cache", "source", source, "url", url, "error", err)
			return
		}
		i.store(key, items)
	})
}

func (i *Ingester) fetch(ctx context.Context, source, url string) ([]CatalogItem, bool, error) {
	switch source {
	case SourceDocker:
		items, err := fetchDocker(url, i.listTag(ctx))
		return items, false, err
	case SourceOfficial:
		return fetchOfficial(ctx, i.http, url, i.official, i.sleep)
	default:
		return nil, false, errs.New(errs.KindCatalogInvalidSource, "unknown catalog source: "+source)
	}
}

// Search filters a fetched catalog by a free-text query against name and
// description, and an optional category, implementing
// GET /api/catalog/search.
func Search(items []CatalogItem, query, category string) []CatalogItem {
	query = strings.ToLower(strings.TrimSpace(query))
	category = strings.TrimSpace(category)

	var out []CatalogItem
	for _, it := range items {
		if category != "" && it.Category != category {
			continue
		}
		if query != "" &&
			!strings.Contains(strings.ToLower(it.Name), query) &&
			!strings.Contains(strings.ToLower(it.Description), query) {
			continue
		}
		out = append(out, it)
	}
	return out
}
