package catalogingest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docker/mcp-fleet/mcpfleetd/internal/errs"
	"github.com/docker/mcp-fleet/mcpfleetd/internal/taskreg"
)

type fakePage struct {
	status     int
	retryAfter string
	items      []CatalogItem
	nextCursor string
}

type fakeDoer struct {
	pages    []fakePage
	byCursor map[string]fakePage
	calls    int32
}

func (d *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	cursor := req.URL.Query().Get("cursor")
	var page fakePage
	if cursor == "" {
		idx := int(atomic.AddInt32(&d.calls, 1)) - 1
		page = d.pages[idx]
	} else {
		atomic.AddInt32(&d.calls, 1)
		page = d.byCursor[cursor]
	}

	if page.status != 0 && page.status != http.StatusOK {
		resp := &http.Response{StatusCode: page.status, Header: make(http.Header), Body: io.NopCloser(strings.NewReader(""))}
		if page.retryAfter != "" {
			resp.Header.Set("Retry-After", page.retryAfter)
		}
		return resp, nil
	}

	env := officialEnvelope{Items: page.items}
	env.Metadata.NextCursor = page.nextCursor
	body, _ := json.Marshal(env)
	return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(string(body)))}, nil
}

func noSleep(time.Duration) {}

func TestGetCatalogUnknownSourceFailsFast(t *testing.T) {
	ing := New(taskreg.New())
	_, err := ing.GetCatalog(context.Background(), "bogus", "https://example.com")
	require.Error(t, err)
	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, errs.KindCatalogInvalidSource, kind)
}

func TestGetCatalogOfficialPaginationThreePages(t *testing.T) {
	page1 := make([]CatalogItem, 30)
	for i := range page1 {
		page1[i] = CatalogItem{ID: "a" + string(rune('0'+i%10)) + string(rune('a'+i/10)), Name: "item"}
	}
	page2 := make([]CatalogItem, 30)
	for i := range page2 {
		page2[i] = CatalogItem{ID: "b" + string(rune('0'+i%10)) + string(rune('a'+i/10)), Name: "item"}
	}
	page3 := make([]CatalogItem, 30)
	for i := range page3 {
		page3[i] = CatalogItem{ID: "c" + string(rune('0'+i%10)) + string(rune('a'+i/10)), Name: "item"}
	}

	doer := &fakeDoer{
		pages: []fakePage{{items: page1, nextCursor: "cur2"}},
		byCursor: map[string]fakePage{
			"cur2": {items: page2, nextCursor: "cur3"},
			"cur3": {items: page3},
		},
	}

	var sleeps int
	ing := New(taskreg.New(), WithHTTPDoer(doer), WithSleep(func(time.Duration) { sleeps++ }), WithOfficialConfig(OfficialConfig{MaxPages: 20, Delay: time.Millisecond}))

	res, err := ing.GetCatalog(context.Background(), SourceOfficial, "https://registry.example.com/catalog")
	require.NoError(t, err)
	assert.Len(t, res.Items, 90)
	assert.False(t, res.Cached)
	assert.Equal(t, int32(3), doer.calls)
	assert.Equal(t, 2, sleeps)
}

func TestGetCatalogOfficialLaterPageFailureIsPartial(t *testing.T) {
	page1 := []CatalogItem{{ID: "a1"}, {ID: "a2"}}
	doer := &fakeDoer{
		pages: []fakePage{{items: page1, nextCursor: "cur2"}},
		byCursor: map[string]fakePage{
			"cur2": {status: http.StatusInternalServerError},
		},
	}
	ing := New(taskreg.New(), WithHTTPDoer(doer), WithSleep(noSleep), WithOfficialConfig(OfficialConfig{MaxPages: 20, Delay: time.Millisecond}))

	res, err := ing.GetCatalog(context.Background(), SourceOfficial, "https://registry.example.com/catalog")
	require.NoError(t, err)
	assert.True(t, res.Partial)
	assert.Len(t, res.Items, 2)
}

func TestGetCatalogOfficialFirstPageRateLimited(t *testing.T) {
	doer := &fakeDoer{pages: []fakePage{{status: http.StatusTooManyRequests, retryAfter: "30"}}}
	ing := New(taskreg.New(), WithHTTPDoer(doer), WithSleep(noSleep))

	_, err := ing.GetCatalog(context.Background(), SourceOfficial, "https://registry.example.com/catalog")
	require.Error(t, err)
	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, errs.KindCatalogRateLimited, kind)

	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, 30, e.RetryAfter)
}

func TestGetCatalogCacheHitTriggersBackgroundRefresh(t *testing.T) {
	doer := &fakeDoer{pages: []fakePage{{items: []CatalogItem{{ID: "a1"}}}, {items: []CatalogItem{{ID: "a1"}, {ID: "a2"}}}}}
	ing := New(taskreg.New(), WithHTTPDoer(doer), WithSleep(noSleep), WithCacheTTL(time.Hour))

	res1, err := ing.GetCatalog(context.Background(), SourceOfficial, "https://registry.example.com/catalog")
	require.NoError(t, err)
	assert.False(t, res1.Cached)
	assert.Len(t, res1.Items, 1)

	res2, err := ing.GetCatalog(context.Background(), SourceOfficial, "https://registry.example.com/catalog")
	require.NoError(t, err)
	assert.True(t, res2.Cached)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&doer.calls) >= 2
	}, time.Second, time.Millisecond)
}

func TestInvalidateCacheForcesColdFetch(t *testing.T) {
	doer := &fakeDoer{pages: []fakePage{{items: []CatalogItem{{ID: "a1"}}}, {items: []CatalogItem{{ID: "a1"}}}}}
	ing := New(taskreg.New(), WithHTTPDoer(doer), WithSleep(noSleep), WithCacheTTL(time.Hour))

	_, err := ing.GetCatalog(context.Background(), SourceOfficial, "https://registry.example.com/catalog")
	require.NoError(t, err)

	ing.InvalidateCache()

	res, err := ing.GetCatalog(context.Background(), SourceOfficial, "https://registry.example.com/catalog")
	require.NoError(t, err)
	assert.False(t, res.Cached)
}

func TestFetchDockerConvertsTagsToItems(t *testing.T) {
	lister := func(repo string) ([]string, error) {
		return []string{"1.0", "latest"}, nil
	}
	items, err := fetchDocker("library/postgres", lister)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "library/postgres:1.0", items[0].ID)
}

func TestDedupeByIDSuffixesCollisions(t *testing.T) {
	items := []CatalogItem{{ID: "x"}, {ID: "x"}, {ID: "x"}}
	out := dedupeByID(items)
	assert.Equal(t, []string{"x", "x-2", "x-3"}, []string{out[0].ID, out[1].ID, out[2].ID})
}

func TestSearchFiltersByQueryAndCategory(t *testing.T) {
	items := []CatalogItem{
		{ID: "1", Name: "Postgres Tool", Category: "database"},
		{ID: "2", Name: "Redis Tool", Category: "cache"},
	}
	out := Search(items, "postgres", "")
	require.Len(t, out, 1)
	assert.Equal(t, "1", out[0].ID)

	out = Search(items, "", "cache")
	require.Len(t, out, 1)
	assert.Equal(t, "2", out[0].ID)
}
