package catalogingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/docker/mcp-fleet/mcpfleetd/internal/errs"
)

// HTTPDoer is the subset of *http.Client the official-registry fetcher
// needs; tests supply a fake, mirroring internal/oauthengine's seam.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type officialEnvelope struct {
	Items    []CatalogItem `json:"items"`
	Metadata struct {
		NextCursor string `json:"nextCursor"`
	} `json:"metadata"`
}

// OfficialConfig bounds the official-source pagination loop, per spec.md
// section 4.9: first request carries no cursor; each subsequent request
// re-uses baseURL with cursor=<value> appended; sleep delay between
// pages (never after the last); stop at maxPages.
type OfficialConfig struct {
	MaxPages int
	Delay    time.Duration
}

// fetchOfficial walks the official registry's cursor pagination, plain
// net/http + encoding/json, grounded on pkg/catalog/pypi.go's
// pagination-over-HTTP shape. On a later page's failure, it keeps what
// was fetched so far and reports partial=true instead of propagating the
// error, per spec.md's "surface a partial success (warning-marked
// response)".
func fetchOfficial(ctx context.Context, doer HTTPDoer, baseURL string, cfg OfficialConfig, sleep func(time.Duration)) (items []CatalogItem, partial bool, err error) {
	cursor := ""
	for page := 0; page < cfg.MaxPages; page++ {
		reqURL := baseURL
		if cursor != "" {
			u, perr := url.Parse(baseURL)
			if perr != nil {
				return items, false, errs.Wrap(errs.KindCatalog, "parsing catalog url", perr)
			}
			q := u.Query()
			q.Set("cursor", cursor)
			u.RawQuery = q.Encode()
			reqURL = u.String()
		}

		env, ferr := fetchOfficialPage(ctx, doer, reqURL)
		if ferr != nil {
			if page == 0 {
				return nil, false, ferr
			}
			return items, true, nil
		}

		items = append(items, env.Items...)

		if env.Metadata.NextCursor == "" {
			break
		}
		cursor = env.Metadata.NextCursor

		if page < cfg.MaxPages-1 {
			sleep(cfg.Delay)
		}
	}
	return dedupeByID(items), false, nil
}

func fetchOfficialPage(ctx context.Context, doer HTTPDoer, reqURL string) (*officialEnvelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, errs.Wrap(errs.KindCatalog, "building catalog request", err)
	}
	resp, err := doer.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.KindCatalogUpstreamDown, "catalog upstream unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, rateLimitedError(resp)
	}
	if resp.StatusCode >= 500 {
		return nil, errs.New(errs.KindCatalogUpstreamDown, "catalog upstream returned "+resp.Status)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errs.New(errs.KindCatalog, "catalog upstream returned "+resp.Status)
	}

	var env officialEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, errs.Wrap(errs.KindCatalog, "decoding catalog response", err)
	}
	return &env, nil
}

// rateLimitedError parses Retry-After (integer seconds or an HTTP-date),
// floored at 0 when already past.
func rateLimitedError(resp *http.Response) error {
	retryAfter := resp.Header.Get("Retry-After")
	seconds := 0
	if retryAfter != "" {
		if n, err := strconv.Atoi(retryAfter); err == nil {
			seconds = n
		} else if when, err := http.ParseTime(retryAfter); err == nil {
			d := time.Until(when)
			if d > 0 {
				seconds = int(d.Seconds())
			}
		}
	}
	e := errs.New(errs.KindCatalogRateLimited, "catalog upstream rate limited")
	return errs.WithRetryAfter(e, seconds)
}

// dedupeByID keeps the first occurrence of each id, renaming subsequent
// collisions with a -2, -3, ... suffix, per spec.md section 4.9.
func dedupeByID(items []CatalogItem) []CatalogItem {
	seen := make(map[string]int, len(items))
	out := make([]CatalogItem, 0, len(items))
	for _, it := range items {
		n := seen[it.ID]
		seen[it.ID] = n + 1
		if n > 0 {
			it.ID = it.ID + "-" + strconv.Itoa(n+1)
		}
		out = append(out, it)
	}
	return out
}
