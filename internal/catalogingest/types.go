// Package catalogingest implements the catalog ingester of spec.md
// section 4.9: given a source and a catalog URL, returns a list of
// catalog items and a boolean "from cache" flag, backed by a per-source
// cache with background refresh.
package catalogingest

import "time"

const (
	SourceDocker   = "docker"
	SourceOfficial = "official"
)

// CatalogItem is one MCP server descriptor surfaced by a catalog source.
// Field shape mirrors the item-conversion output of
// pkg/catalog/registry_to_catalog.go, trimmed to what spec.md's catalog
// operations actually expose (full transform-to-Docker-config detail
// lives in internal/container, not here).
type CatalogItem struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image,omitempty"`
	Version     string `json:"version,omitempty"`
	Category    string `json:"category,omitempty"`
}

type cacheEntry struct {
	items     []CatalogItem
	expiresAt time.Time
}
