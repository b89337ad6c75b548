package catalogingest

import (
	"context"

	"github.com/google/go-containerregistry/pkg/crane"

	"github.com/docker/mcp-fleet/mcpfleetd/internal/errs"
)

// TagLister is the subset of crane's repo-tag listing the docker source
// needs; tests supply a fake so no real registry call is made.
type TagLister func(repo string) ([]string, error)

// craneListTags adapts crane.ListTags (already wired in internal/container
// for image presence/pull) to TagLister.
func craneListTags(ctx context.Context) TagLister {
	return func(repo string) ([]string, error) {
		return crane.ListTags(repo, crane.WithContext(ctx))
	}
}

// fetchDocker lists a repository's tags via the registry API and converts
// each tag into a CatalogItem, mirroring
// pkg/catalog/registry_to_catalog.go's item-conversion shape. Docker Hub
// listings have no cursor in spec.md's model, so this is a single
// unpaginated call.
func fetchDocker(repo string, list TagLister) ([]CatalogItem, error) {
	tags, err := list(repo)
	if err != nil {
		return nil, errs.Wrap(errs.KindCatalogUpstreamDown, "listing docker repository tags", err)
	}
	items := make([]CatalogItem, 0, len(tags))
	for _, tag := range tags {
		items = append(items, CatalogItem{
			ID:      repo + ":" + tag,
			Name:    repo,
			Image:   repo + ":" + tag,
			Version: tag,
		})
	}
	return dedupeByID(items), nil
}
