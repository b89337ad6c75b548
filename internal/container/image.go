package container

import (
	"context"

	"github.com/google/go-containerregistry/pkg/crane"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/daemon"

	"github.com/docker/mcp-fleet/mcpfleetd/internal/errs"
)

// ensureImagePresent attempts a local lookup and, on miss, pulls the
// image, per spec.md section 4.4 step 3. Presence/pull goes through
// google/go-containerregistry rather than the docker client's own
// ImagePull progress-stream API, mirroring the teacher's use of the same
// library for registry interaction in its catalog image resolution.
func (c *Client) ensureImagePresent(ctx context.Context, image string) error {
	cli, err := c.client()
	if err != nil {
		return err
	}

	if _, _, err := cli.ImageInspectWithRaw(ctx, image); err == nil {
		return nil
	}

	ref, err := name.ParseReference(image)
	if err != nil {
		return errs.Wrap(errs.KindContainer, "parsing image reference", err)
	}

	img, err := crane.Pull(ref.String(), crane.WithContext(ctx))
	if err != nil {
		return errs.Wrap(errs.KindContainer, "pulling image", err)
	}

	if _, err := daemon.Write(ref, img); err != nil {
		return errs.Wrap(errs.KindContainer, "loading image into runtime", err)
	}
	return nil
}
