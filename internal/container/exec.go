package container

import (
	"bytes"
	"context"
	"io"

	dockercontainer "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/docker/mcp-fleet/mcpfleetd/internal/errs"
)

// Exec runs argv inside the given container, capturing combined
// stdout+stderr bytes, per spec.md section 4.4.
func (c *Client) Exec(ctx context.Context, id string, argv []string) (exitCode int, output []byte, err error) {
	cli, err := c.client()
	if err != nil {
		return 0, nil, err
	}

	created, err := cli.ContainerExecCreate(ctx, id, dockercontainer.ExecOptions{
		Cmd:          argv,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return 0, nil, wrapNotFoundAware(err, id)
	}

	resp, err := cli.ContainerExecAttach(ctx, created.ID, dockercontainer.ExecAttachOptions{})
	if err != nil {
		return 0, nil, errs.Wrap(errs.KindContainer, "attaching to exec", err)
	}
	defer resp.Close()

	var combined bytes.Buffer
	if _, err := stdcopy.StdCopy(&combined, &combined, resp.Reader); err != nil && err != io.EOF {
		return 0, nil, errs.Wrap(errs.KindContainer, "reading exec output", err)
	}

	inspect, err := cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return 0, nil, errs.Wrap(errs.KindContainer, "inspecting exec result", err)
	}

	return inspect.ExitCode, combined.Bytes(), nil
}
