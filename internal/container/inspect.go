package container

import (
	"context"
	"strings"
)

// InspectEnv returns the environment variables a running container was
// started with, parsed from the "KEY=VALUE" slice the engine reports.
// Used by internal/inspector to discover a container's MCP_ENDPOINT.
func (c *Client) InspectEnv(ctx context.Context, id string) (map[string]string, error) {
	cli, err := c.client()
	if err != nil {
		return nil, err
	}

	info, err := cli.ContainerInspect(ctx, id)
	if err != nil {
		return nil, wrapNotFoundAware(err, id)
	}
	if info.Config == nil {
		return map[string]string{}, nil
	}

	env := make(map[string]string, len(info.Config.Env))
	for _, kv := range info.Config.Env {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		env[k] = v
	}
	return env, nil
}
