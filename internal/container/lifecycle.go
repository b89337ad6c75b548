package container

import (
	"context"
	"fmt"
	"strings"

	dockercontainer "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/go-connections/nat"

	"github.com/docker/mcp-fleet/mcpfleetd/internal/errs"
	"github.com/docker/mcp-fleet/mcpfleetd/internal/obslog"
	"github.com/docker/mcp-fleet/mcpfleetd/internal/store"
	"github.com/docker/mcp-fleet/mcpfleetd/internal/validate"
)

// ConfigPersister is the subset of internal/store the supervisor uses to
// best-effort persist a ContainerConfigRecord after create.
type ConfigPersister interface {
	CreateContainerConfigRecord(ctx context.Context, r store.ContainerConfigRecord) error
}

// CreateOptions augments Create with the session/vault context needed for
// inline secret resolution, and the optional persister.
type CreateOptions struct {
	SessionID   string
	VaultHandle string
	Persister   ConfigPersister
	ConfigJSON  string // opaque, persisted verbatim for audit/debugging
	Now         func() interface{ UnixNano() int64 }
}

// Create implements the create flow of spec.md section 4.4: resolve
// inline env references, normalize the name, ensure the image is
// present, create, start, and best-effort persist a config record.
func (c *Client) Create(ctx context.Context, cfg ContainerConfig, opts CreateOptions) (string, error) {
	if err := validate.Struct(cfg); err != nil {
		return "", err
	}

	cli, err := c.client()
	if err != nil {
		return "", err
	}

	env, err := c.resolveEnv(ctx, cfg.Env, opts.SessionID, opts.VaultHandle)
	if err != nil {
		return "", err
	}

	normalized, changed := normalizeName(cfg.Name)
	labels := make(map[string]string, len(cfg.Labels)+1)
	for k, v := range cfg.Labels {
		labels[k] = v
	}
	if changed {
		labels[originalNameLabel] = cfg.Name
	}

	if err := c.ensureImagePresent(ctx, cfg.Image); err != nil {
		return "", err
	}

	exposedPorts, portBindings := translatePorts(cfg.Ports)
	binds := translateVolumes(cfg.Volumes)

	containerConfig := &dockercontainer.Config{
		Image:        cfg.Image,
		Env:          envToSlice(env),
		Labels:       labels,
		Cmd:          cfg.Command,
		ExposedPorts: exposedPorts,
	}
	hostConfig := &dockercontainer.HostConfig{
		Binds:         binds,
		PortBindings:  portBindings,
		RestartPolicy: restartPolicy(cfg.RestartPolicy),
		NetworkMode:   dockercontainer.NetworkMode(orDefault(cfg.NetworkMode, "bridge")),
	}
	if cfg.CPUs > 0 {
		hostConfig.NanoCPUs = int64(cfg.CPUs * 1e9)
	}
	if cfg.MemoryLimit > 0 {
		hostConfig.Memory = cfg.MemoryLimit
	}

	resp, err := cli.ContainerCreate(ctx, containerConfig, hostConfig, &network.NetworkingConfig{}, nil, normalized)
	if err != nil {
		if isNameConflict(err) {
			return c.handleNameConflict(ctx, normalized)
		}
		return "", errs.Wrap(errs.KindContainer, "creating container", err)
	}

	if err := cli.ContainerStart(ctx, resp.ID, dockercontainer.StartOptions{}); err != nil {
		return "", errs.Wrap(errs.KindContainer, "starting container", err)
	}

	if opts.Persister != nil {
		record := store.ContainerConfigRecord{
			ContainerID: resp.ID,
			Name:        normalized,
			Image:       cfg.Image,
			ConfigJSON:  opts.ConfigJSON,
		}
		if err := opts.Persister.CreateContainerConfigRecord(ctx, record); err != nil {
			obslog.Logf("container: failed to persist config record for %s: %v", resp.ID, err)
		}
	}

	return resp.ID, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func isNameConflict(err error) bool {
	return err != nil && strings.Contains(err.Error(), "Conflict") && strings.Contains(err.Error(), "already in use")
}

// handleNameConflict surfaces a distinct "already exists" error kind
// including the existing container's id and normalized status, per
// spec.md section 4.4.
func (c *Client) handleNameConflict(ctx context.Context, normalized string) (string, error) {
	cli, err := c.client()
	if err != nil {
		return "", err
	}
	inspect, err := cli.ContainerInspect(ctx, normalized)
	if err != nil {
		return "", errs.Wrap(errs.KindContainer, "resolving name conflict", err)
	}
	status := mapStatus(inspect.State.Status)
	return "", errs.WithDetail(
		errs.New(errs.KindContainerExists, fmt.Sprintf("container named %q already exists", normalized)),
		fmt.Sprintf("existing_id=%s status=%s", inspect.ID, status),
	)
}

func (c *Client) Start(ctx context.Context, id string) error {
	cli, err := c.client()
	if err != nil {
		return err
	}
	if err := cli.ContainerStart(ctx, id, dockercontainer.StartOptions{}); err != nil {
		return wrapNotFoundAware(err, id)
	}
	return nil
}

func (c *Client) Stop(ctx context.Context, id string) error {
	cli, err := c.client()
	if err != nil {
		return err
	}
	if err := cli.ContainerStop(ctx, id, dockercontainer.StopOptions{}); err != nil {
		return wrapNotFoundAware(err, id)
	}
	return nil
}

func (c *Client) Restart(ctx context.Context, id string) error {
	cli, err := c.client()
	if err != nil {
		return err
	}
	if err := cli.ContainerRestart(ctx, id, dockercontainer.StopOptions{}); err != nil {
		return wrapNotFoundAware(err, id)
	}
	return nil
}

func (c *Client) Delete(ctx context.Context, id string) error {
	cli, err := c.client()
	if err != nil {
		return err
	}
	if err := cli.ContainerRemove(ctx, id, dockercontainer.RemoveOptions{Force: true}); err != nil {
		return wrapNotFoundAware(err, id)
	}
	return nil
}

// Status returns the normalized status of a container.
func (c *Client) Status(ctx context.Context, id string) (Status, error) {
	cli, err := c.client()
	if err != nil {
		return "", err
	}
	inspect, err := cli.ContainerInspect(ctx, id)
	if err != nil {
		return "", wrapNotFoundAware(err, id)
	}
	return mapStatus(inspect.State.Status), nil
}

// List returns every container managed by this runtime (no server-side
// filtering beyond what the caller applies to the result).
func (c *Client) List(ctx context.Context) ([]dockercontainer.Summary, error) {
	cli, err := c.client()
	if err != nil {
		return nil, err
	}
	list, err := cli.ContainerList(ctx, dockercontainer.ListOptions{All: true})
	if err != nil {
		return nil, errs.Wrap(errs.KindContainer, "listing containers", err)
	}
	return list, nil
}

func wrapNotFoundAware(err error, id string) error {
	if strings.Contains(err.Error(), "No such container") {
		return notFoundErr(id)
	}
	return errs.Wrap(errs.KindContainer, "container operation failed", err)
}

func translatePorts(ports map[string]string) (nat.PortSet, nat.PortMap) {
	exposed := make(nat.PortSet, len(ports))
	bindings := make(nat.PortMap, len(ports))
	for containerPort, hostPort := range ports {
		p := nat.Port(containerPort)
		exposed[p] = struct{}{}
		bindings[p] = []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: hostPort}}
	}
	return exposed, bindings
}

func translateVolumes(volumes map[string]string) []string {
	binds := make([]string, 0, len(volumes))
	for host, containerPath := range volumes {
		binds = append(binds, host+":"+containerPath+":rw")
	}
	return binds
}
