// Package container is the local container-runtime supervisor of spec.md
// section 4.4: lifecycle CRUD, log streaming, and exec against a daemon
// reached over a unix socket, grounded on the teacher's pkg/docker
// dockerClient seam (an apiClient factory injected for testability, per
// client_test.go's nil-client safe-error assertion).
package container

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"

	"github.com/docker/mcp-fleet/mcpfleetd/internal/errs"
	"github.com/docker/mcp-fleet/mcpfleetd/internal/secrets"
)

// SecretResolver is the subset of internal/secrets the supervisor needs to
// resolve inline vault references inside a ContainerConfig's env map.
type SecretResolver interface {
	ResolveReference(ctx context.Context, reference, sessionID, vaultHandle string) (string, error)
}

// ContainerConfig is the create() input of spec.md section 4.4, validated
// with struct tags via internal/validate instead of hand-rolled if-chains.
type ContainerConfig struct {
	Name          string            `validate:"required"`
	Image         string            `validate:"required"`
	Env           map[string]string `validate:"omitempty"`
	Ports         map[string]string `validate:"omitempty"` // "<container_port>/tcp" -> host port
	Volumes       map[string]string `validate:"omitempty"` // host path -> container path
	Labels        map[string]string `validate:"omitempty"`
	Command       []string          `validate:"omitempty"`
	NetworkMode   string            `validate:"omitempty"`
	CPUs          float64           `validate:"omitempty,gte=0"`
	MemoryLimit   int64             `validate:"omitempty,gte=0"` // bytes
	RestartPolicy string            `validate:"omitempty,oneof=no on-failure always"`
}

// Status is the normalized lifecycle status of spec.md section 4.4.
type Status string

const (
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
	StatusError   Status = "error"
)

// Client talks to the local runtime daemon, discovering its socket via
// the fallback chain: configured value -> $XDG_RUNTIME_DIR/docker.sock ->
// /run/user/<uid>/docker.sock -> /var/run/docker.sock. Connect failures
// are cached for 30s to avoid thundering retries.
type Client struct {
	apiClient     func() client.APIClient
	socketPath    string
	resolver      SecretResolver

	mu              sync.Mutex
	lastConnectErr  error
	lastConnectAt   time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithSocketPath overrides the socket-discovery fallback chain with a
// fixed configured value.
func WithSocketPath(path string) Option {
	return func(c *Client) { c.socketPath = path }
}

// WithSecretResolver supplies the resolver used to expand `{{ bw:... }}`
// references in a ContainerConfig's env map before create.
func WithSecretResolver(r SecretResolver) Option {
	return func(c *Client) { c.resolver = r }
}

func New(opts ...Option) *Client {
	c := &Client{}
	for _, opt := range opts {
		opt(c)
	}
	c.apiClient = func() client.APIClient { return c.connectAPIClient() }
	return c
}

// discoverSocket implements the fallback chain of spec.md section 4.4.
func (c *Client) discoverSocket() string {
	if c.socketPath != "" {
		return c.socketPath
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return dir + "/docker.sock"
	}
	return "/run/user/" + strconv.Itoa(os.Getuid()) + "/docker.sock"
}

func (c *Client) connectAPIClient() client.APIClient {
	sock := c.discoverSocket()
	candidates := []string{sock, "/run/user/" + strconv.Itoa(os.Getuid()) + "/docker.sock", "/var/run/docker.sock"}
	for _, path := range candidates {
		cli, err := client.NewClientWithOpts(client.WithHost("unix://"+path), client.WithAPIVersionNegotiation())
		if err != nil {
			continue
		}
		return cli
	}
	return nil
}

// client returns a connected API client, consulting and maintaining the
// 30s connect-failure cache.
func (c *Client) client() (client.APIClient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lastConnectErr != nil && time.Since(c.lastConnectAt) < 30*time.Second {
		return nil, c.lastConnectErr
	}

	cli := c.apiClient()
	if cli == nil {
		err := errs.New(errs.KindContainerUnavailable, "docker client is not available")
		c.lastConnectErr = err
		c.lastConnectAt = time.Now()
		return nil, err
	}

	c.lastConnectErr = nil
	return cli, nil
}

// resolveEnv expands any `{{ bw:item:field }}` values in env using the
// configured secret resolver, per create flow step 1 in spec.md 4.4.
func (c *Client) resolveEnv(ctx context.Context, env map[string]string, sessionID, vaultHandle string) (map[string]string, error) {
	if c.resolver == nil || len(env) == 0 {
		return env, nil
	}
	out := make(map[string]string, len(env))
	for k, v := range env {
		if secrets.IsValidReference(v) {
			resolved, err := c.resolver.ResolveReference(ctx, v, sessionID, vaultHandle)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
			continue
		}
		out[k] = v
	}
	return out, nil
}

func envToSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

// mapStatus translates a runtime container state into the three
// normalized statuses of spec.md section 4.4.
func mapStatus(state string) Status {
	switch state {
	case "running":
		return StatusRunning
	case "exited", "created", "paused":
		return StatusStopped
	default:
		return StatusError
	}
}

func restartPolicy(policy string) container.RestartPolicy {
	switch policy {
	case "", "no":
		return container.RestartPolicy{Name: container.RestartPolicyDisabled}
	case "on-failure":
		return container.RestartPolicy{Name: container.RestartPolicyOnFailure, MaximumRetryCount: 1}
	case "always":
		return container.RestartPolicy{Name: container.RestartPolicyAlways}
	default:
		return container.RestartPolicy{Name: container.RestartPolicyDisabled}
	}
}

func notFoundErr(containerID string) error {
	return errs.New(errs.KindContainer, fmt.Sprintf("container %q not found", containerID))
}
