// Package inspector implements the MCP introspection routes of spec.md
// section 6: wrapping tools/list, resources/list, prompts/list and a
// capabilities probe as JSON-RPC calls against a running container's MCP
// endpoint, discovered from its MCP_ENDPOINT env var or a set of
// conventional ports, falling back to an in-container `mcp` subcommand
// when no HTTP endpoint answers.
package inspector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/docker/mcp-fleet/mcpfleetd/internal/errs"
)

// Method identifies which JSON-RPC method a request wraps.
type Method string

const (
	MethodTools        Method = "tools/list"
	MethodResources    Method = "resources/list"
	MethodPrompts      Method = "prompts/list"
	MethodCapabilities Method = "capabilities"
)

// conventionalPorts are tried in order when MCP_ENDPOINT is not set,
// per spec.md section 6.
var conventionalPorts = []int{8080, 3000, 5000}

// ContainerInspector is the subset of internal/container the inspector
// needs to discover an endpoint and fall back to an in-container call.
type ContainerInspector interface {
	InspectEnv(ctx context.Context, id string) (map[string]string, error)
	Exec(ctx context.Context, id string, argv []string) (exitCode int, output []byte, err error)
}

// HTTPDoer is the subset of *http.Client the inspector needs; tests
// supply a fake.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Inspector wraps JSON-RPC introspection calls against a container's MCP
// endpoint.
type Inspector struct {
	containers ContainerInspector
	http       HTTPDoer
	probeHosts func(containerID string, ports []int) []string
}

// Option configures an Inspector.
type Option func(*Inspector)

func WithHTTPDoer(d HTTPDoer) Option { return func(i *Inspector) { i.http = d } }

// WithHostProbe overrides how candidate base URLs are built for a
// container's conventional ports; production uses the container id as the
// host name (http://<containerID>:<port>), tests inject loopback fixtures.
func WithHostProbe(f func(containerID string, ports []int) []string) Option {
	return func(i *Inspector) { i.probeHosts = f }
}

func New(containers ContainerInspector, opts ...Option) *Inspector {
	i := &Inspector{
		containers: containers,
		http:       http.DefaultClient,
		probeHosts: defaultProbeHosts,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

func defaultProbeHosts(containerID string, ports []int) []string {
	urls := make([]string, 0, len(ports))
	for _, p := range ports {
		urls = append(urls, fmt.Sprintf("http://%s:%d", containerID, p))
	}
	return urls
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Inspect dispatches the requested introspection method against the
// container's MCP endpoint, trying an HTTP JSON-RPC call first and
// falling back to an `mcp <method>` exec when no endpoint answers.
func (i *Inspector) Inspect(ctx context.Context, containerID string, method Method) (json.RawMessage, error) {
	if method == MethodCapabilities {
		return i.execFallback(ctx, containerID, method)
	}

	endpoint, err := i.discoverEndpoint(ctx, containerID)
	if err == nil && endpoint != "" {
		result, callErr := i.callJSONRPC(ctx, endpoint, method)
		if callErr == nil {
			return result, nil
		}
	}
	return i.execFallback(ctx, containerID, method)
}

// discoverEndpoint resolves a base URL for the container's MCP server:
// the MCP_ENDPOINT env var if set, else the first conventional port that
// accepts a connection.
func (i *Inspector) discoverEndpoint(ctx context.Context, containerID string) (string, error) {
	env, err := i.containers.InspectEnv(ctx, containerID)
	if err != nil {
		return "", err
	}
	if endpoint, ok := env["MCP_ENDPOINT"]; ok && endpoint != "" {
		return endpoint, nil
	}

	for _, candidate := range i.probeHosts(containerID, conventionalPorts) {
		if i.probeReachable(ctx, candidate) {
			return candidate, nil
		}
	}
	return "", errs.New(errs.KindContainer, "no MCP endpoint discovered")
}

func (i *Inspector) probeReachable(ctx context.Context, baseURL string) bool {
	reqCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, baseURL, nil)
	if err != nil {
		return false
	}
	resp, err := i.http.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

func (i *Inspector) callJSONRPC(ctx context.Context, endpoint string, method Method) (json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: string(method)})
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "encoding inspector request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "building inspector request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := i.http.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.KindContainer, "calling mcp endpoint", err)
	}
	defer resp.Body.Close()

	var rpc rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpc); err != nil {
		return nil, errs.Wrap(errs.KindContainer, "decoding mcp response", err)
	}
	if rpc.Error != nil {
		return nil, errs.New(errs.KindContainer, "mcp endpoint error: "+rpc.Error.Message)
	}
	return rpc.Result, nil
}

// execFallback runs `mcp <subcommand>` inside the container when no HTTP
// endpoint answered, per spec.md section 6.
func (i *Inspector) execFallback(ctx context.Context, containerID string, method Method) (json.RawMessage, error) {
	sub := string(method)
	if method == MethodCapabilities {
		sub = "capabilities"
	}

	exitCode, output, err := i.containers.Exec(ctx, containerID, []string{"mcp", sub})
	if err != nil {
		return nil, err
	}
	if exitCode != 0 {
		return nil, errs.New(errs.KindContainer, fmt.Sprintf("mcp %s exited %d", sub, exitCode))
	}
	if !json.Valid(output) {
		return nil, errs.New(errs.KindContainer, "mcp subcommand returned non-JSON output")
	}
	return json.RawMessage(output), nil
}
