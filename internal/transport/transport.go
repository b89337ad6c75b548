// Package transport names the contract an HTTP framing layer would call
// into, per spec.md section 1: "the HTTP framing layer (route
// declarations, request parsing, error-to-status mapping) ... the JSON
// wire models for request/response bodies" are external collaborators
// this repo does not implement. What follows are Go interfaces, one per
// route group of spec.md section 6, each method named and shaped after
// its route so a caller (an HTTP handler, a test harness, a CLI) has an
// explicit Go-level contract to invoke without inventing its own.
//
// Every concrete component (internal/auth.Manager,
// internal/session.Runtime, ...) already implements the corresponding
// interface's methods, except CatalogService.Search: catalogingest
// provides Search as a package-level function, not an Ingester method,
// so *catalogingest.Ingester does not satisfy CatalogService. This package adds no logic of its own, only the
// grouping a router would need. cmd/mcpfleetd wires the concrete
// components but stops short of serving HTTP, per spec.md's scope note.
package transport

import (
	"context"
	"encoding/json"

	dockercontainer "github.com/docker/docker/api/types/container"

	"github.com/docker/mcp-fleet/mcpfleetd/internal/auth"
	"github.com/docker/mcp-fleet/mcpfleetd/internal/catalogingest"
	"github.com/docker/mcp-fleet/mcpfleetd/internal/container"
	"github.com/docker/mcp-fleet/mcpfleetd/internal/gatewayhealth"
	"github.com/docker/mcp-fleet/mcpfleetd/internal/githubtoken"
	"github.com/docker/mcp-fleet/mcpfleetd/internal/inspector"
	"github.com/docker/mcp-fleet/mcpfleetd/internal/oauthengine"
	"github.com/docker/mcp-fleet/mcpfleetd/internal/remotemcp"
	"github.com/docker/mcp-fleet/mcpfleetd/internal/session"
	"github.com/docker/mcp-fleet/mcpfleetd/internal/store"
)

// AuthService backs "Auth" in spec.md section 6:
// POST /api/auth/login, POST /api/auth/logout, GET /api/auth/session.
type AuthService interface {
	Login(ctx context.Context, req auth.LoginRequest) (*auth.Session, error)
	Logout(ctx context.Context, sessionID string) (bool, error)
	ValidateSession(ctx context.Context, sessionID string) (bool, error)
	GetSession(ctx context.Context, sessionID string) (*auth.Session, error)
}

// ContainerService backs "Containers" in spec.md section 6:
// GET/POST /api/containers, the install alias, start|stop|restart,
// DELETE, and the logs stream (the websocket framing itself is an
// external collaborator; Logs only returns the entry channel for a
// caller to multiplex onto the wire).
type ContainerService interface {
	List(ctx context.Context) ([]dockercontainer.Summary, error)
	Create(ctx context.Context, cfg container.ContainerConfig, opts container.CreateOptions) (string, error)
	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id string) error
	Restart(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	Status(ctx context.Context, id string) (container.Status, error)
	Logs(ctx context.Context, id string) (<-chan container.LogEntry, error)
}

// SessionService backs "Sessions" in spec.md section 6:
// POST /api/sessions, PATCH /api/sessions/{id}/config,
// POST /api/sessions/{id}/exec, GET /api/sessions/{id}/jobs/{job_id}.
type SessionService interface {
	CreateSession(ctx context.Context, req session.CreateSessionRequest) (*store.ExecSession, error)
	UpdateSessionConfig(ctx context.Context, sessionID string, maxRunSeconds, outputBytesLimit int) error
	ExecuteCommand(ctx context.Context, req session.ExecRequest) (*session.ExecResult, string, error)
	GetJobStatus(ctx context.Context, jobID string) (*store.Job, error)
}

// InspectorService backs "Inspector" in spec.md section 6:
// GET /api/inspector/{container_id}/{tools|resources|prompts|capabilities}.
type InspectorService interface {
	Inspect(ctx context.Context, containerID string, method inspector.Method) (json.RawMessage, error)
}

// OAuthService backs "OAuth" in spec.md section 6:
// POST /api/oauth/start, GET /api/oauth/callback, POST /api/oauth/refresh.
type OAuthService interface {
	StartAuth(ctx context.Context, req oauthengine.StartAuthRequest) (*oauthengine.StartAuthResult, error)
	ExchangeToken(ctx context.Context, req oauthengine.ExchangeTokenRequest) (*oauthengine.ExchangeTokenResult, error)
	RefreshToken(ctx context.Context, req oauthengine.RefreshRequest) (*oauthengine.RefreshResult, error)
}

// RemoteMCPService backs the remote MCP portion of "Gateways" in spec.md
// section 6 and the register/list/enable/disable/delete/connect contract
// of section 4.7.
type RemoteMCPService interface {
	RegisterServer(ctx context.Context, req remotemcp.RegisterServerRequest) (*store.RemoteServer, error)
	ListServers(ctx context.Context) ([]store.RemoteServer, error)
	DeleteServer(ctx context.Context, serverID, actor string) error
	EnableServer(ctx context.Context, serverID, actor string) (*store.RemoteServer, error)
	DisableServer(ctx context.Context, serverID, actor string) (*store.RemoteServer, error)
	RevokeCredentials(ctx context.Context, serverID, actor string) (*store.RemoteServer, error)
	Connect(ctx context.Context, serverID, actor string) (*remotemcp.ConnectResult, error)
	TestConnection(ctx context.Context, serverID string) (*remotemcp.TestConnectionResult, error)
}

// GatewayService backs "Gateways" in spec.md section 6:
// POST /api/gateways, GET /api/gateways/{id}/health.
type GatewayService interface {
	RegisterGateway(ctx context.Context, req gatewayhealth.RegisterGatewayRequest) (*gatewayhealth.RegisterGatewayResult, error)
	ProbeNow(ctx context.Context, gatewayID, token string) (*gatewayhealth.ProbeResult, error)
}

// CatalogService backs "Catalog" in spec.md section 6:
// GET /api/catalog, GET /api/catalog/search, DELETE /api/catalog/cache.
type CatalogService interface {
	GetCatalog(ctx context.Context, source, url string) (*catalogingest.GetCatalogResult, error)
	Search(items []catalogingest.CatalogItem, query, category string) []catalogingest.CatalogItem
	InvalidateCache()
}

// GitHubTokenService backs "GitHub token" in spec.md section 6:
// GET/POST/DELETE /api/github-token, /api/github-token/search,
// /api/github-token/status. Search itself is not named by spec.md beyond
// the route; it is served by the token-bearing remote MCP catalog search,
// so this interface only covers the token lifecycle the route group's
// name otherwise implies.
type GitHubTokenService interface {
	Status(ctx context.Context) (*githubtoken.Status, error)
	SetToken(ctx context.Context, req githubtoken.SetTokenRequest) error
	DeleteToken(ctx context.Context, actor string) error
}
