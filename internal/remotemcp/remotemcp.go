// Package remotemcp implements the remote MCP server registry of spec.md
// section 4.7: register/list/enable/disable/delete plus the
// connect/test_connection dial path.
package remotemcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/docker/mcp-fleet/mcpfleetd/internal/errs"
	"github.com/docker/mcp-fleet/mcpfleetd/internal/store"
	"github.com/docker/mcp-fleet/mcpfleetd/internal/taskreg"
	"github.com/docker/mcp-fleet/mcpfleetd/internal/validate"
)

const defaultAcquireTimeout = 50 * time.Millisecond

// Store is the subset of internal/store the registry depends on.
type Store interface {
	CreateRemoteServer(ctx context.Context, r store.RemoteServer) error
	GetRemoteServer(ctx context.Context, id string) (*store.RemoteServer, error)
	FindRemoteServerByCatalogItemID(ctx context.Context, catalogItemID string) (*store.RemoteServer, error)
	FindRemoteServerByEndpoint(ctx context.Context, endpoint string) (*store.RemoteServer, error)
	ListRemoteServers(ctx context.Context) ([]store.RemoteServer, error)
	UpdateRemoteServerStatus(ctx context.Context, id, status string, credentialKey *string) error
	UpdateRemoteServerConnected(ctx context.Context, id string, at any) error
	UpdateRemoteServerError(ctx context.Context, id, message string) error
	DeleteRemoteServer(ctx context.Context, id string) error
	IsEndpointAllowed(rawURL string) bool
	GetCredential(ctx context.Context, key string) (*store.Credential, error)
	DeleteCredential(ctx context.Context, key string) error
	RecordAuditLog(ctx context.Context, category, action, actor, target string, metadata map[string]any, correlationID *string) error
}

// TokenProvider resolves the plaintext access token bound to a credential
// key, implemented by internal/oauthengine without that package's private
// in-memory vault leaking across the boundary.
type TokenProvider interface {
	AccessToken(credentialKey string) (string, bool)
}

// Registry is the remote MCP server registry.
type Registry struct {
	store             Store
	dialer            Dialer
	tokens            TokenProvider
	tasks             *taskreg.Registry
	sem               *semaphore.Weighted
	now               func() time.Time
	newID             func() (string, error)
	acquireTimeout    time.Duration
	heartbeatInterval time.Duration
}

// Option configures a Registry.
type Option func(*Registry)

func WithClock(now func() time.Time) Option   { return func(r *Registry) { r.now = now } }
func WithDialer(d Dialer) Option              { return func(r *Registry) { r.dialer = d } }
func WithTokenProvider(t TokenProvider) Option { return func(r *Registry) { r.tokens = t } }
func WithAcquireTimeout(d time.Duration) Option {
	return func(r *Registry) { r.acquireTimeout = d }
}
func WithHeartbeatInterval(d time.Duration) Option {
	return func(r *Registry) { r.heartbeatInterval = d }
}
func WithIDSuffixGenerator(f func() (string, error)) Option {
	return func(r *Registry) { r.newID = f }
}

// New builds a Registry. connectionCap bounds concurrent open sessions.
func New(st Store, tasks *taskreg.Registry, connectionCap int64, opts ...Option) *Registry {
	r := &Registry{
		store:             st,
		dialer:            NewDialer(),
		tasks:             tasks,
		sem:               semaphore.NewWeighted(connectionCap),
		now:               time.Now,
		newID:             randomHexSuffix,
		acquireTimeout:    defaultAcquireTimeout,
		heartbeatInterval: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func randomHexSuffix() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", errs.Wrap(errs.KindInternal, "generating server id suffix", err)
	}
	return hex.EncodeToString(b), nil
}

// RegisterServerRequest is register_server's input, validated with struct
// tags via internal/validate instead of hand-rolled if-chains.
type RegisterServerRequest struct {
	CatalogItemID string `validate:"required"`
	Name          string `validate:"required"`
	Endpoint      string `validate:"required,url"`
	Transport     string `validate:"omitempty,oneof=sse streamable"`
	Actor         string `validate:"omitempty"`
}

// RegisterServer implements spec.md's register_server operation.
func (r *Registry) RegisterServer(ctx context.Context, req RegisterServerRequest) (*store.RemoteServer, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}

	if !r.store.IsEndpointAllowed(req.Endpoint) {
		r.store.RecordAuditLog(ctx, "remote_mcp", "endpoint_rejected", req.Actor, req.Endpoint, nil, nil)
		return nil, errs.New(errs.KindEndpointNotAllowed, "endpoint not allowed")
	}

	if existing, err := r.store.FindRemoteServerByCatalogItemID(ctx, req.CatalogItemID); err != nil {
		return nil, errs.Wrap(errs.KindInternal, "checking for duplicate catalog item", err)
	} else if existing != nil {
		return nil, errs.WithDetail(errs.New(errs.KindValidation, "duplicate catalog_item_id"), existing.ServerID)
	}
	if existing, err := r.store.FindRemoteServerByEndpoint(ctx, req.Endpoint); err != nil {
		return nil, errs.Wrap(errs.KindInternal, "checking for duplicate endpoint", err)
	} else if existing != nil {
		return nil, errs.WithDetail(errs.New(errs.KindValidation, "duplicate endpoint"), existing.ServerID)
	}

	serverID := fmt.Sprintf("remote-%s", req.CatalogItemID)
	if existing, err := r.store.GetRemoteServer(ctx, serverID); err != nil {
		return nil, errs.Wrap(errs.KindInternal, "checking server id collision", err)
	} else if existing != nil {
		suffix, err := r.newID()
		if err != nil {
			return nil, err
		}
		serverID = fmt.Sprintf("%s-%s", serverID, suffix)
	}

	rec := store.RemoteServer{
		ServerID:      serverID,
		CatalogItemID: req.CatalogItemID,
		Name:          req.Name,
		Endpoint:      req.Endpoint,
		Status:        store.RemoteServerRegistered,
		CreatedAt:     r.now(),
	}
	if err := r.store.CreateRemoteServer(ctx, rec); err != nil {
		return nil, errs.Wrap(errs.KindInternal, "persisting remote server", err)
	}

	r.store.RecordAuditLog(ctx, "remote_mcp", "server_registered", req.Actor, serverID, nil, nil)
	return &rec, nil
}

func (r *Registry) ListServers(ctx context.Context) ([]store.RemoteServer, error) {
	return r.store.ListRemoteServers(ctx)
}

func (r *Registry) DeleteServer(ctx context.Context, serverID, actor string) error {
	if err := r.store.DeleteRemoteServer(ctx, serverID); err != nil {
		return errs.Wrap(errs.KindInternal, "deleting remote server", err)
	}
	r.store.RecordAuditLog(ctx, "remote_mcp", "server_deleted", actor, serverID, nil, nil)
	return nil
}

// EnableServer implements spec.md's enable_server state transition:
// registered -> authenticated when a valid credential is bound, else
// auth_required.
func (r *Registry) EnableServer(ctx context.Context, serverID, actor string) (*store.RemoteServer, error) {
	rec, err := r.store.GetRemoteServer(ctx, serverID)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "loading remote server", err)
	}
	if rec == nil {
		return nil, errs.New(errs.KindRemoteServerNotFound, "remote server not found")
	}

	oldStatus := rec.Status
	newStatus := store.RemoteServerAuthRequired
	if rec.CredentialKey != nil {
		if cred, err := r.store.GetCredential(ctx, *rec.CredentialKey); err == nil && cred != nil && cred.ExpiresAt.After(r.now()) {
			newStatus = store.RemoteServerAuthenticated
		}
	}

	if err := r.store.UpdateRemoteServerStatus(ctx, serverID, newStatus, rec.CredentialKey); err != nil {
		return nil, errs.Wrap(errs.KindInternal, "updating remote server status", err)
	}
	rec.Status = newStatus

	r.store.RecordAuditLog(ctx, "remote_mcp", "server_enabled", actor, serverID,
		map[string]any{"old_status": oldStatus, "new_status": newStatus}, nil)
	return rec, nil
}

// DisableServer implements spec.md's disable_server state transition.
func (r *Registry) DisableServer(ctx context.Context, serverID, actor string) (*store.RemoteServer, error) {
	rec, err := r.store.GetRemoteServer(ctx, serverID)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "loading remote server", err)
	}
	if rec == nil {
		return nil, errs.New(errs.KindRemoteServerNotFound, "remote server not found")
	}

	oldStatus := rec.Status
	if err := r.store.UpdateRemoteServerStatus(ctx, serverID, store.RemoteServerDisabled, rec.CredentialKey); err != nil {
		return nil, errs.Wrap(errs.KindInternal, "updating remote server status", err)
	}
	rec.Status = store.RemoteServerDisabled

	r.store.RecordAuditLog(ctx, "remote_mcp", "server_disabled", actor, serverID,
		map[string]any{"old_status": oldStatus, "new_status": rec.Status}, nil)
	return rec, nil
}

// RevokeCredentials implements spec.md's revoke_credentials operation:
// removes the bound credential and sets auth_required.
func (r *Registry) RevokeCredentials(ctx context.Context, serverID, actor string) (*store.RemoteServer, error) {
	rec, err := r.store.GetRemoteServer(ctx, serverID)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "loading remote server", err)
	}
	if rec == nil {
		return nil, errs.New(errs.KindRemoteServerNotFound, "remote server not found")
	}

	oldStatus := rec.Status
	if rec.CredentialKey != nil {
		r.store.DeleteCredential(ctx, *rec.CredentialKey)
	}
	if err := r.store.UpdateRemoteServerStatus(ctx, serverID, store.RemoteServerAuthRequired, nil); err != nil {
		return nil, errs.Wrap(errs.KindInternal, "updating remote server status", err)
	}
	rec.Status = store.RemoteServerAuthRequired
	rec.CredentialKey = nil

	r.store.RecordAuditLog(ctx, "remote_mcp", "credentials_revoked", actor, serverID,
		map[string]any{"old_status": oldStatus, "new_status": rec.Status}, nil)
	return rec, nil
}

// ConnectResult is connect's output.
type ConnectResult struct {
	Capabilities []string
}

// Connect implements spec.md's connect operation: acquire a slot, dial,
// perform MCP initialize (handled by the SDK client's Connect call),
// start a heartbeat, and return advertised capabilities. The slot is
// released on any failure; on success it's held until Disconnect.
func (r *Registry) Connect(ctx context.Context, serverID, actor string) (*ConnectResult, error) {
	rec, headers, err := r.resolveForDial(ctx, serverID)
	if err != nil {
		return nil, err
	}

	if err := r.acquireSlot(ctx); err != nil {
		return nil, err
	}
	released := false
	release := func() {
		if !released {
			released = true
			r.sem.Release(1)
		}
	}
	defer release()

	session, err := r.dialer.Dial(ctx, DialConfig{Endpoint: rec.Endpoint, Transport: "streamable", Headers: headers})
	if err != nil {
		r.store.UpdateRemoteServerError(ctx, serverID, err.Error())
		return nil, errs.Wrap(errs.KindContainerUnavailable, "connecting to remote mcp server", err)
	}

	caps, err := session.ListTools(ctx)
	if err != nil {
		session.Close()
		r.store.UpdateRemoteServerError(ctx, serverID, err.Error())
		return nil, errs.Wrap(errs.KindInternal, "listing remote server capabilities", err)
	}

	r.store.UpdateRemoteServerConnected(ctx, serverID, r.now())
	r.store.RecordAuditLog(ctx, "remote_mcp", "server_connected", actor, serverID, nil, nil)

	released = true // hand the slot off to the heartbeat task below
	r.tasks.Spawn(context.Background(), "remotemcp-heartbeat-"+serverID, func(ctx context.Context) {
		defer r.sem.Release(1)
		defer session.Close()
		r.runHeartbeat(ctx, session)
	})

	return &ConnectResult{Capabilities: caps}, nil
}

func (r *Registry) runHeartbeat(ctx context.Context, session Session) {
	ticker := time.NewTicker(r.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := session.Ping(ctx); err != nil {
				return
			}
		}
	}
}

// Disconnect stops a server's heartbeat loop and releases its session.
func (r *Registry) Disconnect(serverID string) {
	r.tasks.Cancel("remotemcp-heartbeat-" + serverID)
}

// TestConnectionResult is test_connection's output.
type TestConnectionResult struct {
	Reachable     bool
	Authenticated bool
}

// TestConnection implements spec.md's test_connection operation: same
// slot acquisition as Connect, but no long-lived session is left behind.
func (r *Registry) TestConnection(ctx context.Context, serverID string) (*TestConnectionResult, error) {
	rec, headers, err := r.resolveForDial(ctx, serverID)
	if err != nil {
		return nil, err
	}

	if err := r.acquireSlot(ctx); err != nil {
		return nil, err
	}
	defer r.sem.Release(1)

	session, err := r.dialer.Dial(ctx, DialConfig{Endpoint: rec.Endpoint, Transport: "streamable", Headers: headers})
	if err != nil {
		return &TestConnectionResult{Reachable: false, Authenticated: false}, nil
	}
	defer session.Close()

	authenticated := len(headers["Authorization"]) > 0
	if err := session.Ping(ctx); err != nil {
		return &TestConnectionResult{Reachable: false, Authenticated: authenticated}, nil
	}
	return &TestConnectionResult{Reachable: true, Authenticated: authenticated}, nil
}

// resolveForDial loads the server record, re-checks the allowlist, and
// builds the Authorization header from the bound credential if any.
func (r *Registry) resolveForDial(ctx context.Context, serverID string) (*store.RemoteServer, map[string]string, error) {
	rec, err := r.store.GetRemoteServer(ctx, serverID)
	if err != nil {
		return nil, nil, errs.Wrap(errs.KindInternal, "loading remote server", err)
	}
	if rec == nil {
		return nil, nil, errs.New(errs.KindRemoteServerNotFound, "remote server not found")
	}
	if !r.store.IsEndpointAllowed(rec.Endpoint) {
		return nil, nil, errs.New(errs.KindEndpointNotAllowed, "endpoint not allowed")
	}

	headers := map[string]string{}
	if rec.CredentialKey != nil && r.tokens != nil {
		if token, ok := r.tokens.AccessToken(*rec.CredentialKey); ok && token != "" {
			headers["Authorization"] = "Bearer " + token
		}
	}
	return rec, headers, nil
}

// acquireSlot bounds the wait for a connection slot to acquireTimeout, per
// spec.md section 5's 429 "too many connections" behavior when the
// configured cap is saturated.
func (r *Registry) acquireSlot(ctx context.Context) error {
	acquireCtx, cancel := context.WithTimeout(ctx, r.acquireTimeout)
	defer cancel()
	if err := r.sem.Acquire(acquireCtx, 1); err != nil {
		return errs.New(errs.KindTooManyConnections, "too many connections")
	}
	return nil
}
