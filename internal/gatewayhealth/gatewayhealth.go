// Package gatewayhealth implements the gateway registration and health
// supervision of spec.md section 4.8: registering a remote gateway merges
// its advertised allowlist overrides by version, gates the registration on
// the resulting allowlist, persists the gateway, and probes it
// (immediately, then optionally on a periodic schedule) recording
// p50/p95/p99 latency and a healthy/degraded/unhealthy status.
package gatewayhealth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/docker/mcp-fleet/mcpfleetd/internal/allowlist"
	"github.com/docker/mcp-fleet/mcpfleetd/internal/errs"
	"github.com/docker/mcp-fleet/mcpfleetd/internal/store"
	"github.com/docker/mcp-fleet/mcpfleetd/internal/taskreg"
)

const defaultAttemptTimeout = 5 * time.Second

// Store is the subset of internal/store the supervisor depends on.
type Store interface {
	ListGatewayAllowEntries(ctx context.Context) ([]store.GatewayAllowEntry, error)
	ListEnabledGatewayAllowEntries(ctx context.Context) ([]store.GatewayAllowEntry, error)
	MergeGatewayAllowEntriesByVersion(ctx context.Context, createdBy string, now func() time.Time, incoming []store.GatewayAllowEntry) (int, error)
	CreateGateway(ctx context.Context, g store.Gateway) error
	GetGateway(ctx context.Context, id string) (*store.Gateway, error)
	FindGatewayByURL(ctx context.Context, url string) (*store.Gateway, error)
	ListGateways(ctx context.Context) ([]store.Gateway, error)
	RecordGatewayProbeResult(ctx context.Context, id, status string, p50, p95, p99 float64, at any) error
	DeleteGateway(ctx context.Context, id string) error
	RecordAuditLog(ctx context.Context, category, action, actor, target string, metadata map[string]any, correlationID *string) error
}

// Supervisor owns gateway registration and health probing. It shares the
// caller-supplied task registry with the remote MCP heartbeats and the
// catalog ingester's cache refresh (section 4.9), so one registry's
// Shutdown cancels and awaits all of those tasks together. The session
// runtime's async jobs run in that runtime's own registry.
type Supervisor struct {
	store          Store
	http           HTTPDoer
	tasks          *taskreg.Registry
	counter        *labelledCounter
	now            func() time.Time
	newID          func() string
	attemptTimeout time.Duration
}

// Option configures a Supervisor.
type Option func(*Supervisor)

func WithClock(now func() time.Time) Option    { return func(s *Supervisor) { s.now = now } }
func WithHTTPDoer(d HTTPDoer) Option            { return func(s *Supervisor) { s.http = d } }
func WithIDGenerator(f func() string) Option    { return func(s *Supervisor) { s.newID = f } }
func WithAttemptTimeout(d time.Duration) Option { return func(s *Supervisor) { s.attemptTimeout = d } }

// New builds a Supervisor. tasks is the shared registry also used by
// internal/remotemcp and internal/catalogingest.
func New(st Store, tasks *taskreg.Registry, opts ...Option) *Supervisor {
	s := &Supervisor{
		store:          st,
		http:           http.DefaultClient,
		tasks:          tasks,
		counter:        newLabelledCounter(),
		now:            time.Now,
		attemptTimeout: defaultAttemptTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.newID == nil {
		s.newID = newGatewayID
	}
	return s
}

func newGatewayID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return "gateway-" + hex.EncodeToString(b)
}

// Counters exposes the allowlist pass/reject tallies, mainly for tests and
// an eventual status endpoint.
func (s *Supervisor) Counters() map[string]int64 { return s.counter.Snapshot() }

// RegisterGatewayRequest is the input to RegisterGateway.
type RegisterGatewayRequest struct {
	URL                  string
	Token                string
	ProbeIntervalSeconds int
	PeriodicEnabled      bool
	AllowEntries         []store.GatewayAllowEntry // the gateway's advertised overrides
	Actor                string
}

// RegisterGatewayResult is the output of RegisterGateway.
type RegisterGatewayResult struct {
	Gateway store.Gateway
	Probe   ProbeResult
}

// buildAllowlist treats every enabled entry's Value as a raw allowlist
// fragment regardless of its Type tag ("domain"/"pattern"/"service" are
// all host-or-wildcard strings in spec.md's allowlist syntax), joining
// them for allowlist.Parse.
func buildAllowlist(entries []store.GatewayAllowEntry) *allowlist.List {
	raw := ""
	for _, e := range entries {
		if !e.Enabled {
			continue
		}
		if raw != "" {
			raw += ","
		}
		raw += e.Value
	}
	return allowlist.Parse(raw)
}

// RegisterGateway merges the gateway's advertised allowlist overrides,
// gates registration on the resulting allowlist, persists the gateway,
// and runs one immediate probe. If req.PeriodicEnabled, it also starts a
// background probe loop on req.ProbeIntervalSeconds.
func (s *Supervisor) RegisterGateway(ctx context.Context, req RegisterGatewayRequest) (*RegisterGatewayResult, error) {
	if req.URL == "" {
		return nil, errs.New(errs.KindValidation, "url is required")
	}

	if len(req.AllowEntries) > 0 {
		if _, err := s.store.MergeGatewayAllowEntriesByVersion(ctx, req.Actor, s.now, req.AllowEntries); err != nil {
			return nil, errs.Wrap(errs.KindInternal, "merge gateway allow entries", err)
		}
	}

	enabled, err := s.store.ListEnabledGatewayAllowEntries(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "list enabled gateway allow entries", err)
	}
	list := buildAllowlist(enabled)

	if !list.Allowed(req.URL) {
		s.counter.Inc("gateway_allowlist_reject")
		_ = s.store.RecordAuditLog(ctx, "gateway", "gateway_allowlist_reject", req.Actor, req.URL, nil, nil)
		return nil, errs.New(errs.KindGatewayAllowlist, "gateway url is not allowed")
	}
	s.counter.Inc("gateway_allowlist_pass")
	_ = s.store.RecordAuditLog(ctx, "gateway", "gateway_allowlist_pass", req.Actor, req.URL, nil, nil)

	id := s.newID()
	interval := req.ProbeIntervalSeconds
	if interval <= 0 {
		interval = 60
	}

	gw := store.Gateway{
		GatewayID:            id,
		URL:                  req.URL,
		ProbeIntervalSeconds: interval,
		PeriodicEnabled:      req.PeriodicEnabled,
		CreatedBy:            req.Actor,
		CreatedAt:            s.now(),
	}
	if err := s.store.CreateGateway(ctx, gw); err != nil {
		return nil, errs.Wrap(errs.KindInternal, "create gateway", err)
	}
	_ = s.store.RecordAuditLog(ctx, "gateway", "gateway_registered", req.Actor, id, nil, nil)

	result := s.runAndRecordProbe(ctx, id, req.URL, req.Token)

	if req.PeriodicEnabled {
		s.tasks.Spawn(context.Background(), "gatewayhealth-probe-"+id, func(taskCtx context.Context) {
			s.runPeriodicProbe(taskCtx, id, req.URL, req.Token, time.Duration(interval)*time.Second)
		})
	}

	return &RegisterGatewayResult{Gateway: gw, Probe: result}, nil
}

func (s *Supervisor) runAndRecordProbe(ctx context.Context, gatewayID, url, token string) ProbeResult {
	result := probe(ctx, s.http, s.now, url, token, s.attemptTimeout)
	_ = s.store.RecordGatewayProbeResult(ctx, gatewayID, result.Status, result.P50Ms, result.P95Ms, result.P99Ms, s.now())
	return result
}

func (s *Supervisor) runPeriodicProbe(ctx context.Context, gatewayID, url, token string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAndRecordProbe(ctx, gatewayID, url, token)
		}
	}
}

// DeregisterGateway stops any periodic probe and deletes the gateway.
func (s *Supervisor) DeregisterGateway(ctx context.Context, gatewayID, actor string) error {
	s.tasks.Cancel("gatewayhealth-probe-" + gatewayID)
	if err := s.store.DeleteGateway(ctx, gatewayID); err != nil {
		return errs.Wrap(errs.KindInternal, "delete gateway", err)
	}
	_ = s.store.RecordAuditLog(ctx, "gateway", "gateway_deregistered", actor, gatewayID, nil, nil)
	return nil
}

// ListGateways returns every registered gateway.
func (s *Supervisor) ListGateways(ctx context.Context) ([]store.Gateway, error) {
	out, err := s.store.ListGateways(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "list gateways", err)
	}
	return out, nil
}

// ProbeNow runs an out-of-band probe against an already-registered
// gateway and records the result, without affecting its periodic
// schedule.
func (s *Supervisor) ProbeNow(ctx context.Context, gatewayID, token string) (*ProbeResult, error) {
	gw, err := s.store.GetGateway(ctx, gatewayID)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "get gateway", err)
	}
	if gw == nil {
		return nil, errs.New(errs.KindValidation, "gateway not found")
	}
	result := s.runAndRecordProbe(ctx, gatewayID, gw.URL, token)
	return &result, nil
}

