// Package githubtoken implements the GitHub PAT singleton of SPEC_FULL.md's
// supplemented-features section: get/set/delete/status for the one
// GitHub personal access token, ported from the original's services/github_token.py. It is a thin
// wrapper over internal/store's singleton github_token row, holding the
// resolved token value itself in a private in-memory slot the same way
// internal/oauthengine keeps resolved OAuth tokens out of the database.
package githubtoken

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/docker/mcp-fleet/mcpfleetd/internal/errs"
	"github.com/docker/mcp-fleet/mcpfleetd/internal/store"
)

const SourceManual = "manual"

// Store is the subset of internal/store the manager depends on.
type Store interface {
	GetGitHubToken(ctx context.Context) (*store.GitHubToken, error)
	UpsertGitHubToken(ctx context.Context, t store.GitHubToken) error
	DeleteGitHubToken(ctx context.Context) error
	RecordAuditLog(ctx context.Context, category, action, actor, target string, metadata map[string]any, correlationID *string) error
}

// tokenSlot holds the single plaintext PAT value, if any is configured.
type tokenSlot struct {
	mu    sync.RWMutex
	value string
	ref   string
}

func (s *tokenSlot) set(ref, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ref, s.value = ref, value
}

func (s *tokenSlot) get(ref string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ref != ref {
		return "", false
	}
	return s.value, true
}

func (s *tokenSlot) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ref, s.value = "", ""
}

// Manager exposes get/set/delete/status for the singleton GitHub token.
type Manager struct {
	store  Store
	slot   *tokenSlot
	now    func() time.Time
	newRef func() string
}

// Option configures a Manager.
type Option func(*Manager)

func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }
func WithRefGenerator(f func() string) Option {
	return func(m *Manager) { m.newRef = f }
}

func New(st Store, opts ...Option) *Manager {
	m := &Manager{
		store: st,
		slot:  &tokenSlot{},
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.newRef == nil {
		m.newRef = func() string { return uuid.NewString() }
	}
	return m
}

// Status reports whether a token is currently configured, without
// exposing its value.
type Status struct {
	Configured bool
	Source     string
	UpdatedBy  string
	UpdatedAt  *time.Time
}

func (m *Manager) Status(ctx context.Context) (*Status, error) {
	row, err := m.store.GetGitHubToken(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "get github token", err)
	}
	if row == nil {
		return &Status{Configured: false}, nil
	}
	at := row.UpdatedAt
	return &Status{Configured: true, Source: row.Source, UpdatedBy: row.UpdatedBy, UpdatedAt: &at}, nil
}

// SetTokenRequest is the input to SetToken.
type SetTokenRequest struct {
	Token  string
	Source string
	Actor  string
}

// SetToken stores a new PAT, replacing any prior one. The plaintext value
// lives only in the package-local slot; the store row keeps an opaque
// reference plus provenance (source, updated_by/at).
func (m *Manager) SetToken(ctx context.Context, req SetTokenRequest) error {
	if req.Token == "" {
		return errs.New(errs.KindValidation, "token is required")
	}
	source := req.Source
	if source == "" {
		source = SourceManual
	}

	ref := m.newRef()
	m.slot.set(ref, req.Token)

	refJSON, err := marshalTokenRefJSON(ref)
	if err != nil {
		m.slot.clear()
		return errs.Wrap(errs.KindInternal, "marshal github token ref", err)
	}

	row := store.GitHubToken{
		TokenRefJSON: refJSON,
		Source:       source,
		UpdatedBy:    req.Actor,
		UpdatedAt:    m.now(),
	}
	if err := m.store.UpsertGitHubToken(ctx, row); err != nil {
		m.slot.clear()
		return errs.Wrap(errs.KindInternal, "upsert github token", err)
	}
	_ = m.store.RecordAuditLog(ctx, "github_token", "github_token_set", req.Actor, "", map[string]any{"source": source}, nil)
	return nil
}

// DeleteToken clears the configured PAT, if any.
func (m *Manager) DeleteToken(ctx context.Context, actor string) error {
	if err := m.store.DeleteGitHubToken(ctx); err != nil {
		return errs.Wrap(errs.KindInternal, "delete github token", err)
	}
	m.slot.clear()
	_ = m.store.RecordAuditLog(ctx, "github_token", "github_token_deleted", actor, "", nil, nil)
	return nil
}

// AccessToken resolves the plaintext PAT for in-process callers; no
// catalog source in this repository calls it. Returns false if no token is configured or
// the reference in the store no longer matches the in-memory slot (e.g.
// after a process restart wiped the slot but left the row behind).
func (m *Manager) AccessToken(ctx context.Context) (string, bool, error) {
	row, err := m.store.GetGitHubToken(ctx)
	if err != nil {
		return "", false, errs.Wrap(errs.KindInternal, "get github token", err)
	}
	if row == nil {
		return "", false, nil
	}
	ref, err := unmarshalTokenRefJSON(row.TokenRefJSON)
	if err != nil {
		return "", false, errs.Wrap(errs.KindInternal, "unmarshal github token ref", err)
	}
	value, ok := m.slot.get(ref)
	return value, ok, nil
}
