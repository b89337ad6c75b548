// Package auth implements the login session manager of spec.md section
// 4.2: vault-backed login, session validation with sliding expiry, and
// logout with on_session_end notification.
package auth

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/docker/mcp-fleet/mcpfleetd/internal/errs"
	"github.com/docker/mcp-fleet/mcpfleetd/internal/obslog"
	"github.com/docker/mcp-fleet/mcpfleetd/internal/store"
	"github.com/docker/mcp-fleet/mcpfleetd/internal/validate"
	"github.com/docker/mcp-fleet/mcpfleetd/internal/vault"
)

// Method identifies how a login request authenticates.
type Method string

const (
	MethodAPIKey        Method = "api_key"
	MethodMasterPassword Method = "master_password"
)

// LoginRequest is the login() input per spec.md section 4.2, validated
// with struct tags via internal/validate instead of hand-rolled
// if-chains.
type LoginRequest struct {
	Method         Method `validate:"required,oneof=api_key master_password"`
	Email          string `validate:"required_if=Method master_password"`
	ClientID       string `validate:"required_if=Method api_key"`
	ClientSecret   string `validate:"required_if=Method api_key"`
	MasterPassword string `validate:"required"`
}

// Session is the record returned by login() and get_session().
type Session struct {
	SessionID    string
	UserEmail    string
	VaultHandle  string
	CreatedAt    time.Time
	ExpiresAt    time.Time
	LastActivity time.Time
}

// SessionEndObserver is notified when a session ends, either via explicit
// logout or as a side effect of validation discovering expiry. The secret
// resolver registers itself here to purge its per-session cache.
type SessionEndObserver interface {
	OnSessionEnd(sessionID string)
}

// Store is the subset of internal/store the manager depends on.
type Store interface {
	CreateLoginSession(ctx context.Context, ls store.LoginSession) error
	GetLoginSession(ctx context.Context, id string) (*store.LoginSession, error)
	TouchLoginSession(ctx context.Context, id string, lastActivity any) error
	DeleteLoginSession(ctx context.Context, id string) (bool, error)
	ExpiredLoginSessionIDs(ctx context.Context, now any) ([]string, error)
}

// Manager is the session manager described in spec.md section 4.2.
type Manager struct {
	store          Store
	vault          vault.Client
	sessionTimeout time.Duration
	now            func() time.Time
	newSessionID   func() string

	observers []SessionEndObserver
}

// Option configures a Manager.
type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithSessionIDGenerator(gen func() string) Option {
	return func(m *Manager) { m.newSessionID = gen }
}

func New(st Store, vaultClient vault.Client, sessionTimeout time.Duration, opts ...Option) *Manager {
	m := &Manager{
		store:          st,
		vault:          vaultClient,
		sessionTimeout: sessionTimeout,
		now:            time.Now,
		newSessionID:   func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RegisterSessionEndObserver adds an observer notified on every session
// end, whether from explicit Logout or expiry discovered during
// ValidateSession.
func (m *Manager) RegisterSessionEndObserver(o SessionEndObserver) {
	m.observers = append(m.observers, o)
}

func (m *Manager) notifySessionEnd(sessionID string) {
	for _, o := range m.observers {
		o.OnSessionEnd(sessionID)
	}
}

// Login drives the external vault binary per the selected method, mints a
// new session, persists it, and returns the record (including the vault
// handle callers pass back as bearer auth).
func (m *Manager) Login(ctx context.Context, req LoginRequest) (*Session, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}

	var handle string
	var err error

	switch req.Method {
	case MethodAPIKey:
		handle, err = m.vault.LoginAPIKey(ctx, req.ClientID, req.ClientSecret, req.MasterPassword)
	case MethodMasterPassword:
		handle, err = m.vault.LoginMasterPassword(ctx, req.Email, req.MasterPassword)
	default:
		return nil, errs.New(errs.KindValidation, "unknown login method")
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindAuth, "login failed", err)
	}

	now := m.now()
	session := Session{
		SessionID:    m.newSessionID(),
		UserEmail:    req.Email,
		VaultHandle:  handle,
		CreatedAt:    now,
		ExpiresAt:    now.Add(m.sessionTimeout),
		LastActivity: now,
	}

	if err := m.store.CreateLoginSession(ctx, store.LoginSession{
		SessionID:         session.SessionID,
		UserEmail:         session.UserEmail,
		VaultUnlockHandle: session.VaultHandle,
		CreatedAt:         session.CreatedAt,
		ExpiresAt:         session.ExpiresAt,
		LastActivity:      session.LastActivity,
	}); err != nil {
		return nil, errs.Wrap(errs.KindInternal, "persisting login session", err)
	}

	return &session, nil
}

// ValidateSession reports whether id refers to a session that exists,
// has not passed expires_at, and has not been idle past session_timeout.
// A valid session has its last_activity slid forward to now. An
// expired/timed-out session is logged out as a side effect.
func (m *Manager) ValidateSession(ctx context.Context, id string) (bool, error) {
	rec, err := m.store.GetLoginSession(ctx, id)
	if err != nil {
		return false, errs.Wrap(errs.KindInternal, "loading login session", err)
	}
	if rec == nil {
		return false, nil
	}

	now := m.now()
	if !now.Before(rec.ExpiresAt) || now.Sub(rec.LastActivity) >= m.sessionTimeout {
		if _, err := m.Logout(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}

	if err := m.store.TouchLoginSession(ctx, id, now); err != nil {
		return false, errs.Wrap(errs.KindInternal, "sliding session activity", err)
	}
	return true, nil
}

// GetSession returns the session record, or nil if it does not exist.
func (m *Manager) GetSession(ctx context.Context, id string) (*Session, error) {
	rec, err := m.store.GetLoginSession(ctx, id)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "loading login session", err)
	}
	if rec == nil {
		return nil, nil
	}
	return &Session{
		SessionID:    rec.SessionID,
		UserEmail:    rec.UserEmail,
		VaultHandle:  rec.VaultUnlockHandle,
		CreatedAt:    rec.CreatedAt,
		ExpiresAt:    rec.ExpiresAt,
		LastActivity: rec.LastActivity,
	}, nil
}

// GetVaultAccess returns the vault unlock handle for a session, or empty
// string if the session does not exist.
func (m *Manager) GetVaultAccess(ctx context.Context, id string) (string, error) {
	session, err := m.GetSession(ctx, id)
	if err != nil {
		return "", err
	}
	if session == nil {
		return "", nil
	}
	return session.VaultHandle, nil
}

// Logout best-effort locks the vault handle, deletes the session, and
// notifies on_session_end observers. Vault lock failure is logged, not
// fatal: the session record is removed regardless.
func (m *Manager) Logout(ctx context.Context, id string) (bool, error) {
	session, err := m.GetSession(ctx, id)
	if err != nil {
		return false, err
	}
	if session == nil {
		return false, nil
	}

	if err := m.vault.Lock(ctx, session.VaultHandle); err != nil {
		obslog.Logf("auth: failed to lock vault handle for session %s: %v", id, err)
	}

	deleted, err := m.store.DeleteLoginSession(ctx, id)
	if err != nil {
		return false, errs.Wrap(errs.KindInternal, "deleting login session", err)
	}

	m.notifySessionEnd(id)
	return deleted, nil
}

// CleanupExpired logs out every session whose expires_at has passed,
// returning the count of sessions removed. Sessions that are idle past
// the timeout but not yet at expires_at are not swept here; ValidateSession
// logs those out when they are next presented.
func (m *Manager) CleanupExpired(ctx context.Context) (int, error) {
	ids, err := m.store.ExpiredLoginSessionIDs(ctx, m.now())
	if err != nil {
		return 0, errs.Wrap(errs.KindInternal, "listing expired login sessions", err)
	}

	count := 0
	for _, id := range ids {
		if _, err := m.Logout(ctx, id); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}
