package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docker/mcp-fleet/mcpfleetd/internal/store"
	"github.com/docker/mcp-fleet/mcpfleetd/internal/vault"
)

type fakeStore struct {
	sessions map[string]store.LoginSession
}

func newFakeStore() *fakeStore {
	return &fakeStore{sessions: make(map[string]store.LoginSession)}
}

func (f *fakeStore) CreateLoginSession(_ context.Context, ls store.LoginSession) error {
	f.sessions[ls.SessionID] = ls
	return nil
}

func (f *fakeStore) GetLoginSession(_ context.Context, id string) (*store.LoginSession, error) {
	ls, ok := f.sessions[id]
	if !ok {
		return nil, nil
	}
	return &ls, nil
}

func (f *fakeStore) TouchLoginSession(_ context.Context, id string, lastActivity any) error {
	ls, ok := f.sessions[id]
	if !ok {
		return nil
	}
	ls.LastActivity = lastActivity.(time.Time)
	f.sessions[id] = ls
	return nil
}

func (f *fakeStore) DeleteLoginSession(_ context.Context, id string) (bool, error) {
	if _, ok := f.sessions[id]; !ok {
		return false, nil
	}
	delete(f.sessions, id)
	return true, nil
}

func (f *fakeStore) ExpiredLoginSessionIDs(_ context.Context, now any) ([]string, error) {
	var ids []string
	cutoff := now.(time.Time)
	for id, ls := range f.sessions {
		if !cutoff.Before(ls.ExpiresAt) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

type fakeVault struct {
	handle       string
	loginErr     error
	lockCalls    int
	lockErr      error
}

func (f *fakeVault) LoginMasterPassword(_ context.Context, _, _ string) (string, error) {
	return f.handle, f.loginErr
}

func (f *fakeVault) LoginAPIKey(_ context.Context, _, _, _ string) (string, error) {
	return f.handle, f.loginErr
}

func (f *fakeVault) Lock(_ context.Context, _ string) error {
	f.lockCalls++
	return f.lockErr
}

func (f *fakeVault) GetItem(_ context.Context, _, _ string) (*vault.Item, error) {
	return nil, nil
}

func (f *fakeVault) Probe(_ context.Context, _ string) error { return nil }

type fakeObserver struct {
	ended []string
}

func (f *fakeObserver) OnSessionEnd(sessionID string) {
	f.ended = append(f.ended, sessionID)
}

func TestLoginMintsSession(t *testing.T) {
	st := newFakeStore()
	fv := &fakeVault{handle: "vault-handle-1"}
	m := New(st, fv, time.Hour)

	session, err := m.Login(context.Background(), LoginRequest{
		Method:         MethodMasterPassword,
		Email:          "user@example.com",
		MasterPassword: "hunter2",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, session.SessionID)
	assert.Equal(t, "vault-handle-1", session.VaultHandle)

	stored, err := st.GetLoginSession(context.Background(), session.SessionID)
	require.NoError(t, err)
	require.NotNil(t, stored)
}

func TestValidateSessionSlidesActivity(t *testing.T) {
	st := newFakeStore()
	fv := &fakeVault{handle: "h"}
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := New(st, fv, time.Hour, WithClock(func() time.Time { return clock }))

	session, err := m.Login(context.Background(), LoginRequest{Method: MethodMasterPassword, Email: "u@e.com", MasterPassword: "p"})
	require.NoError(t, err)

	clock = clock.Add(10 * time.Minute)
	ok, err := m.ValidateSession(context.Background(), session.SessionID)
	require.NoError(t, err)
	assert.True(t, ok)

	stored, err := st.GetLoginSession(context.Background(), session.SessionID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, clock, stored.LastActivity)
}

func TestValidateSessionLogsOutExpired(t *testing.T) {
	st := newFakeStore()
	fv := &fakeVault{handle: "h"}
	clock := time.Now()
	m := New(st, fv, time.Hour, WithClock(func() time.Time { return clock }))

	session, err := m.Login(context.Background(), LoginRequest{Method: MethodMasterPassword, Email: "u@e.com", MasterPassword: "p"})
	require.NoError(t, err)

	clock = clock.Add(2 * time.Hour)

	ok, err := m.ValidateSession(context.Background(), session.SessionID)
	require.NoError(t, err)
	assert.False(t, ok)

	stored, err := st.GetLoginSession(context.Background(), session.SessionID)
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestLogoutNotifiesObservers(t *testing.T) {
	st := newFakeStore()
	fv := &fakeVault{handle: "h"}
	m := New(st, fv, time.Hour)
	obs := &fakeObserver{}
	m.RegisterSessionEndObserver(obs)

	session, err := m.Login(context.Background(), LoginRequest{Method: MethodMasterPassword, Email: "u@e.com", MasterPassword: "p"})
	require.NoError(t, err)

	deleted, err := m.Logout(context.Background(), session.SessionID)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Equal(t, 1, fv.lockCalls)
	assert.Equal(t, []string{session.SessionID}, obs.ended)
}

func TestLogoutSucceedsEvenIfVaultLockFails(t *testing.T) {
	st := newFakeStore()
	fv := &fakeVault{handle: "h", lockErr: assertErr("lock failed")}
	m := New(st, fv, time.Hour)

	session, err := m.Login(context.Background(), LoginRequest{Method: MethodMasterPassword, Email: "u@e.com", MasterPassword: "p"})
	require.NoError(t, err)

	deleted, err := m.Logout(context.Background(), session.SessionID)
	require.NoError(t, err)
	assert.True(t, deleted)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
